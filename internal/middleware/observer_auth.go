package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/auth"
)

// ClaimsKey is the echo context key holding the verified auth.Claims.
const ClaimsKey = "observerClaims"

type Authenticator interface {
	Authenticate(r *http.Request) (auth.Claims, error)
}

// ObserverAuth rejects requests without a valid observer credential.
func ObserverAuth(a Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if a == nil {
				return c.JSON(http.StatusServiceUnavailable, errorBody("observer access is not configured"))
			}
			claims, err := a.Authenticate(c.Request())
			switch {
			case err == nil:
			case errors.Is(err, auth.ErrForbidden):
				return c.JSON(http.StatusForbidden, errorBody(err.Error()))
			default:
				c.Response().Header().Set("WWW-Authenticate", `Bearer realm="interviews"`)
				return c.JSON(http.StatusUnauthorized, errorBody(err.Error()))
			}
			c.Set(ClaimsKey, claims)
			return next(c)
		}
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
