package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
	ErrForbidden     = errors.New("role not permitted")
)

// Roles allowed to watch live sessions and read transcripts.
const (
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

const issuer = "interview-sessions"

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 observer credentials.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithIssuer(issuer),
		),
	}
}

// Enabled reports whether a signing secret is configured. Without one every
// credential is rejected.
func (v *Verifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

func (v *Verifier) Verify(raw string) (Claims, error) {
	if !v.Enabled() {
		return Claims{}, ErrInvalidToken
	}
	if raw == "" {
		return Claims{}, ErrMissingBearer
	}
	var claims Claims
	_, err := v.parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	if !permitted(claims.Role) {
		return Claims{}, ErrForbidden
	}
	return claims, nil
}

// Authenticate verifies the credential carried by r, either as a bearer
// header or as an access_token query parameter.
func (v *Verifier) Authenticate(r *http.Request) (Claims, error) {
	raw, err := FromRequest(r)
	if err != nil {
		return Claims{}, err
	}
	return v.Verify(raw)
}

// FromRequest extracts the raw credential. Browsers cannot set headers on a
// websocket handshake so the query parameter is accepted as a fallback.
func FromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		if !strings.HasPrefix(h, "Bearer ") {
			return "", ErrInvalidToken
		}
		token := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		if token == "" {
			return "", ErrInvalidToken
		}
		return token, nil
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, nil
	}
	return "", ErrMissingBearer
}

// Issue signs a credential for subject with the given role.
func Issue(secret, subject, role string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("signing secret is empty")
	}
	if !permitted(role) {
		return "", ErrForbidden
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be positive")
	}
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func permitted(role string) bool {
	return role == RoleManager || role == RoleAdmin
}
