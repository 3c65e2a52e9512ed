package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/middleware"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/session"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/store"
)

type TranscriptStore interface {
	Transcript(ctx context.Context, token string) (store.TranscriptRecord, error)
}

type LiveStats interface {
	Stats() session.Stats
}

type Handlers struct {
	Live        http.Handler
	Transcripts TranscriptStore
	Stats       LiveStats
	Auth        middleware.Authenticator
}

func (h Handlers) Register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if h.Live != nil {
		e.GET("/ws", echo.WrapHandler(h.Live))
	}

	api := e.Group("/api/v1", middleware.ObserverAuth(h.Auth))
	api.GET("/sessions/:token/transcript", h.transcript)
	api.GET("/live", h.live)
}

func (h Handlers) transcript(c echo.Context) error {
	if h.Transcripts == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "transcripts unavailable")
	}
	rec, err := h.Transcripts.Transcript(c.Request().Context(), c.Param("token"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "transcript lookup failed").SetInternal(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h Handlers) live(c echo.Context) error {
	if h.Stats == nil {
		return c.JSON(http.StatusOK, session.Stats{Live: []session.SessionStats{}})
	}
	return c.JSON(http.StatusOK, h.Stats.Stats())
}
