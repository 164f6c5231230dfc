// Package server provides the HTTP surface of the gateway: chat
// completions, streaming, job management, usage reporting, and health.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modelrelay/internal/metrics"
)

// DefaultBodySizeLimit caps request bodies at 10MB; inline media rides
// in request parts, so the default is deliberately generous.
const DefaultBodySizeLimit int64 = 10 << 20

// Config holds server options.
type Config struct {
	// MetricsEnabled exposes /metrics when set.
	MetricsEnabled bool
	// BodySizeLimit is the max request body size in bytes.
	BodySizeLimit int64
}

// Server wraps the Echo server.
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// New creates the HTTP server around the handler's dependencies.
func New(handler *Handler, cfg *Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(requestLogger())
	e.Use(middleware.Recover())

	bodyLimit := DefaultBodySizeLimit
	if cfg != nil && cfg.BodySizeLimit > 0 {
		bodyLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(strconv.FormatInt(bodyLimit, 10)))

	e.GET("/health", handler.Health)
	if cfg != nil && cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	e.GET("/v1/models", handler.ListModels)
	e.POST("/v1/chat/completions", handler.ChatCompletion)
	e.POST("/v1/chat/stream", handler.ChatStream)

	e.POST("/v1/jobs", handler.EnqueueJob)
	e.GET("/v1/jobs/:id", handler.JobStatus)
	e.GET("/v1/jobs/:id/wait", handler.WaitJob)
	e.DELETE("/v1/jobs/:id", handler.CancelJob)
	e.POST("/v1/jobs/:id/retry", handler.RetryJob)

	e.GET("/v1/usage", handler.UserUsage)
	e.GET("/v1/usage/global", handler.GlobalUsage)

	return &Server{echo: e, handler: handler}
}

// requestLogger emits one structured line per request and feeds the
// response-code counter.
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			metrics.ResponseCodes.WithLabelValues(c.Path(), strconv.Itoa(v.Status)).Inc()
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
				slog.Warn("request", attrs...)
				return nil
			}
			slog.Info("request", attrs...)
			return nil
		},
	})
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	slog.Info("http server listening", "addr", addr)
	s.echo.Server.ReadHeaderTimeout = 10 * time.Second
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler so tests can drive the server with
// httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
