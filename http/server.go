// Package http provides the shared Echo server setup for docfold
// services: standard middleware, API-key auth, a JSON error handler and
// graceful shutdown.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/config"
)

// NewEchoServer creates an Echo instance with the standard middleware
// stack: request logging, panic recovery, request IDs and the JSON
// error handler.
func NewEchoServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = JSONErrorHandler

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	return e
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service,omitempty"`
}

// HealthCheckHandler returns a handler reporting the service as healthy.
func HealthCheckHandler(serviceName string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:  "healthy",
			Service: serviceName,
		})
	}
}

// APIKeyMiddleware validates the X-API-Key header against the
// configured key. An empty configured key disables the check.
func APIKeyMiddleware(apiKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if apiKey == "" {
				return next(c)
			}
			key := c.Request().Header.Get("X-API-Key")
			if key == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing API key")
			}
			if key != apiKey {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid API key")
			}
			return next(c)
		}
	}
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// JSONErrorHandler renders every handler error as an ErrorResponse.
func JSONErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	message := err.Error()

	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if msg, ok := he.Message.(string); ok {
			message = msg
		}
	}

	if c.Response().Committed {
		return
	}
	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(code)
	} else {
		writeErr = c.JSON(code, ErrorResponse{
			Error:   http.StatusText(code),
			Message: message,
		})
	}
	if writeErr != nil {
		common.Logger.WithError(writeErr).Error("failed to write error response")
	}
}

// StartServer starts the Echo server with the configured timeouts.
// Blocks until the server stops.
func StartServer(e *echo.Echo, cfg config.ServerConfig) error {
	s := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	common.Logger.WithField("addr", s.Addr).Info("starting HTTP server")
	return e.StartServer(s)
}

// GracefulShutdown drains in-flight requests within the timeout.
func GracefulShutdown(e *echo.Echo, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	common.Logger.Info("shutting down HTTP server")
	if err := e.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
