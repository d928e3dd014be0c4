// Package api exposes the document intake and job control surface over
// HTTP. The surface is deliberately narrow: upload, job inspection and
// control verbs, auditor verdicts, webhook test fires and dead-letter
// re-drive. Everything is guarded by the X-API-Key header.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	dfhttp "github.com/docfold/docfold/http"
	"github.com/docfold/docfold/model"
	"github.com/docfold/docfold/orchestrator"
	"github.com/docfold/docfold/store"
)

// Orchestrator is the control-plane slice the handlers need. Satisfied
// by orchestrator.Orchestrator.
type Orchestrator interface {
	Upload(ctx context.Context, req orchestrator.UploadRequest) (*orchestrator.UploadResult, error)
	Retry(ctx context.Context, jobID string) error
	Repush(ctx context.Context, jobID string) error
	Cancel(ctx context.Context, jobID string) error
	Approve(ctx context.Context, jobID, auditorID string, corrections map[string]interface{}) error
	Reject(ctx context.Context, jobID, auditorID, reason string) error
	RedriveDead(ctx context.Context, max int) (int, error)
}

// JobReader loads jobs for inspection. Satisfied by store.JobStore.
type JobReader interface {
	Get(ctx context.Context, id string) (*model.Job, error)
}

// PushLogReader lists delivery attempts. Satisfied by store.PushLogStore.
type PushLogReader interface {
	ListByJob(ctx context.Context, jobID string) ([]model.PushLog, error)
}

// WebhookReader loads webhook targets. Satisfied by store.RuleStore.
type WebhookReader interface {
	GetWebhook(ctx context.Context, id string) (*model.Webhook, error)
}

// WebhookTester fires a synthetic delivery. Satisfied by
// webhook.Dispatcher.
type WebhookTester interface {
	TestFire(ctx context.Context, hook *model.Webhook) *model.PushLog
}

// Server holds the handler dependencies.
type Server struct {
	orch   Orchestrator
	jobs   JobReader
	logs   PushLogReader
	hooks  WebhookReader
	tester WebhookTester

	serviceName string
	apiKey      string
}

// NewServer wires the API handlers.
func NewServer(orch Orchestrator, jobs JobReader, logs PushLogReader, hooks WebhookReader, tester WebhookTester, serviceName, apiKey string) *Server {
	return &Server{
		orch:        orch,
		jobs:        jobs,
		logs:        logs,
		hooks:       hooks,
		tester:      tester,
		serviceName: serviceName,
		apiKey:      apiKey,
	}
}

// Register mounts the routes on an Echo instance. The health endpoint
// is unauthenticated; everything under /v1 requires the API key.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", dfhttp.HealthCheckHandler(s.serviceName))

	v1 := e.Group("/v1", dfhttp.APIKeyMiddleware(s.apiKey))
	v1.POST("/documents", s.uploadDocument)
	v1.GET("/jobs/:id", s.getJob)
	v1.GET("/jobs/:id/push-logs", s.listPushLogs)
	v1.POST("/jobs/:id/retry", s.retryJob)
	v1.POST("/jobs/:id/repush", s.repushJob)
	v1.POST("/jobs/:id/cancel", s.cancelJob)
	v1.POST("/jobs/:id/approve", s.approveJob)
	v1.POST("/jobs/:id/reject", s.rejectJob)
	v1.POST("/webhooks/:id/test", s.testWebhook)
	v1.POST("/dead-letters/redrive", s.redriveDeadLetters)
}

// httpError maps domain errors to status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrInvalidUpload):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNoPublishedVersion):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, store.ErrInvalidTransition), errors.Is(err, store.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return err
	}
}
