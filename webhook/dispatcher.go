// Package webhook delivers job results to downstream targets. Two
// protocols share the dispatcher shell: generic signed HTTP POST and a
// session-based ERP save. Retries ride the queue's delayed delivery;
// the dispatcher only decides whether and when.
package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/config"
	"github.com/docfold/docfold/model"
)

const (
	defaultTimeout = 30 * time.Second
	defaultRetries = 3
)

// defaultRetryCurve is used when the configuration declares none.
var defaultRetryCurve = []time.Duration{10 * time.Second, 30 * time.Second, 90 * time.Second}

// PushLogAppender records delivery attempts. Satisfied by
// store.PushLogStore.
type PushLogAppender interface {
	Append(ctx context.Context, entry *model.PushLog) error
}

// FileURLSigner produces time-limited download URLs. Satisfied by
// storage.ObjectStore.
type FileURLSigner interface {
	PresignGet(ctx context.Context, key string) (string, error)
}

// Delivery is the dispatcher's verdict for one (job, webhook) attempt.
type Delivery struct {
	WebhookID string
	Log       *model.PushLog
	Success   bool
	Retryable bool
}

// Dispatcher renders, authenticates and posts job results.
type Dispatcher struct {
	cfg    config.PushConfig
	client *http.Client
	logs   PushLogAppender
	files  FileURLSigner
	erp    *ERPSession

	retryCurve []time.Duration
	maxRetries int
}

// NewDispatcher wires a dispatcher from configuration.
func NewDispatcher(cfg config.PushConfig, logs PushLogAppender, files FileURLSigner) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxRetries := cfg.RetryMax
	if maxRetries <= 0 {
		maxRetries = defaultRetries
	}

	curve := make([]time.Duration, 0, len(cfg.RetryCurve))
	for _, raw := range cfg.RetryCurve {
		d, err := time.ParseDuration(raw)
		if err != nil {
			common.Logger.WithField("delay", raw).Warn("invalid retry delay, using defaults")
			curve = nil
			break
		}
		curve = append(curve, d)
	}
	if len(curve) == 0 {
		curve = defaultRetryCurve
	}

	return &Dispatcher{
		cfg:        cfg,
		client:     &http.Client{Timeout: timeout},
		logs:       logs,
		files:      files,
		erp:        NewERPSession(cfg, timeout),
		retryCurve: curve,
		maxRetries: maxRetries,
	}
}

// Deliver runs one attempt against one target and records the push log.
func (d *Dispatcher) Deliver(ctx context.Context, job *model.Job, hook *model.Webhook, retryCount int) *Delivery {
	entry := &model.PushLog{
		JobID:      job.ID,
		WebhookID:  hook.ID,
		RetryCount: retryCount,
		SaveMode:   string(hook.SaveMode),
	}

	switch hook.Type {
	case model.WebhookERPSession:
		d.deliverERP(ctx, job, hook, entry)
	default:
		d.deliverGeneric(ctx, hook, d.buildVars(ctx, job), entry)
	}

	retryable := !entry.Success && shouldRetry(entry.StatusCode, entry.Error)
	entry.Terminal = entry.Success || !retryable || retryCount >= d.maxRetries
	if err := d.logs.Append(ctx, entry); err != nil {
		common.Logger.WithError(err).Warn("failed to record push log")
	}

	return &Delivery{
		WebhookID: hook.ID,
		Log:       entry,
		Success:   entry.Success,
		Retryable: retryable && retryCount < d.maxRetries,
	}
}

// DeliverAll dispatches all targets in parallel. Per-target outcomes
// are independent.
func (d *Dispatcher) DeliverAll(ctx context.Context, job *model.Job, hooks []model.Webhook, retryCount int) []*Delivery {
	results := make([]*Delivery, len(hooks))
	var wg sync.WaitGroup
	for i := range hooks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = d.Deliver(ctx, job, &hooks[i], retryCount)
		}(i)
	}
	wg.Wait()
	return results
}

// TestFire sends a sample payload to the webhook without touching the
// push log. Used by the webhook-test endpoint.
func (d *Dispatcher) TestFire(ctx context.Context, hook *model.Webhook) *model.PushLog {
	entry := &model.PushLog{JobID: "test", WebhookID: hook.ID}
	vars := Vars{
		TaskID:     "test",
		ResultJSON: map[string]interface{}{"sample_field": "sample value"},
		FileURL:    "https://example.invalid/sample.pdf",
		MetaInfo:   map[string]interface{}{"source": "webhook-test"},
	}
	if hook.Type == model.WebhookERPSession {
		job := &model.Job{ID: "test", ExtractedFields: vars.ResultJSON}
		d.deliverERP(ctx, job, hook, entry)
	} else {
		d.deliverGeneric(ctx, hook, vars, entry)
	}
	return entry
}

// RetryDelay returns the delay before the given retry and whether the
// envelope still has attempts left. retryCount is the number of
// attempts already made.
func (d *Dispatcher) RetryDelay(retryCount int) (time.Duration, bool) {
	if retryCount >= d.maxRetries {
		return 0, false
	}
	if retryCount < len(d.retryCurve) {
		return d.retryCurve[retryCount], true
	}
	return d.retryCurve[len(d.retryCurve)-1], true
}

func (d *Dispatcher) buildVars(ctx context.Context, job *model.Job) Vars {
	fileURL := ""
	if d.files != nil && job.FilePath != "" {
		url, err := d.files.PresignGet(ctx, job.FilePath)
		if err != nil {
			common.Logger.WithError(err).WithField("job_id", job.ID).Warn("failed to presign file url")
		} else {
			fileURL = url
		}
	}
	return NewVars(job, fileURL)
}

func (d *Dispatcher) deliverERP(ctx context.Context, job *model.Job, hook *model.Webhook, entry *model.PushLog) {
	payload, err := json.Marshal(job.ExtractedFields)
	if err != nil {
		entry.Error = err.Error()
		return
	}
	entry.RequestBody = string(payload)

	start := time.Now()
	result, err := d.erp.Save(ctx, hook.SaveMode, payload)
	entry.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		entry.Error = err.Error()
		return
	}

	entry.URL = d.cfg.ERPBaseURL + result.Endpoint
	entry.StatusCode = result.StatusCode
	entry.ResponseBody = result.Body
	entry.Success = result.Success
	entry.IsDegraded = result.Degraded
	if result.Degraded {
		// The strict save was rejected; the log records the mode that
		// actually landed.
		entry.SaveMode = "draft"
	}
	if !result.Success {
		entry.Error = result.Message
	}
}

// shouldRetry implements the envelope's per-attempt decision: network
// errors and 5xx retry, 429 retries, other 4xx do not. Rendering
// failures are processing errors, not transient, and never retry.
func shouldRetry(statusCode int, errText string) bool {
	if statusCode == 0 {
		return errText != "" && !strings.HasPrefix(errText, "template:")
	}
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	if statusCode >= 400 && statusCode < 500 {
		return false
	}
	return statusCode >= 500
}
