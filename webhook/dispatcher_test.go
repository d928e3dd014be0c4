package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfold/docfold/config"
	"github.com/docfold/docfold/model"
	"github.com/docfold/docfold/security"
)

type memoryLogs struct {
	mu      sync.Mutex
	entries []*model.PushLog
}

func (m *memoryLogs) Append(ctx context.Context, entry *model.PushLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

type stubSigner struct {
	mu    sync.Mutex
	url   string
	calls int
}

func (s *stubSigner) PresignGet(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.url + "/" + key, nil
}

func testJob() *model.Job {
	return &model.Job{
		ID:              "01JOB",
		FilePath:        "2026/08/24/01JOB/doc.pdf",
		ExtractedFields: model.JSONMap{"invoice_no": "INV-001"},
		MetaInfo:        model.JSONMap{"batch": "b1"},
	}
}

func newTestDispatcher(logs *memoryLogs) *Dispatcher {
	return NewDispatcher(config.PushConfig{
		SecretKey: "master",
		UserAgent: "docfold-test/1.0",
	}, logs, &stubSigner{url: "https://files.example.com"})
}

func TestDeliverGenericSuccess(t *testing.T) {
	var gotBody []byte
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logs := &memoryLogs{}
	d := newTestDispatcher(logs)
	hook := &model.Webhook{
		ID:            "wh1",
		Type:          model.WebhookGeneric,
		URL:           srv.URL,
		SigningSecret: "sig-secret",
		Template:      `{"id": "{{task_id}}", "data": "{{result_json}}"}`,
	}

	res := d.Deliver(context.Background(), testJob(), hook, 0)

	assert.True(t, res.Success)
	assert.False(t, res.Retryable)
	assert.JSONEq(t, `{"id": "01JOB", "data": {"invoice_no": "INV-001"}}`, string(gotBody))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "docfold-test/1.0", gotHeaders.Get("User-Agent"))
	assert.NotEmpty(t, gotHeaders.Get("X-IDP-Timestamp"))
	assert.Equal(t, security.Sign("sig-secret", gotBody), gotHeaders.Get("X-IDP-Signature"))

	require.Len(t, logs.entries, 1)
	assert.True(t, logs.entries[0].Success)
	assert.True(t, logs.entries[0].Terminal)
	assert.Equal(t, http.StatusOK, logs.entries[0].StatusCode)
}

func TestDeliverAppliesAuthModes(t *testing.T) {
	var gotAuth, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("X-Custom-Key")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logs := &memoryLogs{}
	d := newTestDispatcher(logs)

	basic, err := security.Encrypt("master", "user:pass")
	require.NoError(t, err)
	d.Deliver(context.Background(), testJob(), &model.Webhook{
		ID: "wh1", URL: srv.URL, AuthMode: model.AuthBasic, AuthSecret: basic,
	}, 0)
	assert.Equal(t, "Basic dXNlcjpwYXNz", gotAuth)

	bearer, err := security.Encrypt("master", "tok-123")
	require.NoError(t, err)
	d.Deliver(context.Background(), testJob(), &model.Webhook{
		ID: "wh1", URL: srv.URL, AuthMode: model.AuthBearer, AuthSecret: bearer,
	}, 0)
	assert.Equal(t, "Bearer tok-123", gotAuth)

	apiKey, err := security.Encrypt("master", "k-456")
	require.NoError(t, err)
	d.Deliver(context.Background(), testJob(), &model.Webhook{
		ID: "wh1", URL: srv.URL, AuthMode: model.AuthAPIKey, AuthSecret: apiKey, HeaderName: "X-Custom-Key",
	}, 0)
	assert.Equal(t, "k-456", gotKey)
}

func TestDeliverServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	logs := &memoryLogs{}
	d := newTestDispatcher(logs)
	hook := &model.Webhook{ID: "wh1", URL: srv.URL}

	res := d.Deliver(context.Background(), testJob(), hook, 0)
	assert.False(t, res.Success)
	assert.True(t, res.Retryable)
	assert.False(t, logs.entries[0].Terminal)
}

func TestDeliverClientErrorIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	logs := &memoryLogs{}
	d := newTestDispatcher(logs)

	res := d.Deliver(context.Background(), testJob(), &model.Webhook{ID: "wh1", URL: srv.URL}, 0)
	assert.False(t, res.Success)
	assert.False(t, res.Retryable)
	assert.True(t, logs.entries[0].Terminal)
}

func TestDeliverTooManyRequestsIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	logs := &memoryLogs{}
	d := newTestDispatcher(logs)

	res := d.Deliver(context.Background(), testJob(), &model.Webhook{ID: "wh1", URL: srv.URL}, 0)
	assert.True(t, res.Retryable)
}

func TestDeliverExhaustedEnvelopeIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	logs := &memoryLogs{}
	d := newTestDispatcher(logs)

	res := d.Deliver(context.Background(), testJob(), &model.Webhook{ID: "wh1", URL: srv.URL}, 3)
	assert.False(t, res.Success)
	assert.False(t, res.Retryable)
	assert.True(t, logs.entries[0].Terminal)
	assert.Equal(t, 3, logs.entries[0].RetryCount)
}

func TestDeliverAllRunsTargetsIndependently(t *testing.T) {
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okSrv.Close()
	failSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failSrv.Close()

	logs := &memoryLogs{}
	d := newTestDispatcher(logs)
	hooks := []model.Webhook{
		{ID: "ok", URL: okSrv.URL},
		{ID: "fail", URL: failSrv.URL},
	}

	results := d.DeliverAll(context.Background(), testJob(), hooks, 0)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Len(t, logs.entries, 2)
}

func TestDeliverERPDegradedRecordsDraftMode(t *testing.T) {
	f := newERPFixture(t)
	f.saveResponse = `{"Result":{"ResponseStatus":{"IsSuccess":false,"Errors":[{"Message":"字段[税号]必填"}]}}}`

	logs := &memoryLogs{}
	signer := &stubSigner{url: "https://files.example.com"}
	d := NewDispatcher(config.PushConfig{
		ERPBaseURL:  f.srv.URL,
		ERPDatabase: "testdb",
		ERPUser:     "api",
		ERPPassword: "secret",
	}, logs, signer)
	hook := &model.Webhook{ID: "erp1", Type: model.WebhookERPSession, SaveMode: model.SaveSmart}

	res := d.Deliver(context.Background(), testJob(), hook, 0)
	assert.True(t, res.Success)

	require.Len(t, logs.entries, 1)
	entry := logs.entries[0]
	assert.True(t, entry.Success)
	assert.True(t, entry.IsDegraded)
	assert.Equal(t, "draft", entry.SaveMode)
	assert.Equal(t, f.srv.URL+erpDraftPath, entry.URL)

	// ERP targets render no template; no download link is minted.
	assert.Zero(t, signer.calls)
}

func TestDeliverERPStrictSuccessKeepsConfiguredMode(t *testing.T) {
	f := newERPFixture(t)

	logs := &memoryLogs{}
	d := NewDispatcher(config.PushConfig{
		ERPBaseURL:  f.srv.URL,
		ERPDatabase: "testdb",
		ERPUser:     "api",
		ERPPassword: "secret",
	}, logs, &stubSigner{})
	hook := &model.Webhook{ID: "erp1", Type: model.WebhookERPSession, SaveMode: model.SaveSmart}

	res := d.Deliver(context.Background(), testJob(), hook, 0)
	assert.True(t, res.Success)

	require.Len(t, logs.entries, 1)
	assert.False(t, logs.entries[0].IsDegraded)
	assert.Equal(t, string(model.SaveSmart), logs.entries[0].SaveMode)
}

func TestRetryDelayCurve(t *testing.T) {
	d := NewDispatcher(config.PushConfig{
		RetryCurve: []string{"10s", "30s", "90s"},
		RetryMax:   3,
	}, &memoryLogs{}, nil)

	delay, ok := d.RetryDelay(0)
	assert.True(t, ok)
	assert.Equal(t, 10*time.Second, delay)

	delay, ok = d.RetryDelay(2)
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, delay)

	_, ok = d.RetryDelay(3)
	assert.False(t, ok)
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, shouldRetry(0, "connection refused"))
	assert.False(t, shouldRetry(0, "template: bad placeholder"))
	assert.True(t, shouldRetry(500, "unexpected status 500"))
	assert.True(t, shouldRetry(429, "unexpected status 429"))
	assert.False(t, shouldRetry(404, "unexpected status 404"))
	assert.False(t, shouldRetry(400, "unexpected status 400"))
}

func TestTestFireDoesNotTouchPushLog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logs := &memoryLogs{}
	d := newTestDispatcher(logs)

	entry := d.TestFire(context.Background(), &model.Webhook{ID: "wh1", URL: srv.URL})
	assert.True(t, entry.Success)
	assert.Empty(t, logs.entries)
}
