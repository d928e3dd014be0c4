package webhook

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/docfold/docfold/model"
	"github.com/docfold/docfold/security"
)

const (
	headerTimestamp = "X-IDP-Timestamp"
	headerSignature = "X-IDP-Signature"

	maxLoggedBody = 16 * 1024
)

// deliverGeneric POSTs the rendered template to the webhook URL and
// fills the attempt log.
func (d *Dispatcher) deliverGeneric(ctx context.Context, hook *model.Webhook, vars Vars, entry *model.PushLog) {
	body, err := Render(hook.Template, vars)
	if err != nil {
		entry.Error = fmt.Sprintf("template: %v", err)
		return
	}
	entry.URL = hook.URL
	entry.RequestBody = body

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, strings.NewReader(body))
	if err != nil {
		entry.Error = fmt.Sprintf("request: %v", err)
		return
	}
	if err := d.applyHeaders(req, hook, []byte(body)); err != nil {
		entry.Error = err.Error()
		return
	}
	entry.RequestHeaders = headerMap(req.Header)

	start := time.Now()
	resp, err := d.client.Do(req)
	entry.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		entry.Error = err.Error()
		return
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	entry.StatusCode = resp.StatusCode
	entry.ResponseBody = string(respBody)
	entry.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !entry.Success {
		entry.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
}

// applyHeaders sets the standard headers, the body signature and the
// webhook's auth credentials.
func (d *Dispatcher) applyHeaders(req *http.Request, hook *model.Webhook, body []byte) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent())
	req.Header.Set(headerTimestamp, strconv.FormatInt(time.Now().Unix(), 10))
	if hook.SigningSecret != "" {
		req.Header.Set(headerSignature, security.Sign(hook.SigningSecret, body))
	}

	if hook.AuthMode == model.AuthNone || hook.AuthMode == "" {
		return nil
	}
	secret, err := security.Decrypt(d.cfg.SecretKey, hook.AuthSecret)
	if err != nil {
		return fmt.Errorf("failed to decrypt auth secret: %w", err)
	}
	switch hook.AuthMode {
	case model.AuthBasic:
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(secret)))
	case model.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+secret)
	case model.AuthAPIKey:
		name := hook.HeaderName
		if name == "" {
			name = "X-API-Key"
		}
		req.Header.Set(name, secret)
	default:
		return fmt.Errorf("unknown auth mode %q", hook.AuthMode)
	}
	return nil
}

func (d *Dispatcher) userAgent() string {
	if d.cfg.UserAgent != "" {
		return d.cfg.UserAgent
	}
	return "docfold-webhook/1.0"
}

func headerMap(h http.Header) model.JSONMap {
	out := make(model.JSONMap, len(h))
	for name, values := range h {
		// Credentials never land in the push log.
		if name == "Authorization" {
			out[name] = "[redacted]"
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}
