package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/config"
	"github.com/docfold/docfold/model"
)

// Kingdee K3Cloud web API endpoints. The session target is process-wide
// configuration; individual webhooks only select the save mode.
const (
	erpLoginPath = "/k3cloud/Kingdee.BOS.WebApi.ServicesStub.AuthService.ValidateUser.common.kdsvc"
	erpSavePath  = "/k3cloud/Kingdee.BOS.WebApi.ServicesStub.DynamicFormService.Save.common.kdsvc"
	erpDraftPath = "/k3cloud/Kingdee.BOS.WebApi.ServicesStub.DynamicFormService.Draft.common.kdsvc"

	// erpLocale is the zh-CN locale id the login call expects.
	erpLocale = 2052
)

// validationKeywords classify ERP save errors as data-validation
// failures eligible for the draft fallback.
var validationKeywords = []string{
	"必填",
	"不能为空",
	"不符合",
	"校验失败",
	"数据格式",
	"required",
	"validation",
}

// ERPSession is a shared authenticated session against the configured
// ERP. Cookies live in the client's jar; login happens lazily and is
// repeated once when a save is rejected as unauthenticated.
type ERPSession struct {
	cfg    config.PushConfig
	client *http.Client

	mu       sync.Mutex
	loggedIn bool
}

// ERPResult is the outcome of one save attempt.
type ERPResult struct {
	Success    bool
	Degraded   bool
	StatusCode int
	Body       string
	Message    string
	Endpoint   string
}

// NewERPSession creates a session client with its own cookie jar.
func NewERPSession(cfg config.PushConfig, timeout time.Duration) *ERPSession {
	jar, _ := cookiejar.New(nil)
	return &ERPSession{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout, Jar: jar},
	}
}

type erpLoginResponse struct {
	LoginResultType int    `json:"LoginResultType"`
	Message         string `json:"Message"`
}

type erpSaveResponse struct {
	Result struct {
		ResponseStatus struct {
			IsSuccess bool `json:"IsSuccess"`
			Errors    []struct {
				Message string `json:"Message"`
			} `json:"Errors"`
		} `json:"ResponseStatus"`
	} `json:"Result"`
}

// login authenticates by posting [db_id, user, password, locale] and
// capturing the session cookies.
func (s *ERPSession) login(ctx context.Context) error {
	payload, err := json.Marshal([]interface{}{
		s.cfg.ERPDatabase, s.cfg.ERPUser, s.cfg.ERPPassword, erpLocale,
	})
	if err != nil {
		return fmt.Errorf("failed to encode login payload: %w", err)
	}

	body, status, err := s.post(ctx, erpLoginPath, payload)
	if err != nil {
		return fmt.Errorf("erp login failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("erp login returned status %d", status)
	}

	var resp erpLoginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to decode login response: %w", err)
	}
	if resp.LoginResultType != 1 {
		return fmt.Errorf("erp login rejected: %s", resp.Message)
	}
	s.loggedIn = true
	return nil
}

// Save pushes the payload according to the save mode. The payload must
// already be in the ERP's save request shape; the pipeline script owns
// that transform. smart tries the strict-save endpoint and falls back
// to draft when the error is validation-shaped, marking the result
// degraded.
func (s *ERPSession) Save(ctx context.Context, mode model.SaveMode, payload []byte) (*ERPResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loggedIn {
		if err := s.login(ctx); err != nil {
			return nil, err
		}
	}

	switch mode {
	case model.SaveDraftOnly:
		return s.submit(ctx, erpDraftPath, payload, false)
	case model.SaveOnly:
		return s.submit(ctx, erpSavePath, payload, false)
	case model.SaveSmart, "":
		result, err := s.submit(ctx, erpSavePath, payload, false)
		if err != nil {
			return nil, err
		}
		if result.Success || !isValidationError(result.Message) {
			return result, nil
		}
		common.Logger.WithField("error", result.Message).Info("erp strict save rejected, degrading to draft")
		return s.submit(ctx, erpDraftPath, payload, true)
	default:
		return nil, fmt.Errorf("unknown save mode %q", mode)
	}
}

func (s *ERPSession) submit(ctx context.Context, path string, payload []byte, degraded bool) (*ERPResult, error) {
	body, status, err := s.post(ctx, path, payload)
	if err != nil {
		return nil, fmt.Errorf("erp save failed: %w", err)
	}
	if status == http.StatusUnauthorized {
		// Session expired; log in again and retry once.
		s.loggedIn = false
		if err := s.login(ctx); err != nil {
			return nil, err
		}
		body, status, err = s.post(ctx, path, payload)
		if err != nil {
			return nil, fmt.Errorf("erp save failed after re-login: %w", err)
		}
	}

	result := &ERPResult{
		StatusCode: status,
		Body:       string(body),
		Degraded:   degraded,
		Endpoint:   path,
	}
	if status != http.StatusOK {
		result.Message = fmt.Sprintf("unexpected status %d", status)
		return result, nil
	}

	var resp erpSaveResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		result.Message = fmt.Sprintf("undecodable response: %v", err)
		return result, nil
	}
	if !resp.Result.ResponseStatus.IsSuccess {
		messages := make([]string, 0, len(resp.Result.ResponseStatus.Errors))
		for _, e := range resp.Result.ResponseStatus.Errors {
			messages = append(messages, e.Message)
		}
		result.Message = strings.Join(messages, "; ")
		return result, nil
	}
	result.Success = true
	return result, nil
}

func (s *ERPSession) post(ctx context.Context, path string, payload []byte) ([]byte, int, error) {
	url := strings.TrimRight(s.cfg.ERPBaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// isValidationError reports whether the ERP error text matches the
// fixed validation keyword set.
func isValidationError(message string) bool {
	for _, kw := range validationKeywords {
		if strings.Contains(message, kw) {
			return true
		}
	}
	return false
}
