package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfold/docfold/config"
	"github.com/docfold/docfold/model"
)

// erpFixture fakes the ERP: login issues a session cookie, save/draft
// validate it and answer from scripted responses.
type erpFixture struct {
	srv *httptest.Server

	loginCalls int
	saveCalls  int
	draftCalls int

	saveResponse  string
	draftResponse string
}

func newERPFixture(t *testing.T) *erpFixture {
	f := &erpFixture{
		saveResponse:  `{"Result":{"ResponseStatus":{"IsSuccess":true}}}`,
		draftResponse: `{"Result":{"ResponseStatus":{"IsSuccess":true}}}`,
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case erpLoginPath:
			f.loginCalls++
			var creds []interface{}
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &creds))
			require.Len(t, creds, 4)
			assert.Equal(t, "testdb", creds[0])
			assert.EqualValues(t, 2052, creds[3])
			http.SetCookie(w, &http.Cookie{Name: "kdservice-sessionid", Value: "s1"})
			w.Write([]byte(`{"LoginResultType":1}`))
		case erpSavePath:
			f.saveCalls++
			if c, err := r.Cookie("kdservice-sessionid"); err != nil || c.Value != "s1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(f.saveResponse))
		case erpDraftPath:
			f.draftCalls++
			w.Write([]byte(f.draftResponse))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *erpFixture) session() *ERPSession {
	return NewERPSession(config.PushConfig{
		ERPBaseURL:  f.srv.URL,
		ERPDatabase: "testdb",
		ERPUser:     "api",
		ERPPassword: "secret",
	}, 10*time.Second)
}

func TestERPSaveLogsInOnceAndSaves(t *testing.T) {
	f := newERPFixture(t)
	s := f.session()

	result, err := s.Save(context.Background(), model.SaveOnly, []byte(`{"Model":{}}`))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, f.loginCalls)
	assert.Equal(t, 1, f.saveCalls)

	// Session is reused for the second save.
	_, err = s.Save(context.Background(), model.SaveOnly, []byte(`{"Model":{}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, f.loginCalls)
	assert.Equal(t, 2, f.saveCalls)
}

func TestERPSmartFallsBackToDraftOnValidationError(t *testing.T) {
	f := newERPFixture(t)
	f.saveResponse = `{"Result":{"ResponseStatus":{"IsSuccess":false,"Errors":[{"Message":"字段[税号]必填"}]}}}`
	s := f.session()

	result, err := s.Save(context.Background(), model.SaveSmart, []byte(`{"Model":{}}`))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.Degraded)
	assert.Equal(t, erpDraftPath, result.Endpoint)
	assert.Equal(t, 1, f.saveCalls)
	assert.Equal(t, 1, f.draftCalls)
}

func TestERPSmartDoesNotDegradeOnNonValidationError(t *testing.T) {
	f := newERPFixture(t)
	f.saveResponse = `{"Result":{"ResponseStatus":{"IsSuccess":false,"Errors":[{"Message":"internal server fault"}]}}}`
	s := f.session()

	result, err := s.Save(context.Background(), model.SaveSmart, []byte(`{"Model":{}}`))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.False(t, result.Degraded)
	assert.Contains(t, result.Message, "internal server fault")
	assert.Zero(t, f.draftCalls)
}

func TestERPDraftOnlySkipsStrictSave(t *testing.T) {
	f := newERPFixture(t)
	s := f.session()

	result, err := s.Save(context.Background(), model.SaveDraftOnly, []byte(`{"Model":{}}`))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Zero(t, f.saveCalls)
	assert.Equal(t, 1, f.draftCalls)
}

func TestERPLoginRejectionSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"LoginResultType":0,"Message":"bad credentials"}`))
	}))
	defer srv.Close()

	s := NewERPSession(config.PushConfig{ERPBaseURL: srv.URL}, 10*time.Second)
	_, err := s.Save(context.Background(), model.SaveOnly, []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad credentials")
}

func TestIsValidationError(t *testing.T) {
	assert.True(t, isValidationError("字段必填"))
	assert.True(t, isValidationError("数量不能为空"))
	assert.True(t, isValidationError("validation failed on FNumber"))
	assert.False(t, isValidationError("connection reset"))
}
