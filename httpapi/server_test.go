package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/coderun/config"
	"github.com/isdmx/coderun/engine"
	"github.com/isdmx/coderun/language"
)

// MockExecutor implements Executor for testing
type MockExecutor struct {
	result engine.Result
	err    error
	calls  int
}

func (m *MockExecutor) Execute(_ context.Context, _, _ string) (engine.Result, error) {
	m.calls++
	return m.result, m.err
}

func (m *MockExecutor) Languages() []language.Info {
	return []language.Info{{Key: "py", Name: "Python", Extension: ".py"}}
}

func newTestServer(t *testing.T, executor Executor) *Server {
	t.Helper()
	cfg := &config.Config{API: config.APIConfig{Enabled: true, Port: 3000, BasePath: "/api/compiler"}}
	return New(cfg, zaptest.NewLogger(t), executor)
}

func TestListLanguages(t *testing.T) {
	s := newTestServer(t, &MockExecutor{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/compiler/languages", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `[{"key":"py","name":"Python","extension":".py"}]`, rec.Body.String())
}

func TestRun(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		result     engine.Result
		err        error
		wantStatus int
		wantBody   string
		wantCalls  int
	}{
		{
			name:       "Success",
			body:       `{"language":"py","code":"print('hi')"}`,
			result:     engine.Result{Stdout: "hi\n"},
			wantStatus: http.StatusOK,
			wantBody:   `{"stdout":"hi\n","stderr":"","timedOut":false,"exitCode":0}`,
			wantCalls:  1,
		},
		{
			name:       "NonZeroExitIsNotAnError",
			body:       `{"language":"py","code":"exit(3)"}`,
			result:     engine.Result{ExitCode: 3},
			wantStatus: http.StatusOK,
			wantBody:   `{"stdout":"","stderr":"","timedOut":false,"exitCode":3}`,
			wantCalls:  1,
		},
		{
			name:       "EmptyCodeIsAllowed",
			body:       `{"language":"py","code":""}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"stdout":"","stderr":"","timedOut":false,"exitCode":0}`,
			wantCalls:  1,
		},
		{
			name:       "UnsupportedLanguage",
			body:       `{"language":"cobol","code":"x"}`,
			result:     engine.Result{Stderr: `unsupported language: "cobol"`, ExitCode: -1},
			err:        fmt.Errorf("%w: %q", engine.ErrUnsupportedLanguage, "cobol"),
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"stdout":"","stderr":"unsupported language: \"cobol\"","timedOut":false,"exitCode":-1}`,
			wantCalls:  1,
		},
		{
			name:       "WorkspaceFailure",
			body:       `{"language":"py","code":"x"}`,
			result:     engine.Result{Stderr: "failed to prepare workspace", ExitCode: -1},
			err:        fmt.Errorf("%w: disk full", engine.ErrWorkspaceCreation),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"stdout":"","stderr":"failed to prepare workspace","timedOut":false,"exitCode":-1}`,
			wantCalls:  1,
		},
		{
			name:       "MalformedBody",
			body:       `{"language":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "MissingLanguage",
			body:       `{"code":"x"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"language is required"}`,
		},
		{
			name:       "MissingCode",
			body:       `{"language":"py"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"code is required"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := &MockExecutor{result: tt.result, err: tt.err}
			s := newTestServer(t, executor)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/compiler/run", strings.NewReader(tt.body))
			s.Handler().ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCalls, executor.calls)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
			} else {
				var body map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Contains(t, body["error"], "invalid JSON")
			}
		})
	}
}

func TestRunBodyTooLarge(t *testing.T) {
	executor := &MockExecutor{}
	s := newTestServer(t, executor)

	body := `{"language":"py","code":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/compiler/run", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, executor.calls)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, &MockExecutor{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "coderun_http_requests_total")
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, &MockExecutor{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/compiler/run", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusOK, statusFor(nil))
	assert.Equal(t, http.StatusBadRequest, statusFor(engine.ErrUnsupportedLanguage))
	assert.Equal(t, http.StatusInternalServerError, statusFor(engine.ErrSourceWrite))
	assert.Equal(t, http.StatusInternalServerError, statusFor(engine.ErrLaunchFailed))
}

func TestShutdownBeforeStart(t *testing.T) {
	s := newTestServer(t, &MockExecutor{})
	assert.NoError(t, s.Shutdown(context.Background()))
}
