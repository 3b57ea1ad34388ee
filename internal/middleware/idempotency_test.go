package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/accessrecon/internal/idempotency"
)

// countingHandler answers every POST with a new case id.
type countingHandler struct {
	calls int
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.calls++
	w.Header().Set("Content-Type", "application/json")
	if r.URL.Query().Get("fail") != "" {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"conflict"}}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"case_id":"CASE-` + string(rune('0'+h.calls)) + `"}`))
}

func idempotentPost(handler http.Handler, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysFirstResponse(t *testing.T) {
	repo := idempotency.NewInMemoryRepository(0)
	next := &countingHandler{}
	handler := Idempotency(repo, newTestLogger(&bytes.Buffer{}))(next)

	first := idempotentPost(handler, "/employees/E1/onboard", "retry-1", `{"role":"Analyst"}`)
	second := idempotentPost(handler, "/employees/E1/onboard", "retry-1", `{"role":"Analyst"}`)

	if next.calls != 1 {
		t.Errorf("handler calls = %d, want 1", next.calls)
	}
	if first.Body.String() != second.Body.String() || second.Code != http.StatusOK {
		t.Errorf("replay = %d %s, want %s", second.Code, second.Body.String(), first.Body.String())
	}
	if second.Header().Get(IdempotentReplayHeader) != "true" {
		t.Error("replayed response is not marked")
	}
	if first.Header().Get(IdempotentReplayHeader) != "" {
		t.Error("first response must not be marked as a replay")
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Errorf("replay Content-Type = %q", second.Header().Get("Content-Type"))
	}
}

func TestIdempotency_PassThrough(t *testing.T) {
	tests := []struct {
		name   string
		method string
		key    string
	}{
		{"no key", http.MethodPost, ""},
		{"GET with key", http.MethodGet, "k"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := idempotency.NewInMemoryRepository(0)
			next := &countingHandler{}
			handler := Idempotency(repo, newTestLogger(&bytes.Buffer{}))(next)

			for i := 0; i < 2; i++ {
				req := httptest.NewRequest(tt.method, "/employees/E1/offboard", nil)
				if tt.key != "" {
					req.Header.Set(IdempotencyKeyHeader, tt.key)
				}
				handler.ServeHTTP(httptest.NewRecorder(), req)
			}
			if next.calls != 2 {
				t.Errorf("handler calls = %d, want 2", next.calls)
			}
			if repo.Len() != 0 {
				t.Errorf("stored records = %d, want 0", repo.Len())
			}
		})
	}
}

func TestIdempotency_KeyScopedByRoute(t *testing.T) {
	next := &countingHandler{}
	handler := Idempotency(idempotency.NewInMemoryRepository(0), newTestLogger(&bytes.Buffer{}))(next)

	idempotentPost(handler, "/employees/E1/offboard", "k", "")
	idempotentPost(handler, "/employees/E2/offboard", "k", "")

	if next.calls != 2 {
		t.Errorf("handler calls = %d, want 2", next.calls)
	}
}

func TestIdempotency_FailuresNotStored(t *testing.T) {
	repo := idempotency.NewInMemoryRepository(0)
	next := &countingHandler{}
	handler := Idempotency(repo, newTestLogger(&bytes.Buffer{}))(next)

	w := idempotentPost(handler, "/employees/E1/revoke?fail=1", "k", `{"application":"CRM"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	idempotentPost(handler, "/employees/E1/revoke?fail=1", "k", `{"application":"CRM"}`)
	if next.calls != 2 {
		t.Errorf("handler calls = %d, want 2", next.calls)
	}
	if repo.Len() != 0 {
		t.Errorf("stored records = %d, want 0", repo.Len())
	}
}

func TestIdempotency_Rejections(t *testing.T) {
	repo := idempotency.NewInMemoryRepository(0)
	next := &countingHandler{}
	handler := Idempotency(repo, newTestLogger(&bytes.Buffer{}))(next)
	idempotentPost(handler, "/employees/E1/onboard", "used", `{"role":"Analyst"}`)

	tests := []struct {
		name       string
		key        string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"key too long", strings.Repeat("k", idempotency.MaxKeyLength+1), "", http.StatusBadRequest, "idempotency_key_too_long"},
		{"control character", "bad\tkey", "", http.StatusBadRequest, "invalid_idempotency_key"},
		{"reused with other body", "used", `{"role":"Rep"}`, http.StatusUnprocessableEntity, "idempotency_key_reused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := idempotentPost(handler, "/employees/E1/onboard", tt.key, tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), `"code":"`+tt.wantCode+`"`) {
				t.Errorf("body = %s, want code %s", w.Body.String(), tt.wantCode)
			}
		})
	}
	if next.calls != 1 {
		t.Errorf("handler calls = %d, want 1", next.calls)
	}
}

func TestIdempotency_ErrorCodeReachesLogging(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newTestLogger(buf)
	handler := Logging(logger)(Idempotency(idempotency.NewInMemoryRepository(0), logger)(&countingHandler{}))

	req := httptest.NewRequest(http.MethodPost, "/employees/E1/onboard", nil)
	req.Header.Set(IdempotencyKeyHeader, strings.Repeat("k", idempotency.MaxKeyLength+1))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), `"error_code":"idempotency_key_too_long"`) {
		t.Errorf("log = %s, want the idempotency error code", buf.String())
	}
}

// failingRepo fails every call.
type failingRepo struct{}

func (failingRepo) Get(context.Context, string) (*idempotency.Record, error) {
	return nil, context.DeadlineExceeded
}

func (failingRepo) Store(context.Context, string, *idempotency.Record) error {
	return context.DeadlineExceeded
}

func (failingRepo) DeleteOlderThan(context.Context, time.Duration) (int64, error) {
	return 0, context.DeadlineExceeded
}

func TestIdempotency_StoreUnavailable(t *testing.T) {
	next := &countingHandler{}
	handler := Idempotency(failingRepo{}, newTestLogger(&bytes.Buffer{}))(next)

	w := idempotentPost(handler, "/employees/E1/onboard", "k", "")
	if w.Code != http.StatusOK || next.calls != 1 {
		t.Errorf("status = %d, calls = %d; want the request served", w.Code, next.calls)
	}
}
