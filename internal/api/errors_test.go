package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/accessrecon/internal/audit"
	"github.com/onnwee/accessrecon/internal/catalog"
	"github.com/onnwee/accessrecon/internal/directory"
	"github.com/onnwee/accessrecon/internal/reconcile"
	"github.com/onnwee/accessrecon/internal/ticket"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation", &reconcile.ValidationError{Field: "role"}, ErrCodeValidation},
		{"ticket format", fmt.Errorf("%w: xml", ticket.ErrUnsupportedFormat), ErrCodeValidation},
		{"audit format", fmt.Errorf("%w: xml", audit.ErrUnsupportedFormat), ErrCodeValidation},
		{"not found", fmt.Errorf("%w: employee E1", reconcile.ErrNotFound), ErrCodeNotFound},
		{"no entitlements", fmt.Errorf("%w for role", reconcile.ErrNoEntitlementsFound), ErrCodeNoEntitlements},
		{"duplicate employee", directory.ErrDuplicateEmployee, ErrCodeConflict},
		{"application in use", catalog.ErrApplicationInUse, ErrCodeConflict},
		{"access not held", reconcile.ErrAccessNotHeld, ErrCodeConflict},
		{"pending events", fmt.Errorf("%w: 2 event(s)", reconcile.ErrPendingEvents), ErrCodePendingEvents},
		{"store", &reconcile.StoreError{Op: "append", Err: errors.New("connection reset")}, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.want {
				t.Errorf("ErrorCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusCodeMapping(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeBadRequest, http.StatusBadRequest},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeNoEntitlements, http.StatusUnprocessableEntity},
		{ErrCodeConflict, http.StatusConflict},
		{ErrCodePendingEvents, http.StatusConflict},
		{ErrCodeUnavailable, http.StatusServiceUnavailable},
		{ErrCodeInternal, http.StatusInternalServerError},
		{"unknown", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := StatusCodeMapping(tt.code); got != tt.want {
				t.Errorf("StatusCodeMapping(%q) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, context.Background(), http.StatusNotFound, ErrCodeNotFound, "employee not found")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error.Code != ErrCodeNotFound || resp.Error.Message != "employee not found" {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestWriteServiceError_HidesInternalDetails(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/employees/E1/onboard", nil)
	err := &reconcile.StoreError{Op: "append", Err: errors.New("pq: password authentication failed")}

	writeServiceError(w, r, newTestLogger(), err)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error.Message != "Internal server error" {
		t.Errorf("message = %q, want generic message", resp.Error.Message)
	}
}
