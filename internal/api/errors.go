// Package api provides the HTTP handlers of the accessrecon service and its
// standardized error responses.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/accessrecon/internal/audit"
	"github.com/onnwee/accessrecon/internal/catalog"
	"github.com/onnwee/accessrecon/internal/directory"
	"github.com/onnwee/accessrecon/internal/middleware"
	"github.com/onnwee/accessrecon/internal/reconcile"
	"github.com/onnwee/accessrecon/internal/ticket"
)

// Error codes returned in the "code" field of error responses.
const (
	// ErrCodeValidation indicates input validation failure.
	ErrCodeValidation = "validation_error"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeNoEntitlements indicates the catalog holds no entitlements for
	// the requested role and unit.
	ErrCodeNoEntitlements = "no_entitlements"

	// ErrCodeConflict indicates a conflict with the current state.
	ErrCodeConflict = "conflict"

	// ErrCodePendingEvents indicates the employee still has pending requests
	// that must be settled first.
	ErrCodePendingEvents = "pending_events"

	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal = "internal_error"

	// ErrCodeBadRequest indicates a malformed request.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeUnavailable indicates an optional backend is not configured.
	ErrCodeUnavailable = "service_unavailable"
)

// ErrorResponse represents the standard error response format.
// All API errors return JSON in this structure: {"error": {"code": "...", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a standardized JSON error response.
//
// The logging middleware logs error_code for 4xx and 5xx responses when the
// code is set on ctx:
//
//	ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
//	api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "employee not found")
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	middleware.UpdateResponseContext(w, ctx)

	data, err := json.Marshal(ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// StatusCodeMapping returns the HTTP status code for an error code.
func StatusCodeMapping(code string) int {
	switch code {
	case ErrCodeValidation, ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeNoEntitlements:
		return http.StatusUnprocessableEntity
	case ErrCodeConflict, ErrCodePendingEvents:
		return http.StatusConflict
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode classifies a service error.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, reconcile.ErrValidation),
		errors.Is(err, ticket.ErrUnsupportedFormat),
		errors.Is(err, audit.ErrUnsupportedFormat):
		return ErrCodeValidation
	case errors.Is(err, reconcile.ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, reconcile.ErrNoEntitlementsFound):
		return ErrCodeNoEntitlements
	case errors.Is(err, reconcile.ErrPendingEvents):
		return ErrCodePendingEvents
	case errors.Is(err, directory.ErrDuplicateEmployee),
		errors.Is(err, catalog.ErrApplicationInUse),
		errors.Is(err, reconcile.ErrAccessNotHeld):
		return ErrCodeConflict
	default:
		return ErrCodeInternal
	}
}

// writeServiceError maps an engine error to its status and code. Internal
// errors are logged and their details withheld from the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := ErrorCode(err)
	message := err.Error()
	if code == ErrCodeInternal {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		message = "Internal server error"
	}
	ctx := middleware.SetErrorCode(r.Context(), code)
	WriteError(w, ctx, StatusCodeMapping(code), code, message)
}

// writeBadRequest reports a malformed request.
func writeBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
	WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeValidation reports an invalid request parameter.
func writeValidation(w http.ResponseWriter, r *http.Request, message string) {
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
	WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, message)
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}
