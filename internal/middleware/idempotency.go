package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/onnwee/accessrecon/internal/idempotency"
)

// Idempotency headers.
const (
	IdempotencyKeyHeader    = "Idempotency-Key"
	IdempotentReplayHeader  = "Idempotent-Replayed"
	maxIdempotentBodyLength = 1 << 20
)

// idempotencyResponseWriter captures the response written by the handler.
type idempotencyResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	written    bool
}

func (w *idempotencyResponseWriter) WriteHeader(statusCode int) {
	if !w.written {
		w.statusCode = statusCode
		w.written = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *idempotencyResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.statusCode = http.StatusOK
		w.written = true
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Unwrap returns the underlying ResponseWriter.
func (w *idempotencyResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Idempotency replays the stored response of a POST request carrying an
// Idempotency-Key already seen for the same route. Requests without the
// header pass through. Only 2xx responses are stored. Reusing a key with a
// different body is rejected with 422.
func Idempotency(repo idempotency.Repository, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			if err := idempotency.ValidateKey(key); err != nil {
				code, msg := "invalid_idempotency_key", "Invalid Idempotency-Key format"
				if errors.Is(err, idempotency.ErrKeyTooLong) {
					code, msg = "idempotency_key_too_long", "Idempotency-Key exceeds maximum length of 64 characters"
				}
				writeMiddlewareError(w, r, http.StatusBadRequest, code, msg)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBodyLength+1))
			if err != nil || len(body) > maxIdempotentBodyLength {
				writeMiddlewareError(w, r, http.StatusBadRequest, "bad_request", "Request body could not be read")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			requestHash := idempotency.Hash(body)
			scoped := idempotency.ScopedKey(r.Method, r.URL.Path, key)

			existing, err := repo.Get(ctx, scoped)
			switch {
			case err == nil:
				if existing.RequestHash != requestHash {
					writeMiddlewareError(w, r, http.StatusUnprocessableEntity, "idempotency_key_reused",
						"Idempotency-Key was already used with a different request body")
					return
				}
				logger.InfoContext(ctx, "replaying idempotent response",
					slog.String("route", r.URL.Path),
					slog.Int("status", existing.StatusCode))
				if existing.ContentType != "" {
					w.Header().Set("Content-Type", existing.ContentType)
				}
				w.Header().Set(IdempotentReplayHeader, "true")
				w.WriteHeader(existing.StatusCode)
				_, _ = io.WriteString(w, existing.Body)
				return
			case !errors.Is(err, idempotency.ErrKeyNotFound):
				logger.ErrorContext(ctx, "failed to check idempotency key", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			capture := &idempotencyResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			if capture.statusCode < 200 || capture.statusCode >= 300 {
				return
			}
			record := &idempotency.Record{
				Key:         key,
				Method:      r.Method,
				Route:       r.URL.Path,
				RequestHash: requestHash,
				StatusCode:  capture.statusCode,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.String(),
			}
			if err := repo.Store(ctx, scoped, record); err != nil {
				logger.WarnContext(ctx, "failed to store idempotency key",
					slog.String("route", r.URL.Path),
					slog.String("error", err.Error()))
			}
		})
	}
}

// writeMiddlewareError writes the API error envelope from inside middleware.
func writeMiddlewareError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	UpdateResponseContext(w, SetErrorCode(r.Context(), code))
	body, _ := json.Marshal(map[string]map[string]string{
		"error": {"code": code, "message": message},
	})
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
