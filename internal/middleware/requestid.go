// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type (
	requestIDKey struct{}
	actorKey     struct{}
)

// Header names read and written by the middleware.
const (
	RequestIDHeader = "X-Request-ID"
	ActorHeader     = "X-Actor"
)

// maxHeaderValueLen bounds client-supplied identifiers copied into logs and
// the audit trail.
const maxHeaderValueLen = 128

// RequestID injects a request ID into the context and the response headers.
// A client-supplied X-Request-ID is reused; otherwise a UUID is generated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := sanitizeHeader(r.Header.Get(RequestIDHeader))
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request ID from context, or "" if not present.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// Actor records the X-Actor header as the acting user. Authentication is
// handled upstream of this service; the header is trusted as given.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := sanitizeHeader(r.Header.Get(ActorHeader)); actor != "" {
			r = r.WithContext(SetActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

// SetActor stores the acting user in the context.
func SetActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// GetActor returns the acting user from context, or "" if not present.
func GetActor(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok {
		return actor
	}
	return ""
}

func sanitizeHeader(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > maxHeaderValueLen {
		v = v[:maxHeaderValueLen]
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, v)
}
