package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// staticRoutes are served without path parameters.
var staticRoutes = map[string]bool{
	"/":             true,
	"/employees":    true,
	"/entitlements": true,
	"/stats":        true,
	"/audit/export": true,
	"/health":       true,
	"/ready":        true,
	"/metrics":      true,
}

// employeeActions are the /employees/{id}/{action} routes.
var employeeActions = map[string]bool{
	"onboard":       true,
	"lateral-move":  true,
	"flex-assign":   true,
	"flex-return":   true,
	"offboard":      true,
	"manual-access": true,
	"revoke":        true,
	"access":        true,
	"flex-access":   true,
	"report":        true,
	"events":        true,
	"revocable":     true,
}

// normalizePath maps request paths to their route pattern so that employee,
// event and case identifiers never become metric label values. Unknown paths
// collapse to "other".
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}

	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for _, p := range parts {
		if p == "" {
			return "other"
		}
	}

	switch parts[0] {
	case "employees":
		switch {
		case len(parts) == 2:
			return "/employees/{id}"
		case len(parts) == 3 && employeeActions[parts[2]]:
			return "/employees/{id}/" + parts[2]
		case len(parts) == 4 && parts[2] == "cases":
			return "/employees/{id}/cases/{case}"
		}
	case "events":
		if len(parts) == 3 && parts[2] == "status" {
			return "/events/{id}/status"
		}
	case "cases":
		if len(parts) == 3 && (parts[2] == "tickets" || parts[2] == "archive") {
			return "/cases/{case}/" + parts[2]
		}
	case "entitlements":
		if len(parts) == 2 {
			return "/entitlements/{id}"
		}
	}
	return "other"
}

func isHealthCheckPath(path string) bool {
	return path == "/health" || path == "/ready"
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (mrw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return mrw.ResponseWriter
}

// HTTPMetrics records request duration, request and response sizes, request
// counts and in-flight requests. Health checks are excluded.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isHealthCheckPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			metrics.inFlight.Inc()
			defer metrics.inFlight.Dec()

			mrw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			requestSize := r.ContentLength
			if requestSize < 0 {
				requestSize = 0
			}

			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				requestSize,
				mrw.size,
			)
		})
	}
}
