package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/giantswarm/kubecontexts/internal/instrumentation"
)

// Route labels for request metrics. Context names and unknown paths never
// become label values.
const (
	routeRefresh = "/api/v1/contexts/{name}/refresh"
	routeOther   = "other"
)

var knownRoutes = map[string]struct{}{
	"/api/v1/contexts/healths":     {},
	"/api/v1/contexts/permissions": {},
	"/api/v1/resources/count":      {},
	EventStreamPath:                {},
	"/healthz":                     {},
	"/readyz":                      {},
	"/healthz/detailed":            {},
}

// statusRecorder captures the status code written by the next handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the connection, which the event
// stream needs to lift its write deadline.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// HTTPMetrics records one request count and duration per route, method and
// status. An event stream request is recorded when the stream ends, so its
// duration is the subscription lifetime. A nil or disabled provider makes
// the middleware a pass-through.
func HTTPMetrics(provider *instrumentation.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if provider == nil || !provider.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			provider.Metrics().RecordHTTPRequest(r.Context(), r.Method, routeLabel(r.URL.EscapedPath()), rec.code(), time.Since(start))
		})
	}
}

// routeLabel maps an escaped request path to a bounded label. The escaped
// form keeps a context name containing "/" in one segment.
func routeLabel(path string) string {
	if _, ok := knownRoutes[path]; ok {
		return path
	}
	if rest, ok := strings.CutPrefix(path, "/api/v1/contexts/"); ok {
		if name, ok := strings.CutSuffix(rest, "/refresh"); ok && name != "" && !strings.Contains(name, "/") {
			return routeRefresh
		}
	}
	return routeOther
}
