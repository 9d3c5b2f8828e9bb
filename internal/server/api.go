package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/kubecontexts/internal/contexts"
	"github.com/giantswarm/kubecontexts/internal/logging"
	"github.com/giantswarm/kubecontexts/internal/server/middleware"
)

const (
	// DefaultKeepAliveInterval is how often an idle event stream receives a
	// comment line.
	DefaultKeepAliveInterval = 30 * time.Second

	// DefaultMaxRequestBytes limits request bodies on the API server.
	DefaultMaxRequestBytes int64 = 1 << 20
)

// API serves the dispatcher views and the refresh action.
type API struct {
	sc        *ServerContext
	health    *HealthChecker
	keepAlive time.Duration
}

// APIOption configures an API.
type APIOption func(*API)

// WithKeepAliveInterval overrides DefaultKeepAliveInterval.
func WithKeepAliveInterval(d time.Duration) APIOption {
	return func(a *API) {
		if d > 0 {
			a.keepAlive = d
		}
	}
}

// NewAPI creates the API for sc.
func NewAPI(sc *ServerContext, opts ...APIOption) *API {
	a := &API{
		sc:        sc,
		health:    NewHealthChecker(sc),
		keepAlive: DefaultKeepAliveInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Health returns the checker behind /healthz and /readyz.
func (a *API) Health() *HealthChecker {
	return a.health
}

// Handler returns the routes wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/contexts/healths", a.handleHealths)
	mux.HandleFunc("GET /api/v1/contexts/permissions", a.handlePermissions)
	mux.HandleFunc("GET /api/v1/resources/count", a.handleResourcesCount)
	mux.HandleFunc("GET "+middleware.EventStreamPath, a.handleEvents)
	mux.HandleFunc("POST /api/v1/contexts/{name}/refresh", a.handleRefresh)
	a.health.RegisterHealthEndpoints(mux)

	cfg := a.sc.Config()
	var handler http.Handler = mux
	handler = middleware.MaxRequestSize(cfg.MaxRequestBytes)(handler)
	handler = middleware.CORS(cfg.AllowedOrigins)(handler)
	handler = middleware.SecurityHeaders(middleware.SecurityHeadersConfig{EnableHSTS: cfg.EnableHSTS})(handler)
	handler = middleware.HTTPMetrics(a.sc.InstrumentationProvider())(handler)
	return handler
}

func (a *API) handleHealths(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.sc.StateView().GetContextsHealths())
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.sc.StateView().GetContextsPermissions())
}

func (a *API) handleResourcesCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.sc.StateView().GetResourcesCount())
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	err := a.sc.Engine().Refresh(name)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, contexts.ErrContextNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, contexts.ErrManagerClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		a.sc.Logger().Error("Refresh failed", logging.Context(name), logging.Err(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}

// handleEvents streams one server-sent event per changed channel. Events
// carry no data; clients fetch the matching view.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// The stream outlives the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	clientID := uuid.NewString()
	logger := a.sc.Logger().With(slog.String("client_id", clientID))

	ctx := r.Context()
	changes := a.sc.StateView().Watch(ctx)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		logger.Warn("Event stream not supported by response writer", logging.Err(err))
		return
	}

	serverDone := a.sc.Context().Done()

	ticker := time.NewTicker(a.keepAlive)
	defer ticker.Stop()

	logger.Debug("Event stream opened")
	defer logger.Debug("Event stream closed")

	for {
		select {
		case <-ctx.Done():
			return
		case <-serverDone:
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: \n\n", ch); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
