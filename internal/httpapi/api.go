// Package httpapi exposes the request engine over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"crewarchive.org/internal/obs"
	"crewarchive.org/internal/requests"
	"crewarchive.org/internal/stream"
)

// Engine is the slice of the request service the HTTP layer needs. Tests
// substitute a stub.
type Engine interface {
	CreateRequest(ctx context.Context, actor requests.Actor, in requests.CreateInput) (requests.Outcome, error)
	Approve(ctx context.Context, requestID string, actor requests.Actor) (requests.Request, error)
	Deny(ctx context.Context, requestID string, actor requests.Actor, message string) (requests.Request, error)
	Cancel(ctx context.Context, requestID string, actor requests.Actor) (requests.Request, error)
	GetRequest(ctx context.Context, requestID string, actor requests.Actor) (requests.Request, error)
	ListMine(ctx context.Context, actor requests.Actor) ([]requests.Request, error)
	ListAwaiting(ctx context.Context, actor requests.Actor) ([]requests.Request, error)
	ResolveApprovers(ctx context.Context, req requests.Request) ([]string, error)
	Notifications(ctx context.Context, actor requests.Actor) ([]requests.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID string, actor requests.Actor) error
}

// Pinger reports backing-store connectivity for readiness probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config carries the wiring for the HTTP surface.
type Config struct {
	Engine         Engine
	Broker         *stream.Broker
	Readiness      Pinger
	Version        string
	Commit         string
	AllowedOrigins []string
	MaxBodyBytes   int64
	RateLimitRPS   float64
	RateLimitBurst int
}

// API is the HTTP surface of the service.
type API struct {
	engine  Engine
	broker  *stream.Broker
	ready   Pinger
	version string
	commit  string
}

// NewRouter assembles the full handler with the middleware chain applied.
func NewRouter(cfg Config) http.Handler {
	a := &API{
		engine:  cfg.Engine,
		broker:  cfg.Broker,
		ready:   cfg.Readiness,
		version: cfg.Version,
		commit:  cfg.Commit,
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 50
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 100
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /readyz", a.handleReadyz)
	mux.HandleFunc("GET /v1/info", a.handleInfo)
	mux.Handle("GET /metrics", obs.Handler())

	authed := func(h http.HandlerFunc) http.Handler { return Authenticate(h) }
	mux.Handle("POST /v1/requests", authed(a.handleCreateRequest))
	mux.Handle("GET /v1/requests", authed(a.handleListRequests))
	mux.Handle("GET /v1/requests/{id}", authed(a.handleGetRequest))
	mux.Handle("GET /v1/requests/{id}/approvers", authed(a.handleApprovers))
	mux.Handle("POST /v1/requests/{id}/approve", authed(a.handleApprove))
	mux.Handle("POST /v1/requests/{id}/deny", authed(a.handleDeny))
	mux.Handle("POST /v1/requests/{id}/cancel", authed(a.handleCancel))
	mux.Handle("GET /v1/notifications", authed(a.handleNotifications))
	mux.Handle("POST /v1/notifications/{id}/read", authed(a.handleNotificationRead))
	mux.Handle("GET /v1/stream/requests", authed(a.handleStream))

	var h http.Handler = mux
	h = RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)(h)
	h = MaxBodyBytes(cfg.MaxBodyBytes)(h)
	h = CORS(cfg.AllowedOrigins)(h)
	h = SecurityHeaders(h)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return h
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.ready.Ping(ctx); err != nil {
			obs.SetReady(false)
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (a *API) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "crewarchive-api",
		"version": a.version,
		"commit":  a.commit,
	})
}

// publish pushes a lifecycle event to stream subscribers.
func (a *API) publish(req requests.Request, actorID string) {
	if a.broker == nil {
		return
	}
	a.broker.Publish(stream.Event{
		RequestID:   req.ID,
		RequestType: string(req.Type),
		Status:      string(req.Status),
		ActorID:     actorID,
		At:          time.Now().UTC(),
	})
}
