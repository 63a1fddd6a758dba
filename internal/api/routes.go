package api

import (
	"curator/internal/health"
	"curator/internal/notify"
	"curator/internal/observability"
	"curator/internal/scheduler"
	"net/http"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Registry      *scheduler.Registry
	Notifier      *notify.Service
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Registry, cfg.Notifier, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Scheduler endpoints - auth required
	auth := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/schedulers", auth(http.HandlerFunc(handler.Initialize)))
	mux.Handle("GET /v1/schedulers", auth(http.HandlerFunc(handler.ListSchedulers)))
	mux.Handle("DELETE /v1/schedulers/{schedulerId}", auth(http.HandlerFunc(handler.DeleteScheduler)))
	mux.Handle("POST /v1/schedulers/{schedulerId}/requests", auth(http.HandlerFunc(handler.Submit)))
	mux.Handle("POST /v1/schedulers/{schedulerId}/rate-limit", auth(http.HandlerFunc(handler.SetRateLimit)))
	mux.Handle("GET /v1/schedulers/{schedulerId}/stats", auth(http.HandlerFunc(handler.Stats)))
	mux.Handle("GET /v1/requests/{requestId}", auth(http.HandlerFunc(handler.Status)))

	// Notification endpoints - auth required
	mux.Handle("POST /v1/notifications", auth(http.HandlerFunc(handler.RegisterNotification)))
	mux.Handle("DELETE /v1/notifications/{clientToken}", auth(http.HandlerFunc(handler.DeleteNotification)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
