// Package api provides the HTTP API handlers and routing for the scheduler service.
package api

import (
	"curator/internal/apperrors"
	"curator/internal/health"
	"curator/internal/notify"
	"curator/internal/scheduler"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// Handler contains HTTP handlers for the scheduler API
type Handler struct {
	registry *scheduler.Registry
	notifier *notify.Service
	health   *health.Checker
}

// NewHandler creates a new API handler
func NewHandler(registry *scheduler.Registry, notifier *notify.Service, healthChecker *health.Checker) *Handler {
	return &Handler{
		registry: registry,
		notifier: notifier,
		health:   healthChecker,
	}
}

// Initialize handles POST /v1/schedulers
func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.CallsPerSecond < 0 {
		h.handleError(w, r, apperrors.WithCode(apperrors.CodeInvalidRate, "callsPerSecond", "callsPerSecond must be positive"))
		return
	}

	s, created, err := h.registry.GetOrCreate(req.Patterns, req.CallsPerSecond)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, InitializeResponse{
		SchedulerID: s.ID(),
		Patterns:    s.Patterns(),
		Created:     created,
	})
}

// ListSchedulers handles GET /v1/schedulers
func (h *Handler) ListSchedulers(w http.ResponseWriter, r *http.Request) {
	resp := ListSchedulersResponse{Schedulers: []SchedulerSummary{}}
	for _, s := range h.registry.List() {
		resp.Schedulers = append(resp.Schedulers, SchedulerSummary{
			Patterns: s.Patterns(),
			Stats:    s.Stats(),
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// DeleteScheduler handles DELETE /v1/schedulers/{schedulerId}
func (h *Handler) DeleteScheduler(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Remove(r.PathValue("schedulerId")); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Submit handles POST /v1/schedulers/{schedulerId}/requests
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(r.PathValue("schedulerId"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	var req SubmitRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.CacheDuration < 0 {
		h.handleError(w, r, apperrors.Validation("cacheDuration", "cacheDuration must not be negative"))
		return
	}

	receipt, err := s.Submit(r.Context(), scheduler.Submission{
		URL:           req.URL,
		Method:        req.Method,
		Payload:       req.Payload,
		Headers:       req.Headers,
		CacheDuration: time.Duration(req.CacheDuration * float64(time.Second)),
		ClientToken:   req.ClientToken,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, SubmitResponse{
		ID:             receipt.ID,
		EstimatedDelay: receipt.EstimatedDelay.Seconds(),
	})
}

// SetRateLimit handles POST /v1/schedulers/{schedulerId}/rate-limit
func (h *Handler) SetRateLimit(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(r.PathValue("schedulerId"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	var req RateLimitRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.CallsPerSecond == nil {
		h.handleError(w, r, apperrors.WithCode(apperrors.CodeInvalidRate, "callsPerSecond", "callsPerSecond is required"))
		return
	}

	if err := s.SetRate(*req.CallsPerSecond); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s.Stats())
}

// Stats handles GET /v1/schedulers/{schedulerId}/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(r.PathValue("schedulerId"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s.Stats())
}

// Status handles GET /v1/requests/{requestId}. A completed result is
// returned once; later calls answer not-found.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	res := h.registry.Poll(r.PathValue("requestId"))

	resp := StatusResponse{Status: res.Status}
	if res.Outcome != nil {
		resp.Outcome = outcomeJSON(res.Outcome)
	}

	status := http.StatusOK
	if res.Status == scheduler.StatusNotFound {
		status = http.StatusNotFound
	}
	h.writeJSON(w, status, resp)
}

// RegisterNotification handles POST /v1/notifications
func (h *Handler) RegisterNotification(w http.ResponseWriter, r *http.Request) {
	var req NotificationRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.notifier.Register(req.ClientToken, notify.Subscription{
		DeliveryAddress: req.DeliveryAddress,
		SigningKey:      req.SigningKey,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteNotification handles DELETE /v1/notifications/{clientToken}
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("clientToken")
	if !h.notifier.Unregister(token) {
		h.handleError(w, r, apperrors.NotFound("notification", token))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 200 if the service is ready to accept traffic, degraded included.
// Returns 503 if the cache backend is unavailable or the service is shutting down.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsReady() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// decode reads a size-limited JSON body into v, writing a 400 on failure.
// Numbers in untyped fields decode as json.Number to keep their digits.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, apperrors.CodeInvalidRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// handleError handles errors from service layer with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	reply := apperrors.ToReply(err)
	if reply.Status >= 500 {
		slog.ErrorContext(r.Context(), "Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.WarnContext(r.Context(), "Client error", "error", err, "path", r.URL.Path, "status", reply.Status, "code", reply.Code)
	}
	h.writeError(w, reply.Status, reply.Code, reply.Message)
}
