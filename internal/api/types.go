package api

import (
	"curator/internal/dispatcher"
	"curator/internal/scheduler"
	"encoding/json"
)

// InitializeRequest is the body of POST /v1/schedulers.
type InitializeRequest struct {
	Patterns       []string `json:"patterns"`
	CallsPerSecond float64  `json:"callsPerSecond,omitempty"` // only applied when the scheduler is created
}

// InitializeResponse identifies the scheduler governing the pattern set.
type InitializeResponse struct {
	SchedulerID string   `json:"schedulerId"`
	Patterns    []string `json:"patterns"`
	Created     bool     `json:"created"`
}

// SubmitRequest is the body of POST /v1/schedulers/{schedulerId}/requests.
type SubmitRequest struct {
	URL           string            `json:"url"`
	Method        string            `json:"method"`
	Payload       any               `json:"payload,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	CacheDuration float64           `json:"cacheDuration,omitempty"` // seconds, 0 disables caching
	ClientToken   string            `json:"clientToken,omitempty"`
}

// SubmitResponse acknowledges a queued request.
type SubmitResponse struct {
	ID             string  `json:"id"`
	EstimatedDelay float64 `json:"estimatedDelay"` // seconds
}

// RateLimitRequest is the body of POST /v1/schedulers/{schedulerId}/rate-limit.
type RateLimitRequest struct {
	CallsPerSecond *float64 `json:"callsPerSecond"`
}

// StatusResponse answers GET /v1/requests/{requestId}.
type StatusResponse struct {
	Status  string       `json:"status"` // pending, complete, not-found
	Outcome *OutcomeJSON `json:"outcome,omitempty"`
}

// OutcomeJSON is the wire form of a completed request.
type OutcomeJSON struct {
	Success  bool                `json:"success"`
	Cached   bool                `json:"cached"`
	Attempts int                 `json:"attempts"`
	Response *ResponseJSON       `json:"response,omitempty"`
	Failure  *dispatcher.Failure `json:"failure,omitempty"`
}

// ResponseJSON carries the upstream response. Body is embedded as JSON when
// the upstream sent valid JSON and as a string otherwise.
type ResponseJSON struct {
	StatusCode int               `json:"statusCode"`
	Header     map[string]string `json:"header,omitempty"`
	Body       json.RawMessage   `json:"body"`
}

// SchedulerSummary is one entry of GET /v1/schedulers.
type SchedulerSummary struct {
	Patterns []string        `json:"patterns"`
	Stats    scheduler.Stats `json:"stats"`
}

// ListSchedulersResponse answers GET /v1/schedulers.
type ListSchedulersResponse struct {
	Schedulers []SchedulerSummary `json:"schedulers"`
}

// NotificationRequest is the body of POST /v1/notifications.
type NotificationRequest struct {
	ClientToken     string `json:"clientToken"`
	DeliveryAddress string `json:"deliveryAddress"`
	SigningKey      string `json:"signingKey,omitempty"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func outcomeJSON(o *dispatcher.Outcome) *OutcomeJSON {
	out := &OutcomeJSON{
		Success:  o.OK(),
		Cached:   o.Cached,
		Attempts: o.Attempts,
		Failure:  o.Failure,
	}
	if o.Response != nil {
		out.Response = &ResponseJSON{
			StatusCode: o.Response.StatusCode,
			Header:     o.Response.Header,
			Body:       bodyJSON(o.Response.Body),
		}
	}
	return out
}

func bodyJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return json.RawMessage(`""`)
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	b, _ := json.Marshal(string(body))
	return b
}
