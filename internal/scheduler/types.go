package scheduler

import (
	"context"
	"curator/internal/dispatcher"
	"curator/internal/notify"
	"encoding/json"
	"time"
)

// RequestSpec is one admitted outbound call. Everything but RetryCount is
// fixed at submission.
type RequestSpec struct {
	ID            string
	URL           string
	Method        string
	Payload       any
	Headers       map[string]string
	CacheDuration time.Duration
	ClientToken   string
	CreatedAt     time.Time
	RetryCount    int
}

func (r *RequestSpec) request() *dispatcher.Request {
	return &dispatcher.Request{
		URL:     r.URL,
		Method:  r.Method,
		Payload: r.Payload,
		Headers: r.Headers,
	}
}

// Submission is what a caller asks a scheduler to dispatch.
type Submission struct {
	URL           string
	Method        string
	Payload       any
	Headers       map[string]string
	CacheDuration time.Duration // zero disables caching
	ClientToken   string        // optional, selects a notification subscription
}

// Receipt acknowledges an admitted submission.
type Receipt struct {
	ID             string
	EstimatedDelay time.Duration
}

// Poll states.
const (
	StatusPending  = "pending"
	StatusComplete = "complete"
	StatusNotFound = "not-found"
)

// PollResult is the answer to a status query. Outcome is set only when
// Status is StatusComplete.
type PollResult struct {
	Status  string
	Outcome *dispatcher.Outcome
}

// Stats is a point-in-time view of one scheduler. PendingCount includes
// completed requests that have not been retrieved yet.
type Stats struct {
	ID             string  `json:"id"`
	QueueDepth     int     `json:"queueDepth"`
	PendingCount   int     `json:"pendingCount"`
	CompletedCount int     `json:"completedCount"`
	CallsPerSecond float64 `json:"callsPerSecond"`
	PatternCount   int     `json:"patternCount"`
	Dispatched     int64   `json:"dispatched"`
	CacheHits      int64   `json:"cacheHits"`
	Failures       int64   `json:"failures"`
}

// ResponseCache stores successful responses by cache key.
type ResponseCache interface {
	Lookup(ctx context.Context, key string, maxAge time.Duration) (json.RawMessage, bool)
	Store(ctx context.Context, key string, response json.RawMessage) error
}

// Notifier receives completion notices for requests that carry a client token.
type Notifier interface {
	Notify(clientToken string, c notify.Completion) error
}

// MetricsRecorder is an optional interface for recording scheduler metrics.
type MetricsRecorder interface {
	RecordSubmitted(ctx context.Context)
	RecordRejected(ctx context.Context, reason string)
	RecordQueueDelta(ctx context.Context, delta int64)
	RecordCacheLookup(ctx context.Context, hit bool)
	RecordDispatch(ctx context.Context, result string, durationSeconds float64)
}

// Dependencies are the collaborators shared by every scheduler. Only
// Dispatcher is required.
type Dependencies struct {
	Dispatcher dispatcher.Dispatcher
	Cache      ResponseCache
	Notifier   Notifier
	Metrics    MetricsRecorder
}
