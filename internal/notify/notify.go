// Package notify pushes best-effort completion notices to callers that
// registered a delivery address for their client token.
package notify

import (
	"context"
	"curator/internal/apperrors"
	"curator/pkg/cloudevent"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType is the CloudEvent type of every completion notice.
const EventType = "curator.request.complete"

const userAgent = "curator-notify/1.0"

var (
	// ErrBufferFull is returned when the notice cannot be queued and is dropped.
	ErrBufferFull = errors.New("notification buffer full, notice dropped")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("notifier is closed")
)

// Completion describes a finished request and is the data of the delivered
// event. The outcome itself is not part of the notice; callers fetch it by
// polling the request id.
type Completion struct {
	RequestID   string `json:"requestId"`
	SchedulerID string `json:"schedulerId"`
	Status      string `json:"status"`         // "success" or "failure"
	Kind        string `json:"kind,omitempty"` // failure kind, empty on success
}

// Subscription is where notices for one client token are delivered.
type Subscription struct {
	DeliveryAddress string `json:"deliveryAddress"`
	SigningKey      string `json:"-"`
}

// MetricsRecorder is an optional interface for recording notification metrics.
type MetricsRecorder interface {
	RecordNotificationDelivered(ctx context.Context, durationSeconds float64)
	RecordNotificationFailed(ctx context.Context)
	RecordNotificationDropped(ctx context.Context)
	RecordNotificationQueueSize(ctx context.Context, size int64)
}

// Stats holds notification statistics.
type Stats struct {
	Subscriptions int   `json:"subscriptions"`
	QueueDepth    int   `json:"queueDepth"`
	Queued        int64 `json:"queued"`
	Delivered     int64 `json:"delivered"`
	Failed        int64 `json:"failed"`
	Dropped       int64 `json:"dropped"`
	Unaddressed   int64 `json:"unaddressed"` // completions whose token had no subscription
}

type notice struct {
	event *cloudevent.CloudEvent
	sub   Subscription
}

// Service is an address book of client tokens plus an in-memory worker pool
// that delivers each notice once. Failed deliveries are logged and counted,
// never retried.
type Service struct {
	mu   sync.RWMutex
	book map[string]Subscription

	queue   chan *notice
	sender  *cloudevent.Sender
	config  Config
	logger  *slog.Logger
	metrics MetricsRecorder

	queued      atomic.Int64
	delivered   atomic.Int64
	failed      atomic.Int64
	dropped     atomic.Int64
	unaddressed atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// New creates a notification service and starts its workers.
func New(cfg Config, metrics MetricsRecorder) *Service {
	cfg = cfg.withDefaults()

	s := &Service{
		book:     make(map[string]Subscription),
		queue:    make(chan *notice, cfg.BufferSize),
		sender:   cloudevent.NewSender(cfg.Timeout, userAgent),
		config:   cfg,
		logger:   slog.With("component", "notify"),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	s.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go s.worker()
	}

	if metrics != nil {
		go s.reportQueueSize()
	}

	s.logger.Info("Notifier started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return s
}

// Register associates clientToken with a delivery address, replacing any
// previous registration.
func (s *Service) Register(clientToken string, sub Subscription) error {
	if clientToken == "" {
		return apperrors.Validation("clientToken", "clientToken is required")
	}
	u, err := url.Parse(sub.DeliveryAddress)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperrors.Validation("deliveryAddress", "deliveryAddress must be an absolute http(s) URL")
	}

	s.mu.Lock()
	s.book[clientToken] = sub
	s.mu.Unlock()
	return nil
}

// Unregister removes the registration for clientToken and reports whether
// one existed.
func (s *Service) Unregister(clientToken string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.book[clientToken]
	delete(s.book, clientToken)
	return ok
}

// Lookup returns the registration for clientToken.
func (s *Service) Lookup(clientToken string) (Subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.book[clientToken]
	return sub, ok
}

// Notify queues a completion notice for clientToken. Non-blocking. A token
// without a registration is not an error: there is nobody to tell.
func (s *Service) Notify(clientToken string, c Completion) error {
	if s.closed.Load() {
		return ErrClosed
	}

	sub, ok := s.Lookup(clientToken)
	if !ok {
		s.unaddressed.Add(1)
		return nil
	}

	n := &notice{
		event: cloudevent.New(EventType, s.config.Source, c.RequestID, uuid.NewString(), c),
		sub:   sub,
	}

	select {
	case s.queue <- n:
		s.queued.Add(1)
		return nil
	default:
		s.dropped.Add(1)
		if s.metrics != nil {
			s.metrics.RecordNotificationDropped(context.Background())
		}
		s.logger.Warn("Notice dropped, buffer full", "request_id", c.RequestID)
		return ErrBufferFull
	}
}

// Stats returns current notification statistics.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	subs := len(s.book)
	s.mu.RUnlock()

	return Stats{
		Subscriptions: subs,
		QueueDepth:    len(s.queue),
		Queued:        s.queued.Load(),
		Delivered:     s.delivered.Load(),
		Failed:        s.failed.Load(),
		Dropped:       s.dropped.Load(),
		Unaddressed:   s.unaddressed.Load(),
	}
}

// Ready fails once the notifier is closed or its buffer is nearly full,
// when new notices are about to be dropped.
func (s *Service) Ready(_ context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if depth, capacity := len(s.queue), cap(s.queue); depth*10 >= capacity*9 {
		return fmt.Errorf("notification buffer %d/%d full", depth, capacity)
	}
	return nil
}

// Close stops accepting notices and waits for queued ones to be attempted.
// The context deadline controls how long to wait for drain.
func (s *Service) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}

	s.logger.Info("Notifier shutting down", "queued", len(s.queue))
	close(s.shutdown)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Notifier shutdown complete",
			"delivered", s.delivered.Load(),
			"failed", s.failed.Load(),
			"dropped", s.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		s.logger.Warn("Notifier shutdown timed out", "remaining", len(s.queue))
		return ctx.Err()
	}
}

func (s *Service) reportQueueSize() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.metrics.RecordNotificationQueueSize(context.Background(), int64(len(s.queue)))
		}
	}
}

func (s *Service) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.shutdown:
			s.drainQueue()
			return
		case n := <-s.queue:
			s.deliver(n)
		}
	}
}

func (s *Service) drainQueue() {
	for {
		select {
		case n := <-s.queue:
			s.deliver(n)
		default:
			return
		}
	}
}

func (s *Service) deliver(n *notice) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()

	start := time.Now()
	err := s.sender.Send(ctx, n.sub.DeliveryAddress, n.event, cloudevent.SendOptions{SigningKey: n.sub.SigningKey})
	if err != nil {
		s.failed.Add(1)
		if s.metrics != nil {
			s.metrics.RecordNotificationFailed(ctx)
		}
		attrs := []any{
			"destination", extractHost(n.sub.DeliveryAddress),
			"request_id", n.event.Subject,
			"error", err,
		}
		if code, ok := cloudevent.StatusCode(err); ok {
			attrs = append(attrs, "status", code)
		}
		s.logger.Warn("Notice delivery failed", attrs...)
		return
	}

	s.delivered.Add(1)
	if s.metrics != nil {
		s.metrics.RecordNotificationDelivered(ctx, time.Since(start).Seconds())
	}
}

// extractHost keeps delivery addresses, which may embed secrets in their
// path or query, out of logs.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "invalid"
	}
	return parsed.Host
}
