// Package scheduler admits outbound requests against a fixed allow-list,
// queues them, and dispatches them one at a time at a bounded rate, serving
// repeats from cache. Results are held until the caller polls for them.
package scheduler

import (
	"context"
	"curator/internal/apperrors"
	"curator/internal/cache"
	"curator/internal/dispatcher"
	"curator/internal/notify"
	"curator/internal/ratelimit"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Scheduler owns one bounded FIFO queue and the single goroutine that
// drains it. Submit and Poll never block.
type Scheduler struct {
	patterns *PatternSet
	config   Config
	deps     Dependencies
	pacer    *ratelimit.Pacer
	logger   *slog.Logger

	// mu guards queue sends, pending, responses and stopped.
	mu        sync.Mutex
	queue     chan *RequestSpec
	pending   map[string]*RequestSpec
	responses map[string]dispatcher.Outcome
	stopped   bool

	dispatched atomic.Int64
	cacheHits  atomic.Int64
	failures   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	newID func() string
	now   func() time.Time
}

// New creates a scheduler for patterns and starts its dispatch loop.
func New(patterns *PatternSet, cfg Config, deps Dependencies) (*Scheduler, error) {
	if deps.Dispatcher == nil {
		return nil, errors.New("scheduler: dispatcher is required")
	}
	cfg = cfg.withDefaults()
	pacer, err := ratelimit.NewPacer(cfg.CallsPerSecond)
	if err != nil {
		return nil, apperrors.WithCode(apperrors.CodeInvalidRate, "callsPerSecond", err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		patterns:  patterns,
		config:    cfg,
		deps:      deps,
		pacer:     pacer,
		logger:    slog.With("component", "scheduler", "schedulerId", patterns.ID()),
		queue:     make(chan *RequestSpec, cfg.MaxQueueSize),
		pending:   make(map[string]*RequestSpec),
		responses: make(map[string]dispatcher.Outcome),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		newID:     uuid.NewString,
		now:       time.Now,
	}

	go s.run()

	s.logger.Info("Scheduler started",
		"patterns", patterns.Len(),
		"callsPerSecond", cfg.CallsPerSecond,
		"maxQueueSize", cfg.MaxQueueSize,
	)
	return s, nil
}

func (s *Scheduler) ID() string { return s.patterns.ID() }

// Patterns returns the canonical allow-list.
func (s *Scheduler) Patterns() []string { return s.patterns.Patterns() }

// Submit validates sub, queues it and returns its request id together with
// an estimate of how long it will wait. It fails fast with invalid-url,
// unsupported-method or queue-full and never blocks.
func (s *Scheduler) Submit(ctx context.Context, sub Submission) (Receipt, error) {
	spec, err := s.admit(sub)
	if err != nil {
		s.recordRejected(ctx, err)
		return Receipt{}, err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return Receipt{}, apperrors.NotFound("scheduler", s.ID())
	}
	if len(s.queue) >= s.config.MaxQueueSize {
		s.mu.Unlock()
		err := apperrors.QueueFull(s.ID(), s.config.MaxQueueSize)
		s.recordRejected(ctx, err)
		return Receipt{}, err
	}

	spec.ID = s.newID()
	spec.CreatedAt = s.now()
	select {
	case s.queue <- spec:
	default:
		// unreachable while sends happen under mu
		s.mu.Unlock()
		return Receipt{}, apperrors.QueueFull(s.ID(), s.config.MaxQueueSize)
	}
	s.pending[spec.ID] = spec
	depth := len(s.queue)
	s.mu.Unlock()

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordSubmitted(ctx)
		s.deps.Metrics.RecordQueueDelta(ctx, 1)
	}

	return Receipt{
		ID:             spec.ID,
		EstimatedDelay: time.Duration(float64(depth) * float64(s.pacer.Interval())),
	}, nil
}

func (s *Scheduler) admit(sub Submission) (*RequestSpec, error) {
	method, ok := dispatcher.NormalizeMethod(sub.Method)
	if !ok {
		return nil, apperrors.WithCode(apperrors.CodeUnsupportedMethod, "method",
			fmt.Sprintf("method %q is not supported", sub.Method))
	}
	if !s.patterns.Allows(sub.URL) {
		return nil, apperrors.InvalidURL(sub.URL)
	}
	if sub.CacheDuration < 0 {
		return nil, apperrors.Validation("cacheDuration", "cacheDuration must not be negative")
	}
	if method == http.MethodGet || method == http.MethodDelete {
		if _, isMap := sub.Payload.(map[string]any); sub.Payload != nil && !isMap {
			return nil, apperrors.Validation("payload", method+" payload must be an object of query parameters")
		}
	}

	return &RequestSpec{
		URL:           sub.URL,
		Method:        method,
		Payload:       sub.Payload,
		Headers:       sub.Headers,
		CacheDuration: sub.CacheDuration,
		ClientToken:   sub.ClientToken,
	}, nil
}

func (s *Scheduler) recordRejected(ctx context.Context, err error) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordRejected(ctx, apperrors.Code(err))
	}
}

// Poll reports the state of request id. A completed result is returned once:
// the call removes it, so a second Poll answers StatusNotFound.
func (s *Scheduler) Poll(id string) PollResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if outcome, ok := s.responses[id]; ok {
		delete(s.responses, id)
		delete(s.pending, id)
		return PollResult{Status: StatusComplete, Outcome: &outcome}
	}
	if _, ok := s.pending[id]; ok {
		return PollResult{Status: StatusPending}
	}
	return PollResult{Status: StatusNotFound}
}

// SetRate changes the pacing rate. Non-positive rates are rejected.
func (s *Scheduler) SetRate(callsPerSecond float64) error {
	if err := s.pacer.SetRate(callsPerSecond); err != nil {
		return apperrors.WithCode(apperrors.CodeInvalidRate, "callsPerSecond", err.Error())
	}
	s.logger.Info("Rate changed", "callsPerSecond", callsPerSecond)
	return nil
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	queueDepth := len(s.queue)
	pending := len(s.pending)
	completed := len(s.responses)
	s.mu.Unlock()

	return Stats{
		ID:             s.ID(),
		QueueDepth:     queueDepth,
		PendingCount:   pending,
		CompletedCount: completed,
		CallsPerSecond: s.pacer.Rate(),
		PatternCount:   s.patterns.Len(),
		Dispatched:     s.dispatched.Load(),
		CacheHits:      s.cacheHits.Load(),
		Failures:       s.failures.Load(),
	}
}

// Stop ends the dispatch loop without waiting. Queued items are abandoned
// and forgotten; a dispatch already in flight runs to completion. Safe to
// call repeatedly.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancel()

	var abandoned int64
drain:
	for {
		select {
		case spec := <-s.queue:
			delete(s.pending, spec.ID)
			abandoned++
		default:
			break drain
		}
	}
	s.mu.Unlock()

	if s.deps.Metrics != nil && abandoned > 0 {
		s.deps.Metrics.RecordQueueDelta(context.Background(), -abandoned)
	}
	s.logger.Info("Scheduler stopping", "abandoned", abandoned)
}

// Done is closed once the dispatch loop has exited.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// Close stops the scheduler and waits for the loop to exit or ctx to expire.
func (s *Scheduler) Close(ctx context.Context) error {
	s.Stop()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run() {
	defer close(s.done)

	for {
		if s.ctx.Err() != nil {
			return
		}
		select {
		case <-s.ctx.Done():
			return
		case spec := <-s.queue:
			if s.deps.Metrics != nil {
				s.deps.Metrics.RecordQueueDelta(context.Background(), -1)
			}
			if s.ctx.Err() != nil {
				// taken after Stop; abandoned like the rest of the queue
				s.mu.Lock()
				delete(s.pending, spec.ID)
				s.mu.Unlock()
				return
			}
			s.process(spec)
		}
	}
}

// process turns one queued item into a stored outcome. It never panics out
// of the loop.
func (s *Scheduler) process(spec *RequestSpec) {
	outcome := s.execute(spec)
	if !outcome.OK() {
		s.failures.Add(1)
	}

	s.mu.Lock()
	spec.RetryCount = max(outcome.Attempts-1, 0)
	s.responses[spec.ID] = outcome
	s.mu.Unlock()

	if spec.ClientToken != "" && s.deps.Notifier != nil {
		c := notify.Completion{
			RequestID:   spec.ID,
			SchedulerID: s.ID(),
			Status:      "success",
		}
		if !outcome.OK() {
			c.Status = "failure"
			c.Kind = string(outcome.Failure.Kind)
		}
		if err := s.deps.Notifier.Notify(spec.ClientToken, c); err != nil {
			s.logger.Debug("Notification not queued", "requestId", spec.ID, "error", err)
		}
	}
}

func (s *Scheduler) execute(spec *RequestSpec) (outcome dispatcher.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Dispatch panicked", "requestId", spec.ID, "panic", r)
			outcome = dispatcher.Fail(dispatcher.KindInternal, fmt.Sprint(r))
		}
	}()

	key := s.cacheKey(spec)
	if key != "" {
		if resp, ok := s.lookup(key, spec.CacheDuration); ok {
			s.cacheHits.Add(1)
			return dispatcher.Outcome{Response: resp, Cached: true}
		}
	}

	if err := s.pacer.Wait(s.ctx); err != nil {
		return dispatcher.Fail(dispatcher.KindCancelled, "scheduler stopped before dispatch")
	}

	// In-flight calls are not tied to the scheduler's lifetime; the
	// dispatcher's per-attempt timeout bounds them.
	start := time.Now()
	outcome = s.deps.Dispatcher.Dispatch(context.Background(), spec.request())
	s.dispatched.Add(1)

	result := "success"
	if !outcome.OK() {
		result = string(outcome.Failure.Kind)
		s.logger.Warn("Dispatch failed",
			"requestId", spec.ID,
			"method", spec.Method,
			"kind", outcome.Failure.Kind,
			"attempts", outcome.Attempts,
			"error", outcome.Failure.Message,
		)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordDispatch(context.Background(), result, time.Since(start).Seconds())
	}

	if outcome.OK() && key != "" {
		s.store(key, outcome.Response)
	}
	return outcome
}

func (s *Scheduler) cacheKey(spec *RequestSpec) string {
	if s.deps.Cache == nil || spec.CacheDuration <= 0 {
		return ""
	}
	key, err := cache.Key(cache.KeyInput{
		URL:     spec.URL,
		Method:  spec.Method,
		Payload: spec.Payload,
		Headers: spec.Headers,
	})
	if err != nil {
		s.logger.Warn("Cache key failed, bypassing cache", "requestId", spec.ID, "error", err)
		return ""
	}
	return key
}

func (s *Scheduler) lookup(key string, maxAge time.Duration) (*dispatcher.Response, bool) {
	raw, ok := s.deps.Cache.Lookup(context.Background(), key, maxAge)
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordCacheLookup(context.Background(), ok)
	}
	if !ok {
		return nil, false
	}
	var resp dispatcher.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		s.logger.Warn("Cached response unreadable, dispatching", "key", key, "error", err)
		return nil, false
	}
	return &resp, true
}

func (s *Scheduler) store(key string, resp *dispatcher.Response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn("Response not cacheable", "key", key, "error", err)
		return
	}
	// write failures are logged by the cache and never fail the request
	_ = s.deps.Cache.Store(context.Background(), key, raw)
}
