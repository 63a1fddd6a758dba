package scheduler

import (
	"context"
	"curator/internal/apperrors"
	"curator/internal/cache"
	"curator/internal/dispatcher"
	"curator/internal/notify"
	"curator/internal/testutil"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeDispatcher records calls and answers with respond, or a 200 echoing
// the URL when respond is nil. A non-nil gate blocks every call until closed.
type fakeDispatcher struct {
	mu      sync.Mutex
	starts  []time.Time
	urls    []string
	calls   atomic.Int64
	gate    chan struct{}
	respond func(req *dispatcher.Request) dispatcher.Outcome
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req *dispatcher.Request) dispatcher.Outcome {
	f.mu.Lock()
	f.starts = append(f.starts, time.Now())
	f.urls = append(f.urls, req.URL)
	f.mu.Unlock()
	f.calls.Add(1)

	if f.gate != nil {
		<-f.gate
	}
	if f.respond != nil {
		return f.respond(req)
	}
	return dispatcher.Success(&dispatcher.Response{StatusCode: 200, Body: []byte(`{"url":"` + req.URL + `"}`)})
}

func (f *fakeDispatcher) startTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.starts...)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent map[string][]notify.Completion
}

func (n *fakeNotifier) Notify(token string, c notify.Completion) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = make(map[string][]notify.Completion)
	}
	n.sent[token] = append(n.sent[token], c)
	return nil
}

func (n *fakeNotifier) count(token string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent[token])
}

type fakeMetrics struct {
	queue     atomic.Int64
	submitted atomic.Int64
}

func (m *fakeMetrics) RecordSubmitted(context.Context)                 { m.submitted.Add(1) }
func (m *fakeMetrics) RecordRejected(context.Context, string)          {}
func (m *fakeMetrics) RecordQueueDelta(_ context.Context, d int64)     { m.queue.Add(d) }
func (m *fakeMetrics) RecordCacheLookup(context.Context, bool)         {}
func (m *fakeMetrics) RecordDispatch(context.Context, string, float64) {}

func newTestScheduler(t *testing.T, cfg Config, deps Dependencies) *Scheduler {
	t.Helper()
	set, err := ParsePatterns([]string{"http://svc.local/a"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CallsPerSecond == 0 {
		cfg.CallsPerSecond = 1000
	}
	s, err := New(set, cfg, deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Close(ctx)
	})
	return s
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	store, err := cache.Open(cache.Config{Driver: "file", Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	c := cache.New(store, cache.Config{})
	t.Cleanup(func() { c.Close() })
	return c
}

var fast = []testutil.WaitOption{testutil.WithTimeout(5 * time.Second), testutil.WithInterval(5 * time.Millisecond)}

func waitComplete(t *testing.T, s *Scheduler, id string) *dispatcher.Outcome {
	t.Helper()
	res := testutil.MustWaitForValue(t, func() (PollResult, bool) {
		res := s.Poll(id)
		return res, res.Status == StatusComplete
	}, fast...)
	return res.Outcome
}

func TestScheduler_SubmitAndPoll(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	s := newTestScheduler(t, Config{}, Dependencies{Dispatcher: d})

	receipt, err := s.Submit(context.Background(), Submission{URL: "http://svc.local/a/x", Method: "GET"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if receipt.ID == "" {
		t.Fatal("expected a request id")
	}

	outcome := waitComplete(t, s, receipt.ID)
	if !outcome.OK() || string(outcome.Response.Body) != `{"url":"http://svc.local/a/x"}` {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	if res := s.Poll(receipt.ID); res.Status != StatusNotFound {
		t.Errorf("second poll = %s, want not-found", res.Status)
	}
	if res := s.Poll("never-issued"); res.Status != StatusNotFound {
		t.Errorf("unknown id = %s, want not-found", res.Status)
	}
}

func TestScheduler_PendingUntilComplete(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{gate: make(chan struct{})}
	s := newTestScheduler(t, Config{}, Dependencies{Dispatcher: d})

	receipt, err := s.Submit(context.Background(), Submission{URL: "http://svc.local/a", Method: "GET"})
	if err != nil {
		t.Fatal(err)
	}
	testutil.MustWaitFor(t, func() bool { return d.calls.Load() == 1 }, fast...)

	if res := s.Poll(receipt.ID); res.Status != StatusPending {
		t.Errorf("poll during dispatch = %s, want pending", res.Status)
	}
	close(d.gate)
	waitComplete(t, s, receipt.ID)
}

func TestScheduler_RejectsDisallowedURL(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	s := newTestScheduler(t, Config{}, Dependencies{Dispatcher: d})

	before := s.Stats()
	_, err := s.Submit(context.Background(), Submission{URL: "http://other.local", Method: "GET"})
	if !errors.Is(err, apperrors.ErrValidation) || apperrors.Code(err) != apperrors.CodeInvalidURL {
		t.Fatalf("expected invalid-url, got %v", err)
	}

	after := s.Stats()
	if after.QueueDepth != before.QueueDepth || after.PendingCount != before.PendingCount {
		t.Errorf("rejected submit changed state: before %+v after %+v", before, after)
	}
	if d.calls.Load() != 0 {
		t.Error("rejected submit reached the dispatcher")
	}
}

func TestScheduler_SubmitValidation(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, Config{}, Dependencies{Dispatcher: &fakeDispatcher{}})

	tests := []struct {
		name string
		sub  Submission
		code string
	}{
		{"unsupported method", Submission{URL: "http://svc.local/a", Method: "TRACE"}, apperrors.CodeUnsupportedMethod},
		{"negative cache duration", Submission{URL: "http://svc.local/a", Method: "GET", CacheDuration: -time.Second}, apperrors.CodeInvalidRequest},
		{"get with string payload", Submission{URL: "http://svc.local/a", Method: "GET", Payload: "x"}, apperrors.CodeInvalidRequest},
	}

	for _, tt := range tests {
		_, err := s.Submit(context.Background(), tt.sub)
		if apperrors.Code(err) != tt.code {
			t.Errorf("%s: code = %q (%v), want %q", tt.name, apperrors.Code(err), err, tt.code)
		}
	}
}

func TestScheduler_QueueFull(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{gate: make(chan struct{})}
	s := newTestScheduler(t, Config{MaxQueueSize: 3}, Dependencies{Dispatcher: d})
	defer close(d.gate)

	// first item is taken by the loop and held in the dispatcher
	if _, err := s.Submit(context.Background(), Submission{URL: "http://svc.local/a", Method: "GET"}); err != nil {
		t.Fatal(err)
	}
	testutil.MustWaitFor(t, func() bool { return d.calls.Load() == 1 }, fast...)

	var full int
	for range 4 {
		_, err := s.Submit(context.Background(), Submission{URL: "http://svc.local/a", Method: "GET"})
		if err != nil {
			if !errors.Is(err, apperrors.ErrQueueFull) || apperrors.Code(err) != apperrors.CodeQueueFull {
				t.Fatalf("unexpected error %v", err)
			}
			full++
		}
	}

	if full != 1 {
		t.Errorf("expected exactly one queue-full error, got %d", full)
	}
	if depth := s.Stats().QueueDepth; depth != 3 {
		t.Errorf("queue depth = %d, want 3", depth)
	}
}

func TestScheduler_EstimatedDelay(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{gate: make(chan struct{})}
	s := newTestScheduler(t, Config{CallsPerSecond: 2}, Dependencies{Dispatcher: d})
	defer close(d.gate)

	if _, err := s.Submit(context.Background(), Submission{URL: "http://svc.local/a", Method: "GET"}); err != nil {
		t.Fatal(err)
	}
	testutil.MustWaitFor(t, func() bool { return d.calls.Load() == 1 }, fast...)

	r1, _ := s.Submit(context.Background(), Submission{URL: "http://svc.local/a", Method: "GET"})
	r2, _ := s.Submit(context.Background(), Submission{URL: "http://svc.local/a", Method: "GET"})

	if r1.EstimatedDelay != 500*time.Millisecond || r2.EstimatedDelay != time.Second {
		t.Errorf("estimated delays = %v, %v; want 500ms, 1s", r1.EstimatedDelay, r2.EstimatedDelay)
	}
}

func TestScheduler_PacesRealDispatches(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	s := newTestScheduler(t, Config{CallsPerSecond: 20}, Dependencies{Dispatcher: d})

	var ids []string
	for range 4 {
		r, err := s.Submit(context.Background(), Submission{URL: "http://svc.local/a", Method: "GET"})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, r.ID)
	}
	for _, id := range ids {
		waitComplete(t, s, id)
	}

	starts := d.startTimes()
	const minGap = 50*time.Millisecond - 5*time.Millisecond
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < minGap {
			t.Errorf("dispatch %d started %v after previous, want >= %v", i, gap, minGap)
		}
	}
}

func TestScheduler_FIFO(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{gate: make(chan struct{})}
	s := newTestScheduler(t, Config{}, Dependencies{Dispatcher: d})

	want := []string{"http://svc.local/a/1", "http://svc.local/a/2", "http://svc.local/a/3"}
	var ids []string
	for _, u := range want {
		r, err := s.Submit(context.Background(), Submission{URL: u, Method: "GET"})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, r.ID)
	}
	close(d.gate)
	for _, id := range ids {
		waitComplete(t, s, id)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for i, u := range want {
		if d.urls[i] != u {
			t.Errorf("dispatch %d = %s, want %s", i, d.urls[i], u)
		}
	}
}

func TestScheduler_CacheHit(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	// slow rate: a cache hit must not wait for the pacer
	s := newTestScheduler(t, Config{CallsPerSecond: 0.5}, Dependencies{Dispatcher: d, Cache: newTestCache(t)})

	sub := Submission{
		URL:           "http://svc.local/a/item",
		Method:        "GET",
		Payload:       map[string]any{"ids": "Q42"},
		CacheDuration: 60 * time.Second,
	}
	r1, err := s.Submit(context.Background(), sub)
	if err != nil {
		t.Fatal(err)
	}
	first := waitComplete(t, s, r1.ID)

	start := time.Now()
	r2, err := s.Submit(context.Background(), sub)
	if err != nil {
		t.Fatal(err)
	}
	second := waitComplete(t, s, r2.ID)

	if d.calls.Load() != 1 {
		t.Errorf("transport invoked %d times, want 1", d.calls.Load())
	}
	if !second.Cached || second.Attempts != 0 {
		t.Errorf("expected cached outcome, got %+v", second)
	}
	if string(second.Response.Body) != string(first.Response.Body) || second.Response.StatusCode != first.Response.StatusCode {
		t.Errorf("cached response differs: %+v vs %+v", second.Response, first.Response)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cache hit took %v, it should not wait on the pacer", elapsed)
	}
	if hits := s.Stats().CacheHits; hits != 1 {
		t.Errorf("cacheHits = %d, want 1", hits)
	}
}

func TestScheduler_CacheExpiry(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	s := newTestScheduler(t, Config{}, Dependencies{Dispatcher: d, Cache: newTestCache(t)})

	sub := Submission{URL: "http://svc.local/a", Method: "GET", CacheDuration: 30 * time.Millisecond}
	r1, _ := s.Submit(context.Background(), sub)
	waitComplete(t, s, r1.ID)

	time.Sleep(40 * time.Millisecond)
	r2, _ := s.Submit(context.Background(), sub)
	second := waitComplete(t, s, r2.ID)

	if d.calls.Load() != 2 {
		t.Errorf("transport invoked %d times, want 2", d.calls.Load())
	}
	if second.Cached {
		t.Error("stale entry must not be served")
	}
}

func TestScheduler_ZeroCacheDurationBypassesCache(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	s := newTestScheduler(t, Config{}, Dependencies{Dispatcher: d, Cache: newTestCache(t)})

	for range 2 {
		r, _ := s.Submit(context.Background(), Submission{URL: "http://svc.local/a", Method: "GET"})
		waitComplete(t, s, r.ID)
	}
	if d.calls.Load() != 2 {
		t.Errorf("transport invoked %d times, want 2", d.calls.Load())
	}
}

func TestScheduler_FailuresAreStored(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{respond: func(req *dispatcher.Request) dispatcher.Outcome {
		if req.URL == "http://svc.local/a/panic" {
			panic("transport exploded")
		}
		o := dispatcher.Fail(dispatcher.KindHTTPStatus, "HTTP 404")
		o.Attempts = 1
		return o
	}}
	s := newTestScheduler(t, Config{}, Dependencies{Dispatcher: d, Cache: newTestCache(t)})

	r1, _ := s.Submit(context.Background(), Submission{URL: "http://svc.local/a/panic", Method: "GET"})
	r2, _ := s.Submit(context.Background(), Submission{URL: "http://svc.local/a/missing", Method: "GET", CacheDuration: time.Minute})

	o1 := waitComplete(t, s, r1.ID)
	if o1.OK() || o1.Failure.Kind != dispatcher.KindInternal {
		t.Errorf("expected internal failure after panic, got %+v", o1)
	}
	o2 := waitComplete(t, s, r2.ID)
	if o2.OK() || o2.Failure.Kind != dispatcher.KindHTTPStatus {
		t.Errorf("expected http-status failure, got %+v", o2)
	}

	// failures are not cached
	r3, _ := s.Submit(context.Background(), Submission{URL: "http://svc.local/a/missing", Method: "GET", CacheDuration: time.Minute})
	waitComplete(t, s, r3.ID)
	if d.calls.Load() != 3 {
		t.Errorf("transport invoked %d times, want 3", d.calls.Load())
	}
	if f := s.Stats().Failures; f != 3 {
		t.Errorf("failures = %d, want 3", f)
	}
}

func TestScheduler_NotifiesClientToken(t *testing.T) {
	t.Parallel()
	n := &fakeNotifier{}
	d := &fakeDispatcher{}
	s := newTestScheduler(t, Config{}, Dependencies{Dispatcher: d, Notifier: n})

	r1, _ := s.Submit(context.Background(), Submission{URL: "http://svc.local/a", Method: "GET", ClientToken: "tok"})
	r2, _ := s.Submit(context.Background(), Submission{URL: "http://svc.local/a", Method: "GET"})
	testutil.MustWaitFor(t, func() bool { return s.Stats().CompletedCount == 2 }, fast...)

	if n.count("tok") != 1 {
		t.Fatalf("expected one notice for tok, got %d", n.count("tok"))
	}
	n.mu.Lock()
	c := n.sent["tok"][0]
	n.mu.Unlock()
	if c.RequestID != r1.ID || c.SchedulerID != s.ID() || c.Status != "success" {
		t.Errorf("unexpected completion %+v", c)
	}

	// notification does not consume the result
	if res := s.Poll(r1.ID); res.Status != StatusComplete {
		t.Errorf("poll after notice = %s, want complete", res.Status)
	}
	s.Poll(r2.ID)
}

func TestScheduler_SetRate(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, Config{CallsPerSecond: 1}, Dependencies{Dispatcher: &fakeDispatcher{}})

	for _, bad := range []float64{0, -1} {
		if err := s.SetRate(bad); apperrors.Code(err) != apperrors.CodeInvalidRate {
			t.Errorf("SetRate(%v) = %v, want invalid-rate", bad, err)
		}
	}
	if err := s.SetRate(5); err != nil {
		t.Fatalf("SetRate(5) error = %v", err)
	}
	if got := s.Stats().CallsPerSecond; got != 5 {
		t.Errorf("callsPerSecond = %v, want 5", got)
	}
}

func TestScheduler_Stats(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{gate: make(chan struct{})}
	s := newTestScheduler(t, Config{CallsPerSecond: 3}, Dependencies{Dispatcher: d})

	for range 3 {
		if _, err := s.Submit(context.Background(), Submission{URL: "http://svc.local/a", Method: "GET"}); err != nil {
			t.Fatal(err)
		}
	}
	testutil.MustWaitFor(t, func() bool { return d.calls.Load() == 1 }, fast...)

	stats := s.Stats()
	if stats.ID != s.ID() || stats.QueueDepth != 2 || stats.PendingCount != 3 || stats.PatternCount != 1 || stats.CallsPerSecond != 3 {
		t.Errorf("unexpected stats %+v", stats)
	}
	close(d.gate)
	testutil.MustWaitFor(t, func() bool { return s.Stats().CompletedCount == 3 }, fast...)
	if got := s.Stats().Dispatched; got != 3 {
		t.Errorf("dispatched = %d, want 3", got)
	}
}

func TestScheduler_Stop(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{gate: make(chan struct{})}
	s := newTestScheduler(t, Config{}, Dependencies{Dispatcher: d})

	r1, _ := s.Submit(context.Background(), Submission{URL: "http://svc.local/a", Method: "GET"})
	testutil.MustWaitFor(t, func() bool { return d.calls.Load() == 1 }, fast...)
	if _, err := s.Submit(context.Background(), Submission{URL: "http://svc.local/a", Method: "GET"}); err != nil {
		t.Fatal(err)
	}

	s.Stop()
	s.Stop()
	if _, err := s.Submit(context.Background(), Submission{URL: "http://svc.local/a", Method: "GET"}); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("submit after stop = %v, want not-found", err)
	}

	// the in-flight dispatch finishes; the queued item is abandoned
	close(d.gate)
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch loop did not exit")
	}
	if res := s.Poll(r1.ID); res.Status != StatusComplete {
		t.Errorf("in-flight request = %s, want complete", res.Status)
	}
	if d.calls.Load() != 1 {
		t.Errorf("transport invoked %d times after stop, want 1", d.calls.Load())
	}
}

func TestScheduler_StopReleasesQueueGauge(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{gate: make(chan struct{})}
	m := &fakeMetrics{}
	s := newTestScheduler(t, Config{MaxQueueSize: 5}, Dependencies{Dispatcher: d, Metrics: m})

	if _, err := s.Submit(context.Background(), Submission{URL: "http://svc.local/a", Method: "GET"}); err != nil {
		t.Fatal(err)
	}
	testutil.MustWaitFor(t, func() bool { return d.calls.Load() == 1 }, fast...)

	var queued []string
	for range 3 {
		r, err := s.Submit(context.Background(), Submission{URL: "http://svc.local/a", Method: "GET"})
		if err != nil {
			t.Fatal(err)
		}
		queued = append(queued, r.ID)
	}
	if got := m.queue.Load(); got != 3 {
		t.Fatalf("queue gauge before stop = %d, want 3", got)
	}

	s.Stop()
	close(d.gate)
	<-s.Done()

	if got := m.queue.Load(); got != 0 {
		t.Errorf("queue gauge after stop = %d, want 0", got)
	}
	for _, id := range queued {
		if res := s.Poll(id); res.Status != StatusNotFound {
			t.Errorf("abandoned %s = %s, want not-found", id, res.Status)
		}
	}
	if st := s.Stats(); st.QueueDepth != 0 || st.PendingCount != 1 {
		t.Errorf("stats after stop = %+v, want empty queue and one completed entry", st)
	}
}

// Before the loop takes its first item every submission waits in the
// queue, so the waiting depth never exceeds MaxQueueSize.
func TestScheduler_QueueBoundBeforeFirstDispatch(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{gate: make(chan struct{})}
	s := newTestScheduler(t, Config{MaxQueueSize: 3}, Dependencies{Dispatcher: d})
	defer close(d.gate)

	var accepted int
	for range 10 {
		if _, err := s.Submit(context.Background(), Submission{URL: "http://svc.local/a", Method: "GET"}); err == nil {
			accepted++
		} else if !errors.Is(err, apperrors.ErrQueueFull) {
			t.Fatalf("unexpected error %v", err)
		}
		if depth := s.Stats().QueueDepth; depth > 3 {
			t.Fatalf("queue depth = %d, exceeds 3", depth)
		}
	}
	// at most one item has left the queue for the held dispatcher
	if accepted < 3 || accepted > 4 {
		t.Errorf("accepted %d submissions, want 3 or 4", accepted)
	}
}

func TestNew_RequiresDispatcher(t *testing.T) {
	t.Parallel()
	set, _ := ParsePatterns([]string{"http://svc.local"})
	if _, err := New(set, Config{}, Dependencies{}); err == nil {
		t.Error("expected error without a dispatcher")
	}
}
