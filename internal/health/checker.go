// Package health provides health check functionality for liveness and readiness probes.
package health

import (
	"context"
	"sync"
	"time"
)

// ReadinessChecker is the interface for readiness checks.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// ReadinessFunc adapts a function to ReadinessChecker.
type ReadinessFunc func(ctx context.Context) error

func (f ReadinessFunc) Ready(ctx context.Context) error { return f(ctx) }

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

type component struct {
	checker  ReadinessChecker
	optional bool
}

// Checker performs health checks on dependencies. A failing required
// component makes the service unready; a failing optional one only
// degrades it.
type Checker struct {
	components map[string]component
	timeout    time.Duration
	cacheFor   time.Duration

	mu           sync.RWMutex
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// Option configures a Checker.
type Option func(*Checker)

// WithOptional adds a component whose failure reports degraded instead of
// unhealthy, e.g. the notification pipeline.
func WithOptional(name string, rc ReadinessChecker) Option {
	return func(c *Checker) {
		c.components[name] = component{checker: rc, optional: true}
	}
}

// WithTimeout bounds each component check (default 5s).
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCacheTTL sets how long a readiness result is reused (default 1s).
func WithCacheTTL(d time.Duration) Option {
	return func(c *Checker) {
		c.cacheFor = d
	}
}

// NewChecker creates a health checker over named required components.
func NewChecker(required map[string]ReadinessChecker, opts ...Option) *Checker {
	c := &Checker{
		components: make(map[string]component, len(required)),
		timeout:    5 * time.Second,
		cacheFor:   time.Second,
	}
	for name, rc := range required {
		c.components[name] = component{checker: rc}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Liveness returns true if the service is alive.
// This should be a lightweight check that doesn't depend on external services.
// Failing this probe should trigger a container restart.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{
		Status: StatusHealthy,
	}
}

// Readiness checks if the service is ready to accept traffic.
// Failing this probe should remove the instance from load balancer rotation.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}

	// Use cached result if recent (avoid hammering the cache backend)
	if c.cachedReady != nil && time.Since(c.lastCheck) < c.cacheFor {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	response := c.runChecks(ctx)

	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return response
}

// runChecks checks all components concurrently.
func (c *Checker) runChecks(ctx context.Context) *Response {
	checks := make(map[string]CheckResult, len(c.components))
	if len(c.components) == 0 {
		checks["components"] = CheckResult{Status: StatusUnhealthy, Message: "no components configured"}
		return &Response{Status: StatusUnhealthy, Checks: checks}
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, comp := range c.components {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := c.check(ctx, comp)
			mu.Lock()
			checks[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	overall := StatusHealthy
	for _, result := range checks {
		switch result.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	return &Response{Status: overall, Checks: checks}
}

func (c *Checker) check(ctx context.Context, comp component) CheckResult {
	failed := StatusUnhealthy
	if comp.optional {
		failed = StatusDegraded
	}
	if comp.checker == nil {
		return CheckResult{Status: failed, Message: "not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := comp.checker.Ready(ctx); err != nil {
		return CheckResult{Status: failed, Message: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// IsReady reports whether the service should receive traffic. Degraded
// services still serve.
func (r *Response) IsReady() bool {
	return r.Status == StatusHealthy || r.Status == StatusDegraded
}

// SetShuttingDown marks the service as shutting down.
// This causes readiness checks to return unhealthy, signaling
// load balancers to stop sending new traffic.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil // Clear cache to ensure immediate effect
}
