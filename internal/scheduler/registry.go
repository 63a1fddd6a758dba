package scheduler

import (
	"context"
	"curator/internal/apperrors"
	"log/slog"
	"slices"
	"sync"
)

// Factory builds a scheduler for a pattern set. A non-positive
// callsPerSecond selects the configured default.
type Factory func(patterns *PatternSet, callsPerSecond float64) (*Scheduler, error)

// NewFactory returns a Factory that creates schedulers sharing cfg and deps.
func NewFactory(cfg Config, deps Dependencies) Factory {
	return func(patterns *PatternSet, callsPerSecond float64) (*Scheduler, error) {
		c := cfg
		if callsPerSecond > 0 {
			c.CallsPerSecond = callsPerSecond
		}
		return New(patterns, c, deps)
	}
}

// Registry maps canonical pattern sets to live schedulers. Schedulers are
// created lazily; concurrent requests for the same set get the same one.
type Registry struct {
	mu         sync.RWMutex
	schedulers map[string]*Scheduler
	factory    Factory
	logger     *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		schedulers: make(map[string]*Scheduler),
		factory:    factory,
		logger:     slog.With("component", "registry"),
	}
}

// GetOrCreate returns the scheduler governing exactly patterns, creating it
// if needed. created reports whether this call built it; callsPerSecond
// only applies on creation.
func (r *Registry) GetOrCreate(patterns []string, callsPerSecond float64) (s *Scheduler, created bool, err error) {
	set, err := ParsePatterns(patterns)
	if err != nil {
		return nil, false, err
	}
	id := set.ID()

	r.mu.RLock()
	s, exists := r.schedulers[id]
	r.mu.RUnlock()
	if exists {
		return s, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if s, exists = r.schedulers[id]; exists {
		return s, false, nil
	}

	s, err = r.factory(set, callsPerSecond)
	if err != nil {
		return nil, false, err
	}
	r.schedulers[id] = s
	r.logger.Info("Scheduler registered", "schedulerId", id, "patterns", set.Patterns())
	return s, true, nil
}

// Get returns the scheduler with id.
func (r *Registry) Get(id string) (*Scheduler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schedulers[id]
	if !ok {
		return nil, apperrors.NotFound("scheduler", id)
	}
	return s, nil
}

// List returns all live schedulers ordered by id.
func (r *Registry) List() []*Scheduler {
	r.mu.RLock()
	out := make([]*Scheduler, 0, len(r.schedulers))
	for _, s := range r.schedulers {
		out = append(out, s)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Scheduler) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		}
		return 0
	})
	return out
}

// Remove unregisters the scheduler with id and stops it without waiting.
// A later GetOrCreate for the same patterns builds a fresh scheduler.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	s, ok := r.schedulers[id]
	delete(r.schedulers, id)
	r.mu.Unlock()

	if !ok {
		return apperrors.NotFound("scheduler", id)
	}
	s.Stop()
	r.logger.Info("Scheduler removed", "schedulerId", id)
	return nil
}

// Poll looks requestID up across every live scheduler.
func (r *Registry) Poll(requestID string) PollResult {
	for _, s := range r.List() {
		if res := s.Poll(requestID); res.Status != StatusNotFound {
			return res
		}
	}
	return PollResult{Status: StatusNotFound}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schedulers)
}

// Close stops every scheduler and waits for their loops to exit or ctx to
// expire. The registry is empty afterwards.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	all := make([]*Scheduler, 0, len(r.schedulers))
	for id, s := range r.schedulers {
		all = append(all, s)
		delete(r.schedulers, id)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.Stop()
	}
	for _, s := range all {
		if err := s.Close(ctx); err != nil {
			r.logger.Warn("Scheduler shutdown timed out", "schedulerId", s.ID())
			return err
		}
	}
	return nil
}
