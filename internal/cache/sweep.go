package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Sweeper runs Cache.Sweep on a cron schedule.
type Sweeper struct {
	cron  *cron.Cron
	cache *Cache
}

// NewSweeper validates schedule and registers the sweep job. The job does
// not run until Start.
func NewSweeper(c *Cache, schedule string) (*Sweeper, error) {
	logger := cronLogger{c.logger.With("job", "sweep")}
	cr := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		),
	)
	s := &Sweeper{cron: cr, cache: c}
	if _, err := cr.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) run() {
	_, _ = s.cache.Sweep(context.Background())
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop prevents further runs and waits for a running sweep to finish or ctx
// to expire.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes cron's scheduler events into slog. Routine scheduling
// chatter goes to Debug; recovered panics land at Error.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
