// Package daemon runs the sync engine on a fixed interval until its
// context is canceled.
package daemon

import (
	"context"
	stderrors "errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dyadsync/dyad"
	"github.com/dyadsync/dyad/pkg/errors"
	"github.com/dyadsync/dyad/pkg/logging"
)

// DefaultInterval is the pause between sync runs.
const DefaultInterval = time.Hour

// Stats is a running tally of daemon activity.
type Stats struct {
	StartedAt  time.Time
	Runs       int
	Failures   int
	LastRunAt  time.Time
	LastError  string
	LastResult *dyad.Result
}

// Runner invokes Sync on an interval. Run failures are logged and
// counted; the loop only stops when its context does.
type Runner struct {
	engine     dyad.Dyad
	interval   time.Duration
	jitter     time.Duration
	runOnStart bool
	syncOpts   []dyad.SyncOption
	logger     *zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithInterval sets the pause between runs.
func WithInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithJitter delays each run by a random amount up to d, so several
// daemons sharing an API quota do not fire in lockstep.
func WithJitter(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d >= 0 {
			r.jitter = d
		}
	}
}

// WithRunOnStart makes the first run immediate instead of waiting a
// full interval.
func WithRunOnStart(on bool) RunnerOption {
	return func(r *Runner) {
		r.runOnStart = on
	}
}

// WithSyncOptions sets the options passed to every Sync call.
func WithSyncOptions(opts ...dyad.SyncOption) RunnerOption {
	return func(r *Runner) {
		r.syncOpts = opts
	}
}

// WithRunnerLogger sets the runner's logger.
func WithRunnerLogger(logger *zerolog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a daemon runner around a sync engine.
func NewRunner(engine dyad.Dyad, opts ...RunnerOption) *Runner {
	r := &Runner{
		engine:     engine,
		interval:   DefaultInterval,
		runOnStart: true,
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run blocks, syncing on the configured interval, until ctx is
// canceled. It returns ctx.Err() on shutdown.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	r.stats.StartedAt = time.Now().UTC()
	r.mu.Unlock()

	r.logger.Info().
		Dur("interval", r.interval).
		Bool("run_on_start", r.runOnStart).
		Msg("Daemon started")

	if r.runOnStart {
		r.runOnce(ctx)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runOnce(ctx)
		case <-ctx.Done():
			r.logger.Info().Msg("Daemon stopped")
			return ctx.Err()
		}
	}
}

// Stats returns a copy of the daemon's tallies.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Runner) runOnce(ctx context.Context) {
	if r.jitter > 0 {
		delay := time.Duration(rand.Int63n(int64(r.jitter)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}

	result, err := r.engine.Sync(ctx, r.syncOpts...)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Runs++
	r.stats.LastRunAt = time.Now().UTC()
	r.stats.LastResult = result

	switch {
	case err == nil:
		r.stats.LastError = ""
		if result != nil && result.HasFailures() {
			r.logger.Warn().
				Int("failures", len(result.Failures)).
				Msg("Sync run finished with record failures")
		}
	case stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded):
		r.stats.LastError = err.Error()
	case errors.IsStateLocked(err):
		// Another run owns the state; the next tick retries.
		r.stats.LastError = err.Error()
		r.logger.Warn().Msg("Sync skipped, state locked by another run")
	default:
		r.stats.Failures++
		r.stats.LastError = err.Error()
		r.logger.Error().Err(err).Msg("Sync run failed")
	}
}
