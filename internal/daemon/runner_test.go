package daemon

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyadsync/dyad"
	"github.com/dyadsync/dyad/pkg/errors"
)

// fakeEngine counts Sync calls and returns scripted errors.
type fakeEngine struct {
	calls atomic.Int64
	errs  []error
}

func (f *fakeEngine) Sync(ctx context.Context, opts ...dyad.SyncOption) (*dyad.Result, error) {
	n := f.calls.Add(1)
	if int(n) <= len(f.errs) && f.errs[n-1] != nil {
		return nil, f.errs[n-1]
	}
	return &dyad.Result{RunID: "run"}, nil
}

func (f *fakeEngine) Status(ctx context.Context) (*dyad.Status, error) { return &dyad.Status{}, nil }
func (f *fakeEngine) Reset(ctx context.Context) error                  { return nil }
func (f *fakeEngine) Close() error                                     { return nil }

func TestRunnerSyncsOnInterval(t *testing.T) {
	engine := &fakeEngine{}
	r := NewRunner(engine,
		WithInterval(20*time.Millisecond),
		WithRunOnStart(true),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()

	err := r.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	stats := r.Stats()
	assert.GreaterOrEqual(t, stats.Runs, 3, "start run plus interval ticks")
	assert.Zero(t, stats.Failures)
	assert.NotNil(t, stats.LastResult)
	assert.False(t, stats.LastRunAt.IsZero())
}

func TestRunnerCountsFailuresAndContinues(t *testing.T) {
	engine := &fakeEngine{errs: []error{assertableError{}}}
	r := NewRunner(engine,
		WithInterval(20*time.Millisecond),
		WithRunOnStart(true),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 70*time.Millisecond)
	defer cancel()
	_ = r.Run(ctx)

	stats := r.Stats()
	assert.Equal(t, 1, stats.Failures)
	assert.GreaterOrEqual(t, stats.Runs, 2, "loop survives a failed run")
}

func TestRunnerSkipsWhenStateLocked(t *testing.T) {
	engine := &fakeEngine{errs: []error{errors.ErrStateLocked}}
	r := NewRunner(engine,
		WithInterval(time.Hour),
		WithRunOnStart(true),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = r.Run(ctx)

	stats := r.Stats()
	assert.Equal(t, 1, stats.Runs)
	assert.Zero(t, stats.Failures, "lock contention is a skip, not a failure")
	assert.NotEmpty(t, stats.LastError)
}

func TestRunnerNoStartRunWaitsForTick(t *testing.T) {
	engine := &fakeEngine{}
	r := NewRunner(engine,
		WithInterval(time.Hour),
		WithRunOnStart(false),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = r.Run(ctx)

	assert.Zero(t, r.Stats().Runs)
}

type assertableError struct{}

func (assertableError) Error() string { return "account exploded" }
