package dyad

import (
	"fmt"
	"strings"
	"time"

	"github.com/dyadsync/dyad/pkg/reconcile"
)

// Failure is one isolated per-record apply failure. The record's
// state was left unpersisted and will be retried next run.
type Failure struct {
	Op       reconcile.Op
	RecordID string
	Reason   string
}

// Result summarizes one reconciliation pass.
type Result struct {
	RunID     string
	DryRun    bool
	StartedAt time.Time
	Duration  time.Duration

	// FetchedA and FetchedB count records returned by this pass's
	// fetch (full or incremental).
	FetchedA int
	FetchedB int

	// Matched counts newly established pairings this pass.
	Matched int

	// Planned holds per-op totals from the mutation plan.
	Planned map[reconcile.Op]int

	// Applied counts successfully applied account mutations. Always
	// zero under dry-run.
	Applied int

	// Skipped counts mutations left unapplied by the batch cap plus
	// creates withheld by the duplicate guard.
	Skipped int

	Failures []Failure
}

// HasFailures reports whether any per-record apply failed.
func (r *Result) HasFailures() bool {
	return len(r.Failures) > 0
}

// PlannedTotal counts all planned account mutations.
func (r *Result) PlannedTotal() int {
	total := 0
	for op, n := range r.Planned {
		switch op {
		case reconcile.OpCreateA, reconcile.OpCreateB,
			reconcile.OpUpdateA, reconcile.OpUpdateB,
			reconcile.OpDeleteA, reconcile.OpDeleteB:
			total += n
		}
	}
	return total
}

// String renders a one-line run summary.
func (r *Result) String() string {
	var b strings.Builder
	if r.DryRun {
		b.WriteString("[dry-run] ")
	}
	fmt.Fprintf(&b, "fetched %d+%d, matched %d, planned %d, applied %d",
		r.FetchedA, r.FetchedB, r.Matched, r.PlannedTotal(), r.Applied)
	if r.Skipped > 0 {
		fmt.Fprintf(&b, ", skipped %d", r.Skipped)
	}
	if len(r.Failures) > 0 {
		fmt.Fprintf(&b, ", failed %d", len(r.Failures))
	}
	fmt.Fprintf(&b, " in %s", r.Duration.Round(time.Millisecond))
	return b.String()
}
