// Package reconcile classifies the state of every known and newly
// matched record pair into a mutation plan: which records to create,
// update, or delete in which account, and which correspondences to
// record, refresh, or drop. The package is pure; applying the plan is
// the orchestrator's job.
package reconcile

import (
	"fmt"

	"github.com/dyadsync/dyad/pkg/contacts"
	"github.com/dyadsync/dyad/pkg/state"
)

// Op is the kind of planned action.
type Op string

const (
	// OpCreateA creates a new record in account A from a B record.
	OpCreateA Op = "create_a"

	// OpCreateB creates a new record in account B from an A record.
	OpCreateB Op = "create_b"

	// OpUpdateA overwrites an A record's syncable fields from B.
	OpUpdateA Op = "update_a"

	// OpUpdateB overwrites a B record's syncable fields from A.
	OpUpdateB Op = "update_b"

	// OpDeleteA deletes a mapped A record whose B counterpart was
	// explicitly deleted.
	OpDeleteA Op = "delete_a"

	// OpDeleteB deletes a mapped B record whose A counterpart was
	// explicitly deleted.
	OpDeleteB Op = "delete_b"

	// OpRecordMapping persists a newly matched pair with both current
	// fingerprints. No account mutation.
	OpRecordMapping Op = "record_mapping"

	// OpRefreshMapping re-records fingerprints for a mapped pair that
	// converged without needing a mutation.
	OpRefreshMapping Op = "refresh_mapping"

	// OpDropMapping removes a correspondence whose records are gone
	// on both sides. No account mutation.
	OpDropMapping Op = "drop_mapping"

	// OpSkipDuplicate flags an unmatched record that shares an email
	// or phone with an already-paired record. It is reported instead
	// of created, so a likely duplicate is never propagated.
	OpSkipDuplicate Op = "skip_duplicate"
)

// Action is one planned step.
type Action struct {
	Op Op

	// Source is the record whose content drives the action (the
	// winner for updates, the origin record for creates and deletes).
	Source *contacts.Contact

	// Target is the record being overwritten or deleted, when it was
	// fetched this pass. For updates against a record not fetched
	// this pass, Target is nil and Mapping carries its ID.
	Target *contacts.Contact

	// Mapping is the prior correspondence, nil for new pairs.
	Mapping *state.Mapping

	// Conflict marks actions produced by conflict resolution.
	Conflict bool

	Reason string
}

// TargetAID and TargetBID resolve the account-local ID the action
// operates on, preferring the fetched record over the stored mapping.

func (a *Action) TargetAID() string {
	switch a.Op {
	case OpUpdateA, OpDeleteA:
		if a.Target != nil {
			return a.Target.ID
		}
	}
	if a.Mapping != nil {
		return a.Mapping.AccountAID
	}
	return ""
}

func (a *Action) TargetBID() string {
	switch a.Op {
	case OpUpdateB, OpDeleteB:
		if a.Target != nil {
			return a.Target.ID
		}
	}
	if a.Mapping != nil {
		return a.Mapping.AccountBID
	}
	return ""
}

// Plan is an ordered set of actions for one reconciliation pass.
type Plan struct {
	Actions []Action
}

// Empty reports whether the plan contains no actions at all.
func (p *Plan) Empty() bool {
	return len(p.Actions) == 0
}

// Mutations counts actions that touch an account (creates, updates,
// deletes), excluding store-only bookkeeping.
func (p *Plan) Mutations() int {
	n := 0
	for _, a := range p.Actions {
		switch a.Op {
		case OpCreateA, OpCreateB, OpUpdateA, OpUpdateB, OpDeleteA, OpDeleteB:
			n++
		}
	}
	return n
}

// Counts returns per-op totals for logging and run summaries.
func (p *Plan) Counts() map[Op]int {
	counts := make(map[Op]int)
	for _, a := range p.Actions {
		counts[a.Op]++
	}
	return counts
}

// String implements fmt.Stringer for log output.
func (p *Plan) String() string {
	return fmt.Sprintf("Plan(%d actions, %d mutations)", len(p.Actions), p.Mutations())
}

func (p *Plan) add(a Action) {
	p.Actions = append(p.Actions, a)
}
