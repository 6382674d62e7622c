package reconcile

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/dyadsync/dyad/pkg/contacts"
	"github.com/dyadsync/dyad/pkg/logging"
	"github.com/dyadsync/dyad/pkg/match"
	"github.com/dyadsync/dyad/pkg/state"
)

// Input is everything the change detector needs for one pass: the
// stored correspondences, the records fetched this pass indexed by
// account-local ID (including explicit deletion tombstones), and the
// matcher's output for records with no prior correspondence.
//
// A mapped record absent from CurrentA/CurrentB was simply not
// returned by this pass's (incremental) fetch and is treated as
// unchanged; deletion is signaled only by a fetched record with its
// Deleted flag set.
type Input struct {
	Mappings []state.Mapping

	CurrentA map[string]*contacts.Contact
	CurrentB map[string]*contacts.Contact

	Pairs      []match.Pair
	UnmatchedA []*contacts.Contact
	UnmatchedB []*contacts.Contact

	Strategy Strategy
}

// Detector classifies records into planned actions.
type Detector struct {
	logger *zerolog.Logger
}

// NewDetector creates a Detector. A nil logger falls back to the
// package default.
func NewDetector(logger *zerolog.Logger) *Detector {
	if logger == nil {
		logger = logging.Default()
	}
	return &Detector{logger: logger}
}

// Detect builds the mutation plan for one reconciliation pass. The
// plan is deterministic for a given input: mappings are processed in
// A-side ID order, then new pairs, then unmatched records.
func (d *Detector) Detect(in Input) *Plan {
	plan := &Plan{}

	mappings := append([]state.Mapping(nil), in.Mappings...)
	sort.Slice(mappings, func(i, j int) bool {
		return mappings[i].AccountAID < mappings[j].AccountAID
	})

	for i := range mappings {
		d.classifyMapping(plan, &mappings[i], in)
	}

	for _, pair := range in.Pairs {
		plan.add(Action{
			Op:     OpRecordMapping,
			Source: pair.A,
			Target: pair.B,
			Reason: "matched " + pair.Tier.String(),
		})
	}

	// Identifiers of every record already participating in a pair,
	// for the duplicate guard on creates.
	paired := make(identifierIndex)
	for i := range mappings {
		paired.add(in.CurrentA[mappings[i].AccountAID])
		paired.add(in.CurrentB[mappings[i].AccountBID])
	}
	for _, pair := range in.Pairs {
		paired.add(pair.A)
		paired.add(pair.B)
	}

	for _, c := range in.UnmatchedA {
		if c.Deleted || !c.Valid() {
			continue
		}
		if dupID, ok := paired.lookup(c); ok {
			d.logger.Warn().
				Str("id", c.ID).
				Str("shares_with", dupID).
				Msg("Unmatched record shares an identifier with a paired record")
			plan.add(Action{Op: OpSkipDuplicate, Source: c, Reason: "shares identifier with " + dupID})
			continue
		}
		plan.add(Action{Op: OpCreateB, Source: c, Reason: "new in A"})
	}
	for _, c := range in.UnmatchedB {
		if c.Deleted || !c.Valid() {
			continue
		}
		if dupID, ok := paired.lookup(c); ok {
			d.logger.Warn().
				Str("id", c.ID).
				Str("shares_with", dupID).
				Msg("Unmatched record shares an identifier with a paired record")
			plan.add(Action{Op: OpSkipDuplicate, Source: c, Reason: "shares identifier with " + dupID})
			continue
		}
		plan.add(Action{Op: OpCreateA, Source: c, Reason: "new in B"})
	}

	return plan
}

// identifierIndex maps normalized emails and phones to the ID of the
// record carrying them.
type identifierIndex map[string]string

func (idx identifierIndex) add(c *contacts.Contact) {
	if c == nil || c.Deleted {
		return
	}
	// first record wins, so both halves of a pair report the same ID
	for _, e := range c.Emails {
		if _, ok := idx[e]; !ok {
			idx[e] = c.ID
		}
	}
	for _, p := range c.Phones {
		if _, ok := idx[p]; !ok {
			idx[p] = c.ID
		}
	}
}

// lookup returns the ID of a paired record sharing an identifier with
// c, if any.
func (idx identifierIndex) lookup(c *contacts.Contact) (string, bool) {
	for _, e := range c.Emails {
		if id, ok := idx[e]; ok {
			return id, true
		}
	}
	for _, p := range c.Phones {
		if id, ok := idx[p]; ok {
			return id, true
		}
	}
	return "", false
}

// classifyMapping applies the per-correspondence action table.
func (d *Detector) classifyMapping(plan *Plan, m *state.Mapping, in Input) {
	recA, fetchedA := in.CurrentA[m.AccountAID]
	recB, fetchedB := in.CurrentB[m.AccountBID]

	deletedA := fetchedA && recA.Deleted
	deletedB := fetchedB && recB.Deleted

	switch {
	case deletedA && deletedB:
		plan.add(Action{Op: OpDropMapping, Mapping: m, Reason: "deleted on both sides"})
		return
	case deletedA:
		plan.add(Action{
			Op:      OpDeleteB,
			Source:  recA,
			Target:  recB,
			Mapping: m,
			Reason:  "deleted in A",
		})
		return
	case deletedB:
		plan.add(Action{
			Op:      OpDeleteA,
			Source:  recB,
			Target:  recA,
			Mapping: m,
			Reason:  "deleted in B",
		})
		return
	}

	// Unfetched sides carry their stored fingerprint forward.
	fpA, fpB := m.FingerprintA, m.FingerprintB
	if fetchedA {
		fpA = contacts.Fingerprint(recA)
	}
	if fetchedB {
		fpB = contacts.Fingerprint(recB)
	}

	changedA := fpA != m.FingerprintA
	changedB := fpB != m.FingerprintB

	switch {
	case changedA && changedB:
		if fpA == fpB {
			// Both sides converged on the same content.
			plan.add(Action{
				Op:      OpRefreshMapping,
				Source:  recA,
				Target:  recB,
				Mapping: m,
				Reason:  "convergent edit",
			})
			return
		}
		d.resolveConflict(plan, m, recA, recB, in.Strategy)
	case changedA:
		plan.add(Action{
			Op:      OpUpdateB,
			Source:  recA,
			Target:  recB,
			Mapping: m,
			Reason:  "changed in A",
		})
	case changedB:
		plan.add(Action{
			Op:      OpUpdateA,
			Source:  recB,
			Target:  recA,
			Mapping: m,
			Reason:  "changed in B",
		})
	}
}

func (d *Detector) resolveConflict(plan *Plan, m *state.Mapping, recA, recB *contacts.Contact, strategy Strategy) {
	winner, ok := Resolve(recA, recB, strategy)
	if !ok {
		d.logger.Warn().
			Str("strategy", string(strategy)).
			Str("a_id", recA.ID).
			Str("b_id", recB.ID).
			Msg("Conflict strategy returned no winner, defaulting to account A")
		winner = WinnerA
	}

	d.logger.Info().
		Str("a_id", recA.ID).
		Str("b_id", recB.ID).
		Stringer("winner", winner).
		Msg("Conflict resolved")

	if winner == WinnerA {
		plan.add(Action{
			Op:       OpUpdateB,
			Source:   recA,
			Target:   recB,
			Mapping:  m,
			Conflict: true,
			Reason:   "conflict, A wins",
		})
		return
	}
	plan.add(Action{
		Op:       OpUpdateA,
		Source:   recB,
		Target:   recA,
		Mapping:  m,
		Conflict: true,
		Reason:   "conflict, B wins",
	})
}
