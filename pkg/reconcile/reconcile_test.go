package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyadsync/dyad/pkg/contacts"
	"github.com/dyadsync/dyad/pkg/match"
	"github.com/dyadsync/dyad/pkg/state"
)

func record(id, name, email string) *contacts.Contact {
	return &contacts.Contact{
		ID:          id,
		DisplayName: name,
		Emails:      []string{email},
	}
}

func mappingFor(a, b *contacts.Contact) state.Mapping {
	return state.Mapping{
		AccountAID:   a.ID,
		AccountBID:   b.ID,
		FingerprintA: contacts.Fingerprint(a),
		FingerprintB: contacts.Fingerprint(b),
	}
}

func byID(cs ...*contacts.Contact) map[string]*contacts.Contact {
	out := make(map[string]*contacts.Contact, len(cs))
	for _, c := range cs {
		out[c.ID] = c
	}
	return out
}

func TestResolve(t *testing.T) {
	earlier := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)

	a := &contacts.Contact{ID: "a1", LastModified: earlier}
	b := &contacts.Contact{ID: "b1", LastModified: later}

	tests := []struct {
		name     string
		a, b     *contacts.Contact
		strategy Strategy
		want     Winner
		ok       bool
	}{
		{"last modified picks later", a, b, StrategyLastModified, WinnerB, true},
		{"last modified picks later reversed", b, a, StrategyLastModified, WinnerA, true},
		{"equal timestamps prefer A", a, a, StrategyLastModified, WinnerA, true},
		{"prefer A", a, b, StrategyPreferA, WinnerA, true},
		{"prefer B", b, a, StrategyPreferB, WinnerB, true},
		{"unknown strategy", a, b, Strategy("coin_flip"), WinnerA, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			winner, ok := Resolve(tt.a, tt.b, tt.strategy)
			assert.Equal(t, tt.want, winner)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("  Last_Modified ")
	require.NoError(t, err)
	assert.Equal(t, StrategyLastModified, s)

	s, err = ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyLastModified, s)

	_, err = ParseStrategy("newest")
	assert.Error(t, err)
}

func TestDetectNoChanges(t *testing.T) {
	a := record("a1", "John Doe", "john@x.com")
	b := record("b1", "John Doe", "john@x.com")

	plan := NewDetector(nil).Detect(Input{
		Mappings: []state.Mapping{mappingFor(a, b)},
		CurrentA: byID(a),
		CurrentB: byID(b),
		Strategy: StrategyLastModified,
	})

	assert.True(t, plan.Empty())
}

func TestDetectPropagateAToB(t *testing.T) {
	a := record("a1", "John Doe", "john@x.com")
	b := record("b1", "John Doe", "john@x.com")
	m := mappingFor(a, b)

	a.Emails = []string{"john.doe@x.com"}

	plan := NewDetector(nil).Detect(Input{
		Mappings: []state.Mapping{m},
		CurrentA: byID(a),
		CurrentB: byID(b),
		Strategy: StrategyLastModified,
	})

	require.Len(t, plan.Actions, 1)
	action := plan.Actions[0]
	assert.Equal(t, OpUpdateB, action.Op)
	assert.Equal(t, "a1", action.Source.ID)
	assert.Equal(t, "b1", action.TargetBID())
	assert.False(t, action.Conflict)
}

func TestDetectConflict(t *testing.T) {
	a := record("a1", "John Doe", "john@x.com")
	b := record("b1", "John Doe", "john@x.com")
	m := mappingFor(a, b)

	a.Note = "edited on A"
	a.LastModified = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	b.Note = "edited on B"
	b.LastModified = time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

	plan := NewDetector(nil).Detect(Input{
		Mappings: []state.Mapping{m},
		CurrentA: byID(a),
		CurrentB: byID(b),
		Strategy: StrategyLastModified,
	})

	require.Len(t, plan.Actions, 1)
	action := plan.Actions[0]
	assert.Equal(t, OpUpdateA, action.Op)
	assert.True(t, action.Conflict)
	assert.Equal(t, "b1", action.Source.ID)
}

func TestDetectConvergentEdit(t *testing.T) {
	a := record("a1", "John Doe", "john@x.com")
	b := record("b1", "John Doe", "john@x.com")
	m := mappingFor(a, b)

	// both sides edited to identical content
	a.Note = "same note"
	b.Note = "same note"

	plan := NewDetector(nil).Detect(Input{
		Mappings: []state.Mapping{m},
		CurrentA: byID(a),
		CurrentB: byID(b),
		Strategy: StrategyLastModified,
	})

	require.Len(t, plan.Actions, 1)
	assert.Equal(t, OpRefreshMapping, plan.Actions[0].Op)
	assert.Zero(t, plan.Mutations())
}

func TestDetectExplicitDeletion(t *testing.T) {
	a := record("a1", "John Doe", "john@x.com")
	b := record("b1", "John Doe", "john@x.com")
	m := mappingFor(a, b)

	a.Deleted = true

	plan := NewDetector(nil).Detect(Input{
		Mappings: []state.Mapping{m},
		CurrentA: byID(a),
		CurrentB: byID(b),
		Strategy: StrategyLastModified,
	})

	require.Len(t, plan.Actions, 1)
	assert.Equal(t, OpDeleteB, plan.Actions[0].Op)
	assert.Equal(t, "b1", plan.Actions[0].TargetBID())
}

func TestDetectAbsenceIsNotDeletion(t *testing.T) {
	a := record("a1", "John Doe", "john@x.com")
	b := record("b1", "John Doe", "john@x.com")
	m := mappingFor(a, b)

	// incremental pass returned neither record
	plan := NewDetector(nil).Detect(Input{
		Mappings: []state.Mapping{m},
		CurrentA: map[string]*contacts.Contact{},
		CurrentB: map[string]*contacts.Contact{},
		Strategy: StrategyLastModified,
	})

	assert.True(t, plan.Empty())
}

func TestDetectDeletedBothSides(t *testing.T) {
	a := record("a1", "John Doe", "john@x.com")
	b := record("b1", "John Doe", "john@x.com")
	m := mappingFor(a, b)

	a.Deleted = true
	b.Deleted = true

	plan := NewDetector(nil).Detect(Input{
		Mappings: []state.Mapping{m},
		CurrentA: byID(a),
		CurrentB: byID(b),
		Strategy: StrategyLastModified,
	})

	require.Len(t, plan.Actions, 1)
	assert.Equal(t, OpDropMapping, plan.Actions[0].Op)
	assert.Zero(t, plan.Mutations())
}

func TestDetectNewPairRecordsMapping(t *testing.T) {
	a := record("a1", "John Doe", "john@x.com")
	b := record("b1", "John Doe", "john@x.com")

	plan := NewDetector(nil).Detect(Input{
		CurrentA: byID(a),
		CurrentB: byID(b),
		Pairs:    []match.Pair{{A: a, B: b, Tier: match.TierExact, Score: 1}},
		Strategy: StrategyLastModified,
	})

	require.Len(t, plan.Actions, 1)
	assert.Equal(t, OpRecordMapping, plan.Actions[0].Op)
	assert.Zero(t, plan.Mutations())
}

func TestDetectUnmatchedCreates(t *testing.T) {
	a := record("a1", "Only In A", "a@x.com")
	b := record("b1", "Only In B", "b@x.com")
	invalid := &contacts.Contact{ID: "a2", Phones: []string{"5551234567"}}
	tombstone := record("a3", "Gone", "gone@x.com")
	tombstone.Deleted = true

	plan := NewDetector(nil).Detect(Input{
		CurrentA:   byID(a, invalid, tombstone),
		CurrentB:   byID(b),
		UnmatchedA: []*contacts.Contact{a, invalid, tombstone},
		UnmatchedB: []*contacts.Contact{b},
		Strategy:   StrategyLastModified,
	})

	require.Len(t, plan.Actions, 2)
	assert.Equal(t, OpCreateB, plan.Actions[0].Op)
	assert.Equal(t, "a1", plan.Actions[0].Source.ID)
	assert.Equal(t, OpCreateA, plan.Actions[1].Op)
	assert.Equal(t, "b1", plan.Actions[1].Source.ID)
}

func TestDetectDuplicateGuard(t *testing.T) {
	a1 := record("a1", "John Doe", "john@x.com")
	b1 := record("b1", "John Doe", "john@x.com")
	m := mappingFor(a1, b1)

	// a second A-side record carrying the paired email
	a2 := record("a2", "Johnny D", "john@x.com")
	// and one with a fresh identifier
	a3 := record("a3", "Someone Else", "else@x.com")

	plan := NewDetector(nil).Detect(Input{
		Mappings:   []state.Mapping{m},
		CurrentA:   byID(a1, a2, a3),
		CurrentB:   byID(b1),
		UnmatchedA: []*contacts.Contact{a2, a3},
		Strategy:   StrategyLastModified,
	})

	require.Len(t, plan.Actions, 2)
	assert.Equal(t, OpSkipDuplicate, plan.Actions[0].Op)
	assert.Equal(t, "a2", plan.Actions[0].Source.ID)
	assert.Contains(t, plan.Actions[0].Reason, "a1")
	assert.Equal(t, OpCreateB, plan.Actions[1].Op)
	assert.Equal(t, "a3", plan.Actions[1].Source.ID)
	assert.Equal(t, 1, plan.Mutations())
}

func TestPlanCounts(t *testing.T) {
	plan := &Plan{}
	plan.add(Action{Op: OpCreateB})
	plan.add(Action{Op: OpCreateB})
	plan.add(Action{Op: OpUpdateA})
	plan.add(Action{Op: OpDropMapping})

	counts := plan.Counts()
	assert.Equal(t, 2, counts[OpCreateB])
	assert.Equal(t, 1, counts[OpUpdateA])
	assert.Equal(t, 3, plan.Mutations())
	assert.False(t, plan.Empty())
}
