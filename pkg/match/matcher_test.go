package match

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyadsync/dyad/pkg/contacts"
)

func contact(id, name string, emails, phones []string) *contacts.Contact {
	return &contacts.Contact{
		ID:          id,
		DisplayName: name,
		Emails:      emails,
		Phones:      phones,
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("john doe", "john doe"))
	assert.Equal(t, 0.0, Similarity("", "john"))
	assert.InDelta(t, 0.875, Similarity("john doe", "joan doe"), 0.001)
	assert.Less(t, Similarity("john doe", "alice smith"), 0.5)
}

func TestMatchSharedEmail(t *testing.T) {
	m := NewMatcher()

	a := []*contacts.Contact{contact("a1", "Johnny D", []string{"John@X.com"}, nil)}
	b := []*contacts.Contact{contact("b1", "John Doe", []string{"john@x.com"}, nil)}

	result, err := m.Match(context.Background(), a, b)
	require.NoError(t, err)

	require.Len(t, result.Pairs, 1)
	assert.Equal(t, TierExact, result.Pairs[0].Tier)
	assert.Equal(t, "a1", result.Pairs[0].A.ID)
	assert.Equal(t, "b1", result.Pairs[0].B.ID)
	assert.Empty(t, result.UnmatchedA)
	assert.Empty(t, result.UnmatchedB)
}

func TestMatchSymmetry(t *testing.T) {
	m := NewMatcher()

	a := []*contacts.Contact{contact("a1", "Johnny D", []string{"john@x.com"}, nil)}
	b := []*contacts.Contact{contact("b1", "J. Doe", []string{"john@x.com"}, nil)}

	fwd, err := m.Match(context.Background(), a, b)
	require.NoError(t, err)
	rev, err := m.Match(context.Background(), b, a)
	require.NoError(t, err)

	require.Len(t, fwd.Pairs, 1)
	require.Len(t, rev.Pairs, 1)
	assert.Equal(t, fwd.Pairs[0].A.ID, rev.Pairs[0].B.ID)
	assert.Equal(t, fwd.Pairs[0].B.ID, rev.Pairs[0].A.ID)
}

func TestMatchSharedPhoneFormatting(t *testing.T) {
	m := NewMatcher()

	a := []*contacts.Contact{contact("a1", "John", nil, []string{"+1 (555) 123-4567"})}
	b := []*contacts.Contact{contact("b1", "Johnny", nil, []string{"555.123.4567"})}

	result, err := m.Match(context.Background(), a, b)
	require.NoError(t, err)
	require.Len(t, result.Pairs, 1)
	assert.Equal(t, TierExact, result.Pairs[0].Tier)
}

func TestMatchExactNormalizedName(t *testing.T) {
	m := NewMatcher()

	a := []*contacts.Contact{contact("a1", "José García", []string{"jg@a.com"}, nil)}
	b := []*contacts.Contact{contact("b1", "jose garcia", []string{"jg@b.com"}, nil)}

	result, err := m.Match(context.Background(), a, b)
	require.NoError(t, err)
	require.Len(t, result.Pairs, 1)
	assert.Equal(t, TierExact, result.Pairs[0].Tier)
}

func TestMatchNameOnlyRequiresNoIdentifiers(t *testing.T) {
	m := NewMatcher()

	// near-identical names, no identifiers on either side
	a := []*contacts.Contact{contact("a1", "Katherine Johnson Smith", nil, nil)}
	b := []*contacts.Contact{contact("b1", "Katherine Johnson Smyth", nil, nil)}

	result, err := m.Match(context.Background(), a, b)
	require.NoError(t, err)
	require.Len(t, result.Pairs, 1)
	assert.Equal(t, TierFuzzy, result.Pairs[0].Tier)

	// same names but one side has an email: no longer name-only eligible
	b[0].Emails = []string{"kj@x.com"}
	result, err = m.Match(context.Background(), a, b)
	require.NoError(t, err)
	assert.Empty(t, result.Pairs)
	assert.Len(t, result.UnmatchedA, 1)
	assert.Len(t, result.UnmatchedB, 1)
}

func TestMatchConsumesRecordOnce(t *testing.T) {
	m := NewMatcher()

	a := []*contacts.Contact{
		contact("a1", "John Doe", []string{"john@x.com"}, nil),
		contact("a2", "Johnny Doe", []string{"john@x.com"}, nil),
	}
	b := []*contacts.Contact{contact("b1", "John Doe", []string{"john@x.com"}, nil)}

	result, err := m.Match(context.Background(), a, b)
	require.NoError(t, err)

	require.Len(t, result.Pairs, 1)
	assert.Equal(t, "a1", result.Pairs[0].A.ID)
	require.Len(t, result.UnmatchedA, 1)
	assert.Equal(t, "a2", result.UnmatchedA[0].ID)
}

func TestMatchTiebreakByID(t *testing.T) {
	m := NewMatcher()

	// two equally exact candidates for b1; lexicographically smaller
	// A-side ID wins regardless of input order
	a := []*contacts.Contact{
		contact("a2", "John Doe", nil, nil),
		contact("a1", "John Doe", nil, nil),
	}
	b := []*contacts.Contact{contact("b1", "John Doe", nil, nil)}

	result, err := m.Match(context.Background(), a, b)
	require.NoError(t, err)
	require.Len(t, result.Pairs, 1)
	assert.Equal(t, "a1", result.Pairs[0].A.ID)
}

type fakeClassifier struct {
	decision Decision
	err      error
	calls    int
}

func (f *fakeClassifier) Classify(_ context.Context, _, _ *contacts.Contact) (Decision, error) {
	f.calls++
	return f.decision, f.err
}

func TestMatchAssistedBand(t *testing.T) {
	// "jonathan doe" vs "jonatan dey": similar but below the fuzzy
	// threshold, no shared identifiers
	a := []*contacts.Contact{contact("a1", "Jonathan Doe", []string{"jd@a.com"}, nil)}
	b := []*contacts.Contact{contact("b1", "Jonatan Dey", []string{"other@b.com"}, nil)}

	// without a classifier the pair stays unmatched
	result, err := NewMatcher().Match(context.Background(), a, b)
	require.NoError(t, err)
	assert.Empty(t, result.Pairs)

	// classifier confirms the match
	fc := &fakeClassifier{decision: Decision{Match: true, Confidence: 0.9}}
	result, err = NewMatcher(WithClassifier(fc)).Match(context.Background(), a, b)
	require.NoError(t, err)
	require.Len(t, result.Pairs, 1)
	assert.Equal(t, TierAssisted, result.Pairs[0].Tier)
	assert.Equal(t, 1, fc.calls)

	// classifier rejects the match
	fc = &fakeClassifier{decision: Decision{Match: false, Confidence: 0.8}}
	result, err = NewMatcher(WithClassifier(fc)).Match(context.Background(), a, b)
	require.NoError(t, err)
	assert.Empty(t, result.Pairs)
	assert.Len(t, result.UnmatchedA, 1)
}

func TestMatchClassifierErrorLeavesUnmatched(t *testing.T) {
	a := []*contacts.Contact{contact("a1", "Jonathan Doe", []string{"jd@a.com"}, nil)}
	b := []*contacts.Contact{contact("b1", "Jonatan Dey", []string{"other@b.com"}, nil)}

	fc := &fakeClassifier{err: errors.New("quota exceeded")}
	result, err := NewMatcher(WithClassifier(fc)).Match(context.Background(), a, b)
	require.NoError(t, err)
	assert.Empty(t, result.Pairs)
	assert.Len(t, result.UnmatchedA, 1)
	assert.Len(t, result.UnmatchedB, 1)
}

func TestMatchEmptyCollections(t *testing.T) {
	m := NewMatcher()

	result, err := m.Match(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Pairs)
	assert.Empty(t, result.UnmatchedA)
	assert.Empty(t, result.UnmatchedB)

	a := []*contacts.Contact{contact("a1", "John Doe", nil, nil)}
	result, err = m.Match(context.Background(), a, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Pairs)
	assert.Len(t, result.UnmatchedA, 1)
}
