package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyadsync/dyad/pkg/errors"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMappingRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := Mapping{
		AccountAID:   "people/a1",
		AccountBID:   "people/b1",
		FingerprintA: "fp-a",
		FingerprintB: "fp-b",
	}
	require.NoError(t, s.PutMapping(ctx, m))

	got, err := s.MappingByAID(ctx, "people/a1")
	require.NoError(t, err)
	assert.Equal(t, "people/b1", got.AccountBID)
	assert.Equal(t, "fp-a", got.FingerprintA)
	assert.False(t, got.CreatedAt.IsZero())

	got, err = s.MappingByBID(ctx, "people/b1")
	require.NoError(t, err)
	assert.Equal(t, "people/a1", got.AccountAID)

	all, err := s.Mappings(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMappingNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.MappingByAID(context.Background(), "people/none")
	assert.True(t, errors.IsNotFound(err))
}

func TestMappingUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := Mapping{AccountAID: "a1", AccountBID: "b1", FingerprintA: "v1", FingerprintB: "v1"}
	require.NoError(t, s.PutMapping(ctx, m))

	m.FingerprintA = "v2"
	require.NoError(t, s.PutMapping(ctx, m))

	got, err := s.MappingByAID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.FingerprintA)

	all, err := s.Mappings(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDeleteMapping(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutMapping(ctx, Mapping{AccountAID: "a1", AccountBID: "b1"}))
	require.NoError(t, s.DeleteMapping(ctx, "a1"))

	_, err := s.MappingByAID(ctx, "a1")
	assert.True(t, errors.IsNotFound(err))

	// deleting again is a no-op
	require.NoError(t, s.DeleteMapping(ctx, "a1"))
}

func TestCursors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	token, err := s.Cursor(ctx, "personal")
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, s.SetCursor(ctx, "personal", "tok-1"))
	require.NoError(t, s.SetCursor(ctx, "work", "tok-2"))
	require.NoError(t, s.SetCursor(ctx, "personal", "tok-3"))

	token, err = s.Cursor(ctx, "personal")
	require.NoError(t, err)
	assert.Equal(t, "tok-3", token)

	require.NoError(t, s.ClearCursors(ctx))
	token, err = s.Cursor(ctx, "work")
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestGroupMappings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	gm := GroupMapping{Name: "family", AccountAID: "contactGroups/a", AccountBID: "contactGroups/b"}
	require.NoError(t, s.PutGroupMapping(ctx, gm))

	all, err := s.GroupMappings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "family", all[0].Name)

	require.NoError(t, s.DeleteGroupMapping(ctx, "family"))
	all, err = s.GroupMappings(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestClassifierDecisionCache(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CachedDecision(ctx, "a1", "b1", "fpA", "fpB")
	assert.True(t, errors.IsNotFound(err))

	d := ClassifierDecision{
		AccountAID:   "a1",
		AccountBID:   "b1",
		FingerprintA: "fpA",
		FingerprintB: "fpB",
		Match:        true,
		Confidence:   0.92,
		Reasoning:    "same person, nickname variant",
	}
	require.NoError(t, s.PutDecision(ctx, d))

	got, err := s.CachedDecision(ctx, "a1", "b1", "fpA", "fpB")
	require.NoError(t, err)
	assert.True(t, got.Match)
	assert.InDelta(t, 0.92, got.Confidence, 0.001)

	// cache is keyed by content: a changed fingerprint misses
	_, err = s.CachedDecision(ctx, "a1", "b1", "fpA-changed", "fpB")
	assert.True(t, errors.IsNotFound(err))
}

func TestRunLock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AcquireLock(ctx, "run-1"))

	err := s.AcquireLock(ctx, "run-2")
	require.Error(t, err)
	assert.True(t, errors.IsStateLocked(err))

	require.NoError(t, s.ReleaseLock(ctx))
	require.NoError(t, s.AcquireLock(ctx, "run-2"))
	require.NoError(t, s.ReleaseLock(ctx))

	// releasing an unheld lock is fine
	require.NoError(t, s.ReleaseLock(ctx))
}

func TestTransactCommitsAtomically(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Transact(ctx, func(tx Store) error {
		if err := tx.PutMapping(ctx, Mapping{AccountAID: "a1", AccountBID: "b1"}); err != nil {
			return err
		}
		return tx.SetCursor(ctx, "personal", "tok-1")
	})
	require.NoError(t, err)

	got, err := s.MappingByAID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "b1", got.AccountBID)

	token, err := s.Cursor(ctx, "personal")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
}

func TestTransactRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sentinel := errors.New("apply failed")
	err := s.Transact(ctx, func(tx Store) error {
		if err := tx.PutMapping(ctx, Mapping{AccountAID: "a1", AccountBID: "b1"}); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	_, err = s.MappingByAID(ctx, "a1")
	assert.True(t, errors.IsNotFound(err))
}

func TestReset(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutMapping(ctx, Mapping{AccountAID: "a1", AccountBID: "b1"}))
	require.NoError(t, s.SetCursor(ctx, "personal", "tok"))
	require.NoError(t, s.PutGroupMapping(ctx, GroupMapping{Name: "family", AccountAID: "ga", AccountBID: "gb"}))
	require.NoError(t, s.PutDecision(ctx, ClassifierDecision{AccountAID: "a1", AccountBID: "b1", FingerprintA: "x", FingerprintB: "y"}))

	require.NoError(t, s.Reset(ctx))

	all, err := s.Mappings(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	token, err := s.Cursor(ctx, "personal")
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestReopenKeepsState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.PutMapping(ctx, Mapping{AccountAID: "a1", AccountBID: "b1"}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.MappingByAID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "b1", got.AccountBID)
}
