// Package state persists the sync engine's cross-run memory: record
// correspondences with their last-synced fingerprints, per-account
// incremental cursors, group correspondences, and cached classifier
// decisions. The store is the only component with durable side
// effects; it is updated only after the corresponding account
// mutation has been confirmed.
package state

import (
	"context"
	"time"
)

// Mapping is a persisted correspondence between one record in account
// A and one record in account B, with the content fingerprint last
// observed on each side at a successful sync.
type Mapping struct {
	AccountAID   string
	AccountBID   string
	FingerprintA string
	FingerprintB string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GroupMapping is the analogous correspondence between contact
// groups, scoped by normalized group name.
type GroupMapping struct {
	Name       string
	AccountAID string
	AccountBID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Cursor is an opaque per-account incremental sync token.
type Cursor struct {
	Account   string
	Token     string
	UpdatedAt time.Time
}

// ClassifierDecision is a cached external classifier verdict for a
// candidate pair, keyed by record IDs and the content fingerprints at
// classification time. A cache entry is valid only while both
// fingerprints are unchanged.
type ClassifierDecision struct {
	AccountAID   string
	AccountBID   string
	FingerprintA string
	FingerprintB string
	Match        bool
	Confidence   float64
	Reasoning    string
	CreatedAt    time.Time
}

// Store is the durable state behind the reconciliation engine.
//
// Mutating methods must be invoked only after the corresponding
// account mutation succeeded. All implementations must provide atomic
// multi-row commits via Transact and mutual exclusion across
// concurrent runs via AcquireLock.
type Store interface {
	// AcquireLock takes exclusive run ownership of the store, failing
	// fast with errors.ErrStateLocked when another run holds it.
	// owner identifies the run for diagnostics.
	AcquireLock(ctx context.Context, owner string) error

	// ReleaseLock releases run ownership. Safe to call when the lock
	// is already released.
	ReleaseLock(ctx context.Context) error

	// Mappings returns all correspondences.
	Mappings(ctx context.Context) ([]Mapping, error)

	// MappingByAID and MappingByBID look up a correspondence by one
	// side's record ID, returning errors.ErrNotFound when absent.
	MappingByAID(ctx context.Context, aID string) (*Mapping, error)
	MappingByBID(ctx context.Context, bID string) (*Mapping, error)

	// PutMapping inserts or replaces a correspondence.
	PutMapping(ctx context.Context, m Mapping) error

	// DeleteMapping removes the correspondence containing aID.
	DeleteMapping(ctx context.Context, aID string) error

	// Cursor returns the incremental token for an account, or "" when
	// none is stored.
	Cursor(ctx context.Context, account string) (string, error)

	// SetCursor replaces an account's incremental token.
	SetCursor(ctx context.Context, account, token string) error

	// ClearCursors discards all incremental tokens, forcing the next
	// run to perform a full fetch.
	ClearCursors(ctx context.Context) error

	// GroupMappings returns all group correspondences.
	GroupMappings(ctx context.Context) ([]GroupMapping, error)

	// PutGroupMapping inserts or replaces a group correspondence.
	PutGroupMapping(ctx context.Context, gm GroupMapping) error

	// DeleteGroupMapping removes a group correspondence by name.
	DeleteGroupMapping(ctx context.Context, name string) error

	// CachedDecision returns the cached classifier verdict for the
	// pair at the given fingerprints, or errors.ErrNotFound.
	CachedDecision(ctx context.Context, aID, bID, fpA, fpB string) (*ClassifierDecision, error)

	// PutDecision caches a classifier verdict.
	PutDecision(ctx context.Context, d ClassifierDecision) error

	// Transact runs fn against a transactional view of the store; all
	// writes within fn commit atomically or not at all.
	Transact(ctx context.Context, fn func(tx Store) error) error

	// Reset drops all engine state (mappings, cursors, group
	// mappings, cached decisions), preparing a forced full resync.
	Reset(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}
