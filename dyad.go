// Package dyad keeps two independently owned contact address books
// consistent with each other. It pairs records across accounts that
// share no common identifier, detects real edits through content
// fingerprints, adjudicates concurrent divergent edits with a
// deterministic strategy, and persists cross-run state so incremental
// re-synchronization stays correct and idempotent.
package dyad

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dyadsync/dyad/pkg/accounts"
	"github.com/dyadsync/dyad/pkg/errors"
	"github.com/dyadsync/dyad/pkg/logging"
	"github.com/dyadsync/dyad/pkg/match"
	"github.com/dyadsync/dyad/pkg/state"
)

// Dyad is a configured sync engine over one account pair.
type Dyad interface {
	// Sync runs one reconciliation pass and returns its summary.
	Sync(ctx context.Context, opts ...SyncOption) (*Result, error)

	// Status reports the engine's persisted state.
	Status(ctx context.Context) (*Status, error)

	// Reset drops all persisted state. The next sync behaves like a
	// first run against both accounts.
	Reset(ctx context.Context) error

	// Close releases the state store.
	Close() error
}

// Status summarizes the persisted engine state.
type Status struct {
	Mappings      int
	GroupMappings int
	Cursors       map[string]string
}

// dyad is the internal implementation of the Dyad interface.
type dyad struct {
	config     *config
	accountA   accounts.Account
	accountB   accounts.Account
	store      state.Store
	classifier match.Classifier
	matcher    *match.Matcher
	logger     *zerolog.Logger
}

// New creates a sync engine. Both accounts and a state store (or
// state path) are required.
func New(opts ...Option) (Dyad, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.accountA == nil || cfg.accountB == nil {
		return nil, &errors.ConfigError{Message: "both accounts are required"}
	}

	store := cfg.store
	if store == nil {
		if cfg.statePath == "" {
			return nil, &errors.ConfigError{Message: "a state store or state path is required"}
		}
		var err error
		store, err = state.OpenSQLite(cfg.statePath)
		if err != nil {
			return nil, err
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = logging.Default()
	}

	// Classifier decisions survive across runs via the state store.
	classifier := cfg.classifier
	if classifier != nil {
		classifier = match.NewCachedClassifier(classifier, store)
	}

	d := &dyad{
		config:     cfg,
		accountA:   cfg.accountA,
		accountB:   cfg.accountB,
		store:      store,
		classifier: classifier,
		logger:     logger,
	}
	d.matcher = d.newMatcher(cfg.matchConfig, classifier)
	return d, nil
}

// newMatcher builds a matcher for the given thresholds and classifier,
// reusing the engine's logger.
func (d *dyad) newMatcher(mc match.Config, classifier match.Classifier) *match.Matcher {
	opts := []match.Option{
		match.WithConfig(mc),
		match.WithLogger(d.logger),
	}
	if classifier != nil {
		opts = append(opts, match.WithClassifier(classifier))
	}
	return match.NewMatcher(opts...)
}

// Status implements Dyad.
func (d *dyad) Status(ctx context.Context) (*Status, error) {
	mappings, err := d.store.Mappings(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := d.store.GroupMappings(ctx)
	if err != nil {
		return nil, err
	}

	cursors := make(map[string]string, 2)
	for _, account := range []accounts.Account{d.accountA, d.accountB} {
		token, err := d.store.Cursor(ctx, account.Name())
		if err != nil {
			return nil, err
		}
		if token != "" {
			cursors[account.Name()] = token
		}
	}

	return &Status{
		Mappings:      len(mappings),
		GroupMappings: len(groups),
		Cursors:       cursors,
	}, nil
}

// Reset implements Dyad.
func (d *dyad) Reset(ctx context.Context) error {
	d.logger.Warn().Msg("Resetting sync state, next run will match from scratch")
	return d.store.Reset(ctx)
}

// Close implements Dyad.
func (d *dyad) Close() error {
	return d.store.Close()
}
