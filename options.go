package dyad

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/dyadsync/dyad/pkg/accounts"
	"github.com/dyadsync/dyad/pkg/errors"
	"github.com/dyadsync/dyad/pkg/match"
	"github.com/dyadsync/dyad/pkg/reconcile"
	"github.com/dyadsync/dyad/pkg/state"
)

// Option is a function that configures a Dyad instance.
type Option func(*config) error

// config holds engine-level configuration.
type config struct {
	accountA accounts.Account
	accountB accounts.Account

	store     state.Store
	statePath string

	classifier  match.Classifier
	matchConfig match.Config

	strategy reconcile.Strategy

	syncGroups bool
	syncPhotos bool

	maxRetries      uint
	initialInterval time.Duration

	logger *zerolog.Logger
}

func defaultConfig() *config {
	return &config{
		matchConfig:     match.DefaultConfig(),
		strategy:        reconcile.StrategyLastModified,
		syncGroups:      true,
		syncPhotos:      true,
		maxRetries:      4,
		initialInterval: time.Second,
	}
}

// WithAccounts sets the two accounts to reconcile. Account A wins
// deterministic tiebreaks.
func WithAccounts(a, b accounts.Account) Option {
	return func(c *config) error {
		c.accountA = a
		c.accountB = b
		return nil
	}
}

// WithStore sets the state store directly.
func WithStore(s state.Store) Option {
	return func(c *config) error {
		c.store = s
		return nil
	}
}

// WithStatePath opens a SQLite state store at the given path.
func WithStatePath(path string) Option {
	return func(c *config) error {
		c.statePath = path
		return nil
	}
}

// WithClassifier enables tier-3 assisted matching.
func WithClassifier(cl match.Classifier) Option {
	return func(c *config) error {
		c.classifier = cl
		return nil
	}
}

// WithDefaultStrategy sets the conflict strategy used when a sync run
// does not override it.
func WithDefaultStrategy(s reconcile.Strategy) Option {
	return func(c *config) error {
		c.strategy = s
		return nil
	}
}

// WithMatchConfig overrides the matcher thresholds.
func WithMatchConfig(mc match.Config) Option {
	return func(c *config) error {
		if mc.SimilarityThreshold <= 0 || mc.SimilarityThreshold > 1 {
			return &errors.ConfigError{Message: "similarity threshold must be in (0, 1]"}
		}
		c.matchConfig = mc
		return nil
	}
}

// WithGroupSync toggles group and membership propagation.
func WithGroupSync(enabled bool) Option {
	return func(c *config) error {
		c.syncGroups = enabled
		return nil
	}
}

// WithPhotoSync toggles contact photo propagation.
func WithPhotoSync(enabled bool) Option {
	return func(c *config) error {
		c.syncPhotos = enabled
		return nil
	}
}

// WithRetry configures the backoff applied to transient collaborator
// errors: at most maxRetries attempts per call, starting at
// initialInterval.
func WithRetry(maxRetries uint, initialInterval time.Duration) Option {
	return func(c *config) error {
		if maxRetries == 0 {
			return &errors.ConfigError{Message: "max retries must be at least 1"}
		}
		c.maxRetries = maxRetries
		c.initialInterval = initialInterval
		return nil
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(c *config) error {
		c.logger = logger
		return nil
	}
}

// SyncOption configures a single sync run.
type SyncOption func(*SyncOptions)

// SyncOptions holds per-run settings.
type SyncOptions struct {
	// DryRun plans but applies nothing and persists nothing.
	DryRun bool

	// Full ignores stored cursors and fetches both accounts in full,
	// rebuilding cursors at the end of the pass.
	Full bool

	// Strategy overrides the engine's default conflict strategy.
	Strategy reconcile.Strategy

	// SimilarityThreshold overrides the tier-2 matcher threshold for
	// this run. Zero keeps the engine default.
	SimilarityThreshold float64

	// BatchSize caps mutations applied per account in one pass. Zero
	// means unlimited.
	BatchSize int

	// Timeout bounds the whole pass. Zero means no timeout.
	Timeout time.Duration
}

// NewSyncOptions applies SyncOption functions over the defaults.
func NewSyncOptions(opts ...SyncOption) *SyncOptions {
	options := &SyncOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// WithDryRun plans without mutating accounts or state.
func WithDryRun() SyncOption {
	return func(o *SyncOptions) { o.DryRun = true }
}

// WithFull forces a full fetch, ignoring incremental cursors.
func WithFull() SyncOption {
	return func(o *SyncOptions) { o.Full = true }
}

// WithStrategy overrides the conflict strategy for this run.
func WithStrategy(s reconcile.Strategy) SyncOption {
	return func(o *SyncOptions) { o.Strategy = s }
}

// WithSimilarityThreshold overrides the tier-2 threshold for this run.
func WithSimilarityThreshold(threshold float64) SyncOption {
	return func(o *SyncOptions) { o.SimilarityThreshold = threshold }
}

// WithBatchSize caps mutations per account for this run.
func WithBatchSize(n int) SyncOption {
	return func(o *SyncOptions) { o.BatchSize = n }
}

// WithTimeout bounds the whole pass.
func WithTimeout(d time.Duration) SyncOption {
	return func(o *SyncOptions) { o.Timeout = d }
}
