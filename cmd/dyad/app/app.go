// Package app wires configuration, logging, and the sync engine into
// the dyad CLI. It centralizes dependency construction so commands
// only deal with a ready engine.
package app

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dyadsync/dyad"
	"github.com/dyadsync/dyad/internal/backup"
	"github.com/dyadsync/dyad/internal/gemini"
	"github.com/dyadsync/dyad/internal/google"
	"github.com/dyadsync/dyad/pkg/errors"
	"github.com/dyadsync/dyad/pkg/match"
	"github.com/dyadsync/dyad/pkg/reconcile"
)

// App carries the CLI's shared dependencies.
type App struct {
	version string
	commit  string
	date    string

	config *Config
	logger *zerolog.Logger

	mu     sync.Mutex
	engine dyad.Dyad
}

// New creates an App with the given build information.
func New(version, commit, date string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
	}

	config, err := LoadConfig()
	if err != nil {
		return nil, errors.WrapResource("load", "config", "", err)
	}
	app.config = config

	logger := NewLogger(config)
	app.logger = &logger

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// Version returns the build version.
func (a *App) Version() string { return a.version }

// Config returns the CLI configuration.
func (a *App) Config() *Config { return a.config }

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger { return a.logger }

// Engine returns the sync engine, constructing it on first use. Both
// accounts must already be authorized; run `dyad auth` first.
func (a *App) Engine(ctx context.Context) (dyad.Dyad, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.engine != nil {
		return a.engine, nil
	}

	accountA, err := google.NewAccount(ctx, a.config.AccountA, google.WithAccountLogger(a.logger))
	if err != nil {
		return nil, err
	}
	accountB, err := google.NewAccount(ctx, a.config.AccountB, google.WithAccountLogger(a.logger))
	if err != nil {
		return nil, err
	}

	opts := []dyad.Option{
		dyad.WithAccounts(accountA, accountB),
		dyad.WithStatePath(a.config.StatePath),
		dyad.WithGroupSync(a.config.SyncGroups),
		dyad.WithPhotoSync(a.config.SyncPhotos),
		dyad.WithLogger(a.logger),
	}

	if a.config.Strategy != "" {
		strategy, err := reconcile.ParseStrategy(a.config.Strategy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, dyad.WithDefaultStrategy(strategy))
	}
	if a.config.SimilarityThreshold > 0 {
		mc := match.DefaultConfig()
		mc.SimilarityThreshold = a.config.SimilarityThreshold
		opts = append(opts, dyad.WithMatchConfig(mc))
	}
	if a.config.MaxRetries > 0 {
		opts = append(opts, dyad.WithRetry(uint(a.config.MaxRetries), time.Second))
	}

	if classifier := a.buildClassifier(); classifier != nil {
		opts = append(opts, dyad.WithClassifier(classifier))
	}

	engine, err := dyad.New(opts...)
	if err != nil {
		return nil, err
	}
	a.engine = engine
	return engine, nil
}

// buildClassifier creates the assisted matcher when an API key is
// configured. Without one, ambiguous pairs simply stay unmatched.
func (a *App) buildClassifier() match.Classifier {
	var geminiOpts []gemini.Option
	if a.config.GeminiModel != "" {
		geminiOpts = append(geminiOpts, gemini.WithModel(a.config.GeminiModel))
	}
	geminiOpts = append(geminiOpts, gemini.WithLogger(a.logger))

	classifier, err := gemini.New(a.config.GeminiAPIKey, geminiOpts...)
	if err != nil {
		if stderrors.Is(err, errors.ErrClassifierUnavailable) {
			a.logger.Debug().Msg("No Gemini API key configured, assisted matching disabled")
			return nil
		}
		a.logger.Warn().Err(err).Msg("Assisted matching disabled")
		return nil
	}
	return classifier
}

// Backups returns the snapshot manager configured for this app.
func (a *App) Backups() *backup.Manager {
	opts := []backup.ManagerOption{
		backup.WithRetention(a.config.BackupRetention),
		backup.WithLogger(a.logger),
	}
	if a.config.BackupDir != "" {
		opts = append(opts, backup.WithDir(a.config.BackupDir))
	}
	return backup.NewManager(opts...)
}

// Shutdown releases the engine's resources.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			return err
		}
		a.engine = nil
	}
	return nil
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(config *Config) Option {
	return func(a *App) error {
		a.config = config
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithEngine sets a custom sync engine (useful for testing).
func WithEngine(engine dyad.Dyad) Option {
	return func(a *App) error {
		a.engine = engine
		return nil
	}
}
