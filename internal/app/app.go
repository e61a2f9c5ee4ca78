// Package app assembles one device's session: the store, its keyring, the
// entity realm and the engine that applies other devices' writes to the
// live instances.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/mutual/internal/config"
	"github.com/roach88/mutual/internal/credential"
	"github.com/roach88/mutual/internal/engine"
	"github.com/roach88/mutual/internal/entity"
	"github.com/roach88/mutual/internal/store"
)

// Options configures Open. Zero values take production defaults.
type Options struct {
	Config  config.Config
	Clock   entity.Clock
	Secrets entity.SecretGenerator
	Logger  *slog.Logger
	// EngineOptions are passed through to engine.New.
	EngineOptions []engine.Option
}

// App is an opened session. Close releases the database.
type App struct {
	Config config.Config
	Store  *store.Store
	Keys   *credential.Keyring
	Realm  *entity.Realm
	Engine *engine.Engine

	logger *slog.Logger
}

// Open validates cfg, opens the database under the configured device
// origin and wires the update handlers.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	kinds, err := entity.CompileKinds()
	if err != nil {
		return nil, fmt.Errorf("compile kinds: %w", err)
	}

	st, err := store.Open(cfg.Database, store.WithOrigin(cfg.Device))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	keys := credential.NewKeyring(st, cfg.Device,
		credential.WithLogger(logger),
		credential.WithScryptWorkFactor(cfg.ScryptWorkFactor),
	)
	realm, err := entity.NewRealm(entity.Config{
		Store:   st,
		Keys:    keys,
		Kinds:   kinds,
		Clock:   opts.Clock,
		Secrets: opts.Secrets,
		Units:   cfg.Units,
		Logger:  logger,
	})
	if err != nil {
		return nil, errors.Join(err, st.Close())
	}

	engOpts := append([]engine.Option{engine.WithLogger(logger)}, opts.EngineOptions...)
	eng, err := engine.New(ctx, st, engOpts...)
	if err != nil {
		return nil, errors.Join(err, st.Close())
	}

	a := &App{
		Config: cfg,
		Store:  st,
		Keys:   keys,
		Realm:  realm,
		Engine: eng,
		logger: logger,
	}
	a.registerHandlers()
	logger.Debug("session opened", "db", cfg.Database, "device", cfg.Device, "cursor", eng.Cursor())
	return a, nil
}

// Run applies remote changes until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	return a.Engine.Run(ctx)
}

// Sync applies every remote change written since the last call. For
// one-shot use when Run is not active.
func (a *App) Sync(ctx context.Context) (int, error) {
	return a.Engine.Poll(ctx)
}

// Close stops the engine and closes the database.
func (a *App) Close() error {
	a.Engine.Stop()
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
