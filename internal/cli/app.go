package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/moneyage/internal/config"
	"github.com/roach88/moneyage/internal/consistency"
	"github.com/roach88/moneyage/internal/engine"
	"github.com/roach88/moneyage/internal/journal"
	"github.com/roach88/moneyage/internal/store"
)

// ledgerApp is the wiring every command works against.
type ledgerApp struct {
	ctx     context.Context
	cfg     config.Config
	store   *store.Store
	engine  *engine.Engine
	manager *consistency.Manager
	journal *journal.Journal
	logger  *slog.Logger
	out     *OutputFormatter
}

// openLedger loads the config, opens the database and initializes the
// manager. With advance set it also settles a pending rebuild, so commands
// see a consistent ledger.
func openLedger(cmd *cobra.Command, opts *RootOptions, advance bool) (*ledgerApp, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}

	level := cfg.LogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	engOpts, err := cfg.EngineOptions()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid engine settings", err)
	}

	logger.Debug("opening database", "path", cfg.Database.Path)
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	eng := engine.New(engOpts...)
	m := consistency.New(st, st, eng, consistency.WithLogger(logger))
	app := &ledgerApp{
		ctx:     ctx,
		cfg:     cfg,
		store:   st,
		engine:  eng,
		manager: m,
		journal: journal.New(st, m, journal.WithLogger(logger)),
		logger:  logger,
		out: &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   opts.Verbose,
		},
	}

	if err := m.Initialize(ctx); err != nil {
		app.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load ledger", err)
	}
	if advance {
		if _, err := m.Advance(ctx); err != nil {
			app.Close()
			return nil, WrapExitError(ExitFailure, "failed to rebuild ledger", err)
		}
	}
	return app, nil
}

// Close releases the database.
func (a *ledgerApp) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

// fail reports err in the output format and wraps it with ExitFailure.
func (a *ledgerApp) fail(message string, err error) error {
	if a.out.Format == "json" {
		_ = a.out.Error(ErrorCode(err), fmt.Sprintf("%s: %v", message, err), nil)
	}
	return WrapExitError(ExitFailure, message, err)
}
