package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/roach88/moneyage/internal/api"
	"github.com/roach88/moneyage/internal/scheduler"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr        string
	NoScheduler bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the scheduled jobs",
		Long: `Start the HTTP API on server.address and the scheduler. The scheduler
settles pending rebuilds on schedule.advance_cron and saves the daily
money-age snapshot on schedule.snapshot_cron.

Example:
  moneyage serve --db ./moneyage.db --addr :8080`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.address)")
	cmd.Flags().BoolVar(&opts.NoScheduler, "no-scheduler", false, "do not run the scheduled jobs")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	app, err := openLedger(cmd, opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer app.Close()

	addr := app.cfg.Server.Address
	if opts.Addr != "" {
		addr = opts.Addr
	}
	if !opts.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(app.ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			app.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if !opts.NoScheduler {
		sched := scheduler.New(ctx, app.manager, app.logger)
		if err := sched.Register(app.cfg.Schedule.AdvanceCron, app.cfg.Schedule.SnapshotCron); err != nil {
			return WrapExitError(ExitCommandError, "invalid schedule", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	srv := api.NewServer(app.manager, app.journal, app.store, app.logger)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s\n", addr)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := srv.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "server error", err)
	}

	app.logger.Info("server stopped gracefully")
	return nil
}
