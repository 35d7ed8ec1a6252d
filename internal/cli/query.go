package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/moneyage/internal/ledger"
	"github.com/roach88/moneyage/internal/store"
)

// NewAgeCommand creates the age command.
func NewAgeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "age",
		Short: "Show the current money age",
		Long: `Show the amount-weighted age, in days, of the money currently held,
and its health level against the configured thresholds.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openLedger(cmd, rootOpts, true)
			if err != nil {
				return err
			}
			defer app.Close()

			age := app.manager.CurrentMoneyAge()
			return app.out.Render(age, func(w io.Writer) {
				fmt.Fprintf(w, "Money age: %d days (%s)\n", age.Days, age.Level)
				fmt.Fprintf(w, "  Exact:     %s days\n", age.Exact.StringFixed(2))
				fmt.Fprintf(w, "  Remaining: %s\n", money(age.Remaining))
			})
		},
	}
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stats",
		Short:         "Show ledger statistics",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openLedger(cmd, rootOpts, true)
			if err != nil {
				return err
			}
			defer app.Close()

			stats := app.manager.Statistics()
			return app.out.Render(stats, func(w io.Writer) {
				writeStatistics(w, stats)
			})
		},
	}
}

func writeStatistics(w io.Writer, s ledger.Statistics) {
	fmt.Fprintf(w, "Money age: %d days (%s)\n", s.MoneyAge.Days, s.MoneyAge.Level)
	fmt.Fprintln(w, "Pools:")
	fmt.Fprintf(w, "  Total:          %d\n", s.TotalPools)
	fmt.Fprintf(w, "  Active:         %d\n", s.ActivePools)
	fmt.Fprintf(w, "  Fully consumed: %d\n", s.FullyConsumedPools)
	fmt.Fprintln(w, "Amounts:")
	fmt.Fprintf(w, "  Received:  %s\n", money(s.TotalOriginal))
	fmt.Fprintf(w, "  Remaining: %s\n", money(s.TotalRemaining))
	fmt.Fprintf(w, "  Spent:     %s\n", money(s.TotalConsumed))
	fmt.Fprintf(w, "  Unfunded:  %s\n", money(s.TotalUnfunded))
	fmt.Fprintf(w, "Expenses: %d\n", s.Expenses)
	if s.Expenses > 0 {
		fmt.Fprintf(w, "  Age avg %s, median %d, min %d, max %d days\n",
			s.AverageExpenseAge.StringFixed(2), s.MedianExpenseAge, s.MinExpenseAge, s.MaxExpenseAge)
		fmt.Fprintf(w, "  Health %d, warning %d, danger %d\n", s.HealthCount, s.WarningCount, s.DangerCount)
	}
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "simulate <amount>",
		Short: "Show what an expense would draw, without recording it",
		Args:  cobra.ExactArgs(1),
		Example: `  moneyage simulate 900
  moneyage simulate 900 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			app, err := openLedger(cmd, rootOpts, true)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.manager.SimulateExpense(amount)
			if err != nil {
				return app.fail("failed to simulate expense", err)
			}
			return app.out.Render(res, func(w io.Writer) {
				fmt.Fprintf(w, "Spending %s today would use money aged %d days.\n", money(amount), res.AgeDays)
				writeExpenseResult(w, res)
			})
		},
	}
}

// PredictOptions holds flags for the predict command.
type PredictOptions struct {
	*RootOptions
	Days         int
	DailyExpense string
	Incomes      []string
}

// NewPredictCommand creates the predict command.
func NewPredictCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PredictOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Forecast the money age",
		Long: `Forecast the money age day by day, assuming a fixed daily expense and
optional expected incomes. The ledger is not changed.

Each --income is DAY:AMOUNT, where DAY counts from tomorrow (1).

Example:
  moneyage predict --days 30 --daily-expense 45 --income 14:2500 --income 28:2500`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPredict(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Days, "days", 30, "days to forecast")
	cmd.Flags().StringVar(&opts.DailyExpense, "daily-expense", "0", "expense per day")
	cmd.Flags().StringArrayVar(&opts.Incomes, "income", nil, "expected income as DAY:AMOUNT (repeatable)")

	return cmd
}

func runPredict(opts *PredictOptions, cmd *cobra.Command) error {
	if opts.Days <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--days must be positive, got %d", opts.Days))
	}
	daily, err := parseAmount(opts.DailyExpense)
	if err != nil {
		return err
	}
	incomes, err := parseExpectedIncomes(opts.Incomes)
	if err != nil {
		return err
	}

	app, err := openLedger(cmd, opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer app.Close()

	points, err := app.manager.PredictTrend(opts.Days, daily, incomes)
	if err != nil {
		return app.fail("failed to predict trend", err)
	}
	return app.out.Render(points, func(w io.Writer) {
		for _, p := range points {
			fmt.Fprintf(w, "%s  day %-4d age %4d days  %-7s remaining %12s",
				p.Date.Format(time.DateOnly), p.Day, p.MoneyAge.Days, p.MoneyAge.Level, money(p.Remaining))
			if p.Shortfall.IsPositive() {
				fmt.Fprintf(w, "  unfunded %s", money(p.Shortfall))
			}
			fmt.Fprintln(w)
		}
	})
}

func parseExpectedIncomes(values []string) ([]ledger.ExpectedIncome, error) {
	incomes := make([]ledger.ExpectedIncome, 0, len(values))
	for _, raw := range values {
		dayPart, amountPart, ok := strings.Cut(raw, ":")
		if !ok {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --income %q: want DAY:AMOUNT", raw))
		}
		day, err := strconv.Atoi(dayPart)
		if err != nil || day <= 0 {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --income %q: day must be a positive integer", raw))
		}
		amount, err := parseAmount(amountPart)
		if err != nil {
			return nil, err
		}
		incomes = append(incomes, ledger.ExpectedIncome{DayOffset: day, Amount: amount})
	}
	return incomes, nil
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:           "history",
		Short:         "Show the pool change log, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openLedger(cmd, rootOpts, false)
			if err != nil {
				return err
			}
			defer app.Close()

			changes, err := app.manager.ChangeHistory(app.ctx, limit)
			if err != nil {
				return app.fail("failed to read change history", err)
			}
			return app.out.Render(changes, func(w io.Writer) {
				if len(changes) == 0 {
					fmt.Fprintln(w, "No changes recorded.")
					return
				}
				for _, ch := range changes {
					fmt.Fprintf(w, "%s  %-8s %13s  pool=%s", ch.At.Format(time.RFC3339), ch.Kind, ch.Delta.StringFixed(2), ch.PoolID)
					if ch.TransactionID != "" {
						fmt.Fprintf(w, " tx=%s", ch.TransactionID)
					}
					fmt.Fprintln(w)
				}
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries to show")

	return cmd
}

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		list  bool
		limit int
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save today's money-age snapshot, or list saved ones",
		Long: `Save a snapshot of today's money age and statistics. One snapshot is kept
per day; saving again the same day replaces it. With --list, show the saved
snapshots newest first instead.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openLedger(cmd, rootOpts, !list)
			if err != nil {
				return err
			}
			defer app.Close()

			if list {
				snaps, err := app.store.ListSnapshots(app.ctx, limit)
				if err != nil {
					return app.fail("failed to list snapshots", err)
				}
				return app.out.Render(snaps, func(w io.Writer) {
					if len(snaps) == 0 {
						fmt.Fprintln(w, "No snapshots.")
						return
					}
					for _, s := range snaps {
						writeSnapshot(w, s)
					}
				})
			}

			snap, err := app.manager.Snapshot(app.ctx)
			if err != nil {
				return app.fail("failed to save snapshot", err)
			}
			return app.out.Render(snap, func(w io.Writer) {
				writeSnapshot(w, snap)
			})
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "list saved snapshots")
	cmd.Flags().IntVarP(&limit, "limit", "n", 30, "maximum snapshots to list")

	return cmd
}

func writeSnapshot(w io.Writer, s ledger.MoneyAgeSnapshot) {
	fmt.Fprintf(w, "%s  age %4d days  %-7s remaining %12s  pools %d/%d\n",
		s.Date.Format(time.DateOnly), s.MoneyAgeDays, s.Level, money(s.TotalRemaining), s.ActivePools, s.TotalPools)
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show the consistency state of the ledger",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openLedger(cmd, rootOpts, false)
			if err != nil {
				return err
			}
			defer app.Close()

			mode, reason := app.manager.Mode()
			status := StatusResult{
				Mode:             mode.String(),
				Reason:           reason,
				Dirty:            app.manager.DirtyMarkers(),
				HasDirtyData:     app.manager.HasDirtyData(),
				LastCalculatedAt: app.manager.LastCalculatedAt(),
				Strategy:         app.engine.Strategy().Name(),
				DeficitPolicy:    string(app.engine.DeficitPolicy()),
				Database:         app.cfg.Database.Path,
			}
			return app.out.Render(status, func(w io.Writer) {
				fmt.Fprintf(w, "Database: %s\n", status.Database)
				fmt.Fprintf(w, "Strategy: %s (deficit: %s)\n", status.Strategy, status.DeficitPolicy)
				fmt.Fprintf(w, "Mode:     %s\n", status.Mode)
				if status.Reason != "" {
					fmt.Fprintf(w, "Reason:   %s\n", status.Reason)
				}
				if !status.LastCalculatedAt.IsZero() {
					fmt.Fprintf(w, "Last calculated: %s\n", status.LastCalculatedAt.Format(time.RFC3339))
				}
			})
		},
	}
}

// StatusResult is the output of the status command.
type StatusResult struct {
	Mode             string                   `json:"mode"`
	Reason           string                   `json:"reason,omitempty"`
	Dirty            []ledger.DirtyPoolMarker `json:"dirty,omitempty"`
	HasDirtyData     bool                     `json:"has_dirty_data"`
	LastCalculatedAt time.Time                `json:"last_calculated_at"`
	Strategy         string                   `json:"strategy"`
	DeficitPolicy    string                   `json:"deficit_policy"`
	Database         string                   `json:"database"`
}

// PoolDetail is one pool with the draws made against it.
type PoolDetail struct {
	Pool         ledger.ResourcePool          `json:"pool"`
	Consumptions []ledger.ResourceConsumption `json:"consumptions"`
}

// NewPoolsCommand creates the pools command.
func NewPoolsCommand(rootOpts *RootOptions) *cobra.Command {
	var consumed bool

	cmd := &cobra.Command{
		Use:   "pools [id]",
		Short: "List resource pools, or trace one pool's consumptions",
		Long: `Without an argument, list every pool oldest first.

With a pool id, or the id of the income that funded it, show the pool and
every expense that drew from it.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openLedger(cmd, rootOpts, true)
			if err != nil {
				return err
			}
			defer app.Close()

			if len(args) == 1 {
				pool, ok := app.manager.PoolOf(args[0])
				if !ok {
					return app.fail("failed to show pool", fmt.Errorf("pool %q: %w", args[0], store.ErrNotFound))
				}
				detail := PoolDetail{Pool: pool, Consumptions: app.manager.ConsumptionsOfPool(pool.ID)}
				return app.out.Render(detail, func(w io.Writer) {
					writePoolDetail(w, detail)
				})
			}

			pools := make([]ledger.ResourcePool, 0)
			for _, p := range app.manager.Pools() {
				if consumed && !p.IsFullyConsumed() {
					continue
				}
				pools = append(pools, p)
			}
			return app.out.Render(pools, func(w io.Writer) {
				if len(pools) == 0 {
					fmt.Fprintln(w, "No pools.")
					return
				}
				for _, p := range pools {
					fmt.Fprintf(w, "%s  %12s %12s  %s\n", p.CreatedAt.Format(time.DateOnly), money(p.OriginalAmount), money(p.RemainingAmount), poolLabel(p))
				}
			})
		},
	}

	cmd.Flags().BoolVar(&consumed, "consumed", false, "only show fully consumed pools")

	return cmd
}

func poolLabel(p ledger.ResourcePool) string {
	if p.Unfunded {
		return "(unfunded)"
	}
	return p.IncomeTransactionID
}

func writePoolDetail(w io.Writer, d PoolDetail) {
	p := d.Pool
	fmt.Fprintf(w, "Pool %s  %s\n", p.ID, poolLabel(p))
	fmt.Fprintf(w, "  Received:  %s on %s\n", money(p.OriginalAmount), p.CreatedAt.Format(time.DateOnly))
	fmt.Fprintf(w, "  Remaining: %s\n", money(p.RemainingAmount))
	fmt.Fprintf(w, "  Spent:     %s in %d draws\n", money(p.ConsumedAmount), len(d.Consumptions))
	for _, c := range d.Consumptions {
		fmt.Fprintf(w, "  %s  %12s  %s (age %d days)\n", c.ConsumedAt.Format(time.DateOnly), money(c.Amount), c.ExpenseTransactionID, c.AgeDays)
	}
}
