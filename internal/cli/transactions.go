package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/moneyage/internal/journal"
	"github.com/roach88/moneyage/internal/ledger"
)

// RecordOptions holds flags for the income and expense commands.
type RecordOptions struct {
	*RootOptions
	ID   string
	Date string
	Note string
}

// NewIncomeCommand creates the income command.
func NewIncomeCommand(rootOpts *RootOptions) *cobra.Command {
	return newRecordCommand(rootOpts, ledger.TypeIncome, `Record an income. The income becomes a new pool of money.

Examples:
  moneyage income 2500 --date 2026-01-31 --note salary
  moneyage income 120.50 --id bonus-q1`)
}

// NewExpenseCommand creates the expense command.
func NewExpenseCommand(rootOpts *RootOptions) *cobra.Command {
	return newRecordCommand(rootOpts, ledger.TypeExpense, `Record an expense. The amount is drawn from the oldest pools first and the
age of the money spent is reported.

An expense larger than the money held is recorded against the unfunded pool,
or refused when engine.deficit_policy is "reject".

Examples:
  moneyage expense 640 --date 2026-02-01 --note rent`)
}

func newRecordCommand(rootOpts *RootOptions, typ ledger.TransactionType, long string) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           string(typ) + " <amount>",
		Short:         fmt.Sprintf("Record an %s", typ),
		Long:          long,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(opts, typ, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "transaction id (default: generated UUIDv7)")
	cmd.Flags().StringVar(&opts.Date, "date", "", "effective date, YYYY-MM-DD or RFC 3339 (default: now)")
	cmd.Flags().StringVar(&opts.Note, "note", "", "free-form note")

	return cmd
}

func runRecord(opts *RecordOptions, typ ledger.TransactionType, rawAmount string, cmd *cobra.Command) error {
	amount, err := parseAmount(rawAmount)
	if err != nil {
		return err
	}
	entry := journal.Entry{ID: opts.ID, Type: typ, Amount: amount, Note: opts.Note}
	if opts.Date != "" {
		if entry.Date, err = parseDate(opts.Date); err != nil {
			return err
		}
	}

	app, err := openLedger(cmd, opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer app.Close()

	rec, err := app.journal.Record(app.ctx, entry)
	if err != nil {
		return app.fail(fmt.Sprintf("failed to record %s", typ), err)
	}
	if rec.Deferred {
		if _, err := app.manager.Advance(app.ctx); err != nil {
			return app.fail("failed to rebuild ledger", err)
		}
	}
	return app.out.Render(rec, func(w io.Writer) {
		tx := rec.Transaction
		fmt.Fprintf(w, "Recorded %s %s: %s on %s\n", tx.Type, tx.ID, money(tx.Amount), tx.Date.Format(time.DateOnly))
		switch {
		case rec.Deferred:
			fmt.Fprintln(w, "Dated before processed transactions; ledger rebuilt from the transaction log.")
		case rec.Result != nil:
			writeExpenseResult(w, *rec.Result)
		case rec.Pool != nil:
			fmt.Fprintf(w, "  Pool %s holds %s\n", rec.Pool.ID, money(rec.Pool.RemainingAmount))
		}
	})
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <transaction-id>",
		Short: "Delete a transaction",
		Long: `Delete a transaction from the log and undo its effect on the ledger.

Deleting the most recent expense, or an income nothing has been drawn from,
is applied directly. Anything else is applied by a full rebuild.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openLedger(cmd, rootOpts, true)
			if err != nil {
				return err
			}
			defer app.Close()

			removed, err := app.journal.Delete(app.ctx, args[0])
			if err != nil {
				return app.fail("failed to delete transaction", err)
			}
			if removed.Deferred {
				if _, err := app.manager.Advance(app.ctx); err != nil {
					return app.fail("failed to rebuild ledger", err)
				}
			}
			return app.out.Render(removed, func(w io.Writer) {
				tx := removed.Transaction
				fmt.Fprintf(w, "Deleted %s %s (%s)\n", tx.Type, tx.ID, money(tx.Amount))
				if removed.Deferred {
					fmt.Fprintln(w, "Ledger rebuilt from the transaction log.")
				}
			})
		},
	}
}

// EditOptions holds flags for the edit command.
type EditOptions struct {
	*RootOptions
	Type   string
	Amount string
	Date   string
	Note   string
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "edit <transaction-id>",
		Short: "Change a transaction",
		Long: `Change the amount, date, note or type of a logged transaction.
Only the flags given are changed; the transaction keeps its place in the log.

Examples:
  moneyage edit rent-feb --amount 655
  moneyage edit bonus --date 2026-01-15`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "new type (income|expense)")
	cmd.Flags().StringVar(&opts.Amount, "amount", "", "new amount")
	cmd.Flags().StringVar(&opts.Date, "date", "", "new effective date")
	cmd.Flags().StringVar(&opts.Note, "note", "", "new note")

	return cmd
}

func runEdit(opts *EditOptions, id string, cmd *cobra.Command) error {
	var patch journal.Patch
	flags := cmd.Flags()
	if flags.Changed("type") {
		typ, err := ledger.ParseTransactionType(opts.Type)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --type", err)
		}
		patch.Type = &typ
	}
	if flags.Changed("amount") {
		amount, err := parseAmount(opts.Amount)
		if err != nil {
			return err
		}
		patch.Amount = &amount
	}
	if flags.Changed("date") {
		date, err := parseDate(opts.Date)
		if err != nil {
			return err
		}
		patch.Date = &date
	}
	if flags.Changed("note") {
		patch.Note = &opts.Note
	}
	if patch.Empty() {
		return NewExitError(ExitCommandError, "nothing to change: pass at least one of --type, --amount, --date, --note")
	}

	app, err := openLedger(cmd, opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer app.Close()

	edited, err := app.journal.Edit(app.ctx, id, patch)
	if err != nil {
		return app.fail("failed to edit transaction", err)
	}
	if edited.Deferred {
		if _, err := app.manager.Advance(app.ctx); err != nil {
			return app.fail("failed to rebuild ledger", err)
		}
	}
	return app.out.Render(edited, func(w io.Writer) {
		b, a := edited.Before, edited.After
		fmt.Fprintf(w, "Edited %s\n", id)
		fmt.Fprintf(w, "  before: %s %s on %s\n", b.Type, money(b.Amount), b.Date.Format(time.DateOnly))
		fmt.Fprintf(w, "  after:  %s %s on %s\n", a.Type, money(a.Amount), a.Date.Format(time.DateOnly))
		if edited.Result != nil {
			writeExpenseResult(w, *edited.Result)
		}
		if edited.Deferred {
			fmt.Fprintln(w, "Ledger rebuilt from the transaction log.")
		}
	})
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List logged transactions in replay order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openLedger(cmd, rootOpts, false)
			if err != nil {
				return err
			}
			defer app.Close()

			txs, err := app.journal.List(app.ctx)
			if err != nil {
				return app.fail("failed to list transactions", err)
			}
			return app.out.Render(txs, func(w io.Writer) {
				if len(txs) == 0 {
					fmt.Fprintln(w, "No transactions.")
					return
				}
				for _, tx := range txs {
					fmt.Fprintf(w, "%-4d %s  %-7s %12s  %s", tx.Seq, tx.Date.Format(time.DateOnly), tx.Type, money(tx.Amount), tx.ID)
					if tx.Note != "" {
						fmt.Fprintf(w, "  # %s", tx.Note)
					}
					fmt.Fprintln(w)
				}
			})
		},
	}
}

func parseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, WrapExitError(ExitCommandError, fmt.Sprintf("invalid amount %q", s), err)
	}
	return amount, nil
}

func parseDate(s string) (time.Time, error) {
	date, err := ledger.ParseDate(s)
	if err != nil {
		return time.Time{}, WrapExitError(ExitCommandError, "invalid --date", err)
	}
	return date, nil
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func writeExpenseResult(w io.Writer, res ledger.MoneyAgeResult) {
	fmt.Fprintf(w, "  Money age of this expense: %s days (%s)\n", res.Exact.StringFixed(2), res.Level)
	for _, c := range res.Consumptions {
		fmt.Fprintf(w, "  drew %12s from %s (age %d days)\n", money(c.Amount), c.ResourcePoolID, c.AgeDays)
	}
	if res.Shortfall.IsPositive() {
		fmt.Fprintf(w, "  Unfunded: %s\n", money(res.Shortfall))
	}
}
