package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/moneyage/internal/consistency"
	"github.com/roach88/moneyage/internal/engine"
	"github.com/roach88/moneyage/internal/ledger"
)

// NewRebuildCommand creates the rebuild command.
func NewRebuildCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild all pools and consumptions from the transaction log",
		Long: `Discard the persisted pools, consumptions and dirty markers and replay the
whole transaction log. The result does not depend on earlier state: rebuilding
twice yields the same digest.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openLedger(cmd, rootOpts, false)
			if err != nil {
				return err
			}
			defer app.Close()

			start := time.Now()
			report, err := app.manager.RebuildAll(app.ctx)
			if err != nil {
				return app.fail("rebuild failed", err)
			}
			app.out.VerboseLog("rebuild took %s", time.Since(start).Round(time.Millisecond))

			return app.out.Render(report, func(w io.Writer) {
				fmt.Fprintln(w, "Ledger rebuilt.")
				fmt.Fprintf(w, "  Transactions: %d (skipped %d)\n", report.Transactions, report.Skipped)
				fmt.Fprintf(w, "  Pools:        %d\n", report.PoolsCreated)
				fmt.Fprintf(w, "  Consumptions: %d\n", report.ConsumptionsCreated)
				if report.Unfunded.IsPositive() {
					fmt.Fprintf(w, "  Unfunded:     %s\n", money(report.Unfunded))
				}
				if report.Refused > 0 {
					fmt.Fprintf(w, "  Refused:      %d (insufficient funds)\n", report.Refused)
				}
				fmt.Fprintf(w, "  Digest:       %s\n", report.Digest)
			})
		},
	}
}

// VerifyResult is the output of the verify command.
type VerifyResult struct {
	Mode           string   `json:"mode"`
	Reason         string   `json:"reason,omitempty"`
	Transactions   int      `json:"transactions"`
	Conservation   bool     `json:"conservation"`
	StoredDigest   string   `json:"stored_digest"`
	ReplayDigest   string   `json:"replay_digest"`
	DigestMatch    bool     `json:"digest_match"`
	PendingRebuild bool     `json:"pending_rebuild"`
	Skipped        []string `json:"skipped,omitempty"`
	Problems       []string `json:"problems,omitempty"`
}

// OK reports whether the stored ledger is intact and matches a fresh replay.
func (r VerifyResult) OK() bool {
	return len(r.Problems) == 0
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the stored ledger against a replay of the transaction log",
		Long: `Check the persisted pools and consumptions without changing them:

  - every pool satisfies original = remaining + consumed
  - every expense's consumptions add up to its amount
  - the stored digest equals the digest of a fresh replay of the log

Exits with status 1 when any check fails.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openLedger(cmd, rootOpts, false)
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := verifyLedger(app)
			if err != nil {
				return app.fail("verify failed", err)
			}
			if err := app.out.Render(result, func(w io.Writer) {
				writeVerifyResult(w, result)
			}); err != nil {
				return err
			}
			if !result.OK() {
				return NewExitError(ExitFailure, fmt.Sprintf("ledger verification failed: %d problem(s)", len(result.Problems)))
			}
			return nil
		},
	}
}

func verifyLedger(app *ledgerApp) (VerifyResult, error) {
	mode, reason := app.manager.Mode()
	result := VerifyResult{Mode: mode.String(), Reason: reason}

	if err := app.manager.Verify(); err != nil {
		result.Problems = append(result.Problems, err.Error())
	} else {
		result.Conservation = true
	}

	stored, err := app.manager.Digest()
	if err != nil {
		return result, fmt.Errorf("digest stored ledger: %w", err)
	}
	result.StoredDigest = stored

	txs, err := app.store.AllTransactions(app.ctx)
	if err != nil {
		return result, fmt.Errorf("read transaction log: %w", err)
	}
	result.Transactions = len(txs)

	st := engine.NewState()
	if _, err := app.engine.Replay(st, txs, func(tx ledger.Transaction, err error) {
		result.Skipped = append(result.Skipped, fmt.Sprintf("%s: %v", tx.ID, err))
	}); err != nil {
		return result, fmt.Errorf("replay transaction log: %w", err)
	}
	replayed, err := st.Digest()
	if err != nil {
		return result, fmt.Errorf("digest replay: %w", err)
	}
	result.ReplayDigest = replayed
	result.DigestMatch = replayed == stored

	if !result.DigestMatch {
		if mode == consistency.ModePendingRebuild {
			result.PendingRebuild = true
			result.Problems = append(result.Problems, "stored ledger is behind the log: rebuild pending")
		} else {
			result.Problems = append(result.Problems, "stored ledger differs from a replay of the log")
		}
	}
	return result, nil
}

func writeVerifyResult(w io.Writer, r VerifyResult) {
	fmt.Fprintf(w, "Mode:          %s\n", r.Mode)
	fmt.Fprintf(w, "Transactions:  %d\n", r.Transactions)
	fmt.Fprintf(w, "Stored digest: %s\n", r.StoredDigest)
	fmt.Fprintf(w, "Replay digest: %s\n", r.ReplayDigest)
	for _, s := range r.Skipped {
		fmt.Fprintf(w, "  skipped %s\n", s)
	}
	if r.OK() {
		fmt.Fprintln(w, "✓ Ledger verified")
		return
	}
	for _, p := range r.Problems {
		fmt.Fprintf(w, "✗ %s\n", p)
	}
}
