package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/moneyage/internal/consistency"
	"github.com/roach88/moneyage/internal/journal"
	"github.com/roach88/moneyage/internal/ledger"
)

// cliLedger runs commands against one database file.
type cliLedger struct {
	t      *testing.T
	dir    string
	db     string
	config string
}

func newCLILedger(t *testing.T) *cliLedger {
	t.Helper()
	dir := t.TempDir()
	return &cliLedger{t: t, dir: dir, db: filepath.Join(dir, "moneyage.db")}
}

// withConfig writes a YAML config file used by every later command.
func (l *cliLedger) withConfig(yaml string) *cliLedger {
	l.t.Helper()
	l.config = filepath.Join(l.dir, "moneyage.yaml")
	require.NoError(l.t, os.WriteFile(l.config, []byte(yaml), 0o644))
	return l
}

// run executes the root command and returns stdout, stderr and the error.
func (l *cliLedger) run(args ...string) (string, string, error) {
	l.t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	full := []string{"--db", l.db}
	if l.config != "" {
		full = append(full, "--config", l.config)
	}
	cmd.SetArgs(append(full, args...))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// ok runs a command that must succeed and returns its stdout.
func (l *cliLedger) ok(args ...string) string {
	l.t.Helper()
	out, errOut, err := l.run(args...)
	require.NoError(l.t, err, "stderr: %s", errOut)
	return out
}

// data runs a command with --format json and decodes the payload into v.
func (l *cliLedger) data(v any, args ...string) {
	l.t.Helper()
	out := l.ok(append([]string{"--format", "json"}, args...)...)
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(l.t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(l.t, "ok", resp.Status)
	require.NoError(l.t, json.Unmarshal(resp.Data, v), string(resp.Data))
}

// failure runs a json command that must fail and returns the error envelope.
func (l *cliLedger) failure(wantExit int, args ...string) CLIError {
	l.t.Helper()
	out, _, err := l.run(append([]string{"--format", "json"}, args...)...)
	require.Error(l.t, err)
	assert.Equal(l.t, wantExit, GetExitCode(err), err.Error())
	var resp CLIResponse
	require.NoError(l.t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(l.t, "error", resp.Status)
	require.NotNil(l.t, resp.Error)
	return *resp.Error
}

func TestIncomeAndExpense(t *testing.T) {
	l := newCLILedger(t)

	var inc journal.Recorded
	l.data(&inc, "income", "1000", "--id", "salary", "--date", "2026-01-01", "--note", "january")
	assert.Equal(t, "salary", inc.Transaction.ID)
	assert.Equal(t, "january", inc.Transaction.Note)
	require.NotNil(t, inc.Pool)
	assert.True(t, inc.Pool.RemainingAmount.Equal(decimal.NewFromInt(1000)))
	assert.False(t, inc.Deferred)

	var exp journal.Recorded
	l.data(&exp, "expense", "300", "--id", "rent", "--date", "2026-01-11")
	require.NotNil(t, exp.Result)
	assert.Equal(t, 10, exp.Result.AgeDays)
	require.Len(t, exp.Result.Consumptions, 1)
	assert.Equal(t, inc.Pool.ID, exp.Result.Consumptions[0].ResourcePoolID)

	var stats ledger.Statistics
	l.data(&stats, "stats")
	assert.Equal(t, 1, stats.TotalPools)
	assert.Equal(t, 1, stats.Expenses)
	assert.True(t, stats.TotalRemaining.Equal(decimal.NewFromInt(700)), stats.TotalRemaining.String())
}

func TestPools(t *testing.T) {
	l := newCLILedger(t)
	l.ok("income", "100", "--id", "salary", "--date", "2026-01-01")
	l.ok("income", "50", "--id", "bonus", "--date", "2026-01-03")
	l.ok("expense", "120", "--id", "rent", "--date", "2026-01-06")

	var pools []ledger.ResourcePool
	l.data(&pools, "pools")
	require.Len(t, pools, 2)
	assert.Equal(t, "salary", pools[0].IncomeTransactionID)
	assert.Equal(t, "bonus", pools[1].IncomeTransactionID)

	l.data(&pools, "pools", "--consumed")
	require.Len(t, pools, 1)
	assert.Equal(t, "salary", pools[0].IncomeTransactionID)

	var detail PoolDetail
	l.data(&detail, "pools", "bonus")
	assert.Equal(t, ledger.PoolID("bonus"), detail.Pool.ID)
	assert.True(t, detail.Pool.RemainingAmount.Equal(decimal.NewFromInt(30)))
	require.Len(t, detail.Consumptions, 1)
	assert.Equal(t, "rent", detail.Consumptions[0].ExpenseTransactionID)
	assert.True(t, detail.Consumptions[0].Amount.Equal(decimal.NewFromInt(20)))

	l.data(&detail, "pools", ledger.PoolID("salary"))
	assert.Equal(t, "salary", detail.Pool.IncomeTransactionID)

	out := l.ok("pools", "salary")
	assert.Contains(t, out, "Spent:     100.00 in 1 draws")
	assert.Contains(t, out, "2026-01-06        100.00  rent (age 5 days)")

	out = l.ok("pools")
	assert.Contains(t, out, "2026-01-03         50.00        30.00  bonus")

	cliErr := l.failure(ExitFailure, "pools", "ghost")
	assert.Equal(t, "NOT_FOUND", cliErr.Code)
}

func TestIncome_TextOutput(t *testing.T) {
	l := newCLILedger(t)

	out := l.ok("income", "250.5", "--id", "gift", "--date", "2026-02-01")
	assert.Contains(t, out, "Recorded income gift: 250.50 on 2026-02-01")
	assert.Contains(t, out, "holds 250.50")

	out = l.ok("expense", "50", "--id", "dinner", "--date", "2026-02-04")
	assert.Contains(t, out, "Recorded expense dinner")
	assert.Contains(t, out, "Money age of this expense: 3.00 days")
}

func TestExpense_Unfunded(t *testing.T) {
	l := newCLILedger(t)
	l.ok("income", "100", "--date", "2026-03-01")

	var exp journal.Recorded
	l.data(&exp, "expense", "160", "--date", "2026-03-02")
	require.NotNil(t, exp.Result)
	assert.True(t, exp.Result.Shortfall.Equal(decimal.NewFromInt(60)))

	out := l.ok("list")
	assert.Contains(t, out, "expense")
}

func TestExpense_RejectPolicy(t *testing.T) {
	l := newCLILedger(t).withConfig("engine:\n  deficit_policy: reject\n")
	l.ok("income", "100", "--date", "2026-03-01")

	cliErr := l.failure(ExitFailure, "expense", "160", "--id", "too-much", "--date", "2026-03-02")
	assert.Equal(t, "INSUFFICIENT_FUNDS", cliErr.Code)

	var txs []ledger.Transaction
	l.data(&txs, "list")
	require.Len(t, txs, 1, "refused expense must not stay in the log")
	assert.Equal(t, ledger.TypeIncome, txs[0].Type)
}

func TestRecord_InvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantExit int
		wantErr  string
	}{
		{"bad amount", []string{"expense", "ten"}, ExitCommandError, `invalid amount "ten"`},
		{"bad date", []string{"income", "10", "--date", "yesterday"}, ExitCommandError, "invalid --date"},
		{"missing amount", []string{"income"}, ExitFailure, "accepts 1 arg"},
		{"zero amount", []string{"income", "0"}, ExitFailure, "failed to record income"},
		{"negative amount", []string{"expense", "-5"}, ExitFailure, "failed to record expense"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newCLILedger(t)
			_, _, err := l.run(tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.wantExit, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRecord_DuplicateID(t *testing.T) {
	l := newCLILedger(t)
	l.ok("income", "100", "--id", "pay")

	cliErr := l.failure(ExitFailure, "income", "200", "--id", "pay")
	assert.Equal(t, "DUPLICATE_ID", cliErr.Code)
}

func TestBackdatedIncome_Rebuilds(t *testing.T) {
	l := newCLILedger(t)
	l.ok("income", "1000", "--id", "late", "--date", "2026-01-10")
	l.ok("expense", "300", "--id", "rent", "--date", "2026-01-20")

	var rec journal.Recorded
	l.data(&rec, "income", "500", "--id", "early", "--date", "2026-01-05")
	assert.True(t, rec.Deferred)

	var status StatusResult
	l.data(&status, "status")
	assert.Equal(t, consistency.ModeIncremental.String(), status.Mode)

	var txs []ledger.Transaction
	l.data(&txs, "list")
	require.Len(t, txs, 3)
	assert.Equal(t, "early", txs[0].ID)

	// rent now draws from the earlier income.
	var stats ledger.Statistics
	l.data(&stats, "stats")
	assert.Equal(t, 15, stats.MaxExpenseAge)

	out := l.ok("verify")
	assert.Contains(t, out, "✓ Ledger verified")
}

func TestDelete(t *testing.T) {
	l := newCLILedger(t)
	l.ok("income", "500", "--id", "pay", "--date", "2026-04-01")
	l.ok("expense", "120", "--id", "shoes", "--date", "2026-04-03")

	var removed journal.Removed
	l.data(&removed, "delete", "shoes")
	assert.Equal(t, "shoes", removed.Transaction.ID)
	assert.False(t, removed.Deferred)

	var age ledger.MoneyAge
	l.data(&age, "age")
	assert.True(t, age.Remaining.Equal(decimal.NewFromInt(500)))

	cliErr := l.failure(ExitFailure, "delete", "shoes")
	assert.Equal(t, "NOT_FOUND", cliErr.Code)
}

func TestDelete_ConsumedIncomeRebuilds(t *testing.T) {
	l := newCLILedger(t)
	l.ok("income", "500", "--id", "pay", "--date", "2026-04-01")
	l.ok("expense", "120", "--id", "shoes", "--date", "2026-04-03")

	out := l.ok("delete", "pay")
	assert.Contains(t, out, "Deleted income pay (500.00)")
	assert.Contains(t, out, "Ledger rebuilt from the transaction log.")

	var stats ledger.Statistics
	l.data(&stats, "stats")
	assert.True(t, stats.TotalUnfunded.Equal(decimal.NewFromInt(120)), stats.TotalUnfunded.String())
}

func TestEdit(t *testing.T) {
	l := newCLILedger(t)
	l.ok("income", "500", "--id", "pay", "--date", "2026-04-01")
	l.ok("expense", "120", "--id", "shoes", "--date", "2026-04-03")

	var edited journal.Edited
	l.data(&edited, "edit", "shoes", "--amount", "150", "--note", "boots")
	assert.True(t, edited.Before.Amount.Equal(decimal.NewFromInt(120)))
	assert.True(t, edited.After.Amount.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, "boots", edited.After.Note)

	var age ledger.MoneyAge
	l.data(&age, "age")
	assert.True(t, age.Remaining.Equal(decimal.NewFromInt(350)), age.Remaining.String())
}

func TestEdit_Errors(t *testing.T) {
	l := newCLILedger(t)
	l.ok("income", "500", "--id", "pay")

	_, _, err := l.run("edit", "pay")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "nothing to change")

	_, _, err = l.run("edit", "pay", "--type", "transfer")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	cliErr := l.failure(ExitFailure, "edit", "missing", "--amount", "5")
	assert.Equal(t, "NOT_FOUND", cliErr.Code)
}

func TestList_Empty(t *testing.T) {
	l := newCLILedger(t)
	assert.Contains(t, l.ok("list"), "No transactions.")
}

func TestSimulate(t *testing.T) {
	l := newCLILedger(t)
	l.ok("income", "300", "--id", "pay", "--date", "2026-01-01")

	var res ledger.MoneyAgeResult
	l.data(&res, "simulate", "100")
	require.Len(t, res.Consumptions, 1)
	assert.True(t, res.Shortfall.IsZero())
	assert.Positive(t, res.AgeDays)

	// Nothing was recorded.
	var age ledger.MoneyAge
	l.data(&age, "age")
	assert.True(t, age.Remaining.Equal(decimal.NewFromInt(300)))
}

func TestPredict(t *testing.T) {
	l := newCLILedger(t)
	l.ok("income", "100", "--date", "2026-01-01")

	var points []ledger.TrendPoint
	l.data(&points, "predict", "--days", "3", "--daily-expense", "10", "--income", "2:50")
	require.Len(t, points, 3)
	assert.Equal(t, 1, points[0].Day)
	assert.True(t, points[0].Remaining.Equal(decimal.NewFromInt(90)))
	assert.True(t, points[2].Remaining.Equal(decimal.NewFromInt(120)))

	out := l.ok("predict", "--days", "2")
	assert.Contains(t, out, "day 1")
	assert.Contains(t, out, "day 2")
}

func TestPredict_InvalidFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"zero days", []string{"predict", "--days", "0"}},
		{"bad daily expense", []string{"predict", "--daily-expense", "lots"}},
		{"income without day", []string{"predict", "--income", "500"}},
		{"income day zero", []string{"predict", "--income", "0:500"}},
		{"income bad amount", []string{"predict", "--income", "3:abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := newCLILedger(t).run(tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestPredict_NegativeDailyExpense(t *testing.T) {
	l := newCLILedger(t)
	cliErr := l.failure(ExitFailure, "predict", "--daily-expense", "-1")
	assert.Equal(t, "INVALID_AMOUNT", cliErr.Code)
}

func TestHistory(t *testing.T) {
	l := newCLILedger(t)
	assert.Contains(t, l.ok("history"), "No changes recorded.")

	l.ok("income", "100", "--id", "pay", "--date", "2026-01-01")
	l.ok("expense", "40", "--id", "food", "--date", "2026-01-02")

	var changes []ledger.ResourcePoolChange
	l.data(&changes, "history")
	require.Len(t, changes, 2)
	assert.Equal(t, ledger.ChangeConsumed, changes[0].Kind, "newest first")
	assert.Equal(t, "food", changes[0].TransactionID)
	assert.Equal(t, ledger.ChangeCreated, changes[1].Kind)

	l.data(&changes, "history", "--limit", "1")
	assert.Len(t, changes, 1)
}

func TestSnapshot(t *testing.T) {
	l := newCLILedger(t)
	l.ok("income", "100", "--date", "2026-01-01")

	var snap ledger.MoneyAgeSnapshot
	l.data(&snap, "snapshot")
	assert.Equal(t, 1, snap.TotalPools)
	assert.True(t, snap.TotalRemaining.Equal(decimal.NewFromInt(100)))

	// Saving twice on the same day keeps one snapshot.
	l.ok("snapshot")

	var snaps []ledger.MoneyAgeSnapshot
	l.data(&snaps, "snapshot", "--list")
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].Date.Equal(snap.Date))
}

func TestStatus(t *testing.T) {
	l := newCLILedger(t).withConfig("engine:\n  strategy: lifo\n")

	var status StatusResult
	l.data(&status, "status")
	assert.Equal(t, "incremental", status.Mode)
	assert.Equal(t, "lifo", status.Strategy)
	assert.Equal(t, "record", status.DeficitPolicy)
	assert.Equal(t, l.db, status.Database)
	assert.False(t, status.HasDirtyData)

	out := l.ok("status")
	assert.Contains(t, out, "Strategy: lifo (deficit: record)")
}

func TestRebuild(t *testing.T) {
	l := newCLILedger(t)
	l.ok("income", "100", "--id", "a", "--date", "2026-01-01")
	l.ok("income", "50", "--id", "b", "--date", "2026-01-02")
	l.ok("expense", "120", "--id", "c", "--date", "2026-01-03")

	var first, second consistency.RebuildReport
	l.data(&first, "rebuild")
	assert.Equal(t, 3, first.Transactions)
	assert.Equal(t, 2, first.PoolsCreated)
	assert.Equal(t, 2, first.ConsumptionsCreated)

	l.data(&second, "rebuild")
	assert.Equal(t, first.Digest, second.Digest)

	out := l.ok("rebuild")
	assert.Contains(t, out, "Ledger rebuilt.")
	assert.Contains(t, out, first.Digest)
}

func TestVerify(t *testing.T) {
	l := newCLILedger(t)
	l.ok("income", "100", "--date", "2026-01-01")
	l.ok("expense", "30", "--date", "2026-01-05")

	var res VerifyResult
	l.data(&res, "verify")
	assert.True(t, res.OK())
	assert.True(t, res.Conservation)
	assert.True(t, res.DigestMatch)
	assert.Equal(t, res.StoredDigest, res.ReplayDigest)
	assert.Equal(t, 2, res.Transactions)
}

func TestVerify_StaleLedger(t *testing.T) {
	l := newCLILedger(t)
	l.ok("income", "100", "--id", "pay", "--date", "2026-01-01")
	l.ok("expense", "30", "--id", "lunch", "--date", "2026-01-05")

	// Change the log behind the ledger's back.
	ctx := context.Background()
	app, err := openLedger(NewRootCommand(), &RootOptions{Format: "text", Database: l.db}, false)
	require.NoError(t, err)
	tx, err := app.store.GetTransaction(ctx, "lunch")
	require.NoError(t, err)
	tx.Amount = decimal.NewFromInt(45)
	require.NoError(t, app.store.UpdateTransaction(ctx, tx))
	app.Close()

	_, _, err = l.run("verify")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "ledger verification failed")

	l.ok("rebuild")
	l.ok("verify")
}

func TestServe_StopsOnContextCancel(t *testing.T) {
	l := newCLILedger(t)
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", l.db, "serve", "--addr", "127.0.0.1:0"})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- cmd.ExecuteContext(ctx)
	}()

	select {
	case err := <-errChan:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop on context cancel")
	}

	_, err := os.Stat(l.db)
	assert.NoError(t, err, "database should be created")
	assert.Contains(t, out.String(), "Serving on http://127.0.0.1:0")
}

func TestServe_InvalidSchedule(t *testing.T) {
	l := newCLILedger(t)
	t.Setenv("MONEYAGE_SCHEDULE_ADVANCE_CRON", "every now and then")

	_, _, err := l.run("serve", "--addr", "127.0.0.1:0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
