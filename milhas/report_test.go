package milhas_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viagem/milhas-engine/milhas"
	"github.com/viagem/milhas-engine/milhas/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestReporter(t *testing.T) (*milhas.Reporter, *milhas.Ledger) {
	t.Helper()
	mem := store.NewTxMemory()
	return milhas.NewReporter(mem), milhas.NewLedger(mem)
}

func seedAccounts(t *testing.T, ledger *milhas.Ledger) {
	t.Helper()
	ctx := context.Background()

	seeds := []milhas.PurchaseCommand{
		{ProgramID: "smiles", ProgramName: "Smiles", Owner: "ana", Miles: 10_000, Amount: dec("500.00")},
		{ProgramID: "latampass", ProgramName: "LATAM Pass", Owner: "ana", Miles: 4_000, Amount: dec("180.00")},
		{ProgramID: "smiles", ProgramName: "Smiles", Owner: "bruno", Miles: 6_000, Amount: dec("290.00")},
		{ProgramID: "tudoazul", ProgramName: "TudoAzul", Owner: "carla", Miles: 2_500, Amount: dec("140.00")},
	}
	for _, cmd := range seeds {
		_, err := ledger.RecordPurchase(ctx, cmd)
		require.NoError(t, err)
	}
}

// =============================================================================
// AGGREGATIONS
// =============================================================================

func TestReporter_TotalBalance(t *testing.T) {
	reporter, ledger := newTestReporter(t)
	seedAccounts(t, ledger)

	total, err := reporter.TotalBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(22_500), total)
}

func TestReporter_TotalBalance_EmptyLedger(t *testing.T) {
	reporter, _ := newTestReporter(t)

	total, err := reporter.TotalBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestReporter_TotalsByOwner_SortedAndComplete(t *testing.T) {
	reporter, ledger := newTestReporter(t)
	seedAccounts(t, ledger)

	totals, err := reporter.TotalsByOwner(context.Background())
	require.NoError(t, err)
	require.Len(t, totals, 3)

	assert.Equal(t, milhas.OwnerTotal{Owner: "ana", Miles: 14_000}, totals[0])
	assert.Equal(t, milhas.OwnerTotal{Owner: "bruno", Miles: 6_000}, totals[1])
	assert.Equal(t, milhas.OwnerTotal{Owner: "carla", Miles: 2_500}, totals[2])
}

func TestReporter_TotalsByProgram_SortedAndComplete(t *testing.T) {
	reporter, ledger := newTestReporter(t)
	seedAccounts(t, ledger)

	totals, err := reporter.TotalsByProgram(context.Background())
	require.NoError(t, err)
	require.Len(t, totals, 3)

	assert.Equal(t, milhas.ProgramTotal{Program: "LATAM Pass", Miles: 4_000}, totals[0])
	assert.Equal(t, milhas.ProgramTotal{Program: "Smiles", Miles: 16_000}, totals[1])
	assert.Equal(t, milhas.ProgramTotal{Program: "TudoAzul", Miles: 2_500}, totals[2])
}

func TestReporter_Partitions_SumToGrandTotal(t *testing.T) {
	// GIVEN: Accounts across several owners and programs, including sales
	// WHEN: Aggregating by owner and by program
	// THEN: Each partition sums exactly to the grand total

	reporter, ledger := newTestReporter(t)
	seedAccounts(t, ledger)
	ctx := context.Background()

	// A sale moves the total; the partitions must follow.
	accounts, err := ledger.Accounts(ctx)
	require.NoError(t, err)
	_, err = ledger.RecordSale(ctx, milhas.SaleCommand{
		AccountID: accounts[0].ID,
		Miles:     1_500,
		Amount:    dec("80.00"),
	})
	require.NoError(t, err)

	summary, err := reporter.Summary(ctx)
	require.NoError(t, err)

	var byOwner, byProgram int64
	for _, row := range summary.ByOwner {
		byOwner += row.Miles
	}
	for _, row := range summary.ByProgram {
		byProgram += row.Miles
	}

	assert.Equal(t, summary.TotalBalance, byOwner, "owner partition must sum to the total")
	assert.Equal(t, summary.TotalBalance, byProgram, "program partition must sum to the total")
	assert.Equal(t, int64(21_000), summary.TotalBalance)
}

func TestReporter_Summary_IncludesAccounts(t *testing.T) {
	reporter, ledger := newTestReporter(t)
	seedAccounts(t, ledger)

	summary, err := reporter.Summary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, summary.AccountCount)
	assert.Len(t, summary.Accounts, 4)
	assert.Equal(t, "LATAM Pass", summary.Accounts[0].ProgramName, "accounts ordered by program name")
}
