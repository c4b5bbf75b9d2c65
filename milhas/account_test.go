package milhas_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viagem/milhas-engine/milhas"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestAccount(t *testing.T) milhas.Account {
	t.Helper()
	account, err := milhas.NewAccount("acc-1", "smiles", "Smiles", "ana")
	require.NoError(t, err)
	return account
}

func dec(s string) decimal.Decimal {
	return milhas.MustDecimal(s)
}

func assertDecimalEqual(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "expected %s, got %s", want, got.String())
}

// =============================================================================
// ACCOUNT CREATION
// =============================================================================

func TestNewAccount_TrimsNames(t *testing.T) {
	account, err := milhas.NewAccount("acc-1", "smiles", "  Smiles  ", " ana ")
	require.NoError(t, err)

	assert.Equal(t, "Smiles", account.ProgramName)
	assert.Equal(t, "ana", account.Owner)
	assert.Equal(t, int64(0), account.BalanceMiles)
	assertDecimalEqual(t, "0", account.CostBasis)
}

func TestNewAccount_BlankNames_Rejected(t *testing.T) {
	_, err := milhas.NewAccount("acc-1", "smiles", "   ", "ana")
	assert.ErrorIs(t, err, milhas.ErrValidation)

	_, err = milhas.NewAccount("acc-1", "smiles", "Smiles", "   ")
	assert.ErrorIs(t, err, milhas.ErrValidation)

	_, err = milhas.NewAccount("acc-1", "", "Smiles", "ana")
	assert.ErrorIs(t, err, milhas.ErrValidation)
}

// =============================================================================
// PURCHASE
// =============================================================================

func TestApplyPurchase_NewAccount(t *testing.T) {
	// GIVEN: An empty account
	// WHEN: Buying 10,000 miles for 500.00
	// THEN: Balance 10000, cost basis 500.00, average cost 50.00 per thousand

	account := newTestAccount(t)

	updated, err := account.ApplyPurchase(10_000, dec("500.00"))
	require.NoError(t, err)

	assert.Equal(t, int64(10_000), updated.BalanceMiles)
	assertDecimalEqual(t, "500.00", updated.CostBasis)
	assertDecimalEqual(t, "50", updated.AvgCostPerThousand)
}

func TestApplyPurchase_SecondLot_WeightedAverage(t *testing.T) {
	// GIVEN: 10,000 miles costing 500.00 (50.00/thousand)
	// WHEN: Buying 5,000 more for 350.00 (70.00/thousand)
	// THEN: Average moves to 850.00 / 15 = 56.666667 per thousand

	account := newTestAccount(t)
	account, err := account.ApplyPurchase(10_000, dec("500.00"))
	require.NoError(t, err)

	updated, err := account.ApplyPurchase(5_000, dec("350.00"))
	require.NoError(t, err)

	assert.Equal(t, int64(15_000), updated.BalanceMiles)
	assertDecimalEqual(t, "850.00", updated.CostBasis)
	assertDecimalEqual(t, "56.666667", updated.AvgCostPerThousand)
}

func TestApplyPurchase_InvalidInput_Rejected(t *testing.T) {
	account := newTestAccount(t)

	_, err := account.ApplyPurchase(0, dec("10.00"))
	assert.ErrorIs(t, err, milhas.ErrValidation)

	_, err = account.ApplyPurchase(-100, dec("10.00"))
	assert.ErrorIs(t, err, milhas.ErrValidation)

	_, err = account.ApplyPurchase(100, dec("-10.00"))
	assert.ErrorIs(t, err, milhas.ErrValidation)
}

func TestApplyPurchase_ZeroAmount_Allowed(t *testing.T) {
	// A free purchase is legal; it behaves like a bonus.
	account := newTestAccount(t)

	updated, err := account.ApplyPurchase(1_000, dec("0"))
	require.NoError(t, err)

	assert.Equal(t, int64(1_000), updated.BalanceMiles)
	assertDecimalEqual(t, "0", updated.CostBasis)
	assertDecimalEqual(t, "0", updated.AvgCostPerThousand)
}

// =============================================================================
// BONUS
// =============================================================================

func TestApplyBonus_DilutesAverageCost(t *testing.T) {
	// GIVEN: 10,000 miles costing 500.00
	// WHEN: Receiving 2,000 bonus miles
	// THEN: Balance 12000, cost basis unchanged, average drops to 41.666667

	account := newTestAccount(t)
	account, err := account.ApplyPurchase(10_000, dec("500.00"))
	require.NoError(t, err)

	updated, err := account.ApplyBonus(2_000)
	require.NoError(t, err)

	assert.Equal(t, int64(12_000), updated.BalanceMiles)
	assertDecimalEqual(t, "500.00", updated.CostBasis)
	assertDecimalEqual(t, "41.666667", updated.AvgCostPerThousand)
}

func TestApplyBonus_OnEmptyAccount(t *testing.T) {
	// Bonus miles with no prior purchase carry zero cost.
	account := newTestAccount(t)

	updated, err := account.ApplyBonus(3_000)
	require.NoError(t, err)

	assert.Equal(t, int64(3_000), updated.BalanceMiles)
	assertDecimalEqual(t, "0", updated.CostBasis)
	assertDecimalEqual(t, "0", updated.AvgCostPerThousand)
}

func TestApplyBonus_NonPositiveMiles_Rejected(t *testing.T) {
	account := newTestAccount(t)

	_, err := account.ApplyBonus(0)
	assert.ErrorIs(t, err, milhas.ErrValidation)

	_, err = account.ApplyBonus(-500)
	assert.ErrorIs(t, err, milhas.ErrValidation)
}

// =============================================================================
// SALE
// =============================================================================

func TestApplySale_ProportionalCostRemoval(t *testing.T) {
	// GIVEN: 12,000 miles with a 500.00 cost basis (10k purchased + 2k bonus)
	// WHEN: Selling 6,000 miles for 320.00
	// THEN: Half the basis (250.00) leaves with the miles, profit 70.00

	account := newTestAccount(t)
	account, err := account.ApplyPurchase(10_000, dec("500.00"))
	require.NoError(t, err)
	account, err = account.ApplyBonus(2_000)
	require.NoError(t, err)

	updated, costRemoved, profit, err := account.ApplySale(6_000, dec("320.00"))
	require.NoError(t, err)

	assertDecimalEqual(t, "250.00", costRemoved)
	assertDecimalEqual(t, "70.00", profit)
	assert.Equal(t, int64(6_000), updated.BalanceMiles)
	assertDecimalEqual(t, "250.00", updated.CostBasis)
	assertDecimalEqual(t, "41.666667", updated.AvgCostPerThousand)
}

func TestApplySale_InsufficientBalance_Rejected(t *testing.T) {
	// GIVEN: 6,000 miles held
	// WHEN: Trying to sell 7,000
	// THEN: InsufficientBalanceError; account untouched

	account := newTestAccount(t)
	account, err := account.ApplyPurchase(6_000, dec("300.00"))
	require.NoError(t, err)

	_, _, _, err = account.ApplySale(7_000, dec("400.00"))

	require.Error(t, err)
	var insErr *milhas.InsufficientBalanceError
	require.ErrorAs(t, err, &insErr)
	assert.Equal(t, int64(6_000), insErr.Available)
	assert.Equal(t, int64(7_000), insErr.Requested)
	assert.Equal(t, int64(1_000), insErr.Shortfall())

	// Original value is untouched; Apply* never mutates the receiver.
	assert.Equal(t, int64(6_000), account.BalanceMiles)
	assertDecimalEqual(t, "300.00", account.CostBasis)
}

func TestApplySale_EntireBalance_RemovesFullBasis(t *testing.T) {
	// Selling everything must remove the basis exactly, with no residual
	// centavos left behind by the 6-decimal ratio.

	account := newTestAccount(t)
	account, err := account.ApplyPurchase(3_000, dec("100.01"))
	require.NoError(t, err)

	updated, costRemoved, profit, err := account.ApplySale(3_000, dec("150.00"))
	require.NoError(t, err)

	assertDecimalEqual(t, "100.01", costRemoved)
	assertDecimalEqual(t, "49.99", profit)
	assert.Equal(t, int64(0), updated.BalanceMiles)
	assertDecimalEqual(t, "0", updated.CostBasis)
	assertDecimalEqual(t, "0", updated.AvgCostPerThousand)
	assert.False(t, updated.HasBalance())
}

func TestApplySale_RoundsHalfUpToCentavos(t *testing.T) {
	// GIVEN: 3,000 miles with a 100.00 basis
	// WHEN: Selling 1,000 miles
	// THEN: ratio 0.333333 at six decimals, cost removed 33.33

	account := newTestAccount(t)
	account, err := account.ApplyPurchase(3_000, dec("100.00"))
	require.NoError(t, err)

	updated, costRemoved, profit, err := account.ApplySale(1_000, dec("50.00"))
	require.NoError(t, err)

	assertDecimalEqual(t, "33.33", costRemoved)
	assertDecimalEqual(t, "16.67", profit)
	assertDecimalEqual(t, "66.67", updated.CostBasis)
	assert.Equal(t, int64(2_000), updated.BalanceMiles)
}

func TestApplySale_LossIsNegativeProfit(t *testing.T) {
	// Selling below cost produces a negative profit, never an error.
	account := newTestAccount(t)
	account, err := account.ApplyPurchase(10_000, dec("500.00"))
	require.NoError(t, err)

	_, costRemoved, profit, err := account.ApplySale(5_000, dec("200.00"))
	require.NoError(t, err)

	assertDecimalEqual(t, "250.00", costRemoved)
	assertDecimalEqual(t, "-50.00", profit)
}

func TestCanWithdraw(t *testing.T) {
	account := newTestAccount(t)
	account, err := account.ApplyPurchase(5_000, dec("250.00"))
	require.NoError(t, err)

	assert.True(t, account.CanWithdraw(5_000))
	assert.True(t, account.CanWithdraw(1))
	assert.False(t, account.CanWithdraw(5_001))
	assert.False(t, account.CanWithdraw(0))
	assert.False(t, account.CanWithdraw(-10))
}
