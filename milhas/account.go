/*
account.go - The cost-basis calculator (weighted-average costing)

PURPOSE:
  Applies each transaction's effect to an Account under the weighted-average
  cost method. This is the one nontrivial business rule in the system:

    PURCHASE: +miles, +cost basis, average cost moves toward the lot's unit cost
    BONUS:    +miles, cost basis unchanged, average cost is diluted
    SALE:     -miles, cost basis reduced proportionally, average cost unchanged

  All functions here are pure: they validate, then return an updated copy of
  the account. No state escapes until the ledger persists the result, so a
  failed check never leaves partial changes behind.

NUMERIC SEMANTICS:
  Everything monetary is decimal.Decimal. Mile/cost ratios are carried at
  six decimal places; monetary results are rounded once, to the currency's
  two decimal places, half-up. The cost basis is maintained incrementally -
  it is never re-derived by replaying the transaction history.
*/
package milhas

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NewAccount creates an empty account for a (program, owner) pair.
// Names are trimmed; blank names are rejected.
func NewAccount(id AccountID, programID ProgramID, programName, owner string) (Account, error) {
	programName = strings.TrimSpace(programName)
	owner = strings.TrimSpace(owner)

	if id == "" {
		return Account{}, &ValidationError{Field: "id", Message: "must not be empty"}
	}
	if programID == "" {
		return Account{}, &ValidationError{Field: "program_id", Message: "must not be empty"}
	}
	if programName == "" {
		return Account{}, &ValidationError{Field: "program_name", Message: "must not be blank"}
	}
	if owner == "" {
		return Account{}, &ValidationError{Field: "owner", Message: "must not be blank"}
	}

	now := time.Now().UTC()
	return Account{
		ID:                 id,
		ProgramID:          programID,
		ProgramName:        programName,
		Owner:              owner,
		BalanceMiles:       0,
		CostBasis:          decimal.Zero,
		AvgCostPerThousand: decimal.Zero,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// ApplyPurchase adds purchased miles and their cost to the account.
// Balance and cost basis both grow; the average cost is recomputed.
func (a Account) ApplyPurchase(miles int64, amountPaid decimal.Decimal) (Account, error) {
	if miles <= 0 {
		return Account{}, &ValidationError{Field: "miles", Message: "must be positive for a purchase"}
	}
	if amountPaid.IsNegative() {
		return Account{}, &ValidationError{Field: "amount", Message: "must not be negative"}
	}

	newBalance := a.BalanceMiles + miles
	newBasis := a.CostBasis.Add(amountPaid)

	updated := a
	updated.BalanceMiles = newBalance
	updated.CostBasis = newBasis
	updated.AvgCostPerThousand = avgCostPerThousand(newBalance, newBasis)
	updated.UpdatedAt = time.Now().UTC()
	return updated, nil
}

// ApplyBonus adds zero-cost miles (cashback, promotions). The cost basis is
// unchanged, so the average cost per mile drops.
func (a Account) ApplyBonus(miles int64) (Account, error) {
	if miles <= 0 {
		return Account{}, &ValidationError{Field: "miles", Message: "must be positive for a bonus"}
	}

	newBalance := a.BalanceMiles + miles

	updated := a
	updated.BalanceMiles = newBalance
	updated.AvgCostPerThousand = avgCostPerThousand(newBalance, a.CostBasis)
	updated.UpdatedAt = time.Now().UTC()
	return updated, nil
}

// ApplySale removes sold miles and a proportional slice of the cost basis.
// Under the weighted-average method every mile in the pool carries the same
// average cost, so the cost removed is (miles sold / balance) x cost basis.
// Returns the updated account along with the cost removed and the profit
// (amount received minus cost removed).
func (a Account) ApplySale(miles int64, amountReceived decimal.Decimal) (Account, decimal.Decimal, decimal.Decimal, error) {
	if miles <= 0 {
		return Account{}, decimal.Zero, decimal.Zero,
			&ValidationError{Field: "miles", Message: "must be positive for a sale"}
	}
	if amountReceived.IsNegative() {
		return Account{}, decimal.Zero, decimal.Zero,
			&ValidationError{Field: "amount", Message: "must not be negative"}
	}
	if miles > a.BalanceMiles {
		return Account{}, decimal.Zero, decimal.Zero, &InsufficientBalanceError{
			AccountID: a.ID,
			Available: a.BalanceMiles,
			Requested: miles,
		}
	}

	var costRemoved decimal.Decimal
	if miles == a.BalanceMiles {
		// Selling everything removes the entire cost basis exactly, so no
		// residual centavos survive rounding.
		costRemoved = a.CostBasis
	} else {
		ratio := decimal.NewFromInt(miles).
			DivRound(decimal.NewFromInt(a.BalanceMiles), ScaleAvgCost)
		costRemoved = ratio.Mul(a.CostBasis).Round(ScaleMonetary)
	}

	newBalance := a.BalanceMiles - miles
	newBasis := a.CostBasis.Sub(costRemoved)
	if newBalance == 0 {
		newBasis = decimal.Zero
	}

	profit := amountReceived.Sub(costRemoved)

	updated := a
	updated.BalanceMiles = newBalance
	updated.CostBasis = newBasis
	updated.AvgCostPerThousand = avgCostPerThousand(newBalance, newBasis)
	updated.UpdatedAt = time.Now().UTC()
	return updated, costRemoved, profit, nil
}

// avgCostPerThousand computes costBasis / (balance / 1000) at ScaleAvgCost.
// Zero when the account holds no miles or carries no cost.
func avgCostPerThousand(balance int64, costBasis decimal.Decimal) decimal.Decimal {
	if balance == 0 || costBasis.IsZero() {
		return decimal.Zero
	}
	thousands := decimal.NewFromInt(balance).
		DivRound(decimal.NewFromInt(MilesPerThousand), ScaleAvgCost)
	return costBasis.DivRound(thousands, ScaleAvgCost)
}
