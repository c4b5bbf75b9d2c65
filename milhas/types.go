/*
Package milhas provides the mileage ledger accounting engine.

PURPOSE:
  This package tracks, per (loyalty-program, owner) account, a running
  balance of miles and the weighted-average acquisition cost per thousand
  miles across purchase, bonus, and sale transactions.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: Current state of one (program, owner) pair - balance + cost basis
  - Transaction: An immutable ledger entry (purchase, bonus, or sale)
  - AccountID/ProgramID/TransactionID: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never edited or deleted
  2. Precision: Uses decimal.Decimal for all monetary arithmetic
  3. Weighted-average costing: Every mile in the pool carries the same
     average cost, regardless of which lot it came from
  4. Auditability: The balance of every account is explained by its
     transaction history

SEE ALSO:
  - account.go: The cost-basis calculator (the one nontrivial rule here)
  - ledger.go: Command orchestration (record purchase/bonus/sale)
  - store.go: Persistence interfaces
  - report.go: Aggregation views
*/
package milhas

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type ProgramID string
type TransactionID string

// =============================================================================
// DECIMAL SCALES - Shared by every accounting computation
// =============================================================================

const (
	// ScaleAvgCost is the precision of intermediate cost ratios and of the
	// average cost per thousand miles.
	ScaleAvgCost int32 = 6

	// ScaleMonetary is the currency minor-unit precision (BRL: centavos).
	ScaleMonetary int32 = 2

	// MilesPerThousand converts a raw mile count into "milheiros", the unit
	// the average cost is quoted in.
	MilesPerThousand int64 = 1000
)

// MustDecimal parses a decimal literal, returning zero on malformed input.
// Intended for constants and test fixtures.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// TRANSACTION - Immutable ledger entry
// =============================================================================

type TransactionType string

const (
	TxPurchase TransactionType = "purchase" // Miles bought: +balance, +cost basis
	TxBonus    TransactionType = "bonus"    // Promo/cashback miles: +balance, zero cost (dilutes average)
	TxSale     TransactionType = "sale"     // Miles sold: -balance, -proportional cost basis
)

// Transaction records one balance change on an account. Once appended to the
// ledger it is never mutated or deleted; the transaction set is the audit
// trail for the account's balance and cost basis.
type Transaction struct {
	ID        TransactionID
	AccountID AccountID
	Type      TransactionType

	// Miles moved by this transaction. Always positive; the sign of the
	// balance effect is implied by Type.
	Miles int64

	// Amount is the monetary value tied to the transaction: price paid for
	// a purchase, price received for a sale, zero for a bonus.
	Amount decimal.Decimal

	// Source identifies where bonus miles came from ("promo", "cashback").
	// Required for bonuses, optional otherwise.
	Source string

	// Note is free-text context supplied by the operator.
	Note string

	// Date is when the transaction took effect; CreatedAt is when it was
	// recorded.
	Date      time.Time
	CreatedAt time.Time

	// IdempotencyKey, when set, protects against double-submission.
	IdempotencyKey string
}

// =============================================================================
// ACCOUNT - Balance and cost basis for one (program, owner) pair
// =============================================================================

// Account is the single source of truth for one (program, owner) pair.
//
// INVARIANTS:
//   - BalanceMiles >= 0
//   - CostBasis >= 0
//   - CostBasis == 0 whenever BalanceMiles == 0
//   - BalanceMiles equals the sum of signed mile deltas of all transactions
//   - AvgCostPerThousand is derived: CostBasis / (BalanceMiles / 1000)
//
// Balance and cost basis change only through the calculator in account.go;
// no other code mutates them.
type Account struct {
	ID          AccountID
	ProgramID   ProgramID
	ProgramName string
	Owner       string

	BalanceMiles int64

	// CostBasis is the total money spent acquiring the miles currently held.
	CostBasis decimal.Decimal

	// AvgCostPerThousand is the weighted-average cost per thousand miles,
	// kept to ScaleAvgCost decimal places. Zero when the balance is zero.
	AvgCostPerThousand decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasBalance reports whether the account holds any miles.
func (a Account) HasBalance() bool { return a.BalanceMiles > 0 }

// CanWithdraw reports whether miles can be removed without going negative.
func (a Account) CanWithdraw(miles int64) bool {
	return miles > 0 && miles <= a.BalanceMiles
}

// =============================================================================
// OPERATION RESULTS
// =============================================================================

// RecordResult is returned by purchase and bonus recordings.
type RecordResult struct {
	Transaction Transaction
	Account     Account
}

// SaleResult extends RecordResult with the cost-accounting outcome of a sale.
type SaleResult struct {
	Transaction Transaction
	Account     Account

	// CostRemoved is the slice of the cost basis carried out by the sold
	// miles under the weighted-average method, rounded to ScaleMonetary.
	CostRemoved decimal.Decimal

	// Profit = amount received - CostRemoved. May be negative.
	Profit decimal.Decimal
}
