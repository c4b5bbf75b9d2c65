/*
ledger.go - Recording operations (purchase, bonus, sale)

PURPOSE:
  The Ledger is the only writer of accounting state. Each recording
  operation validates its command, then executes one atomic unit of work:
  apply the effect to the account (account.go) and append the matching
  transaction - both inside a single storage transaction.

ACCOUNT LIFECYCLE:
  Purchases and bonuses create the (program, owner) account implicitly on
  first use. Sales require an existing account: you cannot sell miles from
  an account that was never funded.

FAILURE SEMANTICS:
  Validation, missing accounts, and insufficient balance all fail before
  any write. A failure inside the storage transaction rolls everything
  back, so the ledger and the account can never disagree.
*/
package milhas

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COMMANDS
// =============================================================================

// PurchaseCommand records bought miles. The account is created on first use.
type PurchaseCommand struct {
	ProgramID   ProgramID
	ProgramName string
	Owner       string
	Miles       int64
	Amount      decimal.Decimal
	Date        time.Time
	Source      string
	Note        string

	// IdempotencyKey, when set, makes retries of the same request safe.
	IdempotencyKey string
}

// BonusCommand records zero-cost miles. Either AccountID or the
// (ProgramID, ProgramName, Owner) triple identifies the account; with the
// triple, the account is created on first use.
type BonusCommand struct {
	AccountID   AccountID
	ProgramID   ProgramID
	ProgramName string
	Owner       string
	Miles       int64
	Source      string
	Date        time.Time
	Note        string

	IdempotencyKey string
}

// SaleCommand records sold miles against an existing account.
type SaleCommand struct {
	AccountID AccountID
	Miles     int64
	Amount    decimal.Decimal
	Date      time.Time
	Note      string

	IdempotencyKey string
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store TxStore
}

func NewLedger(store TxStore) *Ledger {
	return &Ledger{store: store}
}

// RecordPurchase applies a purchase: +miles, +cost basis.
func (l *Ledger) RecordPurchase(ctx context.Context, cmd PurchaseCommand) (*RecordResult, error) {
	if cmd.Miles <= 0 {
		return nil, &ValidationError{Field: "miles", Message: "must be positive"}
	}
	if cmd.Amount.IsNegative() {
		return nil, &ValidationError{Field: "amount", Message: "must not be negative"}
	}

	var result RecordResult
	err := l.store.WithTx(ctx, func(s Store) error {
		if err := l.checkIdempotency(ctx, s, cmd.IdempotencyKey); err != nil {
			return err
		}

		account, created, err := l.getOrCreateAccount(ctx, s, cmd.ProgramID, cmd.ProgramName, cmd.Owner)
		if err != nil {
			return err
		}

		updated, err := account.ApplyPurchase(cmd.Miles, cmd.Amount)
		if err != nil {
			return err
		}
		if err := l.persistAccount(ctx, s, updated, created); err != nil {
			return err
		}

		tx := Transaction{
			ID:             newTransactionID(),
			AccountID:      updated.ID,
			Type:           TxPurchase,
			Miles:          cmd.Miles,
			Amount:         cmd.Amount,
			Source:         cmd.Source,
			Note:           cmd.Note,
			Date:           effectiveDate(cmd.Date),
			CreatedAt:      time.Now().UTC(),
			IdempotencyKey: cmd.IdempotencyKey,
		}
		if err := s.AppendTransaction(ctx, tx); err != nil {
			return err
		}

		result = RecordResult{Transaction: tx, Account: updated}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// RecordBonus applies a bonus: +miles at zero cost, diluting the average.
func (l *Ledger) RecordBonus(ctx context.Context, cmd BonusCommand) (*RecordResult, error) {
	if cmd.Miles <= 0 {
		return nil, &ValidationError{Field: "miles", Message: "must be positive"}
	}
	if cmd.Source == "" {
		return nil, &ValidationError{Field: "source", Message: "required for a bonus"}
	}

	var result RecordResult
	err := l.store.WithTx(ctx, func(s Store) error {
		if err := l.checkIdempotency(ctx, s, cmd.IdempotencyKey); err != nil {
			return err
		}

		var (
			account Account
			created bool
			err     error
		)
		if cmd.AccountID != "" {
			account, err = s.GetAccount(ctx, cmd.AccountID)
		} else {
			account, created, err = l.getOrCreateAccount(ctx, s, cmd.ProgramID, cmd.ProgramName, cmd.Owner)
		}
		if err != nil {
			return err
		}

		updated, err := account.ApplyBonus(cmd.Miles)
		if err != nil {
			return err
		}
		if err := l.persistAccount(ctx, s, updated, created); err != nil {
			return err
		}

		tx := Transaction{
			ID:             newTransactionID(),
			AccountID:      updated.ID,
			Type:           TxBonus,
			Miles:          cmd.Miles,
			Amount:         decimal.Zero,
			Source:         cmd.Source,
			Note:           cmd.Note,
			Date:           effectiveDate(cmd.Date),
			CreatedAt:      time.Now().UTC(),
			IdempotencyKey: cmd.IdempotencyKey,
		}
		if err := s.AppendTransaction(ctx, tx); err != nil {
			return err
		}

		result = RecordResult{Transaction: tx, Account: updated}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// RecordSale applies a sale: -miles, proportional cost removal, profit.
// The account must exist and hold at least the requested miles.
func (l *Ledger) RecordSale(ctx context.Context, cmd SaleCommand) (*SaleResult, error) {
	if cmd.AccountID == "" {
		return nil, &ValidationError{Field: "account_id", Message: "required for a sale"}
	}
	if cmd.Miles <= 0 {
		return nil, &ValidationError{Field: "miles", Message: "must be positive"}
	}
	if cmd.Amount.IsNegative() {
		return nil, &ValidationError{Field: "amount", Message: "must not be negative"}
	}

	var result SaleResult
	err := l.store.WithTx(ctx, func(s Store) error {
		if err := l.checkIdempotency(ctx, s, cmd.IdempotencyKey); err != nil {
			return err
		}

		account, err := s.GetAccount(ctx, cmd.AccountID)
		if err != nil {
			return err
		}

		updated, costRemoved, profit, err := account.ApplySale(cmd.Miles, cmd.Amount)
		if err != nil {
			return err
		}
		if err := s.UpdateAccount(ctx, updated); err != nil {
			return err
		}

		tx := Transaction{
			ID:             newTransactionID(),
			AccountID:      updated.ID,
			Type:           TxSale,
			Miles:          cmd.Miles,
			Amount:         cmd.Amount,
			Note:           cmd.Note,
			Date:           effectiveDate(cmd.Date),
			CreatedAt:      time.Now().UTC(),
			IdempotencyKey: cmd.IdempotencyKey,
		}
		if err := s.AppendTransaction(ctx, tx); err != nil {
			return err
		}

		result = SaleResult{
			Transaction: tx,
			Account:     updated,
			CostRemoved: costRemoved,
			Profit:      profit,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// =============================================================================
// QUERIES - Thin pass-throughs to the store
// =============================================================================

func (l *Ledger) Account(ctx context.Context, id AccountID) (Account, error) {
	return l.store.GetAccount(ctx, id)
}

func (l *Ledger) AccountsByOwner(ctx context.Context, owner string) ([]Account, error) {
	if owner == "" {
		return nil, &ValidationError{Field: "owner", Message: "must not be empty"}
	}
	return l.store.ListAccountsByOwner(ctx, owner)
}

func (l *Ledger) Accounts(ctx context.Context) ([]Account, error) {
	return l.store.ListAccounts(ctx)
}

func (l *Ledger) Transactions(ctx context.Context, accountID AccountID) ([]Transaction, error) {
	return l.store.Transactions(ctx, accountID)
}

func (l *Ledger) TransactionsInRange(ctx context.Context, accountID AccountID, from, to time.Time) ([]Transaction, error) {
	if to.Before(from) {
		return nil, &ValidationError{Field: "range", Message: "from must not be after to"}
	}
	return l.store.TransactionsInRange(ctx, accountID, from, to)
}

func (l *Ledger) TransactionsByType(ctx context.Context, accountID AccountID, t TransactionType) ([]Transaction, error) {
	switch t {
	case TxPurchase, TxBonus, TxSale:
	default:
		return nil, &ValidationError{Field: "type", Message: "unknown transaction type"}
	}
	return l.store.TransactionsByType(ctx, accountID, t)
}

// =============================================================================
// HELPERS
// =============================================================================

// UpsertAccount returns the account for the pair, creating an empty one if
// needed. Idempotent: calling it twice returns the same account id and never
// resets an existing balance.
func (l *Ledger) UpsertAccount(ctx context.Context, programID ProgramID, programName, owner string) (Account, error) {
	var account Account
	err := l.store.WithTx(ctx, func(s Store) error {
		var created bool
		var err error
		account, created, err = l.getOrCreateAccount(ctx, s, programID, programName, owner)
		if err != nil {
			return err
		}
		if created {
			return s.SaveAccount(ctx, account)
		}
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

func (l *Ledger) getOrCreateAccount(ctx context.Context, s Store, programID ProgramID, programName, owner string) (Account, bool, error) {
	if programID == "" {
		return Account{}, false, &ValidationError{Field: "program_id", Message: "must not be empty"}
	}
	account, ok, err := s.FindAccount(ctx, programID, strings.TrimSpace(owner))
	if err != nil {
		return Account{}, false, err
	}
	if ok {
		return account, false, nil
	}

	account, err = NewAccount(newAccountID(), programID, programName, owner)
	if err != nil {
		return Account{}, false, err
	}
	return account, true, nil
}

// persistAccount inserts freshly created accounts and updates existing ones.
func (l *Ledger) persistAccount(ctx context.Context, s Store, a Account, created bool) error {
	if created {
		return s.SaveAccount(ctx, a)
	}
	return s.UpdateAccount(ctx, a)
}

func (l *Ledger) checkIdempotency(ctx context.Context, s Store, key string) error {
	if key == "" {
		return nil
	}
	exists, err := s.HasIdempotencyKey(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateIdempotencyKey
	}
	return nil
}

func effectiveDate(d time.Time) time.Time {
	if d.IsZero() {
		return time.Now().UTC()
	}
	return d
}

var idSeq atomic.Uint64

func newAccountID() AccountID {
	return AccountID(fmt.Sprintf("acc-%d-%04d", time.Now().UnixNano(), idSeq.Add(1)%10000))
}

func newTransactionID() TransactionID {
	return TransactionID(fmt.Sprintf("tx-%d-%04d", time.Now().UnixNano(), idSeq.Add(1)%10000))
}
