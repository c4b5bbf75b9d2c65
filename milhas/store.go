/*
store.go - Persistence interfaces for accounts and the transaction ledger

PURPOSE:
  Defines the contract between the accounting engine and the database.
  One durable collection holds Accounts keyed by (program, owner); one
  append-only collection holds Transactions keyed by account.

APPEND-ONLY CONTRACT:
  The transaction side of the Store is append-only:
  - AppendTransaction(): The ONLY transaction write
  - NO update or delete methods exist for transactions

  Accounts, by contrast, are mutable rows - but only the ledger in
  ledger.go ever updates their balance/cost fields, and always in the
  same storage transaction as the matching ledger append.

IMPLEMENTATIONS:
  - milhas/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go:  SQLite, the default production store
  - store/postgres/postgres.go: PostgreSQL via pgx, row-locked updates
*/
package milhas

import (
	"context"
	"time"
)

// Store handles persistence of accounts and transactions.
type Store interface {
	// GetAccount returns the account or a *NotFoundError.
	GetAccount(ctx context.Context, id AccountID) (Account, error)

	// FindAccount looks an account up by its natural key. The boolean
	// reports whether it exists; absence is not an error here.
	FindAccount(ctx context.Context, programID ProgramID, owner string) (Account, bool, error)

	// ListAccounts returns every account, ordered by program name then owner.
	ListAccounts(ctx context.Context) ([]Account, error)

	// ListAccountsByOwner returns the owner's accounts, ordered by program
	// name. Possibly empty.
	ListAccountsByOwner(ctx context.Context, owner string) ([]Account, error)

	// SaveAccount inserts a new account. Fails if the (program, owner)
	// pair already exists.
	SaveAccount(ctx context.Context, a Account) error

	// UpdateAccount replaces the stored state of an existing account.
	UpdateAccount(ctx context.Context, a Account) error

	// AppendTransaction adds a ledger entry. This is the ONLY transaction
	// write; entries are never edited or removed.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// Transactions returns all entries for an account in insertion order.
	Transactions(ctx context.Context, accountID AccountID) ([]Transaction, error)

	// TransactionsInRange returns entries with Date in [from, to].
	TransactionsInRange(ctx context.Context, accountID AccountID, from, to time.Time) ([]Transaction, error)

	// TransactionsByType returns entries of one type, insertion order.
	TransactionsByType(ctx context.Context, accountID AccountID, t TransactionType) ([]Transaction, error)

	// HasIdempotencyKey checks whether a key was already used.
	HasIdempotencyKey(ctx context.Context, key string) (bool, error)
}

// TxStore wraps Store with transaction support. Every recording operation
// runs inside WithTx so that the ledger append and the account update land
// atomically: either both happen or neither does.
type TxStore interface {
	Store

	// WithTx executes fn within a storage transaction. If fn returns an
	// error the transaction is rolled back; otherwise it is committed.
	// Implementations must serialize concurrent WithTx calls that touch
	// the same account.
	WithTx(ctx context.Context, fn func(Store) error) error
}
