/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements milhas.Store and milhas.TxStore using SQLite. In production
  the same patterns apply to PostgreSQL (see store/postgres) - only minor
  SQL dialect differences.

KEY TABLES:
  accounts:      One row per (program, owner) pair; balance + cost basis
  transactions:  Immutable append-only ledger of purchases/bonuses/sales

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the transactions table
  - No DELETE statements on the transactions table
  - idempotency_key carries a UNIQUE index, so replays are rejected by
    the database even if the application-level check is bypassed

ACCOUNT KEY:
  UNIQUE(program_id, owner) makes the natural key a database constraint:
  two concurrent "create account" races collapse into one row.

CONCURRENCY:
  Uses sync.Mutex around writes plus WAL mode. WithTx holds the lock for
  the whole unit of work, so recordings against the same account are
  serialized; readers proceed under a shared RWMutex read lock.

USAGE:
  store, err := sqlite.New("./data/milhas.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := milhas.NewLedger(store)

SEE ALSO:
  - milhas/store.go: Interface definitions
  - milhas/ledger.go: Recording operations using this store
  - milhas/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/viagem/milhas-engine/milhas"
)

// Store implements milhas.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Accounts (one per program+owner pair)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		program_id TEXT NOT NULL,
		program_name TEXT NOT NULL,
		owner TEXT NOT NULL,
		balance_miles INTEGER NOT NULL DEFAULT 0,
		cost_basis TEXT NOT NULL DEFAULT '0',
		avg_cost_per_thousand TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- The natural key: two concurrent creations for the same pair
	-- collapse into one row at the database level.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_program_owner
		ON accounts(program_id, owner);

	CREATE INDEX IF NOT EXISTS idx_accounts_owner
		ON accounts(owner);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		miles INTEGER NOT NULL,
		amount TEXT NOT NULL,
		source TEXT,
		note TEXT,
		tx_date TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL,
		FOREIGN KEY (account_id) REFERENCES accounts(id)
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account
		ON transactions(account_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_account_date
		ON transactions(account_id, tx_date);
	CREATE INDEX IF NOT EXISTS idx_transactions_account_type
		ON transactions(account_id, tx_type);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	execer
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, program_id, program_name, owner, balance_miles,
	cost_basis, avg_cost_per_thousand, created_at, updated_at`

// GetAccount returns the account or a *milhas.NotFoundError.
func (s *Store) GetAccount(ctx context.Context, id milhas.AccountID) (milhas.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, id)
}

func getAccount(ctx context.Context, db querier, id milhas.AccountID) (milhas.Account, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return milhas.Account{}, &milhas.NotFoundError{AccountID: id}
	}
	return account, err
}

// FindAccount looks an account up by (program, owner). Absence is not an error.
func (s *Store) FindAccount(ctx context.Context, programID milhas.ProgramID, owner string) (milhas.Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findAccount(ctx, s.db, programID, owner)
}

func findAccount(ctx context.Context, db querier, programID milhas.ProgramID, owner string) (milhas.Account, bool, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE program_id = ? AND owner = ?`,
		programID, owner)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return milhas.Account{}, false, nil
	}
	if err != nil {
		return milhas.Account{}, false, err
	}
	return account, true, nil
}

// ListAccounts returns every account ordered by program name, then owner.
func (s *Store) ListAccounts(ctx context.Context) ([]milhas.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryAccounts(ctx, s.db,
		`SELECT `+accountColumns+` FROM accounts ORDER BY program_name ASC, owner ASC`)
}

// ListAccountsByOwner returns the owner's accounts ordered by program name.
func (s *Store) ListAccountsByOwner(ctx context.Context, owner string) ([]milhas.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryAccounts(ctx, s.db,
		`SELECT `+accountColumns+` FROM accounts WHERE owner = ? ORDER BY program_name ASC`,
		owner)
}

// SaveAccount inserts a new account.
func (s *Store) SaveAccount(ctx context.Context, a milhas.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveAccount(ctx, s.db, a)
}

func saveAccount(ctx context.Context, db execer, a milhas.Account) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO accounts
		(id, program_id, program_name, owner, balance_miles, cost_basis,
		 avg_cost_per_thousand, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProgramID, a.ProgramName, a.Owner, a.BalanceMiles,
		a.CostBasis.String(), a.AvgCostPerThousand.String(),
		a.CreatedAt.UTC().Format(time.RFC3339Nano),
		a.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &milhas.ValidationError{Field: "account", Message: "program/owner pair already exists"}
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// UpdateAccount replaces the stored balance/cost state of an account.
func (s *Store) UpdateAccount(ctx context.Context, a milhas.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateAccount(ctx, s.db, a)
}

func updateAccount(ctx context.Context, db execer, a milhas.Account) error {
	res, err := db.ExecContext(ctx, `
		UPDATE accounts
		SET balance_miles = ?, cost_basis = ?, avg_cost_per_thousand = ?, updated_at = ?
		WHERE id = ?`,
		a.BalanceMiles, a.CostBasis.String(), a.AvgCostPerThousand.String(),
		a.UpdatedAt.UTC().Format(time.RFC3339Nano), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &milhas.NotFoundError{AccountID: a.ID}
	}
	return nil
}

func queryAccounts(ctx context.Context, db querier, query string, args ...any) ([]milhas.Account, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []milhas.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (milhas.Account, error) {
	var (
		a         milhas.Account
		costBasis string
		avgCost   string
		createdAt string
		updatedAt string
	)

	err := row.Scan(
		&a.ID, &a.ProgramID, &a.ProgramName, &a.Owner, &a.BalanceMiles,
		&costBasis, &avgCost, &createdAt, &updatedAt,
	)
	if err != nil {
		return a, err
	}

	a.CostBasis = parseDecimal(costBasis)
	a.AvgCostPerThousand = parseDecimal(avgCost)
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return a, nil
}

// =============================================================================
// TRANSACTIONS (append-only)
// =============================================================================

const transactionColumns = `id, account_id, tx_type, miles, amount, source,
	note, tx_date, idempotency_key, created_at`

// AppendTransaction adds a ledger entry.
func (s *Store) AppendTransaction(ctx context.Context, tx milhas.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTransaction(ctx, s.db, tx)
}

func appendTransaction(ctx context.Context, db execer, tx milhas.Transaction) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO transactions
		(id, account_id, tx_type, miles, amount, source, note, tx_date,
		 idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.AccountID, tx.Type, tx.Miles, tx.Amount.String(),
		nullString(tx.Source), nullString(tx.Note),
		tx.Date.UTC().Format(time.RFC3339Nano),
		nullString(tx.IdempotencyKey),
		tx.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return milhas.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// Transactions returns all entries for an account in insertion order.
func (s *Store) Transactions(ctx context.Context, accountID milhas.AccountID) ([]milhas.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryTransactions(ctx, s.db, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = ?
		ORDER BY rowid ASC`,
		accountID)
}

// TransactionsInRange returns entries with tx_date in [from, to].
func (s *Store) TransactionsInRange(ctx context.Context, accountID milhas.AccountID, from, to time.Time) ([]milhas.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryTransactions(ctx, s.db, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = ? AND tx_date >= ? AND tx_date <= ?
		ORDER BY rowid ASC`,
		accountID,
		from.UTC().Format(time.RFC3339Nano),
		to.UTC().Format(time.RFC3339Nano))
}

// TransactionsByType returns entries of one type in insertion order.
func (s *Store) TransactionsByType(ctx context.Context, accountID milhas.AccountID, t milhas.TransactionType) ([]milhas.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryTransactions(ctx, s.db, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = ? AND tx_type = ?
		ORDER BY rowid ASC`,
		accountID, t)
}

// HasIdempotencyKey checks if an idempotency key exists.
func (s *Store) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasIdempotencyKey(ctx, s.db, key)
}

func hasIdempotencyKey(ctx context.Context, db querier, key string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?", key,
	).Scan(&count)
	return count > 0, err
}

func queryTransactions(ctx context.Context, db querier, query string, args ...any) ([]milhas.Transaction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []milhas.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (milhas.Transaction, error) {
	var (
		tx             milhas.Transaction
		amount         string
		source         sql.NullString
		note           sql.NullString
		txDate         string
		idempotencyKey sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&tx.ID, &tx.AccountID, &tx.Type, &tx.Miles, &amount,
		&source, &note, &txDate, &idempotencyKey, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.Amount = parseDecimal(amount)
	tx.Source = source.String
	tx.Note = note.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.Date, _ = time.Parse(time.RFC3339Nano, txDate)
	tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return tx, nil
}

// =============================================================================
// TRANSACTIONAL STORE (milhas.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. The store lock
// is held for the duration, so units of work against the same account are
// serialized.
func (s *Store) WithTx(ctx context.Context, fn func(store milhas.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetAccount(ctx context.Context, id milhas.AccountID) (milhas.Account, error) {
	return getAccount(ctx, ts.tx, id)
}

func (ts *txStore) FindAccount(ctx context.Context, programID milhas.ProgramID, owner string) (milhas.Account, bool, error) {
	return findAccount(ctx, ts.tx, programID, owner)
}

func (ts *txStore) ListAccounts(ctx context.Context) ([]milhas.Account, error) {
	return queryAccounts(ctx, ts.tx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY program_name ASC, owner ASC`)
}

func (ts *txStore) ListAccountsByOwner(ctx context.Context, owner string) ([]milhas.Account, error) {
	return queryAccounts(ctx, ts.tx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner = ? ORDER BY program_name ASC`,
		owner)
}

func (ts *txStore) SaveAccount(ctx context.Context, a milhas.Account) error {
	return saveAccount(ctx, ts.tx, a)
}

func (ts *txStore) UpdateAccount(ctx context.Context, a milhas.Account) error {
	return updateAccount(ctx, ts.tx, a)
}

func (ts *txStore) AppendTransaction(ctx context.Context, tx milhas.Transaction) error {
	return appendTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) Transactions(ctx context.Context, accountID milhas.AccountID) ([]milhas.Transaction, error) {
	return queryTransactions(ctx, ts.tx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = ?
		ORDER BY rowid ASC`,
		accountID)
}

func (ts *txStore) TransactionsInRange(ctx context.Context, accountID milhas.AccountID, from, to time.Time) ([]milhas.Transaction, error) {
	return queryTransactions(ctx, ts.tx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = ? AND tx_date >= ? AND tx_date <= ?
		ORDER BY rowid ASC`,
		accountID,
		from.UTC().Format(time.RFC3339Nano),
		to.UTC().Format(time.RFC3339Nano))
}

func (ts *txStore) TransactionsByType(ctx context.Context, accountID milhas.AccountID, t milhas.TransactionType) ([]milhas.Transaction, error) {
	return queryTransactions(ctx, ts.tx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = ? AND tx_type = ?
		ORDER BY rowid ASC`,
		accountID, t)
}

func (ts *txStore) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	return hasIdempotencyKey(ctx, ts.tx, key)
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// Reset clears all data. Dev/test only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"transactions", "accounts"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
