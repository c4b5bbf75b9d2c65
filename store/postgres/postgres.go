/*
Package postgres provides a PostgreSQL-backed implementation of the storage
interfaces using pgx.

PURPOSE:
  The production alternative to the SQLite store for deployments that
  already run PostgreSQL. Same contract, but concurrency control is
  delegated to the database: WithTx locks the touched account rows with
  SELECT ... FOR UPDATE, so concurrent recordings against the same
  account serialize at the row level while other accounts proceed in
  parallel.

CONSTRAINTS:
  accounts_program_owner_key   UNIQUE(program_id, owner) - natural key
  transactions_idem_key        UNIQUE(idempotency_key)   - replay guard

SEE ALSO:
  - milhas/store.go: Interface definitions
  - store/sqlite/sqlite.go: The default store, identical semantics
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/viagem/milhas-engine/milhas"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	program_id TEXT NOT NULL,
	program_name TEXT NOT NULL,
	owner TEXT NOT NULL,
	balance_miles BIGINT NOT NULL DEFAULT 0,
	cost_basis NUMERIC(18,6) NOT NULL DEFAULT 0,
	avg_cost_per_thousand NUMERIC(18,6) NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT accounts_program_owner_key UNIQUE (program_id, owner)
);

CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts(owner);

CREATE TABLE IF NOT EXISTS transactions (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	account_id TEXT NOT NULL REFERENCES accounts(id),
	tx_type TEXT NOT NULL,
	miles BIGINT NOT NULL,
	amount NUMERIC(18,6) NOT NULL,
	source TEXT,
	note TEXT,
	tx_date TIMESTAMPTZ NOT NULL,
	idempotency_key TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT transactions_idem_key UNIQUE (idempotency_key)
);

CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id);
CREATE INDEX IF NOT EXISTS idx_transactions_account_date ON transactions(account_id, tx_date);
`

// Store implements milhas.TxStore on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database, verifies the connection, and ensures the
// schema exists.
func New(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to migrate schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// queryable is satisfied by both *pgxpool.Pool and pgx.Tx.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, program_id, program_name, owner, balance_miles,
	cost_basis, avg_cost_per_thousand, created_at, updated_at`

func (s *Store) GetAccount(ctx context.Context, id milhas.AccountID) (milhas.Account, error) {
	return getAccount(ctx, s.pool, id, false)
}

func getAccount(ctx context.Context, db queryable, id milhas.AccountID, forUpdate bool) (milhas.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	account, err := scanAccount(db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return milhas.Account{}, &milhas.NotFoundError{AccountID: id}
	}
	return account, err
}

func (s *Store) FindAccount(ctx context.Context, programID milhas.ProgramID, owner string) (milhas.Account, bool, error) {
	return findAccount(ctx, s.pool, programID, owner, false)
}

func findAccount(ctx context.Context, db queryable, programID milhas.ProgramID, owner string, forUpdate bool) (milhas.Account, bool, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE program_id = $1 AND owner = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	account, err := scanAccount(db.QueryRow(ctx, query, programID, owner))
	if errors.Is(err, pgx.ErrNoRows) {
		return milhas.Account{}, false, nil
	}
	if err != nil {
		return milhas.Account{}, false, err
	}
	return account, true, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]milhas.Account, error) {
	return queryAccounts(ctx, s.pool,
		`SELECT `+accountColumns+` FROM accounts ORDER BY program_name ASC, owner ASC`)
}

func (s *Store) ListAccountsByOwner(ctx context.Context, owner string) ([]milhas.Account, error) {
	return queryAccounts(ctx, s.pool,
		`SELECT `+accountColumns+` FROM accounts WHERE owner = $1 ORDER BY program_name ASC`,
		owner)
}

func (s *Store) SaveAccount(ctx context.Context, a milhas.Account) error {
	return saveAccount(ctx, s.pool, a)
}

func saveAccount(ctx context.Context, db queryable, a milhas.Account) error {
	_, err := db.Exec(ctx, `
		INSERT INTO accounts
		(id, program_id, program_name, owner, balance_miles, cost_basis,
		 avg_cost_per_thousand, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.ProgramID, a.ProgramName, a.Owner, a.BalanceMiles,
		a.CostBasis, a.AvgCostPerThousand, a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err, "accounts_program_owner_key") {
			return &milhas.ValidationError{Field: "account", Message: "program/owner pair already exists"}
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (s *Store) UpdateAccount(ctx context.Context, a milhas.Account) error {
	return updateAccount(ctx, s.pool, a)
}

func updateAccount(ctx context.Context, db queryable, a milhas.Account) error {
	tag, err := db.Exec(ctx, `
		UPDATE accounts
		SET balance_miles = $1, cost_basis = $2, avg_cost_per_thousand = $3, updated_at = $4
		WHERE id = $5`,
		a.BalanceMiles, a.CostBasis, a.AvgCostPerThousand, a.UpdatedAt.UTC(), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &milhas.NotFoundError{AccountID: a.ID}
	}
	return nil
}

func queryAccounts(ctx context.Context, db queryable, query string, args ...any) ([]milhas.Account, error) {
	rows, err := db.Query(ctx, query, args...)
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

func scanAccount(row pgx.Row) (milhas.Account, error) {
	var (
		a         milhas.Account
		costBasis decimal.Decimal
		avgCost   decimal.Decimal
		createdAt time.Time
		updatedAt time.Time
	)

	err := row.Scan(
		&a.ID, &a.ProgramID, &a.ProgramName, &a.Owner, &a.BalanceMiles,
		&costBasis, &avgCost, &createdAt, &updatedAt,
	)
	if err != nil {
		return a, err
	}

	a.CostBasis = costBasis
	a.AvgCostPerThousand = avgCost
	a.CreatedAt = createdAt
	a.UpdatedAt = updatedAt
	return a, nil
}

// =============================================================================
// TRANSACTIONS (append-only)
// =============================================================================

const transactionColumns = `id, account_id, tx_type, miles, amount,
	COALESCE(source, ''), COALESCE(note, ''), tx_date,
	COALESCE(idempotency_key, ''), created_at`

func (s *Store) AppendTransaction(ctx context.Context, tx milhas.Transaction) error {
	return appendTransaction(ctx, s.pool, tx)
}

func appendTransaction(ctx context.Context, db queryable, tx milhas.Transaction) error {
	_, err := db.Exec(ctx, `
		INSERT INTO transactions
		(id, account_id, tx_type, miles, amount, source, note, tx_date,
		 idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8,
		        NULLIF($9, ''), $10)`,
		tx.ID, tx.AccountID, tx.Type, tx.Miles, tx.Amount,
		tx.Source, tx.Note, tx.Date.UTC(), tx.IdempotencyKey, tx.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err, "transactions_idem_key") {
			return milhas.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (s *Store) Transactions(ctx context.Context, accountID milhas.AccountID) ([]milhas.Transaction, error) {
	return queryTransactions(ctx, s.pool, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = $1
		ORDER BY seq ASC`,
		accountID)
}

func (s *Store) TransactionsInRange(ctx context.Context, accountID milhas.AccountID, from, to time.Time) ([]milhas.Transaction, error) {
	return queryTransactions(ctx, s.pool, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = $1 AND tx_date >= $2 AND tx_date <= $3
		ORDER BY seq ASC`,
		accountID, from.UTC(), to.UTC())
}

func (s *Store) TransactionsByType(ctx context.Context, accountID milhas.AccountID, t milhas.TransactionType) ([]milhas.Transaction, error) {
	return queryTransactions(ctx, s.pool, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = $1 AND tx_type = $2
		ORDER BY seq ASC`,
		accountID, t)
}

func (s *Store) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	return hasIdempotencyKey(ctx, s.pool, key)
}

func hasIdempotencyKey(ctx context.Context, db queryable, key string) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM transactions WHERE idempotency_key = $1)", key,
	).Scan(&exists)
	return exists, err
}

func queryTransactions(ctx context.Context, db queryable, query string, args ...any) ([]milhas.Transaction, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []milhas.Transaction
	for rows.Next() {
		var (
			tx     milhas.Transaction
			amount decimal.Decimal
		)
		err := rows.Scan(
			&tx.ID, &tx.AccountID, &tx.Type, &tx.Miles, &amount,
			&tx.Source, &tx.Note, &tx.Date, &tx.IdempotencyKey, &tx.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Amount = amount
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (milhas.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. Account lookups inside
// the transaction take row locks, so two units of work on the same account
// cannot interleave; work on different accounts proceeds in parallel.
func (s *Store) WithTx(ctx context.Context, fn func(store milhas.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

type txStore struct {
	tx pgx.Tx
}

func (ts *txStore) GetAccount(ctx context.Context, id milhas.AccountID) (milhas.Account, error) {
	return getAccount(ctx, ts.tx, id, true)
}

func (ts *txStore) FindAccount(ctx context.Context, programID milhas.ProgramID, owner string) (milhas.Account, bool, error) {
	return findAccount(ctx, ts.tx, programID, owner, true)
}

func (ts *txStore) ListAccounts(ctx context.Context) ([]milhas.Account, error) {
	return queryAccounts(ctx, ts.tx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY program_name ASC, owner ASC`)
}

func (ts *txStore) ListAccountsByOwner(ctx context.Context, owner string) ([]milhas.Account, error) {
	return queryAccounts(ctx, ts.tx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner = $1 ORDER BY program_name ASC`,
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
		WHERE account_id = $1
		ORDER BY seq ASC`,
		accountID)
}

func (ts *txStore) TransactionsInRange(ctx context.Context, accountID milhas.AccountID, from, to time.Time) ([]milhas.Transaction, error) {
	return queryTransactions(ctx, ts.tx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = $1 AND tx_date >= $2 AND tx_date <= $3
		ORDER BY seq ASC`,
		accountID, from.UTC(), to.UTC())
}

func (ts *txStore) TransactionsByType(ctx context.Context, accountID milhas.AccountID, t milhas.TransactionType) ([]milhas.Transaction, error) {
	return queryTransactions(ctx, ts.tx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = $1 AND tx_type = $2
		ORDER BY seq ASC`,
		accountID, t)
}

func (ts *txStore) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	return hasIdempotencyKey(ctx, ts.tx, key)
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return constraint == "" || strings.Contains(pgErr.ConstraintName, constraint)
	}
	return false
}
