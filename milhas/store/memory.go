// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/viagem/milhas-engine/milhas"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	accounts     map[milhas.AccountID]milhas.Account
	byPair       map[pairKey]milhas.AccountID
	transactions map[milhas.AccountID][]milhas.Transaction
	idempotency  map[string]bool
}

type pairKey struct {
	ProgramID milhas.ProgramID
	Owner     string
}

func NewMemory() *Memory {
	return &Memory{
		accounts:     make(map[milhas.AccountID]milhas.Account),
		byPair:       make(map[pairKey]milhas.AccountID),
		transactions: make(map[milhas.AccountID][]milhas.Transaction),
		idempotency:  make(map[string]bool),
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) GetAccount(_ context.Context, id milhas.AccountID) (milhas.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccountLocked(id)
}

func (m *Memory) getAccountLocked(id milhas.AccountID) (milhas.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return milhas.Account{}, &milhas.NotFoundError{AccountID: id}
	}
	return a, nil
}

func (m *Memory) FindAccount(_ context.Context, programID milhas.ProgramID, owner string) (milhas.Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byPair[pairKey{ProgramID: programID, Owner: owner}]
	if !ok {
		return milhas.Account{}, false, nil
	}
	return m.accounts[id], true, nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]milhas.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]milhas.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		result = append(result, a)
	}
	sortAccounts(result)
	return result, nil
}

func (m *Memory) ListAccountsByOwner(_ context.Context, owner string) ([]milhas.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []milhas.Account
	for _, a := range m.accounts {
		if a.Owner == owner {
			result = append(result, a)
		}
	}
	sortAccounts(result)
	return result, nil
}

func (m *Memory) SaveAccount(_ context.Context, a milhas.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveAccountLocked(a)
}

func (m *Memory) saveAccountLocked(a milhas.Account) error {
	k := pairKey{ProgramID: a.ProgramID, Owner: a.Owner}
	if _, exists := m.byPair[k]; exists {
		return &milhas.ValidationError{Field: "account", Message: "program/owner pair already exists"}
	}
	m.accounts[a.ID] = a
	m.byPair[k] = a.ID
	return nil
}

func (m *Memory) UpdateAccount(_ context.Context, a milhas.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateAccountLocked(a)
}

func (m *Memory) updateAccountLocked(a milhas.Account) error {
	if _, ok := m.accounts[a.ID]; !ok {
		return &milhas.NotFoundError{AccountID: a.ID}
	}
	m.accounts[a.ID] = a
	return nil
}

// =============================================================================
// TRANSACTIONS (append-only)
// =============================================================================

func (m *Memory) AppendTransaction(_ context.Context, tx milhas.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) appendLocked(tx milhas.Transaction) error {
	if tx.IdempotencyKey != "" {
		if m.idempotency[tx.IdempotencyKey] {
			return milhas.ErrDuplicateIdempotencyKey
		}
		m.idempotency[tx.IdempotencyKey] = true
	}
	m.transactions[tx.AccountID] = append(m.transactions[tx.AccountID], tx)
	return nil
}

func (m *Memory) Transactions(_ context.Context, accountID milhas.AccountID) ([]milhas.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]milhas.Transaction, len(m.transactions[accountID]))
	copy(result, m.transactions[accountID])
	return result, nil
}

func (m *Memory) TransactionsInRange(_ context.Context, accountID milhas.AccountID, from, to time.Time) ([]milhas.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []milhas.Transaction
	for _, tx := range m.transactions[accountID] {
		if !tx.Date.Before(from) && !tx.Date.After(to) {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (m *Memory) TransactionsByType(_ context.Context, accountID milhas.AccountID, t milhas.TransactionType) ([]milhas.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []milhas.Transaction
	for _, tx := range m.transactions[accountID] {
		if tx.Type == t {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (m *Memory) HasIdempotencyKey(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[key], nil
}

func sortAccounts(accounts []milhas.Account) {
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].ProgramName != accounts[j].ProgramName {
			return accounts[i].ProgramName < accounts[j].ProgramName
		}
		return accounts[i].Owner < accounts[j].Owner
	})
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support. WithTx holds the store
// lock for the whole unit of work, so concurrent recordings against the
// same account (or any account) serialize here.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction. For the memory store this is
// simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(milhas.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	view := &txMemoryView{parent: tm}
	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	accounts := make(map[milhas.AccountID]milhas.Account, len(tm.accounts))
	for k, v := range tm.accounts {
		accounts[k] = v
	}
	byPair := make(map[pairKey]milhas.AccountID, len(tm.byPair))
	for k, v := range tm.byPair {
		byPair[k] = v
	}
	txs := make(map[milhas.AccountID][]milhas.Transaction, len(tm.transactions))
	for k, v := range tm.transactions {
		txs[k] = append([]milhas.Transaction{}, v...)
	}
	idemp := make(map[string]bool, len(tm.idempotency))
	for k, v := range tm.idempotency {
		idemp[k] = v
	}
	return memorySnapshot{accounts: accounts, byPair: byPair, transactions: txs, idempotency: idemp}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.accounts = s.accounts
	tm.byPair = s.byPair
	tm.transactions = s.transactions
	tm.idempotency = s.idempotency
}

type memorySnapshot struct {
	accounts     map[milhas.AccountID]milhas.Account
	byPair       map[pairKey]milhas.AccountID
	transactions map[milhas.AccountID][]milhas.Transaction
	idempotency  map[string]bool
}

// txMemoryView gives fn lock-free access to the already-locked parent.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) GetAccount(_ context.Context, id milhas.AccountID) (milhas.Account, error) {
	return tv.parent.getAccountLocked(id)
}

func (tv *txMemoryView) FindAccount(_ context.Context, programID milhas.ProgramID, owner string) (milhas.Account, bool, error) {
	id, ok := tv.parent.byPair[pairKey{ProgramID: programID, Owner: owner}]
	if !ok {
		return milhas.Account{}, false, nil
	}
	return tv.parent.accounts[id], true, nil
}

func (tv *txMemoryView) ListAccounts(_ context.Context) ([]milhas.Account, error) {
	result := make([]milhas.Account, 0, len(tv.parent.accounts))
	for _, a := range tv.parent.accounts {
		result = append(result, a)
	}
	sortAccounts(result)
	return result, nil
}

func (tv *txMemoryView) ListAccountsByOwner(_ context.Context, owner string) ([]milhas.Account, error) {
	var result []milhas.Account
	for _, a := range tv.parent.accounts {
		if a.Owner == owner {
			result = append(result, a)
		}
	}
	sortAccounts(result)
	return result, nil
}

func (tv *txMemoryView) SaveAccount(_ context.Context, a milhas.Account) error {
	return tv.parent.saveAccountLocked(a)
}

func (tv *txMemoryView) UpdateAccount(_ context.Context, a milhas.Account) error {
	return tv.parent.updateAccountLocked(a)
}

func (tv *txMemoryView) AppendTransaction(_ context.Context, tx milhas.Transaction) error {
	return tv.parent.appendLocked(tx)
}

func (tv *txMemoryView) Transactions(_ context.Context, accountID milhas.AccountID) ([]milhas.Transaction, error) {
	return tv.parent.transactions[accountID], nil
}

func (tv *txMemoryView) TransactionsInRange(_ context.Context, accountID milhas.AccountID, from, to time.Time) ([]milhas.Transaction, error) {
	var result []milhas.Transaction
	for _, tx := range tv.parent.transactions[accountID] {
		if !tx.Date.Before(from) && !tx.Date.After(to) {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (tv *txMemoryView) TransactionsByType(_ context.Context, accountID milhas.AccountID, t milhas.TransactionType) ([]milhas.Transaction, error) {
	var result []milhas.Transaction
	for _, tx := range tv.parent.transactions[accountID] {
		if tx.Type == t {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (tv *txMemoryView) HasIdempotencyKey(_ context.Context, key string) (bool, error) {
	return tv.parent.idempotency[key], nil
}
