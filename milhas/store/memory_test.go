package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viagem/milhas-engine/milhas"
	"github.com/viagem/milhas-engine/milhas/store"
)

// Interface compliance.
var (
	_ milhas.Store   = (*store.Memory)(nil)
	_ milhas.TxStore = (*store.TxMemory)(nil)
)

func memAccount(id, programID, owner string) milhas.Account {
	now := time.Now().UTC()
	return milhas.Account{
		ID:          milhas.AccountID(id),
		ProgramID:   milhas.ProgramID(programID),
		ProgramName: programID,
		Owner:       owner,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestMemory_SaveAccount_DuplicatePair_Rejected(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.SaveAccount(ctx, memAccount("acc-1", "smiles", "ana")))

	err := mem.SaveAccount(ctx, memAccount("acc-2", "smiles", "ana"))
	assert.ErrorIs(t, err, milhas.ErrValidation)
}

func TestMemory_Transactions_InsertionOrder(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.SaveAccount(ctx, memAccount("acc-1", "smiles", "ana")))
	for _, id := range []string{"tx-z", "tx-a", "tx-m"} {
		require.NoError(t, mem.AppendTransaction(ctx, milhas.Transaction{
			ID:        milhas.TransactionID(id),
			AccountID: "acc-1",
			Type:      milhas.TxPurchase,
			Miles:     100,
			Date:      time.Now().UTC(),
			CreatedAt: time.Now().UTC(),
		}))
	}

	txs, err := mem.Transactions(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, milhas.TransactionID("tx-z"), txs[0].ID)
	assert.Equal(t, milhas.TransactionID("tx-m"), txs[2].ID)
}

func TestTxMemory_RollbackOnError(t *testing.T) {
	// GIVEN: A unit of work that saves an account, then fails
	// WHEN: WithTx propagates the error
	// THEN: The snapshot is restored; the account is gone

	mem := store.NewTxMemory()
	ctx := context.Background()

	boom := errors.New("boom")
	err := mem.WithTx(ctx, func(s milhas.Store) error {
		if err := s.SaveAccount(ctx, memAccount("acc-1", "smiles", "ana")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = mem.GetAccount(ctx, "acc-1")
	assert.ErrorIs(t, err, milhas.ErrAccountNotFound)
}

func TestTxMemory_CommitOnSuccess(t *testing.T) {
	mem := store.NewTxMemory()
	ctx := context.Background()

	err := mem.WithTx(ctx, func(s milhas.Store) error {
		return s.SaveAccount(ctx, memAccount("acc-1", "smiles", "ana"))
	})
	require.NoError(t, err)

	account, err := mem.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "ana", account.Owner)
}
