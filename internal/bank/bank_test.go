package bank

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"gigescrow/internal/db"
	"gigescrow/internal/domain"
	"gigescrow/internal/migrate"
	"gigescrow/internal/repo"
)

func newLedger(t *testing.T) (Ledger, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(conn)
	require.NoError(t, err)
	return Ledger{Repo: repo.Repo{DB: conn}}, conn
}

func TestTransferWritesBalancedEntries(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	_, err := l.Mint(ctx, nil, "alice", 100)
	require.NoError(t, err)
	id, err := l.Transfer(ctx, nil, Transfer{From: "alice", To: "bob", Amount: 30, Memo: "test", JobID: "job-1"})
	require.NoError(t, err)

	alice, err := l.Balance(ctx, nil, "alice")
	require.NoError(t, err)
	bob, err := l.Balance(ctx, nil, "bob")
	require.NoError(t, err)
	require.Equal(t, uint64(70), alice)
	require.Equal(t, uint64(30), bob)

	entries, err := l.Repo.ListLedgerEntries(ctx, nil, repo.LedgerFilters{TransferID: id})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	var debit, credit uint64
	for _, e := range entries {
		require.Equal(t, "job-1", e.JobID)
		switch e.EntryType {
		case domain.EntryDebit:
			debit += e.Amount
		case domain.EntryCredit:
			credit += e.Amount
		}
	}
	require.Equal(t, debit, credit)
}

func TestTransferRejectsOverdraft(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	_, err := l.Mint(ctx, nil, "alice", 10)
	require.NoError(t, err)
	_, err = l.Transfer(ctx, nil, Transfer{From: "alice", To: "bob", Amount: 11})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = l.Transfer(ctx, nil, Transfer{From: "nobody", To: "bob", Amount: 1})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	bal, err := l.Balance(ctx, nil, "alice")
	require.NoError(t, err)
	require.Equal(t, uint64(10), bal)
}

func TestTransferValidation(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	_, err := l.Transfer(ctx, nil, Transfer{From: "a", To: "b", Amount: 0})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = l.Transfer(ctx, nil, Transfer{From: "a", To: "a", Amount: 1})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = l.Transfer(ctx, nil, Transfer{From: "", To: "a", Amount: 1})
	require.ErrorIs(t, err, domain.ErrMissingActor)
	_, err = l.Mint(ctx, nil, "a", domain.MaxAmount+1)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestMintOverflow(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	_, err := l.Mint(ctx, nil, "whale", domain.MaxAmount)
	require.NoError(t, err)
	_, err = l.Mint(ctx, nil, "whale", 1)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestTransferInsideRolledBackTxLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	l, conn := newLedger(t)

	_, err := l.Mint(ctx, nil, "alice", 50)
	require.NoError(t, err)

	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = l.Transfer(ctx, tx, Transfer{From: "alice", To: "bob", Amount: 50})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	bal, err := l.Balance(ctx, nil, "alice")
	require.NoError(t, err)
	require.Equal(t, uint64(50), bal)
	entries, err := l.Repo.ListLedgerEntries(ctx, nil, repo.LedgerFilters{PartyID: "bob"})
	require.NoError(t, err)
	require.Empty(t, entries)
}
