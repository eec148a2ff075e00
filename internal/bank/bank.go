// Package bank keeps party balances as a double-entry ledger. Every transfer
// writes one debit row and one credit row under a shared transfer id.
package bank

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gigescrow/internal/domain"
	"gigescrow/internal/repo"
)

// MintMemo marks issuance rows, which have no debit side.
const MintMemo = "mint"

type Ledger struct {
	Repo repo.Repo
	Now  func() time.Time
}

type Transfer struct {
	From   string
	To     string
	Amount uint64
	Memo   string
	JobID  string
}

func (l Ledger) now() string {
	now := l.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339)
}

// Balance returns zero for parties that never held funds.
func (l Ledger) Balance(ctx context.Context, q repo.Queryer, partyID string) (uint64, error) {
	acct, err := l.Repo.GetAccount(ctx, q, partyID)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// Transfer moves amount between two accounts and returns the transfer id.
func (l Ledger) Transfer(ctx context.Context, q repo.Queryer, t Transfer) (string, error) {
	if t.Amount == 0 || t.Amount > domain.MaxAmount {
		return "", fmt.Errorf("transfer %d: %w", t.Amount, domain.ErrInvalidAmount)
	}
	if t.From == "" || t.To == "" {
		return "", domain.ErrMissingActor
	}
	if t.From == t.To {
		return "", fmt.Errorf("transfer to self: %w", domain.ErrInvalidAmount)
	}
	ts := l.now()
	from, err := l.Balance(ctx, q, t.From)
	if err != nil {
		return "", err
	}
	if from < t.Amount {
		return "", fmt.Errorf("%s holds %d, needs %d: %w", t.From, from, t.Amount, domain.ErrInsufficientFunds)
	}
	to, err := l.Balance(ctx, q, t.To)
	if err != nil {
		return "", err
	}
	if to > domain.MaxAmount-t.Amount {
		return "", fmt.Errorf("credit %s overflows: %w", t.To, domain.ErrInvalidAmount)
	}
	id := uuid.NewString()
	if err := l.post(ctx, q, id, t.From, domain.EntryDebit, t.Amount, from-t.Amount, t.Memo, t.JobID, ts); err != nil {
		return "", err
	}
	if err := l.post(ctx, q, id, t.To, domain.EntryCredit, t.Amount, to+t.Amount, t.Memo, t.JobID, ts); err != nil {
		return "", err
	}
	return id, nil
}

// Mint credits new funds to a party.
func (l Ledger) Mint(ctx context.Context, q repo.Queryer, partyID string, amount uint64) (string, error) {
	if amount == 0 || amount > domain.MaxAmount {
		return "", fmt.Errorf("mint %d: %w", amount, domain.ErrInvalidAmount)
	}
	if partyID == "" {
		return "", domain.ErrMissingActor
	}
	bal, err := l.Balance(ctx, q, partyID)
	if err != nil {
		return "", err
	}
	if bal > domain.MaxAmount-amount {
		return "", fmt.Errorf("mint to %s overflows: %w", partyID, domain.ErrInvalidAmount)
	}
	id := uuid.NewString()
	if err := l.post(ctx, q, id, partyID, domain.EntryCredit, amount, bal+amount, MintMemo, "", l.now()); err != nil {
		return "", err
	}
	return id, nil
}

func (l Ledger) post(ctx context.Context, q repo.Queryer, transferID, partyID string, side domain.EntryType, amount, balance uint64, memo, jobID, ts string) error {
	if err := l.Repo.EnsureAccount(ctx, q, partyID, ts); err != nil {
		return fmt.Errorf("open account %s: %w", partyID, err)
	}
	if err := l.Repo.SetBalance(ctx, q, partyID, balance, ts); err != nil {
		return fmt.Errorf("set balance %s: %w", partyID, err)
	}
	return l.Repo.InsertLedgerEntry(ctx, q, domain.LedgerEntry{
		TransferID: transferID,
		PartyID:    partyID,
		EntryType:  side,
		Amount:     amount,
		Memo:       memo,
		JobID:      jobID,
		Balance:    balance,
		TS:         ts,
	})
}
