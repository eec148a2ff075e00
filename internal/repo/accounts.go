package repo

import (
	"context"
	"database/sql"
	"errors"

	"gigescrow/internal/domain"
)

func (r Repo) GetAccount(ctx context.Context, q Queryer, partyID string) (domain.Account, error) {
	var a domain.Account
	err := r.on(q).QueryRowContext(ctx, `SELECT party_id,balance,updated_at FROM accounts WHERE party_id=?`, partyID).
		Scan(&a.PartyID, &a.Balance, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{PartyID: partyID}, ErrNotFound
	}
	return a, err
}

func (r Repo) EnsureAccount(ctx context.Context, q Queryer, partyID, now string) error {
	_, err := r.on(q).ExecContext(ctx, `INSERT OR IGNORE INTO accounts(party_id,balance,updated_at) VALUES (?,0,?)`, partyID, now)
	return err
}

// SetBalance overwrites the stored balance. Callers compute the new value
// inside the same transaction.
func (r Repo) SetBalance(ctx context.Context, q Queryer, partyID string, balance uint64, now string) error {
	res, err := r.on(q).ExecContext(ctx, `UPDATE accounts SET balance=?, updated_at=? WHERE party_id=?`, int64(balance), now, partyID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r Repo) InsertLedgerEntry(ctx context.Context, q Queryer, e domain.LedgerEntry) error {
	_, err := r.on(q).ExecContext(ctx, `INSERT INTO ledger_entries(transfer_id,party_id,entry_type,amount,memo,job_id,balance,ts) VALUES (?,?,?,?,?,?,?,?)`,
		e.TransferID, e.PartyID, string(e.EntryType), int64(e.Amount), nullable(e.Memo), nullable(e.JobID), int64(e.Balance), e.TS)
	return err
}

type LedgerFilters struct {
	PartyID    string
	JobID      string
	TransferID string
	Limit      int
}

func (r Repo) ListLedgerEntries(ctx context.Context, q Queryer, f LedgerFilters) ([]domain.LedgerEntry, error) {
	var clauses []string
	var args []any
	if f.PartyID != "" {
		clauses = append(clauses, "party_id=?")
		args = append(args, f.PartyID)
	}
	if f.JobID != "" {
		clauses = append(clauses, "job_id=?")
		args = append(args, f.JobID)
	}
	if f.TransferID != "" {
		clauses = append(clauses, "transfer_id=?")
		args = append(args, f.TransferID)
	}
	query := `SELECT id,transfer_id,party_id,entry_type,amount,memo,job_id,balance,ts FROM ledger_entries ` + where(clauses) + ` ORDER BY id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.on(q).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var memo, jobID sql.NullString
		if err := rows.Scan(&e.ID, &e.TransferID, &e.PartyID, &e.EntryType, &e.Amount, &memo, &jobID, &e.Balance, &e.TS); err != nil {
			return nil, err
		}
		e.Memo = memo.String
		e.JobID = jobID.String
		res = append(res, e)
	}
	return res, rows.Err()
}
