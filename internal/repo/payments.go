package repo

import (
	"context"
	"database/sql"
	"errors"

	"gigescrow/internal/domain"
)

const paymentColumns = `id,job_id,milestone_id,client_id,freelancer_id,amount,status,payout,fee,created_at,settled_at`

func scanPayment(row rowScanner) (domain.EscrowPayment, error) {
	var p domain.EscrowPayment
	var settled sql.NullString
	err := row.Scan(&p.ID, &p.JobID, &p.MilestoneID, &p.ClientID, &p.FreelancerID, &p.Amount, &p.Status, &p.Payout, &p.Fee, &p.CreatedAt, &settled)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	p.SettledAt = stringPtr(settled)
	return p, err
}

func (r Repo) InsertPayment(ctx context.Context, q Queryer, p domain.EscrowPayment) error {
	_, err := r.on(q).ExecContext(ctx, `INSERT INTO escrow_payments(`+paymentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.JobID, p.MilestoneID, p.ClientID, p.FreelancerID, int64(p.Amount), string(p.Status), int64(p.Payout), int64(p.Fee), p.CreatedAt, nullableStringPtr(p.SettledAt))
	return err
}

func (r Repo) GetPayment(ctx context.Context, q Queryer, id string) (domain.EscrowPayment, error) {
	return scanPayment(r.on(q).QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM escrow_payments WHERE id=?`, id))
}

func (r Repo) ListPayments(ctx context.Context, q Queryer, jobID string) ([]domain.EscrowPayment, error) {
	rows, err := r.on(q).QueryContext(ctx, `SELECT `+paymentColumns+` FROM escrow_payments WHERE job_id=? ORDER BY created_at ASC, rowid ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EscrowPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// SettlePayment moves a pending payment to a final status. Only a row still
// pending is touched, so a second settlement of the same payment finds
// nothing to update and returns ErrNotFound.
func (r Repo) SettlePayment(ctx context.Context, q Queryer, id string, to domain.PaymentStatus, payout, fee uint64, now string) error {
	res, err := r.on(q).ExecContext(ctx, `UPDATE escrow_payments SET status=?, payout=?, fee=?, settled_at=? WHERE id=? AND status=?`,
		string(to), int64(payout), int64(fee), now, id, string(domain.PaymentPending))
	if err != nil {
		return err
	}
	return expectOne(res)
}

// PendingAmount sums pending payments for a job, or across all jobs when
// jobID is empty.
func (r Repo) PendingAmount(ctx context.Context, q Queryer, jobID string) (uint64, error) {
	clauses := []string{"status=?"}
	args := []any{string(domain.PaymentPending)}
	if jobID != "" {
		clauses = append(clauses, "job_id=?")
		args = append(args, jobID)
	}
	var total int64
	err := r.on(q).QueryRowContext(ctx, `SELECT COALESCE(SUM(amount),0) FROM escrow_payments `+where(clauses), args...).Scan(&total)
	return uint64(total), err
}
