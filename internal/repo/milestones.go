package repo

import (
	"context"
	"database/sql"
	"errors"

	"gigescrow/internal/domain"
)

const milestoneColumns = `id,job_id,description,amount,deadline,status,payment_id,created_at,updated_at`

func scanMilestone(row rowScanner) (domain.Milestone, error) {
	var m domain.Milestone
	var desc, deadline, payment sql.NullString
	err := row.Scan(&m.ID, &m.JobID, &desc, &m.Amount, &deadline, &m.Status, &payment, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return m, ErrNotFound
	}
	m.Description = desc.String
	m.Deadline = deadline.String
	m.PaymentID = stringPtr(payment)
	return m, err
}

func (r Repo) InsertMilestone(ctx context.Context, q Queryer, m domain.Milestone) error {
	_, err := r.on(q).ExecContext(ctx, `INSERT INTO milestones(`+milestoneColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		m.ID, m.JobID, nullable(m.Description), int64(m.Amount), nullable(m.Deadline), string(m.Status), nullableStringPtr(m.PaymentID), m.CreatedAt, m.UpdatedAt)
	return err
}

func (r Repo) GetMilestone(ctx context.Context, q Queryer, id string) (domain.Milestone, error) {
	return scanMilestone(r.on(q).QueryRowContext(ctx, `SELECT `+milestoneColumns+` FROM milestones WHERE id=?`, id))
}

func (r Repo) ListMilestones(ctx context.Context, q Queryer, jobID string) ([]domain.Milestone, error) {
	rows, err := r.on(q).QueryContext(ctx, `SELECT `+milestoneColumns+` FROM milestones WHERE job_id=? ORDER BY seq ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// SetMilestoneStatus compare-and-swaps the milestone status. paymentID is
// written only when non-nil.
func (r Repo) SetMilestoneStatus(ctx context.Context, q Queryer, id string, from, to domain.MilestoneStatus, paymentID *string, now string) error {
	var (
		res sql.Result
		err error
	)
	if paymentID != nil {
		res, err = r.on(q).ExecContext(ctx, `UPDATE milestones SET status=?, payment_id=?, updated_at=? WHERE id=? AND status=?`,
			string(to), *paymentID, now, id, string(from))
	} else {
		res, err = r.on(q).ExecContext(ctx, `UPDATE milestones SET status=?, updated_at=? WHERE id=? AND status=?`,
			string(to), now, id, string(from))
	}
	if err != nil {
		return err
	}
	return expectOne(res)
}

// CommittedAmount sums the amounts of a job's non-cancelled milestones.
func (r Repo) CommittedAmount(ctx context.Context, q Queryer, jobID string) (uint64, error) {
	var total int64
	err := r.on(q).QueryRowContext(ctx, `SELECT COALESCE(SUM(amount),0) FROM milestones WHERE job_id=? AND status<>?`,
		jobID, string(domain.MilestoneCancelled)).Scan(&total)
	return uint64(total), err
}
