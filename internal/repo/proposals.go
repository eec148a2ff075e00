package repo

import (
	"context"
	"database/sql"
	"errors"

	"gigescrow/internal/domain"
)

const proposalColumns = `seq,id,job_id,freelancer_id,price,estimated_time,cover_letter,status,created_at,updated_at`

func scanProposal(row rowScanner) (domain.Proposal, error) {
	var p domain.Proposal
	var est, cover sql.NullString
	err := row.Scan(&p.Seq, &p.ID, &p.JobID, &p.FreelancerID, &p.Price, &est, &cover, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	p.EstimatedTime = est.String
	p.CoverLetter = cover.String
	return p, err
}

func (r Repo) InsertProposal(ctx context.Context, q Queryer, p domain.Proposal) error {
	_, err := r.on(q).ExecContext(ctx, `INSERT INTO proposals(id,job_id,freelancer_id,price,estimated_time,cover_letter,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.JobID, p.FreelancerID, int64(p.Price), nullable(p.EstimatedTime), nullable(p.CoverLetter), string(p.Status), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProposal(ctx context.Context, q Queryer, id string) (domain.Proposal, error) {
	return scanProposal(r.on(q).QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=?`, id))
}

// ListProposals returns a job's proposals in submission order, optionally
// restricted to one status.
func (r Repo) ListProposals(ctx context.Context, q Queryer, jobID string, status domain.ProposalStatus) ([]domain.Proposal, error) {
	clauses := []string{"job_id=?"}
	args := []any{jobID}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(status))
	}
	rows, err := r.on(q).QueryContext(ctx, `SELECT `+proposalColumns+` FROM proposals `+where(clauses)+` ORDER BY seq ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// HasActiveProposal reports whether freelancerID holds a non-rejected
// proposal on the job.
func (r Repo) HasActiveProposal(ctx context.Context, q Queryer, jobID, freelancerID string) (bool, error) {
	var n int
	err := r.on(q).QueryRowContext(ctx, `SELECT COUNT(*) FROM proposals WHERE job_id=? AND freelancer_id=? AND status<>?`,
		jobID, freelancerID, string(domain.ProposalRejected)).Scan(&n)
	return n > 0, err
}

// SetProposalStatus moves a proposal from one status to another. It returns
// ErrNotFound when the proposal is not in the expected status.
func (r Repo) SetProposalStatus(ctx context.Context, q Queryer, id string, from, to domain.ProposalStatus, now string) error {
	res, err := r.on(q).ExecContext(ctx, `UPDATE proposals SET status=?, updated_at=? WHERE id=? AND status=?`, string(to), now, id, string(from))
	if err != nil {
		return err
	}
	return expectOne(res)
}
