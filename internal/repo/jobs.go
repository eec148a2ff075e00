package repo

import (
	"context"
	"database/sql"
	"errors"

	"gigescrow/internal/domain"
)

const jobColumns = `id,client_id,freelancer_id,title,description,budget,deadline,required_skills_json,attachments_json,status,created_at,updated_at`

func scanJob(row rowScanner) (domain.Job, error) {
	var j domain.Job
	var freelancer, desc, deadline, skills, attachments sql.NullString
	err := row.Scan(&j.ID, &j.ClientID, &freelancer, &j.Title, &desc, &j.Budget, &deadline, &skills, &attachments, &j.Status, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	j.FreelancerID = stringPtr(freelancer)
	j.Description = desc.String
	j.Deadline = deadline.String
	if j.RequiredSkills, err = unmarshalList(skills); err != nil {
		return j, err
	}
	if j.AttachmentHashes, err = unmarshalList(attachments); err != nil {
		return j, err
	}
	return j, nil
}

func (r Repo) InsertJob(ctx context.Context, q Queryer, j domain.Job) error {
	skills, err := marshalList(j.RequiredSkills)
	if err != nil {
		return err
	}
	attachments, err := marshalList(j.AttachmentHashes)
	if err != nil {
		return err
	}
	_, err = r.on(q).ExecContext(ctx, `INSERT INTO jobs(`+jobColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.ClientID, nullableStringPtr(j.FreelancerID), j.Title, nullable(j.Description), int64(j.Budget),
		nullable(j.Deadline), skills, attachments, string(j.Status), j.CreatedAt, j.UpdatedAt)
	return err
}

func (r Repo) GetJob(ctx context.Context, q Queryer, id string) (domain.Job, error) {
	return scanJob(r.on(q).QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id))
}

// UpdateJobState writes status and freelancer binding together; the table
// CHECK rejects any pair that breaks the binding invariant.
func (r Repo) UpdateJobState(ctx context.Context, q Queryer, id string, status domain.JobStatus, freelancerID *string, now string) error {
	res, err := r.on(q).ExecContext(ctx, `UPDATE jobs SET status=?, freelancer_id=?, updated_at=? WHERE id=?`,
		string(status), nullableStringPtr(freelancerID), now, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

type JobFilters struct {
	ClientID     string
	FreelancerID string
	Status       string
	Limit        int
}

func (r Repo) ListJobs(ctx context.Context, q Queryer, f JobFilters) ([]domain.Job, error) {
	var clauses []string
	var args []any
	if f.ClientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	if f.FreelancerID != "" {
		clauses = append(clauses, "freelancer_id=?")
		args = append(args, f.FreelancerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + jobColumns + ` FROM jobs ` + where(clauses) + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.on(q).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}
