package repo

import (
	"context"
	"database/sql"
	"errors"

	"gigescrow/internal/domain"
)

func (r Repo) InsertReview(ctx context.Context, q Queryer, rv domain.Review) error {
	_, err := r.on(q).ExecContext(ctx, `INSERT INTO reviews(id,job_id,reviewer_id,reviewee_id,rating,comment,created_at) VALUES (?,?,?,?,?,?,?)`,
		rv.ID, rv.JobID, rv.ReviewerID, rv.RevieweeID, rv.Rating, nullable(rv.Comment), rv.CreatedAt)
	return err
}

func (r Repo) HasReview(ctx context.Context, q Queryer, jobID, reviewerID string) (bool, error) {
	var n int
	err := r.on(q).QueryRowContext(ctx, `SELECT COUNT(*) FROM reviews WHERE job_id=? AND reviewer_id=?`, jobID, reviewerID).Scan(&n)
	return n > 0, err
}

func (r Repo) ListReviews(ctx context.Context, q Queryer, jobID string) ([]domain.Review, error) {
	rows, err := r.on(q).QueryContext(ctx, `SELECT id,job_id,reviewer_id,reviewee_id,rating,comment,created_at FROM reviews WHERE job_id=? ORDER BY created_at ASC, rowid ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Review
	for rows.Next() {
		var rv domain.Review
		var comment sql.NullString
		if err := rows.Scan(&rv.ID, &rv.JobID, &rv.ReviewerID, &rv.RevieweeID, &rv.Rating, &comment, &rv.CreatedAt); err != nil {
			return nil, err
		}
		rv.Comment = comment.String
		res = append(res, rv)
	}
	return res, rows.Err()
}

// AddRating folds one rating into the party's running totals.
func (r Repo) AddRating(ctx context.Context, q Queryer, partyID string, rating int, now string) error {
	_, err := r.on(q).ExecContext(ctx, `INSERT INTO reputations(party_id,total_rating,review_count,updated_at) VALUES (?,?,1,?)
ON CONFLICT(party_id) DO UPDATE SET total_rating=total_rating+excluded.total_rating, review_count=review_count+1, updated_at=excluded.updated_at`,
		partyID, rating, now)
	return err
}

// GetReputation returns zero totals for a party that was never reviewed.
func (r Repo) GetReputation(ctx context.Context, q Queryer, partyID string) (domain.Reputation, error) {
	rep := domain.Reputation{PartyID: partyID}
	err := r.on(q).QueryRowContext(ctx, `SELECT total_rating,review_count FROM reputations WHERE party_id=?`, partyID).
		Scan(&rep.TotalRating, &rep.ReviewCount)
	if errors.Is(err, sql.ErrNoRows) {
		return rep, nil
	}
	return rep, err
}
