package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gigescrow/internal/domain"
	"gigescrow/internal/engine/auth"
	"gigescrow/internal/events"
	"gigescrow/internal/reputation"
)

type SubmitReviewOptions struct {
	JobID   string
	Caller  string
	Rating  int
	Comment string
}

// SubmitReview rates the other party of a completed job. Each party reviews
// a job at most once.
func (e Engine) SubmitReview(ctx context.Context, opts SubmitReviewOptions) (rv domain.Review, err error) {
	defer e.observe("submit_review", time.Now(), &err)
	unlock := e.lockJob(opts.JobID)
	defer unlock()
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Review{}, err
	}
	defer tx.Rollback()

	job, err := e.loadJob(ctx, tx, opts.JobID)
	if err != nil {
		return domain.Review{}, err
	}
	if job.Status != domain.JobCompleted {
		return domain.Review{}, fmt.Errorf("job %s is %s: %w", job.ID, job.Status, domain.ErrJobNotCompleted)
	}
	if err := auth.RequireParty(job, opts.Caller, "submit review"); err != nil {
		return domain.Review{}, err
	}
	if !reputation.ValidRating(opts.Rating) {
		return domain.Review{}, fmt.Errorf("rating %d: %w", opts.Rating, domain.ErrInvalidRating)
	}
	dup, err := e.Repo.HasReview(ctx, tx, job.ID, opts.Caller)
	if err != nil {
		return domain.Review{}, err
	}
	if dup {
		return domain.Review{}, fmt.Errorf("%s already reviewed job %s: %w", opts.Caller, job.ID, domain.ErrDuplicateReview)
	}
	rv = domain.Review{
		ID:         uuid.NewString(),
		JobID:      job.ID,
		ReviewerID: opts.Caller,
		RevieweeID: auth.Counterparty(job, opts.Caller),
		Rating:     opts.Rating,
		Comment:    opts.Comment,
		CreatedAt:  e.timestamp(),
	}
	if err := e.Repo.InsertReview(ctx, tx, rv); err != nil {
		return domain.Review{}, fmt.Errorf("insert review: %w", err)
	}
	if err := e.Reputation.Record(ctx, tx, rv.RevieweeID, rv.Rating); err != nil {
		return domain.Review{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ReviewSubmitted, job.ID, "review", rv.ID, opts.Caller, events.EventPayload{
		"reviewee": rv.RevieweeID,
		"rating":   rv.Rating,
	}); err != nil {
		return domain.Review{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Review{}, err
	}
	return rv, nil
}

func (e Engine) ListReviews(ctx context.Context, jobID string) ([]domain.Review, error) {
	if _, err := e.loadJob(ctx, nil, jobID); err != nil {
		return nil, err
	}
	return e.Repo.ListReviews(ctx, nil, jobID)
}

func (e Engine) GetReputation(ctx context.Context, partyID string) (domain.Reputation, error) {
	if err := auth.RequireActor(partyID); err != nil {
		return domain.Reputation{}, err
	}
	return e.Reputation.Get(ctx, nil, partyID)
}
