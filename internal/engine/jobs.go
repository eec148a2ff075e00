package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gigescrow/internal/domain"
	"gigescrow/internal/engine/auth"
	"gigescrow/internal/events"
	"gigescrow/internal/repo"
)

// CreateJobOptions are parameters for posting a job.
type CreateJobOptions struct {
	Client      string
	Title       string
	Description string
	Budget      uint64
	Deadline    string
	Skills      []string
	Attachments []string
}

func (e Engine) CreateJob(ctx context.Context, opts CreateJobOptions) (job domain.Job, err error) {
	defer e.observe("create_job", time.Now(), &err)
	if err := auth.RequireActor(opts.Client); err != nil {
		return domain.Job{}, err
	}
	if err := e.requireExternalParty(opts.Client, "create job"); err != nil {
		return domain.Job{}, err
	}
	if opts.Budget == 0 || opts.Budget > domain.MaxAmount {
		return domain.Job{}, fmt.Errorf("budget %d: %w", opts.Budget, domain.ErrInvalidBudget)
	}
	deadline, err := normalizeDeadline(opts.Deadline)
	if err != nil {
		return domain.Job{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	now := e.timestamp()
	job = domain.Job{
		ID:               uuid.NewString(),
		ClientID:         opts.Client,
		Title:            opts.Title,
		Description:      opts.Description,
		Budget:           opts.Budget,
		Deadline:         deadline,
		RequiredSkills:   normalizeSet(opts.Skills),
		AttachmentHashes: normalizeSet(opts.Attachments),
		Status:           domain.JobOpen,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.Repo.InsertJob(ctx, tx, job); err != nil {
		return domain.Job{}, fmt.Errorf("insert job: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.JobCreated, job.ID, "job", job.ID, opts.Client, events.EventPayload{
		"status": job.Status,
		"budget": job.Budget,
	}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	e.log().Info("job created", zap.String("job_id", job.ID), zap.String("client", job.ClientID), zap.Uint64("budget", job.Budget))
	return job, nil
}

// CancelJob terminates an open or in-progress job. Funded milestones are
// refunded to the client in full and unfunded ones are cancelled.
func (e Engine) CancelJob(ctx context.Context, jobID, caller string) (job domain.Job, err error) {
	defer e.observe("cancel_job", time.Now(), &err)
	unlock := e.lockJob(jobID)
	defer unlock()
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	job, err = e.loadJob(ctx, tx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if err := auth.RequireParty(job, caller, "cancel job"); err != nil {
		return domain.Job{}, err
	}
	if job.Status.Terminal() {
		return domain.Job{}, fmt.Errorf("job %s is %s: %w", jobID, job.Status, domain.ErrAlreadyTerminal)
	}

	milestones, err := e.Repo.ListMilestones(ctx, tx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	var refunded uint64
	for _, m := range milestones {
		if m.Status != domain.MilestonePending && m.Status != domain.MilestoneFunded {
			continue
		}
		amount, err := e.cancelMilestone(ctx, tx, m, caller)
		if err != nil {
			return domain.Job{}, err
		}
		refunded += amount
	}
	rejected, err := e.Proposals.RejectSiblings(ctx, tx, jobID, "")
	if err != nil {
		return domain.Job{}, err
	}
	for _, p := range rejected {
		if err := e.Events.Append(ctx, tx, events.ProposalRejected, jobID, "proposal", p.ID, caller, events.EventPayload{"status": p.Status}); err != nil {
			return domain.Job{}, err
		}
	}

	now := e.timestamp()
	if err := e.Repo.UpdateJobState(ctx, tx, jobID, domain.JobCancelled, nil, now); err != nil {
		return domain.Job{}, fmt.Errorf("cancel job: %w", err)
	}
	job.Status = domain.JobCancelled
	job.FreelancerID = nil
	job.UpdatedAt = now
	if err := e.Events.Append(ctx, tx, events.JobCancelled, jobID, "job", jobID, caller, events.EventPayload{
		"status":   job.Status,
		"refunded": refunded,
	}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	settled("refund", refunded)
	e.log().Info("job cancelled", zap.String("job_id", jobID), zap.String("caller", caller), zap.Uint64("refunded", refunded))
	return job, nil
}

// cancelMilestone refunds a funded milestone, marks it cancelled and
// appends the event. It returns the refunded amount.
func (e Engine) cancelMilestone(ctx context.Context, tx *sql.Tx, m domain.Milestone, caller string) (uint64, error) {
	var refunded uint64
	if m.Status == domain.MilestoneFunded {
		if m.PaymentID == nil {
			return 0, fmt.Errorf("milestone %s funded without payment", m.ID)
		}
		amount, err := e.Vault.Refund(ctx, tx, e.marketplace(), *m.PaymentID)
		if err != nil {
			return 0, fmt.Errorf("refund milestone %s: %w", m.ID, err)
		}
		refunded = amount
	}
	if err := e.Repo.SetMilestoneStatus(ctx, tx, m.ID, m.Status, domain.MilestoneCancelled, nil, e.timestamp()); err != nil {
		return 0, fmt.Errorf("cancel milestone %s: %w", m.ID, err)
	}
	if err := e.Events.Append(ctx, tx, events.MilestoneCancelled, m.JobID, "milestone", m.ID, caller, events.EventPayload{
		"status":   domain.MilestoneCancelled,
		"refunded": refunded,
	}); err != nil {
		return 0, err
	}
	return refunded, nil
}

func (e Engine) GetJob(ctx context.Context, jobID string) (domain.Job, error) {
	return e.loadJob(ctx, nil, jobID)
}

func (e Engine) ListJobs(ctx context.Context, f repo.JobFilters) ([]domain.Job, error) {
	return e.Repo.ListJobs(ctx, nil, f)
}

// VaultBalance is the amount the vault holds for a job.
func (e Engine) VaultBalance(ctx context.Context, jobID string) (uint64, error) {
	if _, err := e.loadJob(ctx, nil, jobID); err != nil {
		return 0, err
	}
	return e.Vault.JobBalance(ctx, nil, jobID)
}
