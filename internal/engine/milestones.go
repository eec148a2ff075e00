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
	"gigescrow/internal/escrow"
	"gigescrow/internal/events"
	"gigescrow/internal/metrics"
)

// CreateMilestoneOptions are parameters for splitting a job into a payable
// deliverable.
type CreateMilestoneOptions struct {
	JobID       string
	Caller      string
	Description string
	Amount      uint64
	Deadline    string
}

func (e Engine) CreateMilestone(ctx context.Context, opts CreateMilestoneOptions) (m domain.Milestone, err error) {
	defer e.observe("create_milestone", time.Now(), &err)
	unlock := e.lockJob(opts.JobID)
	defer unlock()
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Milestone{}, err
	}
	defer tx.Rollback()

	job, err := e.activeJob(ctx, tx, opts.JobID, opts.Caller, "create milestone")
	if err != nil {
		return domain.Milestone{}, err
	}
	if opts.Amount == 0 || opts.Amount > domain.MaxAmount {
		return domain.Milestone{}, fmt.Errorf("milestone amount %d: %w", opts.Amount, domain.ErrInvalidAmount)
	}
	committed, err := e.Repo.CommittedAmount(ctx, tx, job.ID)
	if err != nil {
		return domain.Milestone{}, err
	}
	if committed > job.Budget || opts.Amount > job.Budget-committed {
		return domain.Milestone{}, fmt.Errorf("milestone %d with %d of %d committed: %w", opts.Amount, committed, job.Budget, domain.ErrBudgetExceeded)
	}
	deadline, err := normalizeDeadline(opts.Deadline)
	if err != nil {
		return domain.Milestone{}, err
	}
	now := e.timestamp()
	m = domain.Milestone{
		ID:          uuid.NewString(),
		JobID:       job.ID,
		Description: opts.Description,
		Amount:      opts.Amount,
		Deadline:    deadline,
		Status:      domain.MilestonePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertMilestone(ctx, tx, m); err != nil {
		return domain.Milestone{}, fmt.Errorf("insert milestone: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.MilestoneCreated, job.ID, "milestone", m.ID, opts.Caller, events.EventPayload{
		"status": m.Status,
		"amount": m.Amount,
	}); err != nil {
		return domain.Milestone{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Milestone{}, err
	}
	return m, nil
}

// FundMilestone deposits the milestone amount from the client into escrow.
func (e Engine) FundMilestone(ctx context.Context, jobID, milestoneID, caller string) (domain.EscrowPayment, error) {
	return e.FundMilestoneWith(ctx, jobID, milestoneID, caller, 0)
}

// FundMilestoneWith is FundMilestone with an explicit deposit. A zero funds
// value deposits exactly the milestone amount; any other value must match it.
func (e Engine) FundMilestoneWith(ctx context.Context, jobID, milestoneID, caller string, funds uint64) (p domain.EscrowPayment, err error) {
	defer e.observe("fund_milestone", time.Now(), &err)
	unlock := e.lockJob(jobID)
	defer unlock()
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.EscrowPayment{}, err
	}
	defer tx.Rollback()

	job, err := e.activeJob(ctx, tx, jobID, caller, "fund milestone")
	if err != nil {
		return domain.EscrowPayment{}, err
	}
	m, err := e.loadMilestone(ctx, tx, jobID, milestoneID)
	if err != nil {
		return domain.EscrowPayment{}, err
	}
	switch m.Status {
	case domain.MilestonePending:
	case domain.MilestoneCancelled:
		return domain.EscrowPayment{}, fmt.Errorf("milestone %s is cancelled: %w", m.ID, domain.ErrMilestoneSettled)
	default:
		return domain.EscrowPayment{}, fmt.Errorf("milestone %s is %s: %w", m.ID, m.Status, domain.ErrAlreadyFunded)
	}
	if funds == 0 {
		funds = m.Amount
	}
	p, err = e.Vault.Deposit(ctx, tx, e.marketplace(), escrow.DepositRequest{
		JobID:       job.ID,
		MilestoneID: m.ID,
		Client:      job.ClientID,
		Freelancer:  job.Freelancer(),
		Expected:    m.Amount,
		Funds:       funds,
	})
	if err != nil {
		return domain.EscrowPayment{}, err
	}
	if err := e.Repo.SetMilestoneStatus(ctx, tx, m.ID, domain.MilestonePending, domain.MilestoneFunded, &p.ID, e.timestamp()); err != nil {
		return domain.EscrowPayment{}, fmt.Errorf("fund milestone: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.MilestoneFunded, job.ID, "milestone", m.ID, caller, events.EventPayload{
		"status":     domain.MilestoneFunded,
		"payment_id": p.ID,
		"amount":     p.Amount,
	}); err != nil {
		return domain.EscrowPayment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.EscrowPayment{}, err
	}
	metrics.Deposited.Add(float64(p.Amount))
	e.log().Info("milestone funded", zap.String("job_id", job.ID), zap.String("milestone_id", m.ID), zap.Uint64("amount", p.Amount))
	return p, nil
}

// ReleaseMilestone pays a funded milestone to the freelancer, net of the
// protocol fee. The job completes once no live milestone is left unpaid.
func (e Engine) ReleaseMilestone(ctx context.Context, jobID, milestoneID, caller string) (res domain.Settlement, err error) {
	defer e.observe("release_milestone", time.Now(), &err)
	unlock := e.lockJob(jobID)
	defer unlock()
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Settlement{}, err
	}
	defer tx.Rollback()

	job, err := e.clientJob(ctx, tx, jobID, caller, "release milestone")
	if err != nil {
		return domain.Settlement{}, err
	}
	m, err := e.loadMilestone(ctx, tx, jobID, milestoneID)
	if err != nil {
		return domain.Settlement{}, err
	}
	// Settled milestones report their own state even after the job completes.
	switch m.Status {
	case domain.MilestoneFunded:
	case domain.MilestoneCompleted:
		return domain.Settlement{}, fmt.Errorf("milestone %s: %w", m.ID, domain.ErrAlreadyReleased)
	case domain.MilestoneCancelled:
		return domain.Settlement{}, fmt.Errorf("milestone %s is cancelled: %w", m.ID, domain.ErrMilestoneSettled)
	default:
		return domain.Settlement{}, fmt.Errorf("milestone %s is %s: %w", m.ID, m.Status, domain.ErrNotFunded)
	}
	if err := requireInProgress(job); err != nil {
		return domain.Settlement{}, err
	}
	if m.PaymentID == nil {
		return domain.Settlement{}, fmt.Errorf("milestone %s funded without payment", m.ID)
	}
	payout, fee, err := e.Vault.Release(ctx, tx, e.marketplace(), *m.PaymentID)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("release milestone %s: %w", m.ID, err)
	}
	now := e.timestamp()
	if err := e.Repo.SetMilestoneStatus(ctx, tx, m.ID, domain.MilestoneFunded, domain.MilestoneCompleted, nil, now); err != nil {
		return domain.Settlement{}, fmt.Errorf("complete milestone: %w", err)
	}
	m.Status = domain.MilestoneCompleted
	m.UpdatedAt = now
	if err := e.Events.Append(ctx, tx, events.MilestoneReleased, job.ID, "milestone", m.ID, caller, events.EventPayload{
		"status":     m.Status,
		"payment_id": *m.PaymentID,
		"payout":     payout,
		"fee":        fee,
	}); err != nil {
		return domain.Settlement{}, err
	}
	jobStatus, err := e.completeIfDone(ctx, tx, job, caller)
	if err != nil {
		return domain.Settlement{}, err
	}
	payment, err := e.Repo.GetPayment(ctx, tx, *m.PaymentID)
	if err != nil {
		return domain.Settlement{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Settlement{}, err
	}
	settled("payout", payout)
	settled("fee", fee)
	e.log().Info("milestone released",
		zap.String("job_id", job.ID),
		zap.String("milestone_id", m.ID),
		zap.Uint64("payout", payout),
		zap.Uint64("fee", fee),
		zap.String("job_status", string(jobStatus)))
	return domain.Settlement{Milestone: m, Payment: payment, Payout: payout, Fee: fee, JobStatus: jobStatus}, nil
}

// CancelMilestone withdraws a milestone that has not been released. A funded
// milestone is refunded to the client and its amount returns to the budget.
func (e Engine) CancelMilestone(ctx context.Context, jobID, milestoneID, caller string) (m domain.Milestone, err error) {
	defer e.observe("cancel_milestone", time.Now(), &err)
	unlock := e.lockJob(jobID)
	defer unlock()
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Milestone{}, err
	}
	defer tx.Rollback()

	job, err := e.clientJob(ctx, tx, jobID, caller, "cancel milestone")
	if err != nil {
		return domain.Milestone{}, err
	}
	m, err = e.loadMilestone(ctx, tx, jobID, milestoneID)
	if err != nil {
		return domain.Milestone{}, err
	}
	if m.Status != domain.MilestonePending && m.Status != domain.MilestoneFunded {
		return domain.Milestone{}, fmt.Errorf("milestone %s is %s: %w", m.ID, m.Status, domain.ErrMilestoneSettled)
	}
	if err := requireInProgress(job); err != nil {
		return domain.Milestone{}, err
	}
	refunded, err := e.cancelMilestone(ctx, tx, m, caller)
	if err != nil {
		return domain.Milestone{}, err
	}
	if _, err := e.completeIfDone(ctx, tx, job, caller); err != nil {
		return domain.Milestone{}, err
	}
	m, err = e.Repo.GetMilestone(ctx, tx, m.ID)
	if err != nil {
		return domain.Milestone{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Milestone{}, err
	}
	settled("refund", refunded)
	return m, nil
}

func (e Engine) ListMilestones(ctx context.Context, jobID string) ([]domain.Milestone, error) {
	if _, err := e.loadJob(ctx, nil, jobID); err != nil {
		return nil, err
	}
	return e.Repo.ListMilestones(ctx, nil, jobID)
}

func (e Engine) GetPayment(ctx context.Context, paymentID string) (domain.EscrowPayment, error) {
	p, err := e.Repo.GetPayment(ctx, nil, paymentID)
	if err != nil {
		return p, fmt.Errorf("payment %s: %w", paymentID, err)
	}
	return p, nil
}

func (e Engine) ListPayments(ctx context.Context, jobID string) ([]domain.EscrowPayment, error) {
	if _, err := e.loadJob(ctx, nil, jobID); err != nil {
		return nil, err
	}
	return e.Repo.ListPayments(ctx, nil, jobID)
}

// activeJob loads a job the caller manages as client and checks it is in
// progress.
func (e Engine) activeJob(ctx context.Context, tx *sql.Tx, jobID, caller, action string) (domain.Job, error) {
	job, err := e.clientJob(ctx, tx, jobID, caller, action)
	if err != nil {
		return job, err
	}
	return job, requireInProgress(job)
}

// clientJob loads a job the caller manages as client, whatever its status.
func (e Engine) clientJob(ctx context.Context, tx *sql.Tx, jobID, caller, action string) (domain.Job, error) {
	job, err := e.loadJob(ctx, tx, jobID)
	if err != nil {
		return job, err
	}
	if err := auth.RequireClient(job, caller, action); err != nil {
		return job, err
	}
	return job, nil
}

func requireInProgress(job domain.Job) error {
	if job.Status != domain.JobInProgress {
		return fmt.Errorf("job %s is %s: %w", job.ID, job.Status, domain.ErrJobNotActive)
	}
	return nil
}

// completeIfDone moves the job to completed when at least one milestone is
// completed and every other one is completed or cancelled.
func (e Engine) completeIfDone(ctx context.Context, tx *sql.Tx, job domain.Job, caller string) (domain.JobStatus, error) {
	milestones, err := e.Repo.ListMilestones(ctx, tx, job.ID)
	if err != nil {
		return job.Status, err
	}
	completed := 0
	for _, m := range milestones {
		switch m.Status {
		case domain.MilestoneCompleted:
			completed++
		case domain.MilestoneCancelled:
		default:
			return job.Status, nil
		}
	}
	if completed == 0 {
		return job.Status, nil
	}
	if err := e.Repo.UpdateJobState(ctx, tx, job.ID, domain.JobCompleted, job.FreelancerID, e.timestamp()); err != nil {
		return job.Status, fmt.Errorf("complete job: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.JobCompleted, job.ID, "job", job.ID, caller, events.EventPayload{
		"status":     domain.JobCompleted,
		"milestones": completed,
	}); err != nil {
		return job.Status, err
	}
	return domain.JobCompleted, nil
}

func settled(kind string, amount uint64) {
	if amount > 0 {
		metrics.Settled.WithLabelValues(kind).Add(float64(amount))
	}
}
