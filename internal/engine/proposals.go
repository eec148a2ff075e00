package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gigescrow/internal/domain"
	"gigescrow/internal/engine/auth"
	"gigescrow/internal/events"
)

// SubmitProposalOptions are parameters for bidding on a job.
type SubmitProposalOptions struct {
	JobID         string
	Freelancer    string
	Price         uint64
	EstimatedTime string
	CoverLetter   string
}

func (e Engine) SubmitProposal(ctx context.Context, opts SubmitProposalOptions) (p domain.Proposal, err error) {
	defer e.observe("submit_proposal", time.Now(), &err)
	if err := auth.RequireActor(opts.Freelancer); err != nil {
		return domain.Proposal{}, err
	}
	if err := e.requireExternalParty(opts.Freelancer, "submit proposal"); err != nil {
		return domain.Proposal{}, err
	}
	unlock := e.lockJob(opts.JobID)
	defer unlock()
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()

	job, err := e.loadJob(ctx, tx, opts.JobID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if job.Status != domain.JobOpen {
		return domain.Proposal{}, fmt.Errorf("job %s is %s: %w", job.ID, job.Status, domain.ErrJobNotOpen)
	}
	if opts.Freelancer == job.ClientID {
		return domain.Proposal{}, auth.ForbiddenError{Action: "submit proposal", Role: "someone other than the client", Caller: opts.Freelancer}
	}
	p, err = e.Proposals.Submit(ctx, tx, domain.Proposal{
		JobID:         job.ID,
		FreelancerID:  opts.Freelancer,
		Price:         opts.Price,
		EstimatedTime: opts.EstimatedTime,
		CoverLetter:   opts.CoverLetter,
	})
	if err != nil {
		return domain.Proposal{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ProposalSubmitted, job.ID, "proposal", p.ID, opts.Freelancer, events.EventPayload{
		"status": p.Status,
		"price":  p.Price,
	}); err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}
	e.log().Info("proposal submitted", zap.String("job_id", job.ID), zap.String("proposal_id", p.ID), zap.String("freelancer", p.FreelancerID))
	return p, nil
}

// AcceptProposal binds the proposing freelancer to the job and rejects every
// other pending proposal.
func (e Engine) AcceptProposal(ctx context.Context, jobID, caller, proposalID string) (job domain.Job, err error) {
	defer e.observe("accept_proposal", time.Now(), &err)
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
	if err := auth.RequireClient(job, caller, "accept proposal"); err != nil {
		return domain.Job{}, err
	}
	if job.Status != domain.JobOpen {
		return domain.Job{}, fmt.Errorf("job %s is %s: %w", jobID, job.Status, domain.ErrJobNotOpen)
	}
	p, err := e.Proposals.Get(ctx, tx, jobID, proposalID)
	if err != nil {
		return domain.Job{}, err
	}
	p, err = e.Proposals.Accept(ctx, tx, p)
	if err != nil {
		return domain.Job{}, err
	}
	rejected, err := e.Proposals.RejectSiblings(ctx, tx, jobID, p.ID)
	if err != nil {
		return domain.Job{}, err
	}

	now := e.timestamp()
	freelancer := p.FreelancerID
	if err := e.Repo.UpdateJobState(ctx, tx, jobID, domain.JobInProgress, &freelancer, now); err != nil {
		return domain.Job{}, fmt.Errorf("bind freelancer: %w", err)
	}
	job.Status = domain.JobInProgress
	job.FreelancerID = &freelancer
	job.UpdatedAt = now

	if err := e.Events.Append(ctx, tx, events.ProposalAccepted, jobID, "proposal", p.ID, caller, events.EventPayload{
		"status":     p.Status,
		"freelancer": freelancer,
		"job_status": job.Status,
	}); err != nil {
		return domain.Job{}, err
	}
	for _, r := range rejected {
		if err := e.Events.Append(ctx, tx, events.ProposalRejected, jobID, "proposal", r.ID, caller, events.EventPayload{"status": r.Status}); err != nil {
			return domain.Job{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	e.log().Info("proposal accepted", zap.String("job_id", jobID), zap.String("proposal_id", p.ID), zap.String("freelancer", freelancer), zap.Int("rejected", len(rejected)))
	return job, nil
}

// WithdrawProposal lets a freelancer retract a pending bid on an open job.
func (e Engine) WithdrawProposal(ctx context.Context, jobID, proposalID, caller string) (p domain.Proposal, err error) {
	defer e.observe("withdraw_proposal", time.Now(), &err)
	if err := auth.RequireActor(caller); err != nil {
		return domain.Proposal{}, err
	}
	unlock := e.lockJob(jobID)
	defer unlock()
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()

	job, err := e.loadJob(ctx, tx, jobID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if job.Status != domain.JobOpen {
		return domain.Proposal{}, fmt.Errorf("job %s is %s: %w", jobID, job.Status, domain.ErrJobNotOpen)
	}
	p, err = e.Proposals.Get(ctx, tx, jobID, proposalID)
	if err != nil {
		return domain.Proposal{}, err
	}
	p, err = e.Proposals.Withdraw(ctx, tx, p, caller)
	if err != nil {
		return domain.Proposal{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ProposalWithdrawn, jobID, "proposal", p.ID, caller, events.EventPayload{"status": p.Status}); err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}
	return p, nil
}

// ListProposals returns a job's proposals in submission order. An empty
// status returns all of them.
func (e Engine) ListProposals(ctx context.Context, jobID string, status domain.ProposalStatus) ([]domain.Proposal, error) {
	if _, err := e.loadJob(ctx, nil, jobID); err != nil {
		return nil, err
	}
	if status == domain.ProposalPending {
		return e.Proposals.ListActive(ctx, nil, jobID)
	}
	return e.Repo.ListProposals(ctx, nil, jobID, status)
}
