// Package proposals tracks freelancer bids on open jobs.
package proposals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gigescrow/internal/domain"
	"gigescrow/internal/repo"
)

type Manager struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (m Manager) now() string {
	now := m.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339)
}

// Submit stores a pending proposal. A freelancer holds at most one
// non-rejected proposal per job.
func (m Manager) Submit(ctx context.Context, q repo.Queryer, p domain.Proposal) (domain.Proposal, error) {
	if p.JobID == "" || p.FreelancerID == "" {
		return domain.Proposal{}, domain.ErrMissingActor
	}
	if p.Price > domain.MaxAmount {
		return domain.Proposal{}, fmt.Errorf("price %d: %w", p.Price, domain.ErrInvalidAmount)
	}
	active, err := m.Repo.HasActiveProposal(ctx, q, p.JobID, p.FreelancerID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if active {
		return domain.Proposal{}, fmt.Errorf("%s on job %s: %w", p.FreelancerID, p.JobID, domain.ErrDuplicateProposal)
	}
	ts := m.now()
	p.ID = uuid.NewString()
	p.Status = domain.ProposalPending
	p.CreatedAt = ts
	p.UpdatedAt = ts
	if err := m.Repo.InsertProposal(ctx, q, p); err != nil {
		return domain.Proposal{}, fmt.Errorf("insert proposal: %w", err)
	}
	return p, nil
}

// Get returns a proposal only if it belongs to jobID.
func (m Manager) Get(ctx context.Context, q repo.Queryer, jobID, proposalID string) (domain.Proposal, error) {
	p, err := m.Repo.GetProposal(ctx, q, proposalID)
	if err != nil {
		return p, fmt.Errorf("proposal %s: %w", proposalID, err)
	}
	if p.JobID != jobID {
		return domain.Proposal{}, fmt.Errorf("proposal %s on job %s: %w", proposalID, jobID, domain.ErrNotFound)
	}
	return p, nil
}

// ListActive returns the job's pending proposals in submission order.
func (m Manager) ListActive(ctx context.Context, q repo.Queryer, jobID string) ([]domain.Proposal, error) {
	return m.Repo.ListProposals(ctx, q, jobID, domain.ProposalPending)
}

// Accept marks a pending proposal accepted.
func (m Manager) Accept(ctx context.Context, q repo.Queryer, p domain.Proposal) (domain.Proposal, error) {
	return m.transition(ctx, q, p, domain.ProposalAccepted)
}

// Withdraw lets the proposing freelancer retract a pending proposal.
func (m Manager) Withdraw(ctx context.Context, q repo.Queryer, p domain.Proposal, caller string) (domain.Proposal, error) {
	if caller != p.FreelancerID {
		return domain.Proposal{}, fmt.Errorf("withdraw proposal %s: %w", p.ID, domain.ErrUnauthorized)
	}
	return m.transition(ctx, q, p, domain.ProposalRejected)
}

// RejectSiblings rejects every pending proposal on the job except keepID and
// returns the ones it rejected.
func (m Manager) RejectSiblings(ctx context.Context, q repo.Queryer, jobID, keepID string) ([]domain.Proposal, error) {
	pending, err := m.ListActive(ctx, q, jobID)
	if err != nil {
		return nil, err
	}
	var rejected []domain.Proposal
	for _, p := range pending {
		if p.ID == keepID {
			continue
		}
		p, err := m.transition(ctx, q, p, domain.ProposalRejected)
		if err != nil {
			return nil, err
		}
		rejected = append(rejected, p)
	}
	return rejected, nil
}

func (m Manager) transition(ctx context.Context, q repo.Queryer, p domain.Proposal, to domain.ProposalStatus) (domain.Proposal, error) {
	ts := m.now()
	err := m.Repo.SetProposalStatus(ctx, q, p.ID, domain.ProposalPending, to, ts)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Proposal{}, fmt.Errorf("proposal %s is %s: %w", p.ID, p.Status, domain.ErrProposalNotPending)
	}
	if err != nil {
		return domain.Proposal{}, err
	}
	p.Status = to
	p.UpdatedAt = ts
	return p, nil
}
