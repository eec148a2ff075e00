// Package escrow custodies milestone funds between funding and settlement.
//
// The vault trusts a single caller, the marketplace identity. Payment status
// is moved to its final value before any funds leave custody, so a transfer
// hook that calls back into the vault sees the payment as settled.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gigescrow/internal/bank"
	"gigescrow/internal/config"
	"gigescrow/internal/domain"
	"gigescrow/internal/fees"
	"gigescrow/internal/repo"
)

// Payer moves funds between party accounts. bank.Ledger is the production
// implementation.
type Payer interface {
	Transfer(ctx context.Context, q repo.Queryer, t bank.Transfer) (string, error)
}

type Vault struct {
	Repo        repo.Repo
	Payer       Payer
	Fees        fees.Distributor
	Marketplace string
	Custody     string
	Treasury    string
	Now         func() time.Time
}

type DepositRequest struct {
	JobID       string
	MilestoneID string
	Client      string
	Freelancer  string
	// Expected is the milestone amount; Funds is what the client sends.
	Expected uint64
	Funds    uint64
}

// New wires a vault for the deployment.
func New(dep config.Deployment, r repo.Repo, payer Payer) (*Vault, error) {
	dist, err := fees.New(dep.ProtocolFeeBps)
	if err != nil {
		return nil, err
	}
	if dep.Marketplace == "" || dep.Treasury == "" || dep.VaultAccount == "" {
		return nil, fmt.Errorf("vault: marketplace, treasury and vault_account are required")
	}
	return &Vault{
		Repo:        r,
		Payer:       payer,
		Fees:        dist,
		Marketplace: dep.Marketplace,
		Custody:     dep.VaultAccount,
		Treasury:    dep.Treasury,
	}, nil
}

func (v *Vault) now() string {
	now := v.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func (v *Vault) authorize(caller string) error {
	if caller == "" || caller != v.Marketplace {
		return fmt.Errorf("vault caller %q: %w", caller, domain.ErrUnauthorized)
	}
	return nil
}

// Deposit pulls Funds from the client into custody and opens a pending
// payment for the milestone.
func (v *Vault) Deposit(ctx context.Context, q repo.Queryer, caller string, req DepositRequest) (domain.EscrowPayment, error) {
	if err := v.authorize(caller); err != nil {
		return domain.EscrowPayment{}, err
	}
	if req.Expected == 0 || req.Expected > domain.MaxAmount {
		return domain.EscrowPayment{}, fmt.Errorf("deposit %d: %w", req.Expected, domain.ErrInvalidAmount)
	}
	if req.Funds != req.Expected {
		return domain.EscrowPayment{}, fmt.Errorf("deposit %d for milestone of %d: %w", req.Funds, req.Expected, domain.ErrAmountMismatch)
	}
	ts := v.now()
	if _, err := v.Payer.Transfer(ctx, q, bank.Transfer{
		From:   req.Client,
		To:     v.Custody,
		Amount: req.Funds,
		Memo:   "escrow deposit",
		JobID:  req.JobID,
	}); err != nil {
		return domain.EscrowPayment{}, fmt.Errorf("deposit: %w", err)
	}
	p := domain.EscrowPayment{
		ID:           uuid.NewString(),
		JobID:        req.JobID,
		MilestoneID:  req.MilestoneID,
		ClientID:     req.Client,
		FreelancerID: req.Freelancer,
		Amount:       req.Funds,
		Status:       domain.PaymentPending,
		CreatedAt:    ts,
	}
	if err := v.Repo.InsertPayment(ctx, q, p); err != nil {
		return domain.EscrowPayment{}, fmt.Errorf("insert payment: %w", err)
	}
	return p, nil
}

// Release pays the freelancer net of the protocol fee and sends the fee to
// the treasury.
func (v *Vault) Release(ctx context.Context, q repo.Queryer, caller, paymentID string) (payout, fee uint64, err error) {
	if err := v.authorize(caller); err != nil {
		return 0, 0, err
	}
	p, err := v.pending(ctx, q, paymentID)
	if err != nil {
		return 0, 0, err
	}
	payout, fee = v.Fees.Split(p.Amount)
	if err := v.settle(ctx, q, p.ID, domain.PaymentReleased, payout, fee); err != nil {
		return 0, 0, err
	}
	if payout > 0 {
		if _, err := v.Payer.Transfer(ctx, q, bank.Transfer{From: v.Custody, To: p.FreelancerID, Amount: payout, Memo: "escrow payout", JobID: p.JobID}); err != nil {
			return 0, 0, fmt.Errorf("payout: %w", err)
		}
	}
	if fee > 0 {
		if _, err := v.Payer.Transfer(ctx, q, bank.Transfer{From: v.Custody, To: v.Treasury, Amount: fee, Memo: "protocol fee", JobID: p.JobID}); err != nil {
			return 0, 0, fmt.Errorf("fee: %w", err)
		}
	}
	return payout, fee, nil
}

// Refund returns the full payment amount to the client.
func (v *Vault) Refund(ctx context.Context, q repo.Queryer, caller, paymentID string) (uint64, error) {
	if err := v.authorize(caller); err != nil {
		return 0, err
	}
	p, err := v.pending(ctx, q, paymentID)
	if err != nil {
		return 0, err
	}
	if err := v.settle(ctx, q, p.ID, domain.PaymentRefunded, 0, 0); err != nil {
		return 0, err
	}
	if _, err := v.Payer.Transfer(ctx, q, bank.Transfer{From: v.Custody, To: p.ClientID, Amount: p.Amount, Memo: "escrow refund", JobID: p.JobID}); err != nil {
		return 0, fmt.Errorf("refund: %w", err)
	}
	return p.Amount, nil
}

// JobBalance is the sum of the job's pending payments.
func (v *Vault) JobBalance(ctx context.Context, q repo.Queryer, jobID string) (uint64, error) {
	if jobID == "" {
		return 0, domain.ErrNotFound
	}
	return v.Repo.PendingAmount(ctx, q, jobID)
}

// Held is the sum of pending payments across all jobs. It equals the custody
// account balance.
func (v *Vault) Held(ctx context.Context, q repo.Queryer) (uint64, error) {
	return v.Repo.PendingAmount(ctx, q, "")
}

func (v *Vault) pending(ctx context.Context, q repo.Queryer, paymentID string) (domain.EscrowPayment, error) {
	p, err := v.Repo.GetPayment(ctx, q, paymentID)
	if err != nil {
		return p, fmt.Errorf("payment %s: %w", paymentID, err)
	}
	if err := settledError(p.Status); err != nil {
		return p, err
	}
	return p, nil
}

func (v *Vault) settle(ctx context.Context, q repo.Queryer, id string, to domain.PaymentStatus, payout, fee uint64) error {
	err := v.Repo.SettlePayment(ctx, q, id, to, payout, fee, v.now())
	if errors.Is(err, repo.ErrNotFound) {
		cur, gerr := v.Repo.GetPayment(ctx, q, id)
		if gerr != nil {
			return gerr
		}
		if serr := settledError(cur.Status); serr != nil {
			return serr
		}
	}
	return err
}

func settledError(s domain.PaymentStatus) error {
	switch s {
	case domain.PaymentReleased:
		return domain.ErrAlreadyReleased
	case domain.PaymentRefunded:
		return domain.ErrAlreadyRefunded
	}
	return nil
}
