package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gigescrow/internal/bank"
	"gigescrow/internal/domain"
	"gigescrow/internal/engine/auth"
	"gigescrow/internal/events"
	"gigescrow/internal/repo"
)

// FundAccount mints amount into a party's account. Only the deployment
// owner may call it; it stands in for an external on-ramp.
func (e Engine) FundAccount(ctx context.Context, partyID string, amount uint64, caller string) (acct domain.Account, err error) {
	defer e.observe("fund_account", time.Now(), &err)
	if err := auth.RequireOwner(e.Config.Deployment.Owner, caller, "fund account"); err != nil {
		return domain.Account{}, err
	}
	if err := auth.RequireActor(partyID); err != nil {
		return domain.Account{}, err
	}
	if e.isSystemAccount(partyID) {
		return domain.Account{}, auth.ForbiddenError{Action: "fund system account " + partyID, Role: "external party", Caller: caller}
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Account{}, err
	}
	defer tx.Rollback()

	transferID, err := e.Bank.Mint(ctx, tx, partyID, amount)
	if err != nil {
		return domain.Account{}, err
	}
	acct, err = e.Repo.GetAccount(ctx, tx, partyID)
	if err != nil {
		return domain.Account{}, err
	}
	if err := e.Events.Append(ctx, tx, events.AccountFunded, "", "account", partyID, caller, events.EventPayload{
		"amount":      amount,
		"balance":     acct.Balance,
		"transfer_id": transferID,
	}); err != nil {
		return domain.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Account{}, err
	}
	e.log().Info("account funded", zap.String("party", partyID), zap.Uint64("amount", amount))
	return acct, nil
}

// Balance returns a zero account for parties that never held funds.
func (e Engine) Balance(ctx context.Context, partyID string) (domain.Account, error) {
	if err := auth.RequireActor(partyID); err != nil {
		return domain.Account{}, err
	}
	acct, err := e.Repo.GetAccount(ctx, nil, partyID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Account{PartyID: partyID}, nil
	}
	return acct, err
}

func (e Engine) LedgerEntries(ctx context.Context, f repo.LedgerFilters) ([]domain.LedgerEntry, error) {
	return e.Repo.ListLedgerEntries(ctx, nil, f)
}

// isSystemAccount reports whether partyID is one of the deployment's own
// identities. They hold custody and fees and never act as job parties.
func (e Engine) isSystemAccount(partyID string) bool {
	d := e.Config.Deployment
	return partyID == d.VaultAccount || partyID == d.Treasury || partyID == d.Marketplace
}

func (e Engine) requireExternalParty(caller, action string) error {
	if e.isSystemAccount(caller) {
		return auth.ForbiddenError{Action: action, Role: "external party", Caller: caller}
	}
	return nil
}

// Violation describes one broken ledger or lifecycle invariant.
type Violation struct {
	Check  string `json:"check"`
	Detail string `json:"detail"`
}

// Audit cross-checks custody, ledger and lifecycle state. An empty result
// means every invariant holds.
func (e Engine) Audit(ctx context.Context) ([]Violation, error) {
	var out []Violation
	held, err := e.Vault.Held(ctx, nil)
	if err != nil {
		return nil, err
	}
	custody, err := e.Bank.Balance(ctx, nil, e.Config.Deployment.VaultAccount)
	if err != nil {
		return nil, err
	}
	if held != custody {
		out = append(out, Violation{Check: "custody", Detail: fmt.Sprintf("pending payments %d, custody balance %d", held, custody)})
	}
	checks := []struct {
		name string
		ids  func(context.Context, repo.Queryer) ([]string, error)
	}{
		{"overcommitted_job", e.Repo.OvercommittedJobs},
		{"unbacked_milestone", e.Repo.UnbackedMilestones},
		{"unbound_job", e.Repo.UnboundJobs},
		{"unbalanced_transfer", func(ctx context.Context, q repo.Queryer) ([]string, error) {
			return e.Repo.UnbalancedTransfers(ctx, q, bank.MintMemo)
		}},
	}
	for _, c := range checks {
		ids, err := c.ids(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.name, err)
		}
		for _, id := range ids {
			out = append(out, Violation{Check: c.name, Detail: id})
		}
	}
	return out, nil
}
