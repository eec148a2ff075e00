package auth

import (
	"fmt"

	"gigescrow/internal/domain"
)

// ForbiddenError indicates the caller does not hold the role an action needs.
type ForbiddenError struct {
	Action string
	Role   string
	Caller string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("%s requires %s (caller %q)", e.Action, e.Role, e.Caller)
}

func (e ForbiddenError) Unwrap() error {
	return domain.ErrUnauthorized
}

// RequireActor rejects anonymous calls.
func RequireActor(caller string) error {
	if caller == "" {
		return domain.ErrMissingActor
	}
	return nil
}

func RequireClient(job domain.Job, caller, action string) error {
	if err := RequireActor(caller); err != nil {
		return err
	}
	if caller != job.ClientID {
		return ForbiddenError{Action: action, Role: "job client", Caller: caller}
	}
	return nil
}

// RequireParty admits the client or the bound freelancer.
func RequireParty(job domain.Job, caller, action string) error {
	if err := RequireActor(caller); err != nil {
		return err
	}
	if !job.IsParty(caller) {
		return ForbiddenError{Action: action, Role: "job party", Caller: caller}
	}
	return nil
}

func RequireOwner(owner, caller, action string) error {
	if err := RequireActor(caller); err != nil {
		return err
	}
	if owner == "" || caller != owner {
		return ForbiddenError{Action: action, Role: "deployment owner", Caller: caller}
	}
	return nil
}

// Counterparty returns the other side of the job relative to caller.
func Counterparty(job domain.Job, caller string) string {
	if caller == job.ClientID {
		return job.Freelancer()
	}
	return job.ClientID
}
