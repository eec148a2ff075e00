package domain

import "errors"

// Kind groups errors by who can fix them.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindState         Kind = "state"
	KindNotFound      Kind = "not_found"
	KindInternal      Kind = "internal"
)

// Validation errors are rejected before any state is touched.
var (
	ErrInvalidBudget     = errors.New("invalid budget")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrAmountMismatch    = errors.New("amount mismatch")
	ErrInvalidRate       = errors.New("invalid fee rate")
	ErrInvalidRating     = errors.New("rating must be between 1 and 5")
	ErrInvalidDeadline   = errors.New("deadline must be an RFC3339 timestamp")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrMissingActor      = errors.New("caller identity required")
)

// Authorization errors.
var (
	ErrUnauthorized = errors.New("unauthorized")
)

// State errors: the transition is illegal from the current state.
var (
	ErrJobNotOpen         = errors.New("job not open")
	ErrJobNotActive       = errors.New("job not active")
	ErrJobNotCompleted    = errors.New("job not completed")
	ErrNotFunded          = errors.New("milestone not funded")
	ErrAlreadyFunded      = errors.New("milestone already funded")
	ErrMilestoneSettled   = errors.New("milestone already settled")
	ErrAlreadyReleased    = errors.New("payment already released")
	ErrAlreadyRefunded    = errors.New("payment already refunded")
	ErrAlreadyTerminal    = errors.New("job already terminal")
	ErrDuplicateProposal  = errors.New("duplicate proposal")
	ErrProposalNotPending = errors.New("proposal not pending")
	ErrDuplicateReview    = errors.New("duplicate review")
	ErrBudgetExceeded     = errors.New("budget exceeded")
)

// ErrNotFound marks missing entities.
var ErrNotFound = errors.New("not found")

var kinds = map[error]Kind{
	ErrInvalidBudget:      KindValidation,
	ErrInvalidAmount:      KindValidation,
	ErrAmountMismatch:     KindValidation,
	ErrInvalidRate:        KindValidation,
	ErrInvalidRating:      KindValidation,
	ErrInvalidDeadline:    KindValidation,
	ErrInsufficientFunds:  KindValidation,
	ErrMissingActor:       KindValidation,
	ErrUnauthorized:       KindAuthorization,
	ErrJobNotOpen:         KindState,
	ErrJobNotActive:       KindState,
	ErrJobNotCompleted:    KindState,
	ErrNotFunded:          KindState,
	ErrAlreadyFunded:      KindState,
	ErrMilestoneSettled:   KindState,
	ErrAlreadyReleased:    KindState,
	ErrAlreadyRefunded:    KindState,
	ErrAlreadyTerminal:    KindState,
	ErrDuplicateProposal:  KindState,
	ErrProposalNotPending: KindState,
	ErrDuplicateReview:    KindState,
	ErrBudgetExceeded:     KindState,
	ErrNotFound:           KindNotFound,
}

// KindOf classifies err by the first sentinel found in its chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for sentinel, kind := range kinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

// Code returns a stable snake_case code for the sentinel in err's chain.
func Code(err error) string {
	for sentinel := range kinds {
		if errors.Is(err, sentinel) {
			return codes[sentinel]
		}
	}
	return "internal_error"
}

var codes = map[error]string{
	ErrInvalidBudget:      "invalid_budget",
	ErrInvalidAmount:      "invalid_amount",
	ErrAmountMismatch:     "amount_mismatch",
	ErrInvalidRate:        "invalid_rate",
	ErrInvalidRating:      "invalid_rating",
	ErrInvalidDeadline:    "invalid_deadline",
	ErrInsufficientFunds:  "insufficient_funds",
	ErrMissingActor:       "missing_actor",
	ErrUnauthorized:       "unauthorized",
	ErrJobNotOpen:         "job_not_open",
	ErrJobNotActive:       "job_not_active",
	ErrJobNotCompleted:    "job_not_completed",
	ErrNotFunded:          "not_funded",
	ErrAlreadyFunded:      "already_funded",
	ErrMilestoneSettled:   "milestone_settled",
	ErrAlreadyReleased:    "already_released",
	ErrAlreadyRefunded:    "already_refunded",
	ErrAlreadyTerminal:    "already_terminal",
	ErrDuplicateProposal:  "duplicate_proposal",
	ErrProposalNotPending: "proposal_not_pending",
	ErrDuplicateReview:    "duplicate_review",
	ErrBudgetExceeded:     "budget_exceeded",
	ErrNotFound:           "not_found",
}
