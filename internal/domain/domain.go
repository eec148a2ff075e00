package domain

import "math"

// MaxAmount is the largest amount the store can hold in a signed INTEGER column.
const MaxAmount uint64 = math.MaxInt64

type JobStatus string

const (
	JobOpen       JobStatus = "open"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no transition may leave the status.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobCancelled
}

type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
)

type MilestoneStatus string

const (
	MilestonePending   MilestoneStatus = "pending"
	MilestoneFunded    MilestoneStatus = "funded"
	MilestoneCompleted MilestoneStatus = "completed"
	MilestoneCancelled MilestoneStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentReleased PaymentStatus = "released"
	PaymentRefunded PaymentStatus = "refunded"
)

type Job struct {
	ID               string    `json:"id"`
	ClientID         string    `json:"client_id"`
	FreelancerID     *string   `json:"freelancer_id,omitempty"`
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	Budget           uint64    `json:"budget"`
	Deadline         string    `json:"deadline,omitempty" format:"date-time"`
	RequiredSkills   []string  `json:"required_skills,omitempty"`
	AttachmentHashes []string  `json:"attachment_hashes,omitempty"`
	Status           JobStatus `json:"status" enum:"open,in_progress,completed,cancelled"`
	CreatedAt        string    `json:"created_at" format:"date-time"`
	UpdatedAt        string    `json:"updated_at" format:"date-time"`
}

// Freelancer returns the bound freelancer or an empty string.
func (j Job) Freelancer() string {
	if j.FreelancerID == nil {
		return ""
	}
	return *j.FreelancerID
}

// IsParty reports whether actorID is the client or the bound freelancer.
func (j Job) IsParty(actorID string) bool {
	if actorID == "" {
		return false
	}
	return actorID == j.ClientID || actorID == j.Freelancer()
}

type Proposal struct {
	ID            string         `json:"id"`
	JobID         string         `json:"job_id"`
	FreelancerID  string         `json:"freelancer_id"`
	Price         uint64         `json:"price"`
	EstimatedTime string         `json:"estimated_time,omitempty"`
	CoverLetter   string         `json:"cover_letter,omitempty"`
	Status        ProposalStatus `json:"status" enum:"pending,accepted,rejected"`
	Seq           int64          `json:"-"`
	CreatedAt     string         `json:"created_at" format:"date-time"`
	UpdatedAt     string         `json:"updated_at" format:"date-time"`
}

type Milestone struct {
	ID          string          `json:"id"`
	JobID       string          `json:"job_id"`
	Description string          `json:"description,omitempty"`
	Amount      uint64          `json:"amount"`
	Deadline    string          `json:"deadline,omitempty" format:"date-time"`
	Status      MilestoneStatus `json:"status" enum:"pending,funded,completed,cancelled"`
	PaymentID   *string         `json:"payment_id,omitempty"`
	CreatedAt   string          `json:"created_at" format:"date-time"`
	UpdatedAt   string          `json:"updated_at" format:"date-time"`
}

type EscrowPayment struct {
	ID           string        `json:"id"`
	JobID        string        `json:"job_id"`
	MilestoneID  string        `json:"milestone_id"`
	ClientID     string        `json:"client_id"`
	FreelancerID string        `json:"freelancer_id"`
	Amount       uint64        `json:"amount"`
	Status       PaymentStatus `json:"status" enum:"pending,released,refunded"`
	Payout       uint64        `json:"payout"`
	Fee          uint64        `json:"fee"`
	CreatedAt    string        `json:"created_at" format:"date-time"`
	SettledAt    *string       `json:"settled_at,omitempty" format:"date-time"`
}

// Settlement is the outcome of releasing one escrow payment.
type Settlement struct {
	Milestone Milestone     `json:"milestone"`
	Payment   EscrowPayment `json:"payment"`
	Payout    uint64        `json:"payout"`
	Fee       uint64        `json:"fee"`
	JobStatus JobStatus     `json:"job_status"`
}

type Review struct {
	ID         string `json:"id"`
	JobID      string `json:"job_id"`
	ReviewerID string `json:"reviewer_id"`
	RevieweeID string `json:"reviewee_id"`
	Rating     int    `json:"rating" minimum:"1" maximum:"5"`
	Comment    string `json:"comment,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Reputation struct {
	PartyID     string  `json:"party_id"`
	TotalRating uint64  `json:"total_rating"`
	ReviewCount uint64  `json:"review_count"`
	Average     float64 `json:"average"`
}

type Account struct {
	PartyID   string `json:"party_id"`
	Balance   uint64 `json:"balance"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type EntryType string

const (
	EntryDebit  EntryType = "debit"
	EntryCredit EntryType = "credit"
)

// LedgerEntry is one side of a balanced transfer.
type LedgerEntry struct {
	ID         int64     `json:"id"`
	TransferID string    `json:"transfer_id"`
	PartyID    string    `json:"party_id"`
	EntryType  EntryType `json:"entry_type" enum:"debit,credit"`
	Amount     uint64    `json:"amount"`
	Memo       string    `json:"memo,omitempty"`
	JobID      string    `json:"job_id,omitempty"`
	Balance    uint64    `json:"balance"`
	TS         string    `json:"ts" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	JobID      string `json:"job_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
