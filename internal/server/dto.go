package server

import (
	"encoding/json"

	"gigescrow/internal/domain"
	"gigescrow/internal/engine"
)

// Request payloads

type CreateJobRequest struct {
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	Budget           uint64   `json:"budget"`
	Deadline         string   `json:"deadline,omitempty" example:"2025-01-31T00:00:00Z"`
	RequiredSkills   []string `json:"required_skills,omitempty"`
	AttachmentHashes []string `json:"attachment_hashes,omitempty"`
}

type SubmitProposalRequest struct {
	Price         uint64 `json:"price"`
	EstimatedTime string `json:"estimated_time,omitempty" example:"2 weeks"`
	CoverLetter   string `json:"cover_letter,omitempty"`
}

type CreateMilestoneRequest struct {
	Description string `json:"description,omitempty"`
	Amount      uint64 `json:"amount"`
	Deadline    string `json:"deadline,omitempty"`
}

type FundMilestoneRequest struct {
	// Funds defaults to the milestone amount.
	Funds uint64 `json:"funds,omitempty"`
}

type SubmitReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

type FundAccountRequest struct {
	Amount uint64 `json:"amount"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Responses

type EscrowBalanceResponse struct {
	JobID string `json:"job_id"`
	Held  uint64 `json:"held"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	JobID      string         `json:"job_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload" jsonschema:"type=object,additionalProperties=true"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type AuditResponse struct {
	OK         bool               `json:"ok"`
	Violations []engine.Violation `json:"violations"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// APIKeyCreatedResponse carries the raw key. It is shown once and only its
// hash is stored.
type APIKeyCreatedResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
	Owner   bool   `json:"owner"`
}

// Conversion helpers

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		JobID:      e.JobID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		ActorID:   k.ActorID,
		Name:      k.Name,
		CreatedAt: k.CreatedAt,
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
