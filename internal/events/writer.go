package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended to the outbox. Consumers read them through the events
// API or webhooks; nothing else in the engine reads them back.
const (
	JobCreated         = "job.created"
	JobCompleted       = "job.completed"
	JobCancelled       = "job.cancelled"
	ProposalSubmitted  = "proposal.submitted"
	ProposalAccepted   = "proposal.accepted"
	ProposalRejected   = "proposal.rejected"
	ProposalWithdrawn  = "proposal.withdrawn"
	MilestoneCreated   = "milestone.created"
	MilestoneFunded    = "milestone.funded"
	MilestoneReleased  = "milestone.released"
	MilestoneCancelled = "milestone.cancelled"
	ReviewSubmitted    = "review.submitted"
	AccountFunded      = "account.funded"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event inside tx, so it commits or rolls back together
// with the transition it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, jobID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	if entityID != "" {
		payload["id"] = entityID
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,job_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(jobID), entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
