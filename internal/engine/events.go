package engine

import (
	"context"

	"gigescrow/internal/domain"
	"gigescrow/internal/repo"
)

// ListEvents returns the outbox newest first.
func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, nil, f)
}

// EventsAfter returns events past cursor in commit order.
func (e Engine) EventsAfter(ctx context.Context, cursor int64, limit int, jobID string) ([]domain.Event, error) {
	return e.Repo.EventsAfter(ctx, nil, limit, cursor, jobID)
}
