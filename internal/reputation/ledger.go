// Package reputation aggregates review ratings per party. Totals only grow;
// there is no edit or delete.
package reputation

import (
	"context"
	"fmt"
	"time"

	"gigescrow/internal/domain"
	"gigescrow/internal/repo"
)

const (
	MinRating = 1
	MaxRating = 5
)

type Ledger struct {
	Repo repo.Repo
	Now  func() time.Time
}

// ValidRating reports whether rating is on the 1..5 scale.
func ValidRating(rating int) bool {
	return rating >= MinRating && rating <= MaxRating
}

// Record adds one rating to the party's totals.
func (l Ledger) Record(ctx context.Context, q repo.Queryer, partyID string, rating int) error {
	if partyID == "" {
		return domain.ErrMissingActor
	}
	if !ValidRating(rating) {
		return fmt.Errorf("rating %d: %w", rating, domain.ErrInvalidRating)
	}
	now := l.Now
	if now == nil {
		now = time.Now
	}
	return l.Repo.AddRating(ctx, q, partyID, rating, now().UTC().Format(time.RFC3339))
}

// Get returns the aggregate with its average, zero for unrated parties.
func (l Ledger) Get(ctx context.Context, q repo.Queryer, partyID string) (domain.Reputation, error) {
	rep, err := l.Repo.GetReputation(ctx, q, partyID)
	if err != nil {
		return rep, err
	}
	if rep.ReviewCount > 0 {
		rep.Average = float64(rep.TotalRating) / float64(rep.ReviewCount)
	}
	return rep, nil
}
