package port

import (
	"context"

	"github.com/rl1809/baller-exchange/internal/core/domain"
)

// ItemOracle produces the attribute bag of a new item. Implementations have
// no effect on economy state but may be slow or unavailable.
type ItemOracle interface {
	Generate(ctx context.Context, itemID string) (domain.Attributes, error)
}

// ProfileSource supplies display metadata for a user being onboarded.
type ProfileSource interface {
	Profile(ctx context.Context, userID string) (domain.Profile, error)
}
