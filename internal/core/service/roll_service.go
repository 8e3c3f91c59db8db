package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/baller-exchange/internal/core/domain"
	"github.com/rl1809/baller-exchange/internal/metrics"
	"github.com/rl1809/baller-exchange/internal/port"
)

// RollResult maps each new item id to its attributes.
type RollResult struct {
	Items   map[string]domain.Attributes `json:"items"`
	Balance int64                        `json:"balance"`
	NewUser bool                         `json:"new_user"`
}

// RollService spends currency to issue new items, onboarding unknown users
// on their first single roll.
type RollService struct {
	coord    *Coordinator
	oracle   port.ItemOracle
	profiles port.ProfileSource
	guard    port.IdempotencyGuard
	cfg      EconomyConfig
	now      func() time.Time
	newID    func() string
	log      logrus.FieldLogger
}

// NewRollService creates a roll service. guard may be nil to disable
// request replay protection.
func NewRollService(
	coord *Coordinator,
	oracle port.ItemOracle,
	profiles port.ProfileSource,
	guard port.IdempotencyGuard,
	cfg EconomyConfig,
	log logrus.FieldLogger,
) *RollService {
	return &RollService{
		coord:    coord,
		oracle:   oracle,
		profiles: profiles,
		guard:    guard,
		cfg:      cfg,
		now:      time.Now,
		newID:    newID,
		log:      log,
	}
}

// WithClock replaces the time source.
func (s *RollService) WithClock(now func() time.Time) *RollService {
	s.now = now
	return s
}

type generated struct {
	id    string
	attrs domain.Attributes
}

// Roll issues one item, or a pack of items when pack is set. requestID, when
// non-empty, makes the call safe to replay: a repeated id fails with
// ErrDuplicateRequest instead of charging twice.
func (s *RollService) Roll(ctx context.Context, requestID, userID string, pack bool) (*RollResult, error) {
	if requestID != "" && s.guard != nil {
		key := fmt.Sprintf("roll:%s:%s", userID, requestID)
		ok, err := s.guard.SetIdempotency(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return nil, ErrDuplicateRequest
		}

		result, err := s.roll(ctx, userID, pack)
		if err != nil {
			if releaseErr := s.guard.ReleaseIdempotency(context.WithoutCancel(ctx), key); releaseErr != nil {
				s.log.WithError(releaseErr).WithField("key", key).Warn("failed to release idempotency key")
			}
			return nil, err
		}
		return result, nil
	}

	return s.roll(ctx, userID, pack)
}

func (s *RollService) roll(ctx context.Context, userID string, pack bool) (*RollResult, error) {
	// The user lookup and everything external happen before the transaction
	// so that no slow call widens its conflict window.
	var profile *domain.Profile
	_, err := loadUser(ctx, s.coord.Store(), userID)
	switch {
	case errors.Is(err, ErrNotFound):
		if pack {
			return nil, err
		}
		p, err := s.profiles.Profile(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProfileUnavailable, err)
		}
		profile = &p
	case err != nil:
		return nil, err
	}

	cost, count := s.cfg.rollTerms(pack)
	items, err := s.generate(ctx, count)
	if err != nil {
		return nil, err
	}
	created := s.now().UnixMilli()

	result, err := RunInTx(ctx, s.coord, "roll", func(ctx context.Context, tx port.Tx) (*RollResult, error) {
		user, err := loadUser(ctx, tx, userID)
		if errors.Is(err, ErrNotFound) && profile != nil {
			return onboard(ctx, tx, userID, *profile, items[0], created, s.cfg.StartingBalance)
		}
		if err != nil {
			return nil, err
		}

		if user.CurrencyBalance < cost {
			return nil, ErrInsufficientFunds
		}

		result := &RollResult{Items: make(map[string]domain.Attributes, count)}
		for _, g := range items[:count] {
			item := &domain.Item{ID: g.id, Owner: user.ID, Attributes: g.attrs, CreationTime: created}
			if err := insertItem(ctx, tx, item); err != nil {
				return nil, err
			}
			user.AddItems(g.id)
			result.Items[g.id] = g.attrs
		}

		user.CurrencyBalance -= cost
		if err := saveUser(ctx, tx, user); err != nil {
			return nil, err
		}
		result.Balance = user.CurrencyBalance
		return result, nil
	})
	if err != nil {
		return nil, err
	}

	spent := cost
	if result.NewUser {
		spent = 0
	}
	metrics.RecordRoll(pack, spent, len(result.Items))
	s.log.WithFields(logrus.Fields{
		"user_id":  userID,
		"pack":     pack,
		"items":    len(result.Items),
		"new_user": result.NewUser,
	}).Info("roll completed")
	return result, nil
}

// onboard creates the user together with its first free item.
func onboard(ctx context.Context, tx port.Tx, userID string, profile domain.Profile, first generated, created, balance int64) (*RollResult, error) {
	user := &domain.User{
		ID:              userID,
		SchemaVersion:   domain.CurrentUserSchema,
		DisplayName:     profile.DisplayName,
		AvatarURL:       profile.AvatarURL,
		Inventory:       []string{first.id},
		CurrencyBalance: balance,
		LastAccrualTime: created,
		PendingTrades:   []string{},
		CreationTime:    created,
	}
	if err := insertUser(ctx, tx, user); err != nil {
		return nil, err
	}

	item := &domain.Item{ID: first.id, Owner: userID, Attributes: first.attrs, CreationTime: created}
	if err := insertItem(ctx, tx, item); err != nil {
		return nil, err
	}

	return &RollResult{
		Items:   map[string]domain.Attributes{first.id: first.attrs},
		Balance: balance,
		NewUser: true,
	}, nil
}

// generate allocates ids and attributes up front so every retry of the
// transaction inserts exactly the same items.
func (s *RollService) generate(ctx context.Context, count int) ([]generated, error) {
	out := make([]generated, count)
	for i := range out {
		id := s.newID()
		attrs, err := s.oracle.Generate(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
		}
		out[i] = generated{id: id, attrs: attrs}
	}
	return out, nil
}
