package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/baller-exchange/internal/core/domain"
	"github.com/rl1809/baller-exchange/internal/metrics"
	"github.com/rl1809/baller-exchange/internal/port"
)

// Proposal is a request to swap the sender's items for the recipient's.
type Proposal struct {
	SenderID       string   `json:"sender_id"`
	RecipientID    string   `json:"recipient_id"`
	SenderItems    []string `json:"sender_items"`
	RecipientItems []string `json:"recipient_items"`
}

// TradeService drives trades through sent -> completed | cancelled | rejected.
type TradeService struct {
	coord    *Coordinator
	custody  Custody
	maxItems int
	now      func() time.Time
	newID    func() string
	log      logrus.FieldLogger
}

func NewTradeService(coord *Coordinator, cfg EconomyConfig, log logrus.FieldLogger) *TradeService {
	return &TradeService{
		coord:    coord,
		maxItems: cfg.MaxTradeItems,
		now:      time.Now,
		newID:    newID,
		log:      log,
	}
}

// WithClock replaces the time source.
func (s *TradeService) WithClock(now func() time.Time) *TradeService {
	s.now = now
	return s
}

// Propose creates a trade in the sent state and locks the sender's items
// under it. The recipient's items are checked but not locked; Resolve
// verifies them again on accept.
func (s *TradeService) Propose(ctx context.Context, p Proposal) (*domain.Trade, error) {
	senderItems := dedupe(p.SenderItems)
	recipientItems := dedupe(p.RecipientItems)
	if err := s.checkShape(p.SenderID, p.RecipientID, senderItems, recipientItems); err != nil {
		return nil, err
	}

	tradeID := s.newID()
	created := s.now().UnixMilli()

	trade, err := RunInTx(ctx, s.coord, "propose_trade", func(ctx context.Context, tx port.Tx) (*domain.Trade, error) {
		recipient, err := loadUser(ctx, tx, p.RecipientID)
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidRecipient
		}
		if err != nil {
			return nil, err
		}
		sender, err := loadUser(ctx, tx, p.SenderID)
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		if err != nil {
			return nil, err
		}

		if err := verifyHoldings(ctx, tx, sender, senderItems, true); err != nil {
			return nil, err
		}
		if err := verifyHoldings(ctx, tx, recipient, recipientItems, false); err != nil {
			return nil, err
		}

		if err := s.custody.LockItems(ctx, tx, senderItems, tradeID); err != nil {
			return nil, err
		}

		sender.AddPendingTrade(tradeID)
		recipient.AddPendingTrade(tradeID)
		if err := saveUser(ctx, tx, sender); err != nil {
			return nil, err
		}
		if err := saveUser(ctx, tx, recipient); err != nil {
			return nil, err
		}

		trade := &domain.Trade{
			ID:             tradeID,
			SenderID:       p.SenderID,
			RecipientID:    p.RecipientID,
			SenderItems:    senderItems,
			RecipientItems: recipientItems,
			Status:         domain.TradeStatusSent,
			CreationTime:   created,
		}
		if err := insertTrade(ctx, tx, trade); err != nil {
			return nil, err
		}
		return trade, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordTrade(string(domain.TradeStatusSent))
	s.log.WithFields(logrus.Fields{
		"trade_id":     trade.ID,
		"sender_id":    trade.SenderID,
		"recipient_id": trade.RecipientID,
	}).Info("trade proposed")
	return trade, nil
}

// Resolve applies action on behalf of actorID. Accept and reject belong to
// the recipient, cancel to the sender.
func (s *TradeService) Resolve(ctx context.Context, tradeID, actorID string, action domain.TradeAction) (*domain.Trade, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidTrade, action)
	}
	resolved := s.now().UnixMilli()

	trade, err := RunInTx(ctx, s.coord, "resolve_trade", func(ctx context.Context, tx port.Tx) (*domain.Trade, error) {
		trade, err := loadTrade(ctx, tx, tradeID)
		if err != nil {
			return nil, err
		}
		if trade.Status != domain.TradeStatusSent {
			return nil, ErrInvalidState
		}
		if !authorized(trade, actorID, action) {
			return nil, ErrUnauthorized
		}

		sender, err := loadUser(ctx, tx, trade.SenderID)
		if err != nil {
			return nil, err
		}
		recipient, err := loadUser(ctx, tx, trade.RecipientID)
		if err != nil {
			return nil, err
		}

		unlocked, err := s.custody.UnlockItems(ctx, tx, trade.SenderItems, trade.ID)
		if err != nil {
			return nil, err
		}

		if action == domain.TradeActionAccept {
			if unlocked != len(trade.SenderItems) {
				return nil, ErrItemsUnavailable
			}
			if err := s.custody.Transfer(ctx, tx, trade.RecipientItems, recipient, sender); err != nil {
				return nil, err
			}
			if err := s.custody.Transfer(ctx, tx, trade.SenderItems, sender, recipient); err != nil {
				return nil, err
			}
		}

		sender.RemovePendingTrade(trade.ID)
		recipient.RemovePendingTrade(trade.ID)
		if err := saveUser(ctx, tx, sender); err != nil {
			return nil, err
		}
		if err := saveUser(ctx, tx, recipient); err != nil {
			return nil, err
		}

		trade.Status = action.Outcome()
		trade.ResolvedTime = resolved
		if err := saveTrade(ctx, tx, trade); err != nil {
			return nil, err
		}
		return trade, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordTrade(string(trade.Status))
	s.log.WithFields(logrus.Fields{
		"trade_id": trade.ID,
		"actor_id": actorID,
		"status":   trade.Status,
	}).Info("trade resolved")
	return trade, nil
}

func (s *TradeService) checkShape(senderID, recipientID string, senderItems, recipientItems []string) error {
	switch {
	case senderID == "" || recipientID == "":
		return fmt.Errorf("%w: missing party", ErrInvalidTrade)
	case senderID == recipientID:
		return fmt.Errorf("%w: cannot trade with yourself", ErrInvalidTrade)
	case len(senderItems) == 0 || len(recipientItems) == 0:
		return fmt.Errorf("%w: both sides must offer items", ErrInvalidTrade)
	case len(senderItems) > s.maxItems || len(recipientItems) > s.maxItems:
		return fmt.Errorf("%w: at most %d items per side", ErrInvalidTrade, s.maxItems)
	}
	for _, id := range senderItems {
		if slices.Contains(recipientItems, id) {
			return fmt.Errorf("%w: item %s on both sides", ErrInvalidTrade, id)
		}
	}
	return nil
}

// verifyHoldings checks that owner holds every item. A lock on a sender item
// is left for LockItems to report as ErrAlreadyLocked; any other mismatch is
// ErrUnauthorized without naming the item.
func verifyHoldings(ctx context.Context, tx port.Tx, owner *domain.User, ids []string, sender bool) error {
	for _, id := range ids {
		item, err := loadItem(ctx, tx, id)
		if errors.Is(err, ErrNotFound) {
			return ErrUnauthorized
		}
		if err != nil {
			return err
		}
		if item.Owner != owner.ID || !owner.Owns(id) {
			return ErrUnauthorized
		}
		if item.Locked() && !sender {
			return ErrUnauthorized
		}
	}
	return nil
}

func authorized(t *domain.Trade, actorID string, action domain.TradeAction) bool {
	if action == domain.TradeActionCancel {
		return actorID == t.SenderID
	}
	return actorID == t.RecipientID
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
