package service

import (
	"context"
	"fmt"

	"github.com/rl1809/baller-exchange/internal/core/domain"
	"github.com/rl1809/baller-exchange/internal/port"
)

// Custody manages trade locks and ownership transfer of items. Every method
// runs inside the caller's transaction.
type Custody struct{}

// LockItems reserves every item for tradeID. It fails with ErrAlreadyLocked
// if any item carries another trade's lock, and with ErrItemsUnavailable if
// an item does not exist.
func (Custody) LockItems(ctx context.Context, tx port.Tx, ids []string, tradeID string) error {
	seen := 0
	_, err := tx.UpdateWhere(ctx, port.KindItem, ids, func(rec port.Record) ([]byte, bool, error) {
		seen++
		item, err := decodeItem(rec)
		if err != nil {
			return nil, false, err
		}
		switch item.TradeLock {
		case tradeID:
			return nil, false, nil
		case "":
		default:
			return nil, false, fmt.Errorf("item %s: %w", item.ID, ErrAlreadyLocked)
		}
		item.TradeLock = tradeID
		body, err := encode(item)
		return body, err == nil, err
	})
	if err != nil {
		return err
	}
	if seen != len(ids) {
		return ErrItemsUnavailable
	}
	return nil
}

// UnlockItems clears the lock on items whose lock equals expectedTradeID and
// leaves every other item alone. It returns the number of items unlocked.
func (Custody) UnlockItems(ctx context.Context, tx port.Tx, ids []string, expectedTradeID string) (int, error) {
	return tx.UpdateWhere(ctx, port.KindItem, ids, func(rec port.Record) ([]byte, bool, error) {
		item, err := decodeItem(rec)
		if err != nil {
			return nil, false, err
		}
		if item.TradeLock != expectedTradeID {
			return nil, false, nil
		}
		item.TradeLock = ""
		body, err := encode(item)
		return body, err == nil, err
	})
}

// Transfer moves items from one user to another. Each item must be owned by
// from, listed in its inventory and unlocked, or the call fails with
// ErrItemsUnavailable. The users are modified in place; saving them is left
// to the caller.
func (Custody) Transfer(ctx context.Context, tx port.Tx, ids []string, from, to *domain.User) error {
	for _, id := range ids {
		item, err := loadItem(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrItemsUnavailable, err)
		}
		if item.Owner != from.ID || !from.Owns(id) || item.Locked() {
			return ErrItemsUnavailable
		}

		item.Owner = to.ID
		if err := saveItem(ctx, tx, item); err != nil {
			return err
		}
	}

	from.RemoveItems(ids...)
	to.AddItems(ids...)
	return nil
}
