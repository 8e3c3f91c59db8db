package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rl1809/baller-exchange/internal/core/domain"
	"github.com/rl1809/baller-exchange/internal/port"
)

// Typed access to the document store. Decoding validates required fields
// and upgrades older user schemas; encoding validates before every write.

func loadUser(ctx context.Context, r port.Reader, id string) (*domain.User, error) {
	rec, err := r.Get(ctx, port.KindUser, id)
	if err != nil {
		return nil, notFound("user", id, err)
	}
	return decodeUser(rec)
}

func decodeUser(rec port.Record) (*domain.User, error) {
	var u domain.User
	if err := json.Unmarshal(rec.Body, &u); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", rec.ID, err)
	}
	u.ID, u.Version = rec.ID, rec.Version
	u.Upgrade()
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", rec.ID, err)
	}
	return &u, nil
}

func insertUser(ctx context.Context, tx port.Tx, u *domain.User) error {
	body, err := encode(u)
	if err != nil {
		return err
	}
	if err := tx.Insert(ctx, port.KindUser, u.ID, body); err != nil {
		return fmt.Errorf("insert user %s: %w", u.ID, err)
	}
	u.Version = 1
	return nil
}

func saveUser(ctx context.Context, tx port.Tx, u *domain.User) error {
	body, err := encode(u)
	if err != nil {
		return err
	}
	if err := tx.Replace(ctx, port.KindUser, u.ID, u.Version, body); err != nil {
		return fmt.Errorf("replace user %s: %w", u.ID, err)
	}
	u.Version++
	return nil
}

func loadItem(ctx context.Context, r port.Reader, id string) (*domain.Item, error) {
	rec, err := r.Get(ctx, port.KindItem, id)
	if err != nil {
		return nil, notFound("item", id, err)
	}
	return decodeItem(rec)
}

func decodeItem(rec port.Record) (*domain.Item, error) {
	var it domain.Item
	if err := json.Unmarshal(rec.Body, &it); err != nil {
		return nil, fmt.Errorf("decode item %s: %w", rec.ID, err)
	}
	it.ID, it.Version = rec.ID, rec.Version
	if err := it.Validate(); err != nil {
		return nil, fmt.Errorf("decode item %s: %w", rec.ID, err)
	}
	return &it, nil
}

func insertItem(ctx context.Context, tx port.Tx, it *domain.Item) error {
	body, err := encode(it)
	if err != nil {
		return err
	}
	if err := tx.Insert(ctx, port.KindItem, it.ID, body); err != nil {
		return fmt.Errorf("insert item %s: %w", it.ID, err)
	}
	it.Version = 1
	return nil
}

func saveItem(ctx context.Context, tx port.Tx, it *domain.Item) error {
	body, err := encode(it)
	if err != nil {
		return err
	}
	if err := tx.Replace(ctx, port.KindItem, it.ID, it.Version, body); err != nil {
		return fmt.Errorf("replace item %s: %w", it.ID, err)
	}
	it.Version++
	return nil
}

func loadTrade(ctx context.Context, r port.Reader, id string) (*domain.Trade, error) {
	rec, err := r.Get(ctx, port.KindTrade, id)
	if err != nil {
		return nil, notFound("trade", id, err)
	}
	return decodeTrade(rec)
}

func decodeTrade(rec port.Record) (*domain.Trade, error) {
	var t domain.Trade
	if err := json.Unmarshal(rec.Body, &t); err != nil {
		return nil, fmt.Errorf("decode trade %s: %w", rec.ID, err)
	}
	t.ID, t.Version = rec.ID, rec.Version
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("decode trade %s: %w", rec.ID, err)
	}
	return &t, nil
}

func insertTrade(ctx context.Context, tx port.Tx, t *domain.Trade) error {
	body, err := encode(t)
	if err != nil {
		return err
	}
	if err := tx.Insert(ctx, port.KindTrade, t.ID, body); err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	t.Version = 1
	return nil
}

func saveTrade(ctx context.Context, tx port.Tx, t *domain.Trade) error {
	body, err := encode(t)
	if err != nil {
		return err
	}
	if err := tx.Replace(ctx, port.KindTrade, t.ID, t.Version, body); err != nil {
		return fmt.Errorf("replace trade %s: %w", t.ID, err)
	}
	t.Version++
	return nil
}

type validator interface {
	Validate() error
}

func encode(v validator) ([]byte, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return body, nil
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, port.ErrDocumentNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return err
}
