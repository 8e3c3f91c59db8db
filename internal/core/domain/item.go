package domain

import "errors"

// Attributes is the opaque bag produced by the item oracle at creation time.
type Attributes map[string]any

type Item struct {
	ID           string     `json:"-"`
	Version      int64      `json:"-"` // optimistic locking
	Owner        string     `json:"owner"`
	Attributes   Attributes `json:"attributes"`
	TradeLock    string     `json:"trade_lock,omitempty"`
	CreationTime int64      `json:"creation_time"` // unix milliseconds
}

var ErrInvalidItem = errors.New("invalid item record")

func (i *Item) Validate() error {
	if i.ID == "" {
		return errors.Join(ErrInvalidItem, errors.New("missing id"))
	}
	if i.Owner == "" {
		return errors.Join(ErrInvalidItem, errors.New("missing owner"))
	}
	return nil
}

func (i *Item) Locked() bool {
	return i.TradeLock != ""
}
