package domain

import (
	"errors"
	"slices"
)

// CurrentUserSchema is the schema_version written for new user records.
const CurrentUserSchema = 2

type User struct {
	ID              string   `json:"-"`
	Version         int64    `json:"-"` // optimistic locking
	SchemaVersion   int      `json:"schema_version"`
	DisplayName     string   `json:"display_name"`
	AvatarURL       string   `json:"avatar_url,omitempty"`
	Inventory       []string `json:"inventory"`
	CurrencyBalance int64    `json:"currency_balance"`
	LastAccrualTime int64    `json:"last_accrual_time"` // unix milliseconds
	PendingTrades   []string `json:"pending_trades"`
	CreationTime    int64    `json:"creation_time"`
}

// Profile is the display metadata supplied when a user is first onboarded.
type Profile struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

var ErrInvalidUser = errors.New("invalid user record")

// Upgrade brings records written by older schema versions up to date.
// Version 1 records predate pending trade tracking.
func (u *User) Upgrade() {
	if u.SchemaVersion < 2 && u.PendingTrades == nil {
		u.PendingTrades = []string{}
	}
	if u.Inventory == nil {
		u.Inventory = []string{}
	}
	u.SchemaVersion = CurrentUserSchema
}

func (u *User) Validate() error {
	if u.ID == "" {
		return errors.Join(ErrInvalidUser, errors.New("missing id"))
	}
	if u.CurrencyBalance < 0 {
		return errors.Join(ErrInvalidUser, errors.New("negative balance"))
	}
	if u.LastAccrualTime <= 0 {
		return errors.Join(ErrInvalidUser, errors.New("missing last_accrual_time"))
	}
	return nil
}

func (u *User) Owns(itemID string) bool {
	return slices.Contains(u.Inventory, itemID)
}

// AddItems appends ids not already present in the inventory.
func (u *User) AddItems(ids ...string) {
	for _, id := range ids {
		if !slices.Contains(u.Inventory, id) {
			u.Inventory = append(u.Inventory, id)
		}
	}
}

func (u *User) RemoveItems(ids ...string) {
	u.Inventory = slices.DeleteFunc(u.Inventory, func(id string) bool {
		return slices.Contains(ids, id)
	})
}

func (u *User) AddPendingTrade(tradeID string) {
	if !slices.Contains(u.PendingTrades, tradeID) {
		u.PendingTrades = append(u.PendingTrades, tradeID)
	}
}

func (u *User) RemovePendingTrade(tradeID string) {
	u.PendingTrades = slices.DeleteFunc(u.PendingTrades, func(id string) bool {
		return id == tradeID
	})
}
