package domain

import (
	"errors"
	"slices"
)

type TradeStatus string

const (
	TradeStatusSent      TradeStatus = "sent"
	TradeStatusCompleted TradeStatus = "completed"
	TradeStatusCancelled TradeStatus = "cancelled"
	TradeStatusRejected  TradeStatus = "rejected"
)

func (s TradeStatus) Valid() bool {
	switch s {
	case TradeStatusSent, TradeStatusCompleted, TradeStatusCancelled, TradeStatusRejected:
		return true
	}
	return false
}

func (s TradeStatus) Terminal() bool {
	return s != TradeStatusSent
}

// TradeAction is a request to move a sent trade into a terminal state.
type TradeAction string

const (
	TradeActionAccept TradeAction = "accept"
	TradeActionReject TradeAction = "reject"
	TradeActionCancel TradeAction = "cancel"
)

func (a TradeAction) Valid() bool {
	switch a {
	case TradeActionAccept, TradeActionReject, TradeActionCancel:
		return true
	}
	return false
}

// Outcome is the terminal status an action leads to.
func (a TradeAction) Outcome() TradeStatus {
	switch a {
	case TradeActionAccept:
		return TradeStatusCompleted
	case TradeActionReject:
		return TradeStatusRejected
	default:
		return TradeStatusCancelled
	}
}

type Trade struct {
	ID             string      `json:"-"`
	Version        int64       `json:"-"` // optimistic locking
	SenderID       string      `json:"sender_id"`
	RecipientID    string      `json:"recipient_id"`
	SenderItems    []string    `json:"sender_items"`
	RecipientItems []string    `json:"recipient_items"`
	Status         TradeStatus `json:"status"`
	CreationTime   int64       `json:"creation_time"`           // unix milliseconds
	ResolvedTime   int64       `json:"resolved_time,omitempty"` // unix milliseconds
}

var ErrInvalidTradeRecord = errors.New("invalid trade record")

func (t *Trade) Validate() error {
	switch {
	case t.ID == "":
		return errors.Join(ErrInvalidTradeRecord, errors.New("missing id"))
	case t.SenderID == "" || t.RecipientID == "":
		return errors.Join(ErrInvalidTradeRecord, errors.New("missing party"))
	case t.SenderID == t.RecipientID:
		return errors.Join(ErrInvalidTradeRecord, errors.New("sender is recipient"))
	case len(t.SenderItems) == 0 || len(t.RecipientItems) == 0:
		return errors.Join(ErrInvalidTradeRecord, errors.New("empty item set"))
	case !t.Status.Valid():
		return errors.Join(ErrInvalidTradeRecord, errors.New("unknown status "+string(t.Status)))
	}
	return nil
}

// Involves reports whether userID is a party to the trade.
func (t *Trade) Involves(userID string) bool {
	return t.SenderID == userID || t.RecipientID == userID
}

// Locks reports whether the trade reserves itemID.
func (t *Trade) Locks(itemID string) bool {
	return slices.Contains(t.SenderItems, itemID)
}
