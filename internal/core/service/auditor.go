package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/baller-exchange/internal/core/domain"
	"github.com/rl1809/baller-exchange/internal/metrics"
	"github.com/rl1809/baller-exchange/internal/port"
)

// AuditReport summarizes one scan of the store.
type AuditReport struct {
	Users      int      `json:"users"`
	Items      int      `json:"items"`
	Trades     int      `json:"trades"`
	Violations []string `json:"violations"`
}

// Auditor scans the whole store for custody and lock violations. The scan
// is not transactional, so a violation seen once may be a concurrent commit
// caught halfway; one that persists across scans is real.
type Auditor struct {
	store port.DocumentStore
	log   logrus.FieldLogger
}

func NewAuditor(store port.DocumentStore, log logrus.FieldLogger) *Auditor {
	return &Auditor{store: store, log: log}
}

func (a *Auditor) Run(ctx context.Context) (*AuditReport, error) {
	users, err := scan(ctx, a.store, port.KindUser, decodeUser)
	if err != nil {
		return nil, err
	}
	items, err := scan(ctx, a.store, port.KindItem, decodeItem)
	if err != nil {
		return nil, err
	}
	trades, err := scan(ctx, a.store, port.KindTrade, decodeTrade)
	if err != nil {
		return nil, err
	}

	report := &AuditReport{Users: len(users), Items: len(items), Trades: len(trades), Violations: []string{}}
	violate := func(format string, args ...any) {
		report.Violations = append(report.Violations, fmt.Sprintf(format, args...))
	}

	holders := make(map[string][]string, len(items))
	for _, u := range users {
		for _, id := range u.Inventory {
			holders[id] = append(holders[id], u.ID)
		}
	}

	for id, item := range items {
		h := holders[id]
		switch {
		case len(h) != 1:
			violate("item %s is held by %d inventories", id, len(h))
		case h[0] != item.Owner:
			violate("item %s is owned by %s but held by %s", id, item.Owner, h[0])
		}

		if !item.Locked() {
			continue
		}
		t, ok := trades[item.TradeLock]
		if !ok || t.Status != domain.TradeStatusSent || !t.Locks(id) {
			violate("item %s carries stale lock %s", id, item.TradeLock)
		}
	}

	for id := range holders {
		if _, ok := items[id]; !ok {
			violate("inventory lists missing item %s", id)
		}
	}

	for id, t := range trades {
		if t.Status != domain.TradeStatusSent {
			continue
		}
		for _, itemID := range t.SenderItems {
			if item, ok := items[itemID]; !ok || item.TradeLock != id {
				violate("pending trade %s does not hold item %s", id, itemID)
			}
		}
	}

	metrics.RecordAudit(len(report.Violations))
	log := a.log.WithFields(logrus.Fields{
		"users":      report.Users,
		"items":      report.Items,
		"trades":     report.Trades,
		"violations": len(report.Violations),
	})
	if len(report.Violations) > 0 {
		log.WithField("first", report.Violations[0]).Warn("audit found violations")
	} else {
		log.Info("audit clean")
	}
	return report, nil
}

func scan[T any](ctx context.Context, store port.DocumentStore, kind port.Kind, decode func(port.Record) (*T, error)) (map[string]*T, error) {
	recs, err := store.Query(ctx, port.Query{Kind: kind})
	if err != nil {
		return nil, fmt.Errorf("audit scan %s: %w", kind, err)
	}
	out := make(map[string]*T, len(recs))
	for _, rec := range recs {
		v, err := decode(rec)
		if err != nil {
			return nil, err
		}
		out[rec.ID] = v
	}
	return out, nil
}
