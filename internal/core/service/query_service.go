package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/rl1809/baller-exchange/internal/core/domain"
	"github.com/rl1809/baller-exchange/internal/port"
)

const (
	defaultPageSize = 10
	maxPageSize     = 20
	searchLimit     = 5
)

var searchPattern = regexp.MustCompile(`^[^% \\]{3,64}$`)

// Page selects a window of a listing. A zero Limit means the default size.
type Page struct {
	Offset int
	Limit  int
}

func (p Page) normalize() (Page, error) {
	if p.Offset < 0 {
		return p, fmt.Errorf("%w: negative offset", ErrInvalidQuery)
	}
	if p.Limit == 0 {
		p.Limit = defaultPageSize
	}
	if p.Limit < 1 || p.Limit > maxPageSize {
		return p, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidQuery, maxPageSize)
	}
	return p, nil
}

// QueryService serves read-only listings straight from the store. Listings
// are not transactional and may mix states of concurrent commits.
type QueryService struct {
	store port.DocumentStore
}

func NewQueryService(store port.DocumentStore) *QueryService {
	return &QueryService{store: store}
}

// ListItems returns the items owned by ownerID, oldest first. Trade locks are
// only shown to the owner.
func (s *QueryService) ListItems(ctx context.Context, viewerID, ownerID string, page Page) ([]*domain.Item, error) {
	page, err := page.normalize()
	if err != nil {
		return nil, err
	}

	recs, err := s.store.Query(ctx, port.Query{
		Kind:    port.KindItem,
		Filters: []port.Filter{{Field: "owner", Op: port.FilterEq, Value: ownerID}},
		OrderBy: "creation_time",
		Offset:  page.Offset,
		Limit:   page.Limit,
	})
	if err != nil {
		return nil, err
	}

	items := make([]*domain.Item, 0, len(recs))
	for _, rec := range recs {
		item, err := decodeItem(rec)
		if err != nil {
			return nil, err
		}
		if viewerID != item.Owner {
			item.TradeLock = ""
		}
		items = append(items, item)
	}
	return items, nil
}

// ListTrades returns trades userID is a party to, newest first, optionally
// restricted to one status.
func (s *QueryService) ListTrades(ctx context.Context, userID string, status domain.TradeStatus, page Page) ([]*domain.Trade, error) {
	page, err := page.normalize()
	if err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidQuery, status)
	}

	// Each side can contribute at most offset+limit rows to the merged window.
	window := page.Offset + page.Limit
	var trades []*domain.Trade
	for _, field := range []string{"sender_id", "recipient_id"} {
		filters := []port.Filter{{Field: field, Op: port.FilterEq, Value: userID}}
		if status != "" {
			filters = append(filters, port.Filter{Field: "status", Op: port.FilterEq, Value: string(status)})
		}
		recs, err := s.store.Query(ctx, port.Query{
			Kind:       port.KindTrade,
			Filters:    filters,
			OrderBy:    "creation_time",
			Descending: true,
			Limit:      window,
		})
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			t, err := decodeTrade(rec)
			if err != nil {
				return nil, err
			}
			trades = append(trades, t)
		}
	}

	sort.SliceStable(trades, func(i, j int) bool {
		if trades[i].CreationTime != trades[j].CreationTime {
			return trades[i].CreationTime > trades[j].CreationTime
		}
		return trades[i].ID < trades[j].ID
	})

	if page.Offset >= len(trades) {
		return []*domain.Trade{}, nil
	}
	trades = trades[page.Offset:]
	if len(trades) > page.Limit {
		trades = trades[:page.Limit]
	}
	return trades, nil
}

// GetTrade returns a trade to either of its parties. Anyone else gets
// ErrNotFound.
func (s *QueryService) GetTrade(ctx context.Context, tradeID, viewerID string) (*domain.Trade, error) {
	t, err := loadTrade(ctx, s.store, tradeID)
	if err != nil {
		return nil, err
	}
	if !t.Involves(viewerID) {
		return nil, fmt.Errorf("trade %s: %w", tradeID, ErrNotFound)
	}
	return t, nil
}

func (s *QueryService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return loadUser(ctx, s.store, userID)
}

// SearchUsers finds up to five users whose display name starts with prefix,
// ignoring case.
func (s *QueryService) SearchUsers(ctx context.Context, prefix string) ([]*domain.User, error) {
	if !searchPattern.MatchString(prefix) {
		return nil, fmt.Errorf("%w: search must be 3 to 64 characters without spaces", ErrInvalidQuery)
	}

	recs, err := s.store.Query(ctx, port.Query{
		Kind:    port.KindUser,
		Filters: []port.Filter{{Field: "display_name", Op: port.FilterPrefix, Value: prefix}},
		OrderBy: "display_name",
		Limit:   searchLimit,
	})
	if err != nil {
		return nil, err
	}

	users := make([]*domain.User, 0, len(recs))
	for _, rec := range recs {
		u, err := decodeUser(rec)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}
