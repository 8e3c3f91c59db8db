package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/baller-exchange/internal/adapter/storage"
	"github.com/rl1809/baller-exchange/internal/core/domain"
	"github.com/rl1809/baller-exchange/internal/port"
)

// stubOracle returns predictable attributes and counts calls.
type stubOracle struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (o *stubOracle) Generate(_ context.Context, itemID string) (domain.Attributes, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return nil, o.err
	}
	return domain.Attributes{"name": "ball-" + itemID, "rarity_name": "common"}, nil
}

type stubProfiles struct {
	err error
}

func (p stubProfiles) Profile(_ context.Context, userID string) (domain.Profile, error) {
	if p.err != nil {
		return domain.Profile{}, p.err
	}
	return domain.Profile{DisplayName: "user_" + userID}, nil
}

// Mock IdempotencyGuard
type mockGuard struct {
	mu       sync.Mutex
	keys     map[string]bool
	released []string
}

func newMockGuard() *mockGuard {
	return &mockGuard{keys: make(map[string]bool)}
}

func (m *mockGuard) SetIdempotency(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *mockGuard) ReleaseIdempotency(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	m.released = append(m.released, key)
	return nil
}

// faultyStore fails the next failCommits commits with err after discarding
// the transaction, as if the process died before the write reached the
// store.
type faultyStore struct {
	port.DocumentStore
	mu          sync.Mutex
	failCommits int
	err         error
	commits     int
}

func (s *faultyStore) failNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommits, s.err = n, err
}

func (s *faultyStore) Begin(ctx context.Context) (port.Tx, error) {
	tx, err := s.DocumentStore.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyTx{Tx: tx, store: s}, nil
}

type faultyTx struct {
	port.Tx
	store *faultyStore
}

func (t *faultyTx) Commit(ctx context.Context) error {
	s := t.store
	s.mu.Lock()
	s.commits++
	if s.failCommits > 0 {
		s.failCommits--
		err := s.err
		s.mu.Unlock()
		_ = t.Tx.Rollback(ctx)
		return err
	}
	s.mu.Unlock()
	return t.Tx.Commit(ctx)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errCrash = errors.New("connection lost")

type testEnv struct {
	mem     *storage.MemoryStore
	store   *faultyStore
	clock   *fakeClock
	cfg     EconomyConfig
	oracle  *stubOracle
	guard   *mockGuard
	log     *logrus.Logger
	hook    *test.Hook
	coord   *Coordinator
	ledger  *LedgerService
	rolls   *RollService
	trades  *TradeService
	queries *QueryService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	mem := storage.NewMemoryStore()
	e := &testEnv{
		mem:    mem,
		store:  &faultyStore{DocumentStore: mem},
		clock:  &fakeClock{now: time.UnixMilli(1_700_000_000_000)},
		cfg:    DefaultEconomyConfig(),
		oracle: &stubOracle{},
		guard:  newMockGuard(),
		log:    log,
		hook:   hook,
	}
	e.coord = NewCoordinator(e.store, 50, 0, log)
	e.ledger = NewLedgerService(e.coord, e.cfg, log).WithClock(e.clock.Now)
	e.rolls = NewRollService(e.coord, e.oracle, stubProfiles{}, e.guard, e.cfg, log).WithClock(e.clock.Now)
	e.trades = NewTradeService(e.coord, e.cfg, log).WithClock(e.clock.Now)
	e.queries = NewQueryService(e.store)
	return e
}

// seedUser stores a user owning freshly created items.
func (e *testEnv) seedUser(t *testing.T, id string, balance int64, itemIDs ...string) {
	t.Helper()
	ctx := context.Background()
	now := e.clock.Now().UnixMilli()

	tx, err := e.mem.Begin(ctx)
	require.NoError(t, err)
	u := &domain.User{
		ID:              id,
		SchemaVersion:   domain.CurrentUserSchema,
		DisplayName:     "user_" + id,
		Inventory:       append([]string{}, itemIDs...),
		CurrencyBalance: balance,
		LastAccrualTime: now,
		PendingTrades:   []string{},
		CreationTime:    now,
	}
	require.NoError(t, insertUser(ctx, tx, u))
	for _, itemID := range itemIDs {
		item := &domain.Item{ID: itemID, Owner: id, Attributes: domain.Attributes{"name": itemID}, CreationTime: now}
		require.NoError(t, insertItem(ctx, tx, item))
	}
	require.NoError(t, tx.Commit(ctx))
}

func (e *testEnv) user(t *testing.T, id string) *domain.User {
	t.Helper()
	u, err := loadUser(context.Background(), e.mem, id)
	require.NoError(t, err)
	return u
}

func (e *testEnv) item(t *testing.T, id string) *domain.Item {
	t.Helper()
	it, err := loadItem(context.Background(), e.mem, id)
	require.NoError(t, err)
	return it
}

func (e *testEnv) trade(t *testing.T, id string) *domain.Trade {
	t.Helper()
	tr, err := loadTrade(context.Background(), e.mem, id)
	require.NoError(t, err)
	return tr
}

// requireClean runs the auditor and fails on any invariant violation.
func (e *testEnv) requireClean(t *testing.T) {
	t.Helper()
	report, err := NewAuditor(e.mem, e.log).Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Violations)
}
