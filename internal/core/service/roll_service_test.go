package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/baller-exchange/internal/port"
)

func TestRoll_SpendsUntilBroke(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.seedUser(t, "alice", 1000)

	res, err := e.rolls.Roll(ctx, "", "alice", false)
	require.NoError(t, err)
	assert.False(t, res.NewUser)
	assert.Equal(t, int64(0), res.Balance)
	require.Len(t, res.Items, 1)

	for id, attrs := range res.Items {
		assert.Equal(t, "ball-"+id, attrs["name"])
		item := e.item(t, id)
		assert.Equal(t, "alice", item.Owner)
		assert.False(t, item.Locked())
		assert.Contains(t, e.user(t, "alice").Inventory, id)
	}

	_, err = e.rolls.Roll(ctx, "", "alice", false)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, 1, e.mem.Len(port.KindItem))
	e.requireClean(t)
}

func TestRoll_Pack(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "alice", 4500)

	res, err := e.rolls.Roll(context.Background(), "", "alice", true)

	require.NoError(t, err)
	assert.Len(t, res.Items, 5)
	assert.Equal(t, int64(500), res.Balance)
	assert.Len(t, e.user(t, "alice").Inventory, 5)
	e.requireClean(t)
}

func TestRoll_OnboardsUnknownUser(t *testing.T) {
	e := newTestEnv(t)

	res, err := e.rolls.Roll(context.Background(), "", "newbie", false)

	require.NoError(t, err)
	assert.True(t, res.NewUser)
	assert.Equal(t, e.cfg.StartingBalance, res.Balance)
	require.Len(t, res.Items, 1)

	u := e.user(t, "newbie")
	assert.Equal(t, "user_newbie", u.DisplayName)
	assert.Equal(t, e.cfg.StartingBalance, u.CurrencyBalance)
	assert.Equal(t, e.clock.Now().UnixMilli(), u.LastAccrualTime)
	assert.Empty(t, u.PendingTrades)
	assert.Len(t, u.Inventory, 1)
	e.requireClean(t)
}

func TestRoll_PackForUnknownUser(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.rolls.Roll(context.Background(), "", "newbie", true)

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, e.mem.Len(port.KindUser))
	assert.Equal(t, 0, e.oracle.calls)
}

func TestRoll_OracleFailure(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "alice", 1000)
	e.oracle.err = errors.New("oracle down")

	_, err := e.rolls.Roll(context.Background(), "", "alice", false)

	assert.ErrorIs(t, err, ErrGenerationUnavailable)
	assert.Equal(t, int64(1000), e.user(t, "alice").CurrencyBalance)
	assert.Equal(t, 0, e.mem.Len(port.KindItem))
}

func TestRoll_ProfileFailure(t *testing.T) {
	e := newTestEnv(t)
	rolls := NewRollService(e.coord, e.oracle, stubProfiles{err: errors.New("idp down")}, nil, e.cfg, e.log)

	_, err := rolls.Roll(context.Background(), "", "newbie", false)

	assert.ErrorIs(t, err, ErrProfileUnavailable)
	assert.Equal(t, 0, e.mem.Len(port.KindUser))
}

func TestRoll_DuplicateRequest(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.seedUser(t, "alice", 3000)

	_, err := e.rolls.Roll(ctx, "req-1", "alice", false)
	require.NoError(t, err)

	_, err = e.rolls.Roll(ctx, "req-1", "alice", false)
	assert.ErrorIs(t, err, ErrDuplicateRequest)
	assert.Equal(t, int64(2000), e.user(t, "alice").CurrencyBalance)

	// The same request id from another user is a different request.
	e.seedUser(t, "bob", 1000)
	_, err = e.rolls.Roll(ctx, "req-1", "bob", false)
	assert.NoError(t, err)
}

func TestRoll_FailureReleasesRequestID(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.seedUser(t, "alice", 0)

	_, err := e.rolls.Roll(ctx, "req-1", "alice", false)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, []string{"roll:alice:req-1"}, e.guard.released)

	tx, err := e.mem.Begin(ctx)
	require.NoError(t, err)
	u, err := loadUser(ctx, tx, "alice")
	require.NoError(t, err)
	u.CurrencyBalance = 1000
	require.NoError(t, saveUser(ctx, tx, u))
	require.NoError(t, tx.Commit(ctx))

	_, err = e.rolls.Roll(ctx, "req-1", "alice", false)
	assert.NoError(t, err)
}

func TestRoll_RetryReusesGeneratedItems(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "alice", 1000)
	e.store.failNext(2, port.ErrConflict)

	res, err := e.rolls.Roll(context.Background(), "", "alice", false)

	require.NoError(t, err)
	assert.Len(t, res.Items, 1)
	assert.Equal(t, 1, e.oracle.calls)
	assert.Equal(t, 1, e.mem.Len(port.KindItem))
	assert.Equal(t, 3, e.store.commits)
}

func TestRoll_ConcurrentNeverOverspends(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "alice", 3000)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.rolls.Roll(context.Background(), "", "alice", false)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	u := e.user(t, "alice")
	assert.Equal(t, int64(0), u.CurrencyBalance)
	assert.Len(t, u.Inventory, 3)
	assert.Equal(t, 3, e.mem.Len(port.KindItem))
	e.requireClean(t)
}

func TestRoll_ConcurrentOnboardingCreatesOneUser(t *testing.T) {
	e := newTestEnv(t)

	const workers = 6
	var wg sync.WaitGroup
	results := make([]*RollResult, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.rolls.Roll(context.Background(), "", "newbie", false)
			if err == nil {
				results[i] = res
			}
		}(i)
	}
	wg.Wait()

	onboarded := 0
	for _, res := range results {
		if res != nil && res.NewUser {
			onboarded++
		}
	}
	assert.Equal(t, 1, onboarded)
	assert.Equal(t, 1, e.mem.Len(port.KindUser))
	e.requireClean(t)
}
