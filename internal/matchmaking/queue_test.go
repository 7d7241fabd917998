package matchmaking

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spyderonmode/TicTacMaster-sub002/internal/models"
)

type fakeMatcher struct {
	mu       sync.Mutex
	pairs    [][2]string
	rejected []string
	fail     func(older, newer models.Ticket) error
}

func (m *fakeMatcher) Match(_ context.Context, older, newer models.Ticket) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		if err := m.fail(older, newer); err != nil {
			return "", err
		}
	}
	m.pairs = append(m.pairs, [2]string{older.UserID, newer.UserID})
	return "room-" + older.UserID + "-" + newer.UserID, nil
}

func (m *fakeMatcher) Rejected(userID string, _ int64, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected = append(m.rejected, userID)
}

func balances(coins map[string]int64) BalanceFunc {
	return func(_ context.Context, userID string) (int64, error) {
		c, ok := coins[userID]
		if !ok {
			return 0, models.ErrUserNotFound
		}
		return c, nil
	}
}

func newQueue(coins map[string]int64) (*Queue, *fakeMatcher) {
	m := &fakeMatcher{}
	return New(DefaultTiers, balances(coins), m), m
}

func TestEnqueue_Validation(t *testing.T) {
	q, _ := newQueue(map[string]int64{"poor": 100, "rich": 1_000_000})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "rich", 7777)
	assert.ErrorIs(t, err, models.ErrInvalidBetAmount)

	_, err = q.Enqueue(ctx, "poor", 5000)
	assert.ErrorIs(t, err, models.ErrInsufficientCoins)

	_, err = q.Enqueue(ctx, "ghost", 5000)
	assert.ErrorIs(t, err, models.ErrUserNotFound)

	assert.Empty(t, q.Sizes())
}

func TestEnqueue_PairsOldestInTier(t *testing.T) {
	coins := map[string]int64{"a": 50000, "b": 50000, "c": 50000}
	q, m := newQueue(coins)
	ctx := context.Background()

	res, err := q.Enqueue(ctx, "a", 10000)
	require.NoError(t, err)
	assert.Equal(t, Result{Position: 1, BetAmount: 10000}, res)

	res, err = q.Enqueue(ctx, "c", 5000)
	require.NoError(t, err)
	assert.False(t, res.Matched, "different tier never pairs")

	res, err = q.Enqueue(ctx, "b", 10000)
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, "room-a-b", res.RoomID)

	assert.Equal(t, [][2]string{{"a", "b"}}, m.pairs)
	assert.Equal(t, 0, q.Position("a"))
	assert.Equal(t, 1, q.Position("c"))
	assert.Equal(t, map[int64]int{5000: 1}, q.Sizes())
}

func TestEnqueue_ReplacesExistingTicket(t *testing.T) {
	q, m := newQueue(map[string]int64{"a": 1_000_000})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "a", 5000)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "a", 5000)
	require.NoError(t, err)
	assert.Empty(t, m.pairs, "a user is never paired with themselves")
	assert.Equal(t, map[int64]int{5000: 1}, q.Sizes())

	_, err = q.Enqueue(ctx, "a", 10000)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{10000: 1}, q.Sizes())
}

func TestDequeue(t *testing.T) {
	q, _ := newQueue(map[string]int64{"a": 5000})
	_, err := q.Enqueue(context.Background(), "a", 5000)
	require.NoError(t, err)

	assert.True(t, q.Dequeue("a"))
	assert.False(t, q.Dequeue("a"))
	assert.Equal(t, 0, q.Position("a"))
}

func TestEnqueue_OlderCannotCover(t *testing.T) {
	q, m := newQueue(map[string]int64{"a": 10000, "b": 10000})
	m.fail = func(older, _ models.Ticket) error {
		return &models.InsufficientCoinsError{UserID: older.UserID, Balance: 0, Needed: 10000}
	}
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "a", 10000)
	require.NoError(t, err)
	res, err := q.Enqueue(ctx, "b", 10000)
	require.NoError(t, err)

	assert.False(t, res.Matched)
	assert.Equal(t, 1, res.Position)
	assert.Equal(t, []string{"a"}, m.rejected)
	assert.Equal(t, 0, q.Position("a"))
	assert.Equal(t, 1, q.Position("b"))
}

func TestEnqueue_NewerCannotCover(t *testing.T) {
	q, m := newQueue(map[string]int64{"a": 10000, "b": 10000, "c": 10000})
	m.fail = func(_, newer models.Ticket) error {
		if newer.UserID == "b" {
			return &models.InsufficientCoinsError{UserID: "b", Needed: 10000}
		}
		return nil
	}
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "a", 10000)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "b", 10000)
	assert.ErrorIs(t, err, models.ErrInsufficientCoins)
	assert.Equal(t, 1, q.Position("a"), "older ticket goes back to the head")
	assert.Equal(t, 0, q.Position("b"))

	res, err := q.Enqueue(ctx, "c", 10000)
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, [][2]string{{"a", "c"}}, m.pairs)
}

func TestEnqueue_FIFO(t *testing.T) {
	coins := map[string]int64{}
	for _, id := range []string{"u1", "u2", "u3", "u4"} {
		coins[id] = 5000
	}
	q, m := newQueue(coins)
	m.fail = func(_, _ models.Ticket) error { return errors.New("hold") }
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "u1", 5000)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "u2", 5000)
	require.Error(t, err)
	assert.Equal(t, 1, q.Position("u1"))

	m.fail = nil
	_, err = q.Enqueue(ctx, "u3", 5000)
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"u1", "u3"}}, m.pairs)
}

func TestTiers(t *testing.T) {
	q := New([]int64{100, 5, 50}, balances(nil), &fakeMatcher{})
	assert.Equal(t, []int64{5, 50, 100}, q.Tiers())
}
