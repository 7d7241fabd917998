package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spyderonmode/TicTacMaster-sub002/internal/models"
)

func seedUsers(t *testing.T, m *Memory, coins map[string]int64) {
	t.Helper()
	for id, c := range coins {
		require.NoError(t, m.CreateUser(context.Background(), &models.User{ID: id, Coins: c}))
	}
}

func TestMemory_CreateUserDefaults(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.CreateUser(context.Background(), &models.User{ID: "u1", Coins: 10}))

	u, err := m.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.Username)
	assert.Equal(t, "u1", u.DisplayName)
	assert.False(t, u.CreatedAt.IsZero())

	_, err = m.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrUserNotFound)
}

func TestMemory_DebitAllOrNone(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedUsers(t, m, map[string]int64{"a": 100, "b": 40})

	err := m.Debit(ctx, []string{"a", "b"}, 50, "g1")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInsufficientCoins)

	var ice *models.InsufficientCoinsError
	require.True(t, errors.As(err, &ice))
	assert.Equal(t, "b", ice.UserID)
	assert.Equal(t, int64(40), ice.Balance)

	bal, _ := m.Balance(ctx, "a")
	assert.Equal(t, int64(100), bal, "no partial debit")
	entries, _ := m.Ledger(ctx, "a")
	assert.Empty(t, entries)

	require.NoError(t, m.Debit(ctx, []string{"a", "b"}, 40, "g1"))
	bal, _ = m.Balance(ctx, "b")
	assert.Equal(t, int64(0), bal)

	entries, _ = m.Ledger(ctx, "a")
	require.Len(t, entries, 1)
	assert.Equal(t, int64(-40), entries[0].Amount)
	assert.Equal(t, models.LedgerStake, entries[0].Reason)
	assert.Equal(t, "g1", entries[0].GameID)
}

func TestMemory_ZeroAmountIsNoop(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedUsers(t, m, map[string]int64{"a": 0})

	require.NoError(t, m.Debit(ctx, []string{"a"}, 0, "g"))
	require.NoError(t, m.Credit(ctx, "a", 0, "g", models.LedgerRefund))
	entries, _ := m.Ledger(ctx, "a")
	assert.Empty(t, entries)
}

func TestMemory_Credit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedUsers(t, m, map[string]int64{"a": 5})

	require.NoError(t, m.Credit(ctx, "a", 20, "g", models.LedgerPayout))
	bal, _ := m.Balance(ctx, "a")
	assert.Equal(t, int64(25), bal)

	assert.ErrorIs(t, m.Credit(ctx, "nobody", 1, "g", models.LedgerPayout), models.ErrUserNotFound)
}

func TestMemory_AppendMoveRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.AppendMove(ctx, models.Move{GameID: "g", Position: 1, Sequence: 1}))
	assert.ErrorIs(t, m.AppendMove(ctx, models.Move{GameID: "g", Position: 2, Sequence: 1}), ErrDuplicateMove)
	assert.ErrorIs(t, m.AppendMove(ctx, models.Move{GameID: "g", Position: 1, Sequence: 2}), ErrDuplicateMove)
	require.NoError(t, m.AppendMove(ctx, models.Move{GameID: "g", Position: 2, Sequence: 2}))

	moves, err := m.Moves(ctx, "g")
	require.NoError(t, err)
	assert.Len(t, moves, 2)
}

func TestMemory_ParticipantsOrdered(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	require.NoError(t, m.SaveParticipant(ctx, models.Participant{RoomID: "r", UserID: "late", JoinedAt: now.Add(time.Second)}))
	require.NoError(t, m.SaveParticipant(ctx, models.Participant{RoomID: "r", UserID: "early", JoinedAt: now}))

	ps := m.Participants("r")
	require.Len(t, ps, 2)
	assert.Equal(t, "early", ps[0].UserID)

	require.NoError(t, m.DeleteParticipant(ctx, "r", "early"))
	assert.Len(t, m.Participants("r"), 1)
}

func TestMemory_SaveGameStoresCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	g := &models.Game{ID: "g", RoomID: "r", Board: models.Board{1: models.SymbolX}}

	require.NoError(t, m.SaveGame(ctx, g))
	g.Board[2] = models.SymbolO

	games := m.Games("r")
	require.Len(t, games, 1)
	assert.Len(t, games[0].Board, 1)
}

func TestMemory_Accounts(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	u := &models.User{Username: "alice", Coins: 500}
	require.NoError(t, m.CreateAccount(ctx, u, "hash"))
	assert.NotEmpty(t, u.ID)
	assert.ErrorIs(t, m.CreateAccount(ctx, &models.User{Username: "alice"}, "other"), ErrUsernameTaken)

	got, hash, err := m.Credentials(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hash", hash)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "alice", got.DisplayName)

	_, _, err = m.Credentials(ctx, "bob")
	assert.ErrorIs(t, err, models.ErrUserNotFound)
}

func TestMemory_UpsertGoogleUserKeepsBalance(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	acct := GoogleAccount{ID: "g-1", Email: "a@example.com", Name: "Alice"}

	first, err := m.UpsertGoogleUser(ctx, acct, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), first.Coins)
	require.NoError(t, m.Debit(ctx, []string{first.ID}, 400, "g"))

	acct.Name = "Alice B"
	again, err := m.UpsertGoogleUser(ctx, acct, 1000)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "Alice B", again.DisplayName)
	assert.Equal(t, int64(600), again.Coins)
}
