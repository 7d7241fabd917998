package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spyderonmode/TicTacMaster-sub002/internal/models"
)

// Memory is a process-local Store used when no DATABASE_URL is configured and in tests.
type Memory struct {
	mu           sync.RWMutex
	users        map[string]*models.User
	rooms        map[string]models.Room
	participants map[string]map[string]models.Participant // roomID -> userID
	games        map[string]*models.Game
	moves        map[string][]models.Move
	ledger       []models.LedgerEntry
	passwords    map[string]string // username -> hash
	googleIDs    map[string]string // google id -> user id
}

func NewMemory() *Memory {
	return &Memory{
		users:        make(map[string]*models.User),
		rooms:        make(map[string]models.Room),
		participants: make(map[string]map[string]models.Participant),
		games:        make(map[string]*models.Game),
		moves:        make(map[string][]models.Move),
		passwords:    make(map[string]string),
		googleIDs:    make(map[string]string),
	}
}

func (m *Memory) GetUser(_ context.Context, userID string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	copy := *u
	return &copy, nil
}

func (m *Memory) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := *user
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	if u.Username == "" {
		u.Username = u.ID
	}
	if u.DisplayName == "" {
		u.DisplayName = u.Username
	}
	m.users[u.ID] = &u
	return nil
}

func (m *Memory) Balance(_ context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[userID]
	if !ok {
		return 0, models.ErrUserNotFound
	}
	return u.Coins, nil
}

func (m *Memory) Debit(_ context.Context, userIDs []string, amount int64, gameID string) error {
	if amount == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range userIDs {
		u, ok := m.users[id]
		if !ok {
			return models.ErrUserNotFound
		}
		if u.Coins < amount {
			return &models.InsufficientCoinsError{UserID: id, Balance: u.Coins, Needed: amount}
		}
	}

	now := time.Now()
	for _, id := range userIDs {
		m.users[id].Coins -= amount
		m.ledger = append(m.ledger, models.LedgerEntry{
			ID:        uuid.NewString(),
			UserID:    id,
			GameID:    gameID,
			Amount:    -amount,
			Reason:    models.LedgerStake,
			CreatedAt: now,
		})
	}
	return nil
}

func (m *Memory) Credit(_ context.Context, userID string, amount int64, gameID, reason string) error {
	if amount == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return models.ErrUserNotFound
	}
	u.Coins += amount
	m.ledger = append(m.ledger, models.LedgerEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		GameID:    gameID,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *Memory) Ledger(_ context.Context, userID string) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []models.LedgerEntry
	for _, e := range m.ledger {
		if e.UserID == userID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (m *Memory) SaveRoom(_ context.Context, room models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rooms[room.ID] = room
	return nil
}

// Room returns a persisted room; used by tests and diagnostics.
func (m *Memory) Room(roomID string) (models.Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[roomID]
	return r, ok
}

func (m *Memory) SaveParticipant(_ context.Context, p models.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.participants[p.RoomID] == nil {
		m.participants[p.RoomID] = make(map[string]models.Participant)
	}
	m.participants[p.RoomID][p.UserID] = p
	return nil
}

func (m *Memory) DeleteParticipant(_ context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.participants[roomID], userID)
	return nil
}

// Participants returns the persisted roster of a room ordered by join time.
func (m *Memory) Participants(roomID string) []models.Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Participant, 0, len(m.participants[roomID]))
	for _, p := range m.participants[roomID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

func (m *Memory) SaveGame(_ context.Context, game *models.Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.games[game.ID] = game.Clone()
	return nil
}

// Games returns every persisted game of a room.
func (m *Memory) Games(roomID string) []*models.Game {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Game
	for _, g := range m.games {
		if g.RoomID == roomID {
			out = append(out, g.Clone())
		}
	}
	return out
}

func (m *Memory) AppendMove(_ context.Context, move models.Move) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.moves[move.GameID] {
		if existing.Sequence == move.Sequence || existing.Position == move.Position {
			return ErrDuplicateMove
		}
	}
	m.moves[move.GameID] = append(m.moves[move.GameID], move)
	return nil
}

func (m *Memory) Moves(_ context.Context, gameID string) ([]models.Move, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Move, len(m.moves[gameID]))
	copy(out, m.moves[gameID])
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}
