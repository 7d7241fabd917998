package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/spyderonmode/TicTacMaster-sub002/internal/models"
)

var ErrUsernameTaken = errors.New("username already taken")

// GoogleAccount is the subset of the Google userinfo response we keep.
type GoogleAccount struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Accounts holds login credentials. Both stores implement it.
type Accounts interface {
	CreateAccount(ctx context.Context, user *models.User, passwordHash string) error
	// Credentials returns the user and password hash for username, or ErrUserNotFound.
	Credentials(ctx context.Context, username string) (*models.User, string, error)
	// UpsertGoogleUser creates the user on first login with startingCoins and
	// refreshes the profile afterwards. Balances are never reset.
	UpsertGoogleUser(ctx context.Context, acct GoogleAccount, startingCoins int64) (*models.User, error)
}

func (m *Memory) CreateAccount(_ context.Context, user *models.User, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == user.Username {
			return ErrUsernameTaken
		}
	}
	u := *user
	if u.ID == "" {
		u.ID = uuid.NewString()
		user.ID = u.ID
	}
	if u.DisplayName == "" {
		u.DisplayName = u.Username
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	m.users[u.ID] = &u
	m.passwords[u.Username] = passwordHash
	return nil
}

func (m *Memory) Credentials(_ context.Context, username string) (*models.User, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hash, ok := m.passwords[username]
	if !ok {
		return nil, "", models.ErrUserNotFound
	}
	for _, u := range m.users {
		if u.Username == username {
			copy := *u
			return &copy, hash, nil
		}
	}
	return nil, "", models.ErrUserNotFound
}

func (m *Memory) UpsertGoogleUser(_ context.Context, acct GoogleAccount, startingCoins int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.googleIDs[acct.ID]; ok {
		u := m.users[id]
		u.DisplayName = acct.Name
		u.AvatarURL = acct.Picture
		copy := *u
		return &copy, nil
	}
	u := &models.User{
		ID:          uuid.NewString(),
		Username:    acct.Email,
		DisplayName: acct.Name,
		AvatarURL:   acct.Picture,
		Coins:       startingCoins,
		CreatedAt:   time.Now(),
	}
	m.users[u.ID] = u
	m.googleIDs[acct.ID] = u.ID
	copy := *u
	return &copy, nil
}

func (p *Postgres) CreateAccount(ctx context.Context, user *models.User, passwordHash string) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	display := user.DisplayName
	if display == "" {
		display = user.Username
	}
	_, err := p.db.ExecContext(ctx, `
        INSERT INTO users (id, username, display_name, avatar_url, coins, password_hash)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, user.ID, user.Username, display, user.AvatarURL, user.Coins, passwordHash)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("create account %s: %w", user.Username, err)
	}
	return nil
}

func (p *Postgres) Credentials(ctx context.Context, username string) (*models.User, string, error) {
	u := &models.User{}
	var hash string
	err := p.db.QueryRowContext(ctx, `
        SELECT id, username, display_name, avatar_url, coins, created_at, password_hash
        FROM users WHERE username = $1 AND password_hash <> ''
    `, username).Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL, &u.Coins, &u.CreatedAt, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", models.ErrUserNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("credentials %s: %w", username, err)
	}
	return u, hash, nil
}

func (p *Postgres) UpsertGoogleUser(ctx context.Context, acct GoogleAccount, startingCoins int64) (*models.User, error) {
	u := &models.User{}
	err := p.db.QueryRowContext(ctx, `
        INSERT INTO users (id, google_id, username, display_name, avatar_url, email, coins, updated_at)
        VALUES ($1, $2, $3, $4, $5, $3, $6, CURRENT_TIMESTAMP)
        ON CONFLICT (google_id)
        DO UPDATE SET
            display_name = EXCLUDED.display_name,
            avatar_url = EXCLUDED.avatar_url,
            email = EXCLUDED.email,
            updated_at = CURRENT_TIMESTAMP
        RETURNING id, username, display_name, avatar_url, coins, created_at
    `, uuid.NewString(), acct.ID, acct.Email, acct.Name, acct.Picture, startingCoins).Scan(
		&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL, &u.Coins, &u.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert google user %s: %w", acct.Email, err)
	}
	return u, nil
}
