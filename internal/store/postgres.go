package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/spyderonmode/TicTacMaster-sub002/internal/models"
)

const uniqueViolation = "23505"

type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to dbURL, retrying while the database comes up, and creates the schema.
func OpenPostgres(dbURL string) (*Postgres, error) {
	var (
		db  *sql.DB
		err error
	)
	for i := 0; i < 5; i++ {
		db, err = sql.Open("postgres", dbURL)
		if err == nil {
			err = db.Ping()
		}
		if err == nil {
			break
		}
		log.Printf("[store] failed to connect to database (attempt %d/5): %v", i+1, err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) GetUser(ctx context.Context, userID string) (*models.User, error) {
	u := &models.User{}
	err := p.db.QueryRowContext(ctx, `
        SELECT id, username, display_name, avatar_url, coins, created_at
        FROM users WHERE id = $1
    `, userID).Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL, &u.Coins, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return u, nil
}

func (p *Postgres) CreateUser(ctx context.Context, user *models.User) error {
	username := user.Username
	if username == "" {
		username = user.ID
	}
	display := user.DisplayName
	if display == "" {
		display = username
	}
	_, err := p.db.ExecContext(ctx, `
        INSERT INTO users (id, username, display_name, avatar_url, coins, updated_at)
        VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
        ON CONFLICT (id) DO NOTHING
    `, user.ID, username, display, user.AvatarURL, user.Coins)
	if err != nil {
		return fmt.Errorf("create user %s: %w", user.ID, err)
	}
	return nil
}

func (p *Postgres) Balance(ctx context.Context, userID string) (int64, error) {
	var coins int64
	err := p.db.QueryRowContext(ctx, `SELECT coins FROM users WHERE id = $1`, userID).Scan(&coins)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, models.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", userID, err)
	}
	return coins, nil
}

func (p *Postgres) Debit(ctx context.Context, userIDs []string, amount int64, gameID string) error {
	if amount == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin debit: %w", err)
	}
	defer tx.Rollback()

	// fixed lock order so concurrent debits over the same users cannot deadlock
	ids := append([]string(nil), userIDs...)
	sort.Strings(ids)

	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `
            UPDATE users SET coins = coins - $1, updated_at = CURRENT_TIMESTAMP
            WHERE id = $2 AND coins >= $1
        `, amount, id)
		if err != nil {
			return fmt.Errorf("debit %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var coins int64
			err := tx.QueryRowContext(ctx, `SELECT coins FROM users WHERE id = $1`, id).Scan(&coins)
			if errors.Is(err, sql.ErrNoRows) {
				return models.ErrUserNotFound
			}
			if err != nil {
				return fmt.Errorf("debit %s: %w", id, err)
			}
			return &models.InsufficientCoinsError{UserID: id, Balance: coins, Needed: amount}
		}
		if err := insertLedger(ctx, tx, id, gameID, -amount, models.LedgerStake); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit debit: %w", err)
	}
	return nil
}

func (p *Postgres) Credit(ctx context.Context, userID string, amount int64, gameID, reason string) error {
	if amount == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin credit: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        UPDATE users SET coins = coins + $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2
    `, amount, userID)
	if err != nil {
		return fmt.Errorf("credit %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrUserNotFound
	}
	if err := insertLedger(ctx, tx, userID, gameID, amount, reason); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit credit: %w", err)
	}
	return nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, userID, gameID string, amount int64, reason string) error {
	var game sql.NullString
	if gameID != "" {
		game = sql.NullString{String: gameID, Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
        INSERT INTO coin_ledger (id, user_id, game_id, amount, reason)
        VALUES ($1, $2, $3, $4, $5)
    `, uuid.NewString(), userID, game, amount, reason)
	if err != nil {
		return fmt.Errorf("ledger entry for %s: %w", userID, err)
	}
	return nil
}

func (p *Postgres) Ledger(ctx context.Context, userID string) ([]models.LedgerEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
        SELECT id, user_id, COALESCE(game_id::text, ''), amount, reason, created_at
        FROM coin_ledger WHERE user_id = $1 ORDER BY created_at
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("ledger %s: %w", userID, err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.GameID, &e.Amount, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *Postgres) SaveRoom(ctx context.Context, room models.Room) error {
	_, err := p.db.ExecContext(ctx, `
        INSERT INTO rooms (id, code, name, max_players, bet_amount, is_private, owner_id, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            owner_id = EXCLUDED.owner_id,
            updated_at = CURRENT_TIMESTAMP
    `, room.ID, room.Code, room.Name, room.MaxPlayers, room.BetAmount, room.IsPrivate, room.OwnerID, string(room.Status), room.CreatedAt)
	if err != nil {
		return fmt.Errorf("save room %s: %w", room.ID, err)
	}
	return nil
}

func (p *Postgres) SaveParticipant(ctx context.Context, pt models.Participant) error {
	_, err := p.db.ExecContext(ctx, `
        INSERT INTO room_participants (room_id, user_id, role, symbol, joined_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (room_id, user_id) DO UPDATE SET role = EXCLUDED.role, symbol = EXCLUDED.symbol
    `, pt.RoomID, pt.UserID, string(pt.Role), string(pt.Symbol), pt.JoinedAt)
	if err != nil {
		return fmt.Errorf("save participant %s/%s: %w", pt.RoomID, pt.UserID, err)
	}
	return nil
}

func (p *Postgres) DeleteParticipant(ctx context.Context, roomID, userID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM room_participants WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	if err != nil {
		return fmt.Errorf("delete participant %s/%s: %w", roomID, userID, err)
	}
	return nil
}

func (p *Postgres) SaveGame(ctx context.Context, g *models.Game) error {
	board, err := json.Marshal(g.Board)
	if err != nil {
		return fmt.Errorf("marshal board: %w", err)
	}
	players, err := json.Marshal(g.Players)
	if err != nil {
		return fmt.Errorf("marshal players: %w", err)
	}
	autoPlay, err := json.Marshal(g.AutoPlay)
	if err != nil {
		return fmt.Errorf("marshal auto play: %w", err)
	}
	var winner sql.NullString
	if g.WinnerID != "" {
		winner = sql.NullString{String: g.WinnerID, Valid: true}
	}

	_, err = p.db.ExecContext(ctx, `
        INSERT INTO games (id, room_id, player_x_id, player_o_id, players, current_player, mode, status,
            board, winner_id, winner_symbol, win_condition, auto_play, bet_amount, move_count, created_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
        ON CONFLICT (id) DO UPDATE SET
            current_player = EXCLUDED.current_player,
            status = EXCLUDED.status,
            board = EXCLUDED.board,
            winner_id = EXCLUDED.winner_id,
            winner_symbol = EXCLUDED.winner_symbol,
            win_condition = EXCLUDED.win_condition,
            auto_play = EXCLUDED.auto_play,
            move_count = EXCLUDED.move_count,
            finished_at = EXCLUDED.finished_at
        WHERE games.status = 'active'
    `, g.ID, g.RoomID, g.PlayerXID, g.PlayerOID, players, string(g.CurrentPlayer), string(g.Mode), string(g.Status),
		board, winner, string(g.WinnerSymbol), g.WinCondition, autoPlay, g.BetAmount, g.MoveCount, g.CreatedAt, g.FinishedAt)
	if err != nil {
		return fmt.Errorf("save game %s: %w", g.ID, err)
	}
	return nil
}

func (p *Postgres) AppendMove(ctx context.Context, m models.Move) error {
	_, err := p.db.ExecContext(ctx, `
        INSERT INTO game_moves (game_id, player_id, position, symbol, move_number, auto_played, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, m.GameID, m.PlayerID, m.Position, string(m.Symbol), m.Sequence, m.AutoPlayed, m.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicateMove
	}
	if err != nil {
		return fmt.Errorf("append move %s#%d: %w", m.GameID, m.Sequence, err)
	}
	return nil
}

func (p *Postgres) Moves(ctx context.Context, gameID string) ([]models.Move, error) {
	rows, err := p.db.QueryContext(ctx, `
        SELECT game_id, player_id, position, symbol, move_number, auto_played, created_at
        FROM game_moves WHERE game_id = $1 ORDER BY move_number
    `, gameID)
	if err != nil {
		return nil, fmt.Errorf("moves %s: %w", gameID, err)
	}
	defer rows.Close()

	var moves []models.Move
	for rows.Next() {
		var (
			m   models.Move
			sym string
		)
		if err := rows.Scan(&m.GameID, &m.PlayerID, &m.Position, &sym, &m.Sequence, &m.AutoPlayed, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Symbol = models.Symbol(sym)
		moves = append(moves, m)
	}
	return moves, rows.Err()
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
