package store

import (
	"database/sql"
	"fmt"
)

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id VARCHAR(64) PRIMARY KEY,
            username VARCHAR(255) NOT NULL,
            display_name VARCHAR(255) NOT NULL DEFAULT '',
            avatar_url VARCHAR(500) NOT NULL DEFAULT '',
            coins BIGINT NOT NULL DEFAULT 0 CHECK (coins >= 0),
            password_hash VARCHAR(255) NOT NULL DEFAULT '',
            google_id VARCHAR(255) UNIQUE,
            email VARCHAR(255) NOT NULL DEFAULT '',
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS rooms (
            id UUID PRIMARY KEY,
            code VARCHAR(16) NOT NULL,
            name VARCHAR(255) NOT NULL DEFAULT '',
            max_players INTEGER NOT NULL,
            bet_amount BIGINT NOT NULL DEFAULT 0,
            is_private BOOLEAN NOT NULL DEFAULT FALSE,
            owner_id VARCHAR(64) REFERENCES users(id),
            status VARCHAR(20) NOT NULL DEFAULT 'waiting', -- waiting, playing, finished
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS room_participants (
            room_id UUID REFERENCES rooms(id),
            user_id VARCHAR(64) REFERENCES users(id),
            role VARCHAR(20) NOT NULL, -- player, spectator
            symbol VARCHAR(1) NOT NULL DEFAULT '',
            joined_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (room_id, user_id)
        )`,
		`CREATE TABLE IF NOT EXISTS games (
            id UUID PRIMARY KEY,
            room_id UUID REFERENCES rooms(id),
            player_x_id VARCHAR(64) REFERENCES users(id),
            player_o_id VARCHAR(64) REFERENCES users(id),
            players JSONB NOT NULL DEFAULT '{}',
            current_player VARCHAR(1) NOT NULL,
            mode VARCHAR(20) NOT NULL DEFAULT 'online',
            status VARCHAR(20) NOT NULL DEFAULT 'active', -- active, finished, abandoned
            board JSONB NOT NULL DEFAULT '{}',
            winner_id VARCHAR(64),
            winner_symbol VARCHAR(1) NOT NULL DEFAULT '',
            win_condition VARCHAR(32) NOT NULL DEFAULT '',
            auto_play JSONB NOT NULL DEFAULT '{}',
            bet_amount BIGINT NOT NULL DEFAULT 0,
            move_count INTEGER NOT NULL DEFAULT 0,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            finished_at TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS game_moves (
            id SERIAL PRIMARY KEY,
            game_id UUID REFERENCES games(id),
            player_id VARCHAR(64) REFERENCES users(id),
            position INTEGER NOT NULL,
            symbol VARCHAR(1) NOT NULL,
            move_number INTEGER NOT NULL,
            auto_played BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            UNIQUE (game_id, move_number),
            UNIQUE (game_id, position)
        )`,
		`CREATE TABLE IF NOT EXISTS coin_ledger (
            id UUID PRIMARY KEY,
            user_id VARCHAR(64) REFERENCES users(id),
            game_id UUID,
            amount BIGINT NOT NULL,
            reason VARCHAR(32) NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username ON users(username)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_rooms_live_code ON rooms(code) WHERE status <> 'finished'`,
		`CREATE INDEX IF NOT EXISTS idx_games_room ON games(room_id)`,
		`CREATE INDEX IF NOT EXISTS idx_game_moves_game_id ON game_moves(game_id)`,
		`CREATE INDEX IF NOT EXISTS idx_coin_ledger_user ON coin_ledger(user_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}
