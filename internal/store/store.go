// Package store persists users, rooms, games, moves and the coin ledger.
//
// The coordination core keeps authoritative state in memory and treats the store as a
// record sink, except for coin balances: stakes are debited synchronously through Debit,
// which must be conditional and all-or-none.
package store

import (
	"context"
	"errors"

	"github.com/spyderonmode/TicTacMaster-sub002/internal/models"
)

var ErrDuplicateMove = errors.New("move sequence or position already recorded")

type Store interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	Balance(ctx context.Context, userID string) (int64, error)

	// Debit takes amount from every user or from none of them. A user that cannot
	// cover the amount yields an *models.InsufficientCoinsError.
	Debit(ctx context.Context, userIDs []string, amount int64, gameID string) error
	Credit(ctx context.Context, userID string, amount int64, gameID, reason string) error
	Ledger(ctx context.Context, userID string) ([]models.LedgerEntry, error)

	SaveRoom(ctx context.Context, room models.Room) error
	SaveParticipant(ctx context.Context, p models.Participant) error
	DeleteParticipant(ctx context.Context, roomID, userID string) error

	SaveGame(ctx context.Context, game *models.Game) error
	AppendMove(ctx context.Context, move models.Move) error
	Moves(ctx context.Context, gameID string) ([]models.Move, error)

	Close() error
}
