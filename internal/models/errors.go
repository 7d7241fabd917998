package models

import (
	"errors"
	"fmt"
)

// Domain errors. Each one maps to a wire error code in the protocol package.
var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomFull          = errors.New("room is full")
	ErrAlreadyInRoom     = errors.New("user already in room")
	ErrNotInRoom         = errors.New("user is not in room")
	ErrInsufficientCoins = errors.New("insufficient coins")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotEnoughPlayers  = errors.New("not enough players")
	ErrAlreadyPlaying    = errors.New("room already playing")
	ErrGameNotFound      = errors.New("game not found")
	ErrGameNotActive     = errors.New("game is not active")
	ErrNotYourTurn       = errors.New("not your turn")
	ErrPositionOccupied  = errors.New("position already occupied")
	ErrInvalidPosition   = errors.New("invalid board position")
	ErrNotAPlayer        = errors.New("user is not a player in this game")
	ErrDuplicateRequest  = errors.New("duplicate request")
	ErrRequestNotFound   = errors.New("request not found")
	ErrInvalidBetAmount  = errors.New("invalid bet amount")
	ErrInvalidRoomData   = errors.New("invalid room data")
	ErrUserNotFound      = errors.New("user not found")
	ErrNotAuthenticated  = errors.New("not authenticated")
)

// InsufficientCoinsError names the user whose balance could not cover a stake.
type InsufficientCoinsError struct {
	UserID  string
	Balance int64
	Needed  int64
}

func (e *InsufficientCoinsError) Error() string {
	return fmt.Sprintf("user %s has %d coins, needs %d", e.UserID, e.Balance, e.Needed)
}

func (e *InsufficientCoinsError) Is(target error) bool {
	return target == ErrInsufficientCoins
}
