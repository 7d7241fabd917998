package models

import (
	"time"
)

type RoomStatus string

const (
	RoomWaiting  RoomStatus = "waiting"
	RoomPlaying  RoomStatus = "playing"
	RoomFinished RoomStatus = "finished"
)

type Role string

const (
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

type Symbol string

const (
	SymbolX Symbol = "X"
	SymbolO Symbol = "O"
)

// Opponent returns the other symbol.
func (s Symbol) Opponent() Symbol {
	if s == SymbolX {
		return SymbolO
	}
	return SymbolX
}

type GameMode string

const (
	ModeAI       GameMode = "ai"
	ModePassPlay GameMode = "pass-play"
	ModeOnline   GameMode = "online"
)

type GameStatus string

const (
	GameActive    GameStatus = "active"
	GameFinished  GameStatus = "finished"
	GameAbandoned GameStatus = "abandoned"
)

// Terminal reports whether no further transition is allowed.
func (s GameStatus) Terminal() bool {
	return s == GameFinished || s == GameAbandoned
}

type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	AvatarURL   string    `json:"avatarUrl"`
	Coins       int64     `json:"coins"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PublicProfile is the part of a user other players may see.
type PublicProfile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

func (u *User) Public() PublicProfile {
	return PublicProfile{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
}

type Room struct {
	ID         string     `json:"id"`
	Code       string     `json:"code"`
	Name       string     `json:"name"`
	MaxPlayers int        `json:"maxPlayers"`
	BetAmount  int64      `json:"betAmount"`
	IsPrivate  bool       `json:"isPrivate"`
	OwnerID    string     `json:"ownerId"`
	Status     RoomStatus `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
}

type Participant struct {
	RoomID   string    `json:"roomId"`
	UserID   string    `json:"userId"`
	Role     Role      `json:"role"`
	Symbol   Symbol    `json:"symbol,omitempty"`
	JoinedAt time.Time `json:"joinedAt"`
	Online   bool      `json:"online"`
}

// AutoPlayState tracks server-driven moves made for a player whose turn timer expired.
type AutoPlayState struct {
	Enabled     bool       `json:"enabled"`
	Since       *time.Time `json:"since,omitempty"`
	Consecutive int        `json:"consecutive"`
}

// Board maps a 1-based position to the symbol occupying it.
type Board map[int]Symbol

func (b Board) Clone() Board {
	out := make(Board, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

type Game struct {
	ID            string                   `json:"id"`
	RoomID        string                   `json:"roomId"`
	PlayerXID     string                   `json:"playerXId"`
	PlayerOID     string                   `json:"playerOId"`
	Players       map[string]Symbol        `json:"players"`
	CurrentPlayer Symbol                   `json:"currentPlayer"`
	Mode          GameMode                 `json:"mode"`
	Status        GameStatus               `json:"status"`
	Board         Board                    `json:"board"`
	WinnerID      string                   `json:"winnerId,omitempty"`
	WinnerSymbol  Symbol                   `json:"winnerSymbol,omitempty"`
	WinCondition  string                   `json:"winCondition,omitempty"`
	WinningLine   []int                    `json:"winningLine,omitempty"`
	BetAmount     int64                    `json:"betAmount"`
	AutoPlay      map[string]AutoPlayState `json:"autoPlay"`
	MoveCount     int                      `json:"moveCount"`
	CreatedAt     time.Time                `json:"createdAt"`
	FinishedAt    *time.Time               `json:"finishedAt,omitempty"`
}

// Clone returns a deep copy safe to hand out of a room's critical section.
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	out := *g
	out.Board = g.Board.Clone()
	out.Players = make(map[string]Symbol, len(g.Players))
	for k, v := range g.Players {
		out.Players[k] = v
	}
	out.AutoPlay = make(map[string]AutoPlayState, len(g.AutoPlay))
	for k, v := range g.AutoPlay {
		out.AutoPlay[k] = v
	}
	if g.WinningLine != nil {
		out.WinningLine = append([]int(nil), g.WinningLine...)
	}
	if g.FinishedAt != nil {
		t := *g.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}

// PlayersWith returns the user ids holding sym, seat owner first.
func (g *Game) PlayersWith(sym Symbol) []string {
	var ids []string
	for _, id := range []string{g.PlayerXID, g.PlayerOID} {
		if g.Players[id] == sym {
			ids = append(ids, id)
		}
	}
	for id, s := range g.Players {
		if s == sym && id != g.PlayerXID && id != g.PlayerOID {
			ids = append(ids, id)
		}
	}
	return ids
}

type Move struct {
	GameID     string    `json:"gameId"`
	PlayerID   string    `json:"playerId"`
	Position   int       `json:"position"`
	Symbol     Symbol    `json:"symbol"`
	Sequence   int       `json:"sequence"`
	AutoPlayed bool      `json:"autoPlayed"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Ticket struct {
	UserID     string    `json:"userId"`
	BetAmount  int64     `json:"betAmount"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

const (
	LedgerStake  = "game_stake"
	LedgerPayout = "game_payout"
	LedgerRefund = "game_refund"
)

type LedgerEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	GameID    string    `json:"gameId"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

type Invitation struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"roomId"`
	RoomCode    string    `json:"roomCode"`
	InviterID   string    `json:"inviterId"`
	InviterName string    `json:"inviterName"`
	TargetID    string    `json:"targetId"`
	BetAmount   int64     `json:"betAmount"`
	ExpiresAt   time.Time `json:"expiresAt"`
}
