package protocol

import (
	"encoding/json"
	"time"

	"github.com/spyderonmode/TicTacMaster-sub002/internal/models"
)

// Outbound is any server message.
type Outbound interface {
	MessageType() string
}

// Reliable messages are resent until the client acknowledges their message id.
type Reliable interface {
	Outbound
	Stamp(messageID string)
	ID() string
}

// Envelope carries the discriminator of every server message.
type Envelope struct {
	Type string `json:"type"`
}

func (e Envelope) MessageType() string { return e.Type }

func Env(t string) Envelope { return Envelope{Type: t} }

type AuthSuccess struct {
	Envelope
	UserID string               `json:"userId"`
	User   models.PublicProfile `json:"user"`
	Coins  int64                `json:"coins"`
}

// ErrorMessage is used for "error" and "auth_error".
type ErrorMessage struct {
	Envelope
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Failure is the error reply to a command; RequestID is echoed for correlated commands.
type Failure struct {
	Envelope
	RequestID string `json:"requestId,omitempty"`
	RoomID    string `json:"roomId,omitempty"`
	GameID    string `json:"gameId,omitempty"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

type Pong struct {
	Envelope
	Timestamp  json.RawMessage `json:"timestamp,omitempty"`
	ServerTime int64           `json:"serverTime"`
}

type ParticipantView struct {
	UserID   string               `json:"userId"`
	Role     models.Role          `json:"role"`
	Symbol   models.Symbol        `json:"symbol,omitempty"`
	Online   bool                 `json:"online"`
	JoinedAt time.Time            `json:"joinedAt"`
	User     models.PublicProfile `json:"user"`
}

// RoomUpdate serves create/join success, leave_room_success and roster broadcasts.
type RoomUpdate struct {
	Envelope
	RequestID    string            `json:"requestId,omitempty"`
	RoomID       string            `json:"roomId"`
	Room         *models.Room      `json:"room,omitempty"`
	Participants []ParticipantView `json:"participants,omitempty"`
}

type StartGameSuccess struct {
	Envelope
	RequestID string       `json:"requestId,omitempty"`
	RoomID    string       `json:"roomId"`
	Game      *models.Game `json:"game"`
}

type GameStarted struct {
	Envelope
	RoomID      string                 `json:"roomId"`
	Room        *models.Room           `json:"room,omitempty"`
	Game        *models.Game           `json:"game"`
	YourSymbol  models.Symbol          `json:"yourSymbol,omitempty"`
	Players     []models.PublicProfile `json:"players"`
	MessageID   string                 `json:"messageId,omitempty"`
	RequiresAck bool                   `json:"requiresAck,omitempty"`
}

func (m *GameStarted) Stamp(messageID string) {
	m.MessageID = messageID
	m.RequiresAck = true
}

func (m *GameStarted) ID() string { return m.MessageID }

type MoveMade struct {
	Envelope
	GameID        string        `json:"gameId"`
	RoomID        string        `json:"roomId"`
	Move          models.Move   `json:"move"`
	Board         models.Board  `json:"board"`
	CurrentPlayer models.Symbol `json:"currentPlayer"`
	AutoPlayed    bool          `json:"autoPlayed"`
}

type PlayerResult struct {
	models.PublicProfile
	Symbol models.Symbol `json:"symbol"`
}

type GameOver struct {
	Envelope
	GameID       string         `json:"gameId"`
	RoomID       string         `json:"roomId"`
	Result       string         `json:"result"`
	Winner       string         `json:"winner,omitempty"`
	WinnerSymbol models.Symbol  `json:"winnerSymbol,omitempty"`
	Condition    string         `json:"condition"`
	WinningLine  []int          `json:"winningLine,omitempty"`
	Players      []PlayerResult `json:"players"`
	Game         *models.Game   `json:"game"`
}

const (
	ResultWin  = "win"
	ResultDraw = "draw"
)

// Abandoned serves player_left_win and game_abandoned.
type Abandoned struct {
	Envelope
	GameID  string         `json:"gameId"`
	RoomID  string         `json:"roomId"`
	Winner  string         `json:"winner"`
	Loser   string         `json:"loser"`
	Reason  string         `json:"reason"`
	Players []PlayerResult `json:"players,omitempty"`
}

type MatchmakingWaiting struct {
	Envelope
	RequestID string `json:"requestId,omitempty"`
	BetAmount int64  `json:"betAmount"`
	Position  int    `json:"position"`
}

type MatchmakingSuccess struct {
	Envelope
	RequestID    string            `json:"requestId,omitempty"`
	Room         *models.Room      `json:"room"`
	Participants []ParticipantView `json:"participants"`
	Game         *models.Game      `json:"game"`
	YourSymbol   models.Symbol     `json:"yourSymbol"`
}

type RoomInvitation struct {
	Envelope
	Invitation models.Invitation `json:"invitation"`
}

type ChatMessage struct {
	Envelope
	SenderID  string               `json:"senderId"`
	Sender    models.PublicProfile `json:"sender"`
	Message   string               `json:"message"`
	Timestamp int64                `json:"timestamp"`
}

// GameState serves reconnection_room_join, game_reconnection and current_game_state.
type GameState struct {
	Envelope
	Room         *models.Room      `json:"room,omitempty"`
	Participants []ParticipantView `json:"participants,omitempty"`
	Game         *models.Game      `json:"game"`
	YourSymbol   models.Symbol     `json:"yourSymbol,omitempty"`
}

// PlayAgain serves play_again_requested, play_again_rejected and play_again_expired.
type PlayAgain struct {
	Envelope
	GameID      string `json:"gameId"`
	RoomID      string `json:"roomId"`
	RequesterID string `json:"requesterId"`
	ResponderID string `json:"responderId,omitempty"`
}

// Presence serves online_users_update, user_offline, player_disconnected and player_reconnected.
type Presence struct {
	Envelope
	UserID  string   `json:"userId,omitempty"`
	RoomID  string   `json:"roomId,omitempty"`
	UserIDs []string `json:"userIds,omitempty"`
	Count   int      `json:"count,omitempty"`
}
