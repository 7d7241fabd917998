package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformed = errors.New("malformed message")

// UnknownTypeError is returned by Decode for a well-formed message with an unrecognised type.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}

// Command is a decoded client message.
type Command interface {
	CommandType() string
}

// Correlated commands carry a client-chosen request id that is echoed in the reply.
type Correlated interface {
	Command
	Correlation() string
}

type Auth struct {
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

// Ping keeps the client's timestamp verbatim so the pong can echo it.
type Ping struct {
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

type RoomData struct {
	Name       string `json:"name"`
	MaxPlayers int    `json:"maxPlayers"`
	BetAmount  int64  `json:"betAmount"`
	IsPrivate  bool   `json:"isPrivate"`
}

type CreateRoom struct {
	RequestID string   `json:"requestId"`
	RoomData  RoomData `json:"roomData"`
}

type JoinRoom struct {
	RequestID string `json:"requestId"`
	Code      string `json:"code"`
	Role      string `json:"role"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId"`
}

type StartGame struct {
	RequestID string `json:"requestId"`
	RoomID    string `json:"roomId"`
}

type GameStartedAck struct {
	MessageID string `json:"messageId"`
}

type Move struct {
	GameID   string `json:"gameId"`
	Position int    `json:"position"`
}

type MatchmakingJoin struct {
	RequestID string `json:"requestId"`
	BetAmount int64  `json:"betAmount"`
}

type MatchmakingLeave struct{}

type InviteToRoom struct {
	RoomID       string `json:"roomId"`
	TargetUserID string `json:"targetUserId"`
}

type SendChat struct {
	TargetUserID string `json:"targetUserId"`
	Message      string `json:"message"`
}

type RequestCurrentGameState struct {
	UserID string `json:"userId"`
}

type PlayAgainRequest struct {
	GameID string `json:"gameId"`
}

type PlayAgainResponse struct {
	GameID string `json:"gameId"`
	Accept bool   `json:"accept"`
}

func (Auth) CommandType() string                    { return TypeAuth }
func (Ping) CommandType() string                    { return TypePing }
func (CreateRoom) CommandType() string              { return TypeCreateRoom }
func (JoinRoom) CommandType() string                { return TypeJoinRoomRequest }
func (LeaveRoom) CommandType() string               { return TypeLeaveRoom }
func (StartGame) CommandType() string               { return TypeStartGameRequest }
func (GameStartedAck) CommandType() string          { return TypeGameStartedAck }
func (Move) CommandType() string                    { return TypeMove }
func (MatchmakingJoin) CommandType() string         { return TypeMatchmakingJoin }
func (MatchmakingLeave) CommandType() string        { return TypeMatchmakingLeave }
func (InviteToRoom) CommandType() string            { return TypeInviteToRoom }
func (SendChat) CommandType() string                { return TypeSendChatMessage }
func (RequestCurrentGameState) CommandType() string { return TypeRequestCurrentGameState }
func (PlayAgainRequest) CommandType() string        { return TypePlayAgainRequest }
func (PlayAgainResponse) CommandType() string       { return TypePlayAgainResponse }

func (c CreateRoom) Correlation() string      { return c.RequestID }
func (c JoinRoom) Correlation() string        { return c.RequestID }
func (c StartGame) Correlation() string       { return c.RequestID }
func (c MatchmakingJoin) Correlation() string { return c.RequestID }

// Decode parses a raw client frame into its typed command.
func Decode(data []byte) (Command, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var cmd Command
	switch env.Type {
	case TypeAuth:
		cmd = &Auth{}
	case TypePing:
		cmd = &Ping{}
	case TypeCreateRoom:
		cmd = &CreateRoom{}
	case TypeJoinRoomRequest:
		cmd = &JoinRoom{}
	case TypeLeaveRoom:
		cmd = &LeaveRoom{}
	case TypeStartGameRequest:
		cmd = &StartGame{}
	case TypeGameStartedAck:
		cmd = &GameStartedAck{}
	case TypeMove:
		cmd = &Move{}
	case TypeMatchmakingJoin:
		cmd = &MatchmakingJoin{}
	case TypeMatchmakingLeave:
		return MatchmakingLeave{}, nil
	case TypeInviteToRoom:
		cmd = &InviteToRoom{}
	case TypeSendChatMessage:
		cmd = &SendChat{}
	case TypeRequestCurrentGameState:
		cmd = &RequestCurrentGameState{}
	case TypePlayAgainRequest:
		cmd = &PlayAgainRequest{}
	case TypePlayAgainResponse:
		cmd = &PlayAgainResponse{}
	default:
		return nil, &UnknownTypeError{Type: env.Type}
	}

	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return deref(cmd), nil
}

func deref(cmd Command) Command {
	switch c := cmd.(type) {
	case *Auth:
		return *c
	case *Ping:
		return *c
	case *CreateRoom:
		return *c
	case *JoinRoom:
		return *c
	case *LeaveRoom:
		return *c
	case *StartGame:
		return *c
	case *GameStartedAck:
		return *c
	case *Move:
		return *c
	case *MatchmakingJoin:
		return *c
	case *InviteToRoom:
		return *c
	case *SendChat:
		return *c
	case *RequestCurrentGameState:
		return *c
	case *PlayAgainRequest:
		return *c
	case *PlayAgainResponse:
		return *c
	}
	return cmd
}
