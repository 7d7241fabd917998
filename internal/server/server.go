// Package server routes websocket commands to the room directory and the
// matchmaking queue, and serves the HTTP surface around them.
package server

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spyderonmode/TicTacMaster-sub002/internal/auth"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/correlator"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/hub"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/matchmaking"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/models"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/protocol"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/room"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/store"
)

const (
	maxChatLength  = 500
	commandTimeout = 10 * time.Second
)

type Options struct {
	Tiers              []int64
	AutoProvisionUsers bool
	StartingCoins      int64
}

// Server is the command handler shared by every websocket client.
type Server struct {
	hub      *hub.Hub
	rooms    *room.Directory
	queue    *matchmaking.Queue
	requests *correlator.Correlator
	verifier *auth.Verifier
	store    store.Store
	opts     Options
}

func New(h *hub.Hub, rooms *room.Directory, requests *correlator.Correlator, verifier *auth.Verifier, st store.Store, opts Options) *Server {
	s := &Server{
		hub:      h,
		rooms:    rooms,
		requests: requests,
		verifier: verifier,
		store:    st,
		opts:     opts,
	}
	tiers := opts.Tiers
	if len(tiers) == 0 {
		tiers = matchmaking.DefaultTiers
	}
	s.queue = matchmaking.New(tiers, st.Balance, matcher{s})
	h.OnOffline(s.offline)
	return s
}

func (s *Server) Queue() *matchmaking.Queue {
	return s.queue
}

// offline runs once the user's last connection is gone. Room membership survives
// until the reconnect grace expires; a matchmaking ticket does not.
func (s *Server) offline(userID string) {
	if s.queue.Dequeue(userID) {
		log.Printf("[server] Removed %s from matchmaking after disconnect", userID)
	}
	s.rooms.MarkOffline(userID)
}

// Handle is called from the client's process loop, one command at a time.
func (s *Server) Handle(c *hub.Client, cmd protocol.Command) {
	if a, ok := cmd.(protocol.Auth); ok {
		s.handleAuth(c, a)
		return
	}
	userID := c.UserID()
	if userID == "" {
		c.SendError(protocol.CodeNotAuthenticated, "authenticate first")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch m := cmd.(type) {
	case protocol.CreateRoom:
		s.reply(c, userID, m, func() protocol.Outbound {
			v, err := s.rooms.CreateRoom(ctx, userID, m.RoomData)
			if err != nil {
				return protocol.NewFailure(protocol.TypeCreateRoomError, m.RequestID, err)
			}
			return roomUpdate(protocol.TypeCreateRoomSuccess, m.RequestID, v)
		})
	case protocol.JoinRoom:
		s.reply(c, userID, m, func() protocol.Outbound {
			v, err := s.rooms.JoinRoom(ctx, m.Code, userID, models.Role(m.Role))
			if err != nil {
				return protocol.NewFailure(protocol.TypeJoinRoomError, m.RequestID, err)
			}
			return roomUpdate(protocol.TypeJoinRoomSuccess, m.RequestID, v)
		})
	case protocol.StartGame:
		s.reply(c, userID, m, func() protocol.Outbound {
			g, err := s.rooms.StartGame(ctx, m.RoomID, userID)
			if err != nil {
				f := protocol.NewFailure(protocol.TypeStartGameError, m.RequestID, err)
				f.RoomID = m.RoomID
				return f
			}
			return protocol.StartGameSuccess{
				Envelope:  protocol.Env(protocol.TypeStartGameSuccess),
				RequestID: m.RequestID,
				RoomID:    m.RoomID,
				Game:      g,
			}
		})
	case protocol.MatchmakingJoin:
		s.reply(c, userID, m, func() protocol.Outbound {
			return s.joinMatchmaking(ctx, userID, m)
		})
	case protocol.LeaveRoom:
		s.handleLeave(ctx, c, userID, m)
	case protocol.GameStartedAck:
		s.hub.Ack(userID, m.MessageID)
	case protocol.Move:
		if err := s.rooms.ApplyMove(ctx, userID, m.GameID, m.Position); err != nil {
			f := protocol.NewFailure(protocol.TypeMoveError, "", err)
			f.GameID = m.GameID
			c.SendMessage(f)
		}
	case protocol.MatchmakingLeave:
		s.queue.Dequeue(userID)
		c.SendMessage(protocol.Envelope{Type: protocol.TypeMatchmakingLeft})
	case protocol.InviteToRoom:
		if _, err := s.rooms.Invite(ctx, userID, m.RoomID, m.TargetUserID); err != nil {
			f := protocol.NewFailure(protocol.TypeInviteError, "", err)
			f.RoomID = m.RoomID
			c.SendMessage(f)
		}
	case protocol.SendChat:
		if err := s.relayChat(ctx, userID, m); err != nil {
			c.SendMessage(protocol.NewFailure(protocol.TypeChatError, "", err))
		}
	case protocol.RequestCurrentGameState:
		c.SendMessage(s.rooms.CurrentState(userID))
	case protocol.PlayAgainRequest:
		if err := s.rooms.RequestPlayAgain(ctx, userID, m.GameID); err != nil {
			s.playAgainError(c, m.GameID, err)
		}
	case protocol.PlayAgainResponse:
		if _, err := s.rooms.RespondPlayAgain(ctx, userID, m.GameID, m.Accept); err != nil {
			s.playAgainError(c, m.GameID, err)
		}
	default:
		c.SendError(protocol.CodeUnknownMessageType, "unsupported message type "+cmd.CommandType())
	}
}

// reply runs a correlated command through the request cache and sends the result
// to the requesting connection.
func (s *Server) reply(c *hub.Client, userID string, cmd protocol.Correlated, fn func() protocol.Outbound) {
	out, replayed := s.requests.Do(userID, cmd.CommandType(), cmd.Correlation(), fn)
	if replayed {
		log.Printf("[server] Duplicate %s from %s answered from cache", cmd.CommandType(), userID)
	}
	c.SendMessage(out)
}

func roomUpdate(t, requestID string, v room.View) protocol.RoomUpdate {
	rm := v.Room
	return protocol.RoomUpdate{
		Envelope:     protocol.Env(t),
		RequestID:    requestID,
		RoomID:       rm.ID,
		Room:         &rm,
		Participants: v.Participants,
	}
}

func (s *Server) handleAuth(c *hub.Client, a protocol.Auth) {
	userID, err := s.verifier.Identify(a.UserID, a.Token)
	if err != nil {
		log.Printf("[server] Auth rejected on client %s: %v", c.ID, err)
		c.SendMessage(protocol.ErrorMessage{
			Envelope: protocol.Env(protocol.TypeAuthError),
			Code:     protocol.CodeNotAuthenticated,
			Message:  err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		log.Printf("[server] Auth for %s failed: %v", userID, err)
		c.SendMessage(protocol.ErrorMessage{
			Envelope: protocol.Env(protocol.TypeAuthError),
			Code:     protocol.CodeOf(err),
			Message:  "unknown user",
		})
		return
	}

	s.hub.Authenticate(c, userID)
	c.SendMessage(protocol.AuthSuccess{
		Envelope: protocol.Env(protocol.TypeAuthSuccess),
		UserID:   userID,
		User:     user.Public(),
		Coins:    user.Coins,
	})
	for _, st := range s.rooms.Reconnect(userID) {
		c.SendMessage(st)
	}
	s.hub.Deliver(ctx, userID)
}

// loadUser fetches the user, creating it when auto-provisioning is on.
func (s *Server) loadUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err == nil || !errors.Is(err, models.ErrUserNotFound) || !s.opts.AutoProvisionUsers {
		return user, err
	}
	user = &models.User{
		ID:          userID,
		Username:    userID,
		DisplayName: userID,
		Coins:       s.opts.StartingCoins,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	log.Printf("[server] Provisioned user %s with %d coins", userID, user.Coins)
	return user, nil
}

// handleLeave leaves the named room, or every room when none is named.
func (s *Server) handleLeave(ctx context.Context, c *hub.Client, userID string, m protocol.LeaveRoom) {
	s.queue.Dequeue(userID)

	roomIDs := []string{m.RoomID}
	if m.RoomID == "" {
		roomIDs = s.rooms.RoomIDsOf(userID)
	}
	for _, id := range roomIDs {
		if err := s.rooms.LeaveRoom(ctx, id, userID); err != nil {
			f := protocol.NewFailure(protocol.TypeLeaveRoomError, "", err)
			f.RoomID = id
			c.SendMessage(f)
			return
		}
	}
	c.SendMessage(protocol.RoomUpdate{Envelope: protocol.Env(protocol.TypeLeaveRoomSuccess), RoomID: m.RoomID})
}

func (s *Server) joinMatchmaking(ctx context.Context, userID string, m protocol.MatchmakingJoin) protocol.Outbound {
	res, err := s.queue.Enqueue(ctx, userID, m.BetAmount)
	if err != nil {
		return protocol.NewFailure(protocol.TypeMatchmakingError, m.RequestID, err)
	}
	if !res.Matched {
		return protocol.MatchmakingWaiting{
			Envelope:  protocol.Env(protocol.TypeMatchmakingWaiting),
			RequestID: m.RequestID,
			BetAmount: res.BetAmount,
			Position:  res.Position,
		}
	}
	v, err := s.rooms.Room(res.RoomID)
	if err != nil {
		return protocol.NewFailure(protocol.TypeMatchmakingError, m.RequestID, err)
	}
	return matchSuccess(m.RequestID, userID, v)
}

// matchSuccess describes the matched room as seen by userID.
func matchSuccess(requestID, userID string, v room.View) protocol.MatchmakingSuccess {
	rm := v.Room
	msg := protocol.MatchmakingSuccess{
		Envelope:     protocol.Env(protocol.TypeMatchmakingSuccess),
		RequestID:    requestID,
		Room:         &rm,
		Participants: v.Participants,
		Game:         v.Game,
	}
	if v.Game != nil {
		msg.YourSymbol = v.Game.Players[userID]
	}
	return msg
}

func (s *Server) relayChat(ctx context.Context, senderID string, m protocol.SendChat) error {
	text := strings.TrimSpace(m.Message)
	if text == "" || utf8.RuneCountInString(text) > maxChatLength || m.TargetUserID == "" || m.TargetUserID == senderID {
		return models.ErrInvalidRoomData
	}
	if _, err := s.store.GetUser(ctx, m.TargetUserID); err != nil {
		return err
	}
	sender, err := s.store.GetUser(ctx, senderID)
	if err != nil {
		return err
	}
	s.hub.Send(m.TargetUserID, protocol.ChatMessage{
		Envelope:  protocol.Env(protocol.TypeChatMessageReceived),
		SenderID:  senderID,
		Sender:    sender.Public(),
		Message:   text,
		Timestamp: time.Now().UnixMilli(),
	})
	return nil
}

func (s *Server) playAgainError(c *hub.Client, gameID string, err error) {
	f := protocol.NewFailure(protocol.TypePlayAgainError, "", err)
	f.GameID = gameID
	c.SendMessage(f)
}

// matcher turns a matchmaking pair into a started private room.
type matcher struct {
	s *Server
}

// Match notifies the waiting player directly; the enqueuing player gets the
// success as the reply to their request.
func (m matcher) Match(ctx context.Context, older, newer models.Ticket) (string, error) {
	v, g, err := m.s.rooms.StartMatch(ctx, older, newer)
	if err != nil {
		return "", err
	}
	if v.Game == nil {
		v.Game = g
	}
	m.s.hub.Send(older.UserID, matchSuccess("", older.UserID, v))
	return v.Room.ID, nil
}

func (m matcher) Rejected(userID string, bet int64, err error) {
	log.Printf("[server] Dropped matchmaking ticket of %s at %d: %v", userID, bet, err)
	m.s.hub.Send(userID, protocol.NewFailure(protocol.TypeMatchmakingError, "", err))
}
