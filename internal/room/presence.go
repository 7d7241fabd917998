package room

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/spyderonmode/TicTacMaster-sub002/internal/models"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/protocol"
)

// MarkOffline starts the reconnect grace window in every room of userID.
// Membership is kept until the window elapses. A user who already came back on
// a new connection is left alone.
func (d *Directory) MarkOffline(userID string) {
	for _, r := range d.roomsOf(userID) {
		r.mu.Lock()
		p := r.participant(userID)
		if r.closed || p == nil || d.notify.IsOnline(userID) {
			r.mu.Unlock()
			continue
		}
		p.Online = false
		d.notify.Broadcast(r.room.ID, protocol.Presence{
			Envelope: protocol.Env(protocol.TypePlayerDisconnected),
			UserID:   userID,
			RoomID:   r.room.ID,
		}, userID)

		if t := r.grace[userID]; t != nil {
			t.Stop()
		}
		r.grace[userID] = time.AfterFunc(d.cfg.ReconnectGrace, func() {
			d.onGraceExpired(r, userID)
		})
		r.mu.Unlock()
		log.Printf("[room] %s offline in room %s, grace %s", userID, r.room.ID, d.cfg.ReconnectGrace)
	}
}

func (d *Directory) onGraceExpired(r *roomState, userID string) {
	if d.notify.IsOnline(userID) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	p := r.participant(userID)
	if p == nil || p.Online {
		return
	}
	delete(r.grace, userID)
	log.Printf("[room] %s did not return to room %s in time", userID, r.room.ID)
	d.removeLocked(r, userID, ReasonDisconnected)
}

// Reconnect restores userID in every room they still belong to and returns one
// state snapshot per room.
func (d *Directory) Reconnect(userID string) []protocol.GameState {
	var out []protocol.GameState
	for _, r := range d.roomsOf(userID) {
		r.mu.Lock()
		p := r.participant(userID)
		if r.closed || p == nil {
			r.mu.Unlock()
			continue
		}
		if t := r.grace[userID]; t != nil {
			t.Stop()
			delete(r.grace, userID)
		}
		wasOffline := !p.Online
		p.Online = true

		t := protocol.TypeReconnectionRoomJoin
		if r.session != nil && r.session.Active() {
			t = protocol.TypeGameReconnection
			if r.session.ResumeHuman(userID) {
				d.rec.SaveGame(r.session.Game())
			}
		}
		d.notify.Subscribe(r.room.ID, userID)
		if wasOffline {
			d.notify.Broadcast(r.room.ID, protocol.Presence{
				Envelope: protocol.Env(protocol.TypePlayerReconnected),
				UserID:   userID,
				RoomID:   r.room.ID,
			}, userID)
		}
		out = append(out, r.stateLocked(t, userID))
		r.mu.Unlock()
	}
	if len(out) > 0 {
		log.Printf("[room] %s reconnected to %d room(s)", userID, len(out))
	}
	return out
}

func (r *roomState) stateLocked(t, userID string) protocol.GameState {
	v := r.view()
	st := protocol.GameState{
		Envelope:     protocol.Env(t),
		Room:         &v.Room,
		Participants: v.Participants,
		Game:         v.Game,
	}
	if r.session != nil {
		if sym, ok := r.session.SymbolOf(userID); ok {
			st.YourSymbol = sym
		}
	}
	return st
}

// CurrentState prefers the room with an active game, then the oldest room.
// A user in no room gets a state with no game.
func (d *Directory) CurrentState(userID string) protocol.GameState {
	var fallback *protocol.GameState
	for _, r := range d.roomsOf(userID) {
		r.mu.Lock()
		if r.closed || r.participant(userID) == nil {
			r.mu.Unlock()
			continue
		}
		st := r.stateLocked(protocol.TypeCurrentGameState, userID)
		active := r.session != nil && r.session.Active()
		r.mu.Unlock()

		if active {
			return st
		}
		if fallback == nil {
			fallback = &st
		}
	}
	if fallback != nil {
		return *fallback
	}
	return protocol.GameState{Envelope: protocol.Env(protocol.TypeCurrentGameState)}
}

// Invite sends a room invitation; offline targets receive it on their next connection.
func (d *Directory) Invite(ctx context.Context, inviterID, roomID, targetID string) (models.Invitation, error) {
	if targetID == "" || targetID == inviterID {
		return models.Invitation{}, models.ErrInvalidRoomData
	}
	if _, err := d.store.GetUser(ctx, targetID); err != nil {
		return models.Invitation{}, err
	}
	r := d.room(roomID)
	if r == nil {
		return models.Invitation{}, models.ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return models.Invitation{}, models.ErrRoomNotFound
	}
	if r.participant(inviterID) == nil {
		return models.Invitation{}, models.ErrNotInRoom
	}
	if r.participant(targetID) != nil {
		return models.Invitation{}, models.ErrAlreadyInRoom
	}

	inviter := r.profiles[inviterID]
	name := inviter.DisplayName
	if name == "" {
		name = inviter.Username
	}
	inv := models.Invitation{
		ID:          uuid.NewString(),
		RoomID:      r.room.ID,
		RoomCode:    r.room.Code,
		InviterID:   inviterID,
		InviterName: name,
		TargetID:    targetID,
		BetAmount:   r.room.BetAmount,
		ExpiresAt:   d.now().Add(d.cfg.InvitationTTL),
	}
	d.notify.Send(targetID, protocol.RoomInvitation{
		Envelope:   protocol.Env(protocol.TypeRoomInvitation),
		Invitation: inv,
	})
	log.Printf("[room] %s invited %s to room %s", inviterID, targetID, r.room.ID)
	return inv, nil
}
