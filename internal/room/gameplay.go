package room

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/spyderonmode/TicTacMaster-sub002/internal/game"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/models"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/protocol"
)

// StartGame begins a game in a full room. Only the owner may start it.
func (d *Directory) StartGame(ctx context.Context, roomID, requesterID string) (*models.Game, error) {
	r := d.room(roomID)
	if r == nil {
		return nil, models.ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, models.ErrRoomNotFound
	}
	if r.room.OwnerID != requesterID {
		return nil, models.ErrUnauthorized
	}
	if r.session != nil && r.session.Active() {
		return nil, models.ErrAlreadyPlaying
	}
	players := r.players()
	if len(players) != r.room.MaxPlayers {
		return nil, models.ErrNotEnoughPlayers
	}
	return d.startLocked(ctx, r, players)
}

func (d *Directory) startLocked(ctx context.Context, r *roomState, players []*models.Participant) (*models.Game, error) {
	seats := make([]game.Seat, 0, len(players))
	ids := make([]string, 0, len(players))
	for _, p := range players {
		seats = append(seats, game.Seat{UserID: p.UserID, Symbol: p.Symbol})
		ids = append(ids, p.UserID)
	}

	gameID := uuid.NewString()
	if err := d.store.Debit(ctx, ids, r.room.BetAmount, gameID); err != nil {
		return nil, err
	}

	for id, req := range r.playAgain {
		req.timer.Stop()
		delete(r.playAgain, id)
	}
	clear(r.askedAgain)
	r.session = game.NewSession(gameID, r.room.ID, seats, r.room.BetAmount, d.cfg.ForfeitThreshold, d.now())
	r.gameIDs = append(r.gameIDs, gameID)
	r.room.Status = models.RoomPlaying

	d.mu.Lock()
	d.games[gameID] = r.room.ID
	d.mu.Unlock()

	d.rec.SaveRoom(r.room)
	d.rec.SaveGame(r.session.Game())
	d.armTurnLocked(r)

	snapshot := r.session.Snapshot()
	room := r.room
	profiles := make([]models.PublicProfile, 0, len(seats))
	for _, s := range seats {
		profiles = append(profiles, r.profiles[s.UserID])
	}
	for _, p := range r.participants {
		msg := &protocol.GameStarted{
			Envelope: protocol.Env(protocol.TypeGameStarted),
			RoomID:   room.ID,
			Room:     &room,
			Game:     snapshot,
			Players:  profiles,
		}
		if sym, ok := r.session.SymbolOf(p.UserID); ok {
			msg.YourSymbol = sym
		}
		d.notify.SendReliable(p.UserID, msg)
	}

	log.Printf("[game] Game %s started in room %s with %d players, bet %d", gameID, r.room.ID, len(seats), r.room.BetAmount)
	return snapshot, nil
}

// StartMatch builds a private two player room for a matchmaking pair and starts it.
// A pair that cannot be started leaves nothing behind.
func (d *Directory) StartMatch(ctx context.Context, older, newer models.Ticket) (View, *models.Game, error) {
	v, err := d.CreateRoom(ctx, older.UserID, protocol.RoomData{
		MaxPlayers: 2,
		BetAmount:  older.BetAmount,
		IsPrivate:  true,
	})
	if err != nil {
		return View{}, nil, err
	}
	if _, err := d.JoinRoom(ctx, v.Room.Code, newer.UserID, models.RolePlayer); err != nil {
		d.dissolve(v.Room.ID)
		return View{}, nil, err
	}
	g, err := d.StartGame(ctx, v.Room.ID, older.UserID)
	if err != nil {
		d.dissolve(v.Room.ID)
		return View{}, nil, err
	}
	v, err = d.Room(v.Room.ID)
	if err != nil {
		return View{}, nil, err
	}
	return v, g, nil
}

// ApplyMove places a human move in the named game.
func (d *Directory) ApplyMove(_ context.Context, userID, gameID string, position int) error {
	r := d.roomOfGame(gameID)
	if r == nil {
		return models.ErrGameNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.session == nil {
		return models.ErrGameNotFound
	}
	if r.session.ID() != gameID {
		return models.ErrGameNotActive
	}
	res, err := r.session.ApplyMove(userID, position, d.now())
	if err != nil {
		return err
	}
	d.afterMoveLocked(r, res)
	return nil
}

func (d *Directory) afterMoveLocked(r *roomState, res game.MoveResult) {
	g := r.session.Game()
	d.rec.AppendMove(res.Move)
	d.notify.Broadcast(r.room.ID, protocol.MoveMade{
		Envelope:      protocol.Env(protocol.TypeMoveMade),
		GameID:        g.ID,
		RoomID:        r.room.ID,
		Move:          res.Move,
		Board:         g.Board.Clone(),
		CurrentPlayer: g.CurrentPlayer,
		AutoPlayed:    res.Move.AutoPlayed,
	})

	if res.Finished() {
		loser, reason := "", ""
		if res.Outcome.Status == models.GameAbandoned {
			reason = ReasonTimeout
			if len(res.Outcome.LoserIDs) > 0 {
				loser = res.Outcome.LoserIDs[0]
			}
		}
		d.finishLocked(r, res.Outcome, loser, reason)
		return
	}
	d.rec.SaveGame(g)
	d.armTurnLocked(r)
}

func (d *Directory) armTurnLocked(r *roomState) {
	if r.turnTimer != nil {
		r.turnTimer.Stop()
		r.turnTimer = nil
	}
	if d.cfg.TurnTimeout <= 0 {
		return
	}
	gameID, gen := r.session.ID(), r.session.Generation()
	r.turnTimer = time.AfterFunc(d.cfg.TurnTimeout, func() {
		d.onTurnTimeout(r, gameID, gen)
	})
}

// onTurnTimeout auto-plays unless a move, a new game or room closure got there first.
func (d *Directory) onTurnTimeout(r *roomState, gameID string, gen int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.session == nil || r.session.ID() != gameID || !r.session.Active() || r.session.Generation() != gen {
		return
	}
	res, err := r.session.AutoMove(d.now())
	if err != nil {
		log.Printf("[game] Auto move in %s failed: %v", gameID, err)
		return
	}
	log.Printf("[game] Turn expired in %s, auto-played %d for %s", gameID, res.Move.Position, res.Move.Symbol)
	d.afterMoveLocked(r, res)
}

// finishLocked settles and announces a game that just ended.
func (d *Directory) finishLocked(r *roomState, out *game.Outcome, loserID, reason string) {
	if r.turnTimer != nil {
		r.turnTimer.Stop()
		r.turnTimer = nil
	}
	g := r.session.Game()
	for _, p := range out.Settle(g) {
		d.rec.Credit(p.UserID, p.Amount, g.ID, p.Reason)
	}
	d.rec.SaveGame(g)
	r.room.Status = models.RoomWaiting
	d.rec.SaveRoom(r.room)

	players := r.resultsLocked(g)
	snapshot := g.Clone()

	if out.Status == models.GameFinished {
		msg := protocol.GameOver{
			Envelope:    protocol.Env(protocol.TypeGameOver),
			GameID:      g.ID,
			RoomID:      r.room.ID,
			Result:      protocol.ResultDraw,
			Condition:   out.Condition,
			WinningLine: out.Line,
			Players:     players,
			Game:        snapshot,
		}
		if !out.Draw() {
			msg.Result = protocol.ResultWin
			msg.Winner = g.WinnerID
			msg.WinnerSymbol = out.WinnerSymbol
		}
		d.notify.Broadcast(r.room.ID, msg)
		log.Printf("[game] Game %s over: %s (%s)", g.ID, msg.Result, out.Condition)
		return
	}

	if loserID == "" && len(out.LoserIDs) > 0 {
		loserID = out.LoserIDs[0]
	}
	msg := protocol.Abandoned{
		GameID:  g.ID,
		RoomID:  r.room.ID,
		Winner:  g.WinnerID,
		Loser:   loserID,
		Reason:  reason,
		Players: players,
	}
	if reason != ReasonTimeout {
		msg.Envelope = protocol.Env(protocol.TypePlayerLeftWin)
		for _, id := range out.WinnerIDs {
			d.notify.Send(id, msg)
		}
	}
	msg.Envelope = protocol.Env(protocol.TypeGameAbandoned)
	d.notify.Broadcast(r.room.ID, msg)
	log.Printf("[game] Game %s abandoned by %s (%s), winner %s", g.ID, loserID, reason, g.WinnerID)
}

func (r *roomState) resultsLocked(g *models.Game) []protocol.PlayerResult {
	var out []protocol.PlayerResult
	for _, sym := range []models.Symbol{models.SymbolX, models.SymbolO} {
		for _, id := range g.PlayersWith(sym) {
			out = append(out, protocol.PlayerResult{PublicProfile: r.profiles[id], Symbol: sym})
		}
	}
	return out
}

// RequestPlayAgain asks the other players of a finished game for a rematch.
func (d *Directory) RequestPlayAgain(_ context.Context, userID, gameID string) error {
	r := d.roomOfGame(gameID)
	if r == nil {
		return models.ErrGameNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.session == nil || r.session.ID() != gameID {
		return models.ErrGameNotFound
	}
	if r.session.Active() {
		return models.ErrGameNotActive
	}
	if _, ok := r.session.SymbolOf(userID); !ok || r.participant(userID) == nil {
		return models.ErrNotAPlayer
	}
	key := playAgainKey{gameID: gameID, requesterID: userID}
	if r.askedAgain[key] {
		return models.ErrDuplicateRequest
	}

	req := &playAgainRequest{gameID: gameID, requesterID: userID}
	req.timer = time.AfterFunc(d.cfg.PlayAgainTTL, func() { d.expirePlayAgain(r, req) })
	r.playAgain[userID] = req
	r.askedAgain[key] = true

	d.notify.Broadcast(r.room.ID, protocol.PlayAgain{
		Envelope:    protocol.Env(protocol.TypePlayAgainRequested),
		GameID:      gameID,
		RoomID:      r.room.ID,
		RequesterID: userID,
	}, userID)
	log.Printf("[game] %s asked for a rematch of %s", userID, gameID)
	return nil
}

// RespondPlayAgain answers another player's rematch request. Accepting starts a
// new game with the same seats.
func (d *Directory) RespondPlayAgain(ctx context.Context, userID, gameID string, accept bool) (*models.Game, error) {
	r := d.roomOfGame(gameID)
	if r == nil {
		return nil, models.ErrGameNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.session == nil || r.session.ID() != gameID {
		return nil, models.ErrGameNotFound
	}
	var req *playAgainRequest
	for _, candidate := range r.playAgain {
		if candidate.gameID == gameID && candidate.requesterID != userID {
			req = candidate
			break
		}
	}
	if req == nil {
		return nil, models.ErrRequestNotFound
	}
	if _, ok := r.session.SymbolOf(userID); !ok {
		return nil, models.ErrNotAPlayer
	}

	if !accept {
		req.timer.Stop()
		delete(r.playAgain, req.requesterID)
		d.notify.Send(req.requesterID, protocol.PlayAgain{
			Envelope:    protocol.Env(protocol.TypePlayAgainRejected),
			GameID:      gameID,
			RoomID:      r.room.ID,
			RequesterID: req.requesterID,
			ResponderID: userID,
		})
		return nil, nil
	}

	players := r.players()
	if len(players) != r.room.MaxPlayers {
		return nil, models.ErrNotEnoughPlayers
	}
	return d.startLocked(ctx, r, players)
}

func (d *Directory) expirePlayAgain(r *roomState, req *playAgainRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.playAgain[req.requesterID] != req {
		return
	}
	delete(r.playAgain, req.requesterID)
	d.notify.Broadcast(r.room.ID, protocol.PlayAgain{
		Envelope:    protocol.Env(protocol.TypePlayAgainExpired),
		GameID:      req.gameID,
		RoomID:      r.room.ID,
		RequesterID: req.requesterID,
	})
}
