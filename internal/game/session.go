package game

import (
	"time"

	"github.com/spyderonmode/TicTacMaster-sub002/internal/models"
)

// Seat is a player and the symbol they play, in join order.
type Seat struct {
	UserID string
	Symbol models.Symbol
}

// Outcome describes how a game ended.
type Outcome struct {
	Status       models.GameStatus
	WinnerSymbol models.Symbol
	WinnerIDs    []string
	LoserIDs     []string
	Condition    string
	Line         []int
}

func (o *Outcome) Draw() bool {
	return o.Status == models.GameFinished && o.WinnerSymbol == ""
}

// Payout is a single credit owed at settlement.
type Payout struct {
	UserID string
	Amount int64
	Reason string
}

// Settle returns the credits for an escrowed game: stakes were taken at start,
// winners receive twice the bet and a draw refunds every player.
func (o *Outcome) Settle(g *models.Game) []Payout {
	if g.BetAmount == 0 {
		return nil
	}
	var out []Payout
	if o.Draw() {
		for _, sym := range []models.Symbol{models.SymbolX, models.SymbolO} {
			for _, id := range g.PlayersWith(sym) {
				out = append(out, Payout{UserID: id, Amount: g.BetAmount, Reason: models.LedgerRefund})
			}
		}
		return out
	}
	for _, id := range o.WinnerIDs {
		out = append(out, Payout{UserID: id, Amount: 2 * g.BetAmount, Reason: models.LedgerPayout})
	}
	return out
}

type MoveResult struct {
	Move    models.Move
	Outcome *Outcome
}

func (r MoveResult) Finished() bool {
	return r.Outcome != nil
}

// Session owns the mutable state of one game. It is not safe for concurrent
// use; the owning room serializes access.
type Session struct {
	game             *models.Game
	forfeitThreshold int
}

func NewSession(id, roomID string, seats []Seat, bet int64, forfeitThreshold int, now time.Time) *Session {
	g := &models.Game{
		ID:            id,
		RoomID:        roomID,
		Players:       make(map[string]models.Symbol, len(seats)),
		CurrentPlayer: models.SymbolX,
		Mode:          models.ModeOnline,
		Status:        models.GameActive,
		Board:         models.Board{},
		BetAmount:     bet,
		AutoPlay:      make(map[string]models.AutoPlayState),
		CreatedAt:     now,
	}
	for _, s := range seats {
		g.Players[s.UserID] = s.Symbol
		switch {
		case s.Symbol == models.SymbolX && g.PlayerXID == "":
			g.PlayerXID = s.UserID
		case s.Symbol == models.SymbolO && g.PlayerOID == "":
			g.PlayerOID = s.UserID
		}
	}
	for _, id := range []string{g.PlayerXID, g.PlayerOID} {
		g.AutoPlay[id] = models.AutoPlayState{}
	}
	return &Session{game: g, forfeitThreshold: forfeitThreshold}
}

func (s *Session) ID() string {
	return s.game.ID
}

func (s *Session) Active() bool {
	return s.game.Status == models.GameActive
}

// Generation changes with every move; timers compare it before acting.
func (s *Session) Generation() int {
	return s.game.MoveCount
}

func (s *Session) SymbolOf(userID string) (models.Symbol, bool) {
	sym, ok := s.game.Players[userID]
	return sym, ok
}

func (s *Session) Snapshot() *models.Game {
	return s.game.Clone()
}

// Game exposes the live game to the owning room.
func (s *Session) Game() *models.Game {
	return s.game
}

func (s *Session) seat(sym models.Symbol) string {
	if sym == models.SymbolX {
		return s.game.PlayerXID
	}
	return s.game.PlayerOID
}

func (s *Session) ApplyMove(playerID string, position int, now time.Time) (MoveResult, error) {
	if !s.Active() {
		return MoveResult{}, models.ErrGameNotActive
	}
	if !ValidPosition(position) {
		return MoveResult{}, models.ErrInvalidPosition
	}
	sym, ok := s.game.Players[playerID]
	if !ok {
		return MoveResult{}, models.ErrNotAPlayer
	}
	if sym != s.game.CurrentPlayer {
		return MoveResult{}, models.ErrNotYourTurn
	}
	if _, taken := s.game.Board[position]; taken {
		return MoveResult{}, models.ErrPositionOccupied
	}

	s.game.AutoPlay[s.seat(sym)] = models.AutoPlayState{}
	return s.place(playerID, sym, position, false, now), nil
}

// AutoMove plays for the symbol whose turn expired. Once that seat has been
// auto-played forfeitThreshold times in a row the game is forfeited instead.
func (s *Session) AutoMove(now time.Time) (MoveResult, error) {
	if !s.Active() {
		return MoveResult{}, models.ErrGameNotActive
	}
	sym := s.game.CurrentPlayer
	seat := s.seat(sym)

	st := s.game.AutoPlay[seat]
	if !st.Enabled {
		since := now
		st.Enabled = true
		st.Since = &since
	}
	st.Consecutive++
	s.game.AutoPlay[seat] = st

	res := s.place(seat, sym, PickAutoMove(s.game.Board, sym), true, now)
	if res.Finished() {
		return res, nil
	}
	if s.forfeitThreshold > 0 && st.Consecutive >= s.forfeitThreshold {
		out, err := s.Forfeit(seat, ConditionTimeout, now)
		if err != nil {
			return res, err
		}
		res.Outcome = out
	}
	return res, nil
}

func (s *Session) place(playerID string, sym models.Symbol, position int, auto bool, now time.Time) MoveResult {
	s.game.Board[position] = sym
	s.game.MoveCount++
	mv := models.Move{
		GameID:     s.game.ID,
		PlayerID:   playerID,
		Position:   position,
		Symbol:     sym,
		Sequence:   s.game.MoveCount,
		AutoPlayed: auto,
		CreatedAt:  now,
	}

	if winner, line, ok := Evaluate(s.game.Board); ok {
		return MoveResult{Move: mv, Outcome: s.finish(models.GameFinished, winner, line.Condition, line.Cells, now)}
	}
	if Full(s.game.Board) {
		return MoveResult{Move: mv, Outcome: s.finish(models.GameFinished, "", ConditionDraw, nil, now)}
	}
	s.game.CurrentPlayer = sym.Opponent()
	return MoveResult{Move: mv}
}

// Forfeit ends an active game against loserID's side.
func (s *Session) Forfeit(loserID, condition string, now time.Time) (*Outcome, error) {
	if !s.Active() {
		return nil, models.ErrGameNotActive
	}
	sym, ok := s.game.Players[loserID]
	if !ok {
		return nil, models.ErrNotAPlayer
	}
	return s.finish(models.GameAbandoned, sym.Opponent(), condition, nil, now), nil
}

func (s *Session) finish(status models.GameStatus, winner models.Symbol, condition string, line []int, now time.Time) *Outcome {
	g := s.game
	g.Status = status
	g.WinCondition = condition
	g.WinningLine = line
	g.FinishedAt = &now

	out := &Outcome{Status: status, Condition: condition, Line: line}
	if winner != "" {
		g.WinnerSymbol = winner
		out.WinnerSymbol = winner
		out.WinnerIDs = g.PlayersWith(winner)
		out.LoserIDs = g.PlayersWith(winner.Opponent())
		if len(out.WinnerIDs) > 0 {
			g.WinnerID = out.WinnerIDs[0]
		}
	}
	return out
}

// ResumeHuman clears auto-play for the side userID plays on. It reports whether anything changed.
func (s *Session) ResumeHuman(userID string) bool {
	sym, ok := s.game.Players[userID]
	if !ok {
		return false
	}
	seat := s.seat(sym)
	if st := s.game.AutoPlay[seat]; !st.Enabled && st.Consecutive == 0 {
		return false
	}
	s.game.AutoPlay[seat] = models.AutoPlayState{}
	return true
}
