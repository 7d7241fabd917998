// Package room owns live rooms: membership, the active game of each room and
// every timer that can change it.
//
// Each room is guarded by its own mutex. The directory indexes use a separate
// lock that may be taken while a room lock is held, never the other way round.
package room

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spyderonmode/TicTacMaster-sub002/internal/game"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/models"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/protocol"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/store"
)

const maxNameLength = 64

// Reasons carried by abandonment notices.
const (
	ReasonLeft         = "player_left"
	ReasonDisconnected = "disconnected"
	ReasonTimeout      = "timeout"
)

type Config struct {
	TurnTimeout      time.Duration
	ForfeitThreshold int
	ReconnectGrace   time.Duration
	PlayAgainTTL     time.Duration
	InvitationTTL    time.Duration
	CodeLength       int
}

func DefaultConfig() Config {
	return Config{
		TurnTimeout:      30 * time.Second,
		ForfeitThreshold: 3,
		ReconnectGrace:   30 * time.Second,
		PlayAgainTTL:     5 * time.Minute,
		InvitationTTL:    24 * time.Hour,
		CodeLength:       DefaultCodeLength,
	}
}

// Notifier delivers messages to users and room subscribers.
type Notifier interface {
	Send(userID string, msg protocol.Outbound) bool
	SendReliable(userID string, msg protocol.Reliable) string
	Broadcast(roomID string, msg protocol.Outbound, exclude ...string)
	Subscribe(roomID, userID string)
	Unsubscribe(roomID, userID string)
	IsOnline(userID string) bool
}

// Recorder persists transitions after they happen in memory.
type Recorder interface {
	SaveRoom(room models.Room)
	SaveParticipant(p models.Participant)
	DeleteParticipant(roomID, userID string)
	SaveGame(g *models.Game)
	AppendMove(m models.Move)
	Credit(userID string, amount int64, gameID, reason string)
}

// View is a consistent snapshot of a room.
type View struct {
	Room         models.Room                `json:"room"`
	Participants []protocol.ParticipantView `json:"participants"`
	Game         *models.Game               `json:"game,omitempty"`
}

type playAgainRequest struct {
	gameID      string
	requesterID string
	timer       *time.Timer
}

// playAgainKey identifies a rematch request; each may be made once per game.
type playAgainKey struct {
	gameID      string
	requesterID string
}

type roomState struct {
	mu           sync.Mutex
	room         models.Room
	participants []*models.Participant
	profiles     map[string]models.PublicProfile
	session      *game.Session
	gameIDs      []string
	turnTimer    *time.Timer
	grace        map[string]*time.Timer
	playAgain    map[string]*playAgainRequest
	askedAgain   map[playAgainKey]bool
	closed       bool
}

func (r *roomState) participant(userID string) *models.Participant {
	for _, p := range r.participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (r *roomState) players() []*models.Participant {
	var out []*models.Participant
	for _, p := range r.participants {
		if p.Role == models.RolePlayer {
			out = append(out, p)
		}
	}
	return out
}

// nextSymbol gives the free symbol with fewer holders, X on a tie.
func (r *roomState) nextSymbol() models.Symbol {
	var xs, os int
	for _, p := range r.players() {
		if p.Symbol == models.SymbolX {
			xs++
		} else {
			os++
		}
	}
	if xs <= os {
		return models.SymbolX
	}
	return models.SymbolO
}

func (r *roomState) view() View {
	v := View{Room: r.room}
	for _, p := range r.participants {
		v.Participants = append(v.Participants, protocol.ParticipantView{
			UserID:   p.UserID,
			Role:     p.Role,
			Symbol:   p.Symbol,
			Online:   p.Online,
			JoinedAt: p.JoinedAt,
			User:     r.profiles[p.UserID],
		})
	}
	if r.session != nil {
		v.Game = r.session.Snapshot()
	}
	return v
}

func (r *roomState) roster(t, requestID string) protocol.RoomUpdate {
	v := r.view()
	return protocol.RoomUpdate{
		Envelope:     protocol.Env(t),
		RequestID:    requestID,
		RoomID:       v.Room.ID,
		Room:         &v.Room,
		Participants: v.Participants,
	}
}

func (r *roomState) stopTimers() {
	if r.turnTimer != nil {
		r.turnTimer.Stop()
		r.turnTimer = nil
	}
	for id, t := range r.grace {
		t.Stop()
		delete(r.grace, id)
	}
	for id, req := range r.playAgain {
		req.timer.Stop()
		delete(r.playAgain, id)
	}
}

type Directory struct {
	cfg    Config
	store  store.Store
	rec    Recorder
	notify Notifier
	codes  *CodeGenerator
	now    func() time.Time

	mu     sync.RWMutex
	rooms  map[string]*roomState
	byCode map[string]string
	byUser map[string]map[string]bool
	games  map[string]string
}

func New(cfg Config, st store.Store, rec Recorder, notify Notifier) (*Directory, error) {
	codes, err := NewCodeGenerator(cfg.CodeLength)
	if err != nil {
		return nil, err
	}
	return &Directory{
		cfg:    cfg,
		store:  st,
		rec:    rec,
		notify: notify,
		codes:  codes,
		now:    time.Now,
		rooms:  make(map[string]*roomState),
		byCode: make(map[string]string),
		byUser: make(map[string]map[string]bool),
		games:  make(map[string]string),
	}, nil
}

func (d *Directory) room(roomID string) *roomState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rooms[roomID]
}

func (d *Directory) roomByCode(code string) *roomState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rooms[d.byCode[NormalizeCode(code)]]
}

func (d *Directory) roomOfGame(gameID string) *roomState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rooms[d.games[gameID]]
}

// roomsOf returns the user's rooms, oldest first.
func (d *Directory) roomsOf(userID string) []*roomState {
	d.mu.RLock()
	out := make([]*roomState, 0, len(d.byUser[userID]))
	for id := range d.byUser[userID] {
		if r, ok := d.rooms[id]; ok {
			out = append(out, r)
		}
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].room.CreatedAt.Before(out[j].room.CreatedAt) })
	return out
}

func (d *Directory) indexUserLocked(userID, roomID string) {
	if d.byUser[userID] == nil {
		d.byUser[userID] = make(map[string]bool)
	}
	d.byUser[userID][roomID] = true
}

func (d *Directory) unindexUserLocked(userID, roomID string) {
	delete(d.byUser[userID], roomID)
	if len(d.byUser[userID]) == 0 {
		delete(d.byUser, userID)
	}
}

// RoomIDsOf lists the rooms a user currently belongs to.
func (d *Directory) RoomIDsOf(userID string) []string {
	rooms := d.roomsOf(userID)
	ids := make([]string, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.room.ID)
	}
	return ids
}

// Counts reports live rooms and rooms with an active game.
func (d *Directory) Counts() (rooms, playing int) {
	d.mu.RLock()
	all := make([]*roomState, 0, len(d.rooms))
	for _, r := range d.rooms {
		all = append(all, r)
	}
	d.mu.RUnlock()

	for _, r := range all {
		r.mu.Lock()
		if r.session != nil && r.session.Active() {
			playing++
		}
		r.mu.Unlock()
	}
	return len(all), playing
}

func (d *Directory) CreateRoom(ctx context.Context, ownerID string, opts protocol.RoomData) (View, error) {
	maxPlayers := opts.MaxPlayers
	if maxPlayers == 0 {
		maxPlayers = 2
	}
	if (maxPlayers != 2 && maxPlayers != 4) || opts.BetAmount < 0 || len(opts.Name) > maxNameLength {
		return View{}, models.ErrInvalidRoomData
	}

	owner, err := d.store.GetUser(ctx, ownerID)
	if err != nil {
		return View{}, err
	}
	if owner.Coins < opts.BetAmount {
		return View{}, &models.InsufficientCoinsError{UserID: ownerID, Balance: owner.Coins, Needed: opts.BetAmount}
	}

	now := d.now()
	r := &roomState{
		profiles:   map[string]models.PublicProfile{ownerID: owner.Public()},
		grace:      make(map[string]*time.Timer),
		playAgain:  make(map[string]*playAgainRequest),
		askedAgain: make(map[playAgainKey]bool),
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	d.mu.Lock()
	code, err := d.codes.Generate(func(c string) bool {
		_, taken := d.byCode[c]
		return taken
	})
	if err != nil {
		d.mu.Unlock()
		return View{}, err
	}
	r.room = models.Room{
		ID:         uuid.NewString(),
		Code:       code,
		Name:       opts.Name,
		MaxPlayers: maxPlayers,
		BetAmount:  opts.BetAmount,
		IsPrivate:  opts.IsPrivate,
		OwnerID:    ownerID,
		Status:     models.RoomWaiting,
		CreatedAt:  now,
	}
	if r.room.Name == "" {
		r.room.Name = "Room " + code
	}
	r.participants = []*models.Participant{{
		RoomID:   r.room.ID,
		UserID:   ownerID,
		Role:     models.RolePlayer,
		Symbol:   models.SymbolX,
		JoinedAt: now,
		Online:   d.notify.IsOnline(ownerID),
	}}
	d.rooms[r.room.ID] = r
	d.byCode[code] = r.room.ID
	d.indexUserLocked(ownerID, r.room.ID)
	d.mu.Unlock()

	d.rec.SaveRoom(r.room)
	d.rec.SaveParticipant(*r.participants[0])
	d.notify.Subscribe(r.room.ID, ownerID)

	log.Printf("[room] %s created room %s (%s, %d players, bet %d)", ownerID, r.room.ID, code, maxPlayers, opts.BetAmount)
	return r.view(), nil
}

func (d *Directory) JoinRoom(ctx context.Context, code, userID string, role models.Role) (View, error) {
	if role == "" {
		role = models.RolePlayer
	}
	if role != models.RolePlayer && role != models.RoleSpectator {
		return View{}, models.ErrInvalidRoomData
	}
	r := d.roomByCode(code)
	if r == nil {
		return View{}, models.ErrRoomNotFound
	}
	user, err := d.store.GetUser(ctx, userID)
	if err != nil {
		return View{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return View{}, models.ErrRoomNotFound
	}
	if r.participant(userID) != nil {
		return View{}, models.ErrAlreadyInRoom
	}
	p := &models.Participant{
		RoomID:   r.room.ID,
		UserID:   userID,
		Role:     role,
		JoinedAt: d.now(),
		Online:   d.notify.IsOnline(userID),
	}
	if role == models.RolePlayer {
		if len(r.players()) >= r.room.MaxPlayers {
			return View{}, models.ErrRoomFull
		}
		if user.Coins < r.room.BetAmount {
			return View{}, &models.InsufficientCoinsError{UserID: userID, Balance: user.Coins, Needed: r.room.BetAmount}
		}
		p.Symbol = r.nextSymbol()
	}

	r.participants = append(r.participants, p)
	r.profiles[userID] = user.Public()

	d.mu.Lock()
	d.indexUserLocked(userID, r.room.ID)
	d.mu.Unlock()

	d.rec.SaveParticipant(*p)
	d.notify.Subscribe(r.room.ID, userID)
	d.notify.Broadcast(r.room.ID, r.roster(protocol.TypeRoomParticipantsUpdate, ""))

	log.Printf("[room] %s joined room %s as %s", userID, r.room.ID, role)
	return r.view(), nil
}

func (d *Directory) LeaveRoom(_ context.Context, roomID, userID string) error {
	r := d.room(roomID)
	if r == nil {
		return models.ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return models.ErrRoomNotFound
	}
	if r.participant(userID) == nil {
		return models.ErrNotInRoom
	}
	d.removeLocked(r, userID, ReasonLeft)
	return nil
}

// removeLocked drops a participant, forfeiting their active game and closing the room once empty.
func (d *Directory) removeLocked(r *roomState, userID, reason string) {
	if t := r.grace[userID]; t != nil {
		t.Stop()
		delete(r.grace, userID)
	}
	if r.session != nil && r.session.Active() {
		if _, playing := r.session.SymbolOf(userID); playing {
			if out, err := r.session.Forfeit(userID, game.ConditionAbandonment, d.now()); err == nil {
				d.finishLocked(r, out, userID, reason)
			}
		}
	}
	for id, req := range r.playAgain {
		if req.requesterID == userID {
			req.timer.Stop()
			delete(r.playAgain, id)
		}
	}

	kept := r.participants[:0]
	for _, p := range r.participants {
		if p.UserID != userID {
			kept = append(kept, p)
		}
	}
	r.participants = kept

	d.rec.DeleteParticipant(r.room.ID, userID)
	d.notify.Unsubscribe(r.room.ID, userID)
	d.mu.Lock()
	d.unindexUserLocked(userID, r.room.ID)
	d.mu.Unlock()
	log.Printf("[room] %s left room %s (%s)", userID, r.room.ID, reason)

	if len(r.participants) == 0 {
		d.closeLocked(r)
		return
	}
	if r.room.OwnerID == userID {
		next := r.participants[0]
		if players := r.players(); len(players) > 0 {
			next = players[0]
		}
		r.room.OwnerID = next.UserID
		d.rec.SaveRoom(r.room)
	}
	d.notify.Broadcast(r.room.ID, r.roster(protocol.TypeRoomParticipantsUpdate, ""))
}

func (d *Directory) closeLocked(r *roomState) {
	r.closed = true
	r.stopTimers()
	r.room.Status = models.RoomFinished
	d.rec.SaveRoom(r.room)

	d.mu.Lock()
	delete(d.rooms, r.room.ID)
	if d.byCode[r.room.Code] == r.room.ID {
		delete(d.byCode, r.room.Code)
	}
	for _, id := range r.gameIDs {
		delete(d.games, id)
	}
	d.mu.Unlock()
	log.Printf("[room] Room %s closed", r.room.ID)
}

// dissolve removes every participant of a room that never got going.
func (d *Directory) dissolve(roomID string) {
	r := d.room(roomID)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.participants) > 0 && !r.closed {
		d.removeLocked(r, r.participants[0].UserID, ReasonLeft)
	}
}

func (d *Directory) RoomByCode(code string) (View, error) {
	r := d.roomByCode(code)
	if r == nil {
		return View{}, models.ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return View{}, models.ErrRoomNotFound
	}
	return r.view(), nil
}

func (d *Directory) Room(roomID string) (View, error) {
	r := d.room(roomID)
	if r == nil {
		return View{}, models.ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return View{}, models.ErrRoomNotFound
	}
	return r.view(), nil
}

// Close stops every timer; used on shutdown.
func (d *Directory) Close() {
	d.mu.RLock()
	all := make([]*roomState, 0, len(d.rooms))
	for _, r := range d.rooms {
		all = append(all, r)
	}
	d.mu.RUnlock()

	for _, r := range all {
		r.mu.Lock()
		r.stopTimers()
		r.mu.Unlock()
	}
	log.Printf("[room] Stopped timers for %d room(s)", len(all))
}
