package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spyderonmode/TicTacMaster-sub002/internal/auth"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/correlator"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/hub"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/models"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/protocol"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/room"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/store"
)

type testEnv struct {
	srv  *Server
	http *httptest.Server
	mem  *store.Memory
	w    *store.Writer
}

func newTestEnv(t *testing.T, secret string, coins map[string]int64, opts ...Options) *testEnv {
	t.Helper()
	mem := store.NewMemory()
	for id, c := range coins {
		require.NoError(t, mem.CreateUser(context.Background(), &models.User{ID: id, Username: id, DisplayName: id, Coins: c}))
	}
	w := store.NewWriter(mem, store.DefaultWriterConfig())
	w.Start(context.Background())

	h := hub.New(hub.DefaultConfig(), hub.NewMemoryOutbox())
	cfg := room.DefaultConfig()
	cfg.TurnTimeout = 0
	cfg.ReconnectGrace = time.Hour
	dir, err := room.New(cfg, mem, w, h)
	require.NoError(t, err)

	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	s := New(h, dir, correlator.New(time.Minute), auth.NewVerifier(secret, time.Hour), mem, o)
	ts := httptest.NewServer(s.NewRouter(Routes{AllowedOrigin: "http://localhost:5173"}))

	t.Cleanup(func() {
		ts.Close()
		dir.Close()
		h.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = w.Stop(ctx)
	})
	return &testEnv{srv: s, http: ts, mem: mem, w: w}
}

type frame struct {
	Type       string          `json:"type"`
	RequestID  string          `json:"requestId"`
	RoomID     string          `json:"roomId"`
	Room       *models.Room    `json:"room"`
	Game       *models.Game    `json:"game"`
	Error      string          `json:"error"`
	Code       string          `json:"code"`
	MessageID  string          `json:"messageId"`
	UserID     string          `json:"userId"`
	SenderID   string          `json:"senderId"`
	Message    string          `json:"message"`
	Winner     string          `json:"winner"`
	Position   int             `json:"position"`
	YourSymbol string          `json:"yourSymbol"`
	Move       *models.Move    `json:"move"`
	Timestamp  json.RawMessage `json:"timestamp"`
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (e *testEnv) dial(t *testing.T, query string) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

// login dials and authenticates userID, returning once auth_success arrived.
func (e *testEnv) login(t *testing.T, userID string) *wsClient {
	c := e.dial(t, "")
	c.send(map[string]any{"type": protocol.TypeAuth, "userId": userID})
	c.expect(protocol.TypeAuthSuccess)
	return c
}

func (c *wsClient) send(msg map[string]any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(msg))
}

// expect skips frames until one of type typ arrives.
func (c *wsClient) expect(typ string) frame {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for %s", typ)
		var f frame
		require.NoError(c.t, json.Unmarshal(data, &f))
		if f.Type == typ {
			return f
		}
	}
}

// expectAny skips frames until one of the given types arrives.
func (c *wsClient) expectAny(types ...string) frame {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for %v", types)
		var f frame
		require.NoError(c.t, json.Unmarshal(data, &f))
		for _, typ := range types {
			if f.Type == typ {
				return f
			}
		}
	}
}

// expectAll collects one frame of each type, in whatever order they arrive.
func (c *wsClient) expectAll(types ...string) map[string]frame {
	c.t.Helper()
	want := make(map[string]bool, len(types))
	for _, typ := range types {
		want[typ] = true
	}
	got := make(map[string]frame, len(types))
	deadline := time.Now().Add(3 * time.Second)
	for len(got) < len(want) {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for %v", types)
		var f frame
		require.NoError(c.t, json.Unmarshal(data, &f))
		if _, seen := got[f.Type]; want[f.Type] && !seen {
			got[f.Type] = f
		}
	}
	return got
}

func (e *testEnv) balance(t *testing.T, userID string) int64 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.w.Flush(ctx))
	coins, err := e.mem.Balance(ctx, userID)
	require.NoError(t, err)
	return coins
}

// startRoom has alice create a room, bob join it and alice start the game.
func startRoom(t *testing.T, alice, bob *wsClient, bet int64) (roomID, gameID string) {
	alice.send(map[string]any{"type": protocol.TypeCreateRoom, "requestId": "c1", "roomData": map[string]any{"betAmount": bet}})
	created := alice.expect(protocol.TypeCreateRoomSuccess)
	require.NotNil(t, created.Room)

	bob.send(map[string]any{"type": protocol.TypeJoinRoomRequest, "requestId": "j1", "code": created.Room.Code})
	bob.expect(protocol.TypeJoinRoomSuccess)

	alice.send(map[string]any{"type": protocol.TypeStartGameRequest, "requestId": "s1", "roomId": created.RoomID})
	frames := alice.expectAll(protocol.TypeStartGameSuccess, protocol.TypeGameStarted)
	started := frames[protocol.TypeStartGameSuccess]
	require.NotNil(t, started.Game)

	acks := map[*wsClient]frame{alice: frames[protocol.TypeGameStarted], bob: bob.expect(protocol.TypeGameStarted)}
	for c, f := range acks {
		require.NotEmpty(t, f.MessageID)
		c.send(map[string]any{"type": protocol.TypeGameStartedAck, "messageId": f.MessageID})
	}
	return created.RoomID, started.Game.ID
}

// move plays pos and waits for the broadcast of that move.
func (c *wsClient) move(gameID string, pos int) {
	c.t.Helper()
	c.send(map[string]any{"type": protocol.TypeMove, "gameId": gameID, "position": pos})
	for {
		f := c.expect(protocol.TypeMoveMade)
		if f.Move != nil && f.Move.Position == pos {
			return
		}
	}
}

func TestCommandsRequireAuth(t *testing.T) {
	e := newTestEnv(t, "", map[string]int64{"alice": 1000})
	c := e.dial(t, "")

	c.send(map[string]any{"type": protocol.TypeCreateRoom, "requestId": "r1", "roomData": map[string]any{}})
	f := c.expect(protocol.TypeError)
	assert.Equal(t, protocol.CodeNotAuthenticated, f.Code)

	c.send(map[string]any{"type": protocol.TypePing, "timestamp": 1700000000123})
	f = c.expect(protocol.TypePong)
	assert.JSONEq(t, "1700000000123", string(f.Timestamp))

	c.send(map[string]any{"type": "teleport"})
	f = c.expect(protocol.TypeError)
	assert.Equal(t, protocol.CodeUnknownMessageType, f.Code)

	c.send(map[string]any{"type": protocol.TypeAuth, "userId": "mallory"})
	f = c.expect(protocol.TypeAuthError)
	assert.Equal(t, protocol.CodeUserNotFound, f.Code)

	c.send(map[string]any{"type": protocol.TypeAuth, "userId": "alice"})
	f = c.expect(protocol.TypeAuthSuccess)
	assert.Equal(t, "alice", f.UserID)
}

func TestAuth_TokenRequiredWhenSecretSet(t *testing.T) {
	e := newTestEnv(t, "secret", map[string]int64{"alice": 1000})
	token, err := e.srv.verifier.GenerateToken("alice")
	require.NoError(t, err)

	c := e.dial(t, "")
	c.send(map[string]any{"type": protocol.TypeAuth, "userId": "alice"})
	c.expect(protocol.TypeAuthError)

	c.send(map[string]any{"type": protocol.TypeAuth, "userId": "alice", "token": token})
	f := c.expect(protocol.TypeAuthSuccess)
	assert.Equal(t, "alice", f.UserID)

	// the token on the upgrade request is handled before the first frame the client sends
	query := e.dial(t, "?token="+token)
	query.send(map[string]any{"type": protocol.TypeCreateRoom, "requestId": "early", "roomData": map[string]any{}})
	f = query.expectAny(protocol.TypeAuthSuccess, protocol.TypeError, protocol.TypeCreateRoomSuccess)
	require.Equal(t, protocol.TypeAuthSuccess, f.Type)
	assert.Equal(t, "alice", f.UserID)
	f = query.expectAny(protocol.TypeError, protocol.TypeCreateRoomSuccess)
	assert.Equal(t, protocol.TypeCreateRoomSuccess, f.Type)
	assert.Equal(t, "early", f.RequestID)

	resp, err := http.Get(e.http.URL + "/ledger")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, e.http.URL+"/ledger", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []models.LedgerEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	assert.Empty(t, entries)
}

func TestWebsocketOriginPolicy(t *testing.T) {
	e := newTestEnv(t, "", map[string]int64{"alice": 1000})
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://localhost:5173"}})
	require.NoError(t, err)
	conn.Close()

	assert.True(t, checkOrigin("")(httptest.NewRequest(http.MethodGet, "/ws", nil)))
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "http://evil.example")
	assert.True(t, checkOrigin("*")(r))
	assert.False(t, checkOrigin("http://localhost:5173")(r))
}

func TestAutoProvision(t *testing.T) {
	e := newTestEnv(t, "", nil, Options{AutoProvisionUsers: true, StartingCoins: 500})

	e.login(t, "newcomer")
	assert.Equal(t, int64(500), e.balance(t, "newcomer"))
}

func TestFullGameOverWebsocket(t *testing.T) {
	e := newTestEnv(t, "", map[string]int64{"alice": 100000, "bob": 100000})
	alice := e.login(t, "alice")
	bob := e.login(t, "bob")

	_, gameID := startRoom(t, alice, bob, 50000)
	assert.Equal(t, int64(50000), e.balance(t, "alice"))

	bob.send(map[string]any{"type": protocol.TypeMove, "gameId": gameID, "position": 5})
	f := bob.expect(protocol.TypeMoveError)
	assert.Equal(t, protocol.CodeNotYourTurn, f.Error)

	for i, pos := range []int{1, 6, 2, 7, 3, 8} {
		if i%2 == 0 {
			alice.move(gameID, pos)
		} else {
			bob.move(gameID, pos)
		}
	}
	alice.send(map[string]any{"type": protocol.TypeMove, "gameId": gameID, "position": 4})
	over := bob.expect(protocol.TypeGameOver)
	assert.Equal(t, "alice", over.Winner)

	assert.Equal(t, int64(150000), e.balance(t, "alice"))
	assert.Equal(t, int64(50000), e.balance(t, "bob"))

	resp, err := http.Get(e.http.URL + "/games/" + gameID + "/moves")
	require.NoError(t, err)
	defer resp.Body.Close()
	var history struct {
		Moves []models.Move `json:"moves"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	require.Len(t, history.Moves, 7)
	assert.Equal(t, 4, history.Moves[6].Position)
}

func TestDuplicateRequestIsReplayed(t *testing.T) {
	e := newTestEnv(t, "", map[string]int64{"alice": 1000})
	alice := e.login(t, "alice")

	msg := map[string]any{"type": protocol.TypeCreateRoom, "requestId": "same", "roomData": map[string]any{"name": "Lobby"}}
	alice.send(msg)
	first := alice.expect(protocol.TypeCreateRoomSuccess)
	alice.send(msg)
	second := alice.expect(protocol.TypeCreateRoomSuccess)

	assert.Equal(t, "same", second.RequestID)
	assert.Equal(t, first.RoomID, second.RoomID)
	rooms, _ := e.srv.rooms.Counts()
	assert.Equal(t, 1, rooms)
}

func TestMatchmaking(t *testing.T) {
	e := newTestEnv(t, "", map[string]int64{"alice": 20000, "bob": 20000})
	alice := e.login(t, "alice")
	bob := e.login(t, "bob")

	alice.send(map[string]any{"type": protocol.TypeMatchmakingJoin, "requestId": "m1", "betAmount": 777})
	f := alice.expect(protocol.TypeMatchmakingError)
	assert.Equal(t, protocol.CodeInvalidBetAmount, f.Error)

	alice.send(map[string]any{"type": protocol.TypeMatchmakingJoin, "requestId": "m2", "betAmount": 5000})
	waiting := alice.expect(protocol.TypeMatchmakingWaiting)
	assert.Equal(t, 1, waiting.Position)

	bob.send(map[string]any{"type": protocol.TypeMatchmakingJoin, "requestId": "m3", "betAmount": 5000})
	matched := bob.expect(protocol.TypeMatchmakingSuccess)
	assert.Equal(t, "m3", matched.RequestID)
	require.NotNil(t, matched.Game)
	assert.Equal(t, "O", matched.YourSymbol)

	other := alice.expect(protocol.TypeMatchmakingSuccess)
	require.NotNil(t, other.Game)
	assert.Equal(t, matched.Game.ID, other.Game.ID)
	assert.Equal(t, "X", other.YourSymbol)

	assert.Equal(t, int64(15000), e.balance(t, "alice"))
	assert.Equal(t, int64(15000), e.balance(t, "bob"))
}

func TestMatchmaking_SpectatorsGetTheirNewRoom(t *testing.T) {
	coins := map[string]int64{"alice": 1000, "bob": 1000, "carol": 20000, "dave": 20000}
	e := newTestEnv(t, "", coins)
	alice := e.login(t, "alice")
	bob := e.login(t, "bob")
	carol := e.login(t, "carol")
	dave := e.login(t, "dave")

	watchedRoom, watchedGame := startRoom(t, alice, bob, 100)
	v, err := e.srv.rooms.Room(watchedRoom)
	require.NoError(t, err)
	for _, c := range []*wsClient{carol, dave} {
		c.send(map[string]any{"type": protocol.TypeJoinRoomRequest, "requestId": "watch", "code": v.Room.Code, "role": "spectator"})
		c.expect(protocol.TypeJoinRoomSuccess)
	}

	dave.send(map[string]any{"type": protocol.TypeMatchmakingJoin, "requestId": "m1", "betAmount": 5000})
	dave.expect(protocol.TypeMatchmakingWaiting)
	carol.send(map[string]any{"type": protocol.TypeMatchmakingJoin, "requestId": "m2", "betAmount": 5000})

	newer := carol.expect(protocol.TypeMatchmakingSuccess)
	older := dave.expect(protocol.TypeMatchmakingSuccess)
	for _, f := range []frame{newer, older} {
		require.NotNil(t, f.Room)
		require.NotNil(t, f.Game)
		assert.NotEqual(t, watchedRoom, f.Room.ID)
		assert.NotEqual(t, watchedGame, f.Game.ID)
		assert.Equal(t, f.Room.ID, f.Game.RoomID)
	}
	assert.Equal(t, older.Game.ID, newer.Game.ID)
	assert.Equal(t, "X", older.YourSymbol)
	assert.Equal(t, "O", newer.YourSymbol)
}

func TestMatchmakingLeave(t *testing.T) {
	e := newTestEnv(t, "", map[string]int64{"alice": 20000})
	alice := e.login(t, "alice")

	alice.send(map[string]any{"type": protocol.TypeMatchmakingJoin, "requestId": "m1", "betAmount": 5000})
	alice.expect(protocol.TypeMatchmakingWaiting)
	alice.send(map[string]any{"type": protocol.TypeMatchmakingLeave})
	alice.expect(protocol.TypeMatchmakingLeft)
	assert.Equal(t, 0, e.srv.Queue().Position("alice"))
}

func TestReconnectRestoresGame(t *testing.T) {
	e := newTestEnv(t, "", map[string]int64{"alice": 1000, "bob": 1000})
	alice := e.login(t, "alice")
	bob := e.login(t, "bob")
	_, gameID := startRoom(t, alice, bob, 100)
	alice.move(gameID, 1)

	require.NoError(t, alice.conn.Close())
	f := bob.expect(protocol.TypePlayerDisconnected)
	assert.Equal(t, "alice", f.UserID)

	back := e.dial(t, "")
	back.send(map[string]any{"type": protocol.TypeAuth, "userId": "alice"})
	back.expect(protocol.TypeAuthSuccess)
	state := back.expect(protocol.TypeGameReconnection)
	require.NotNil(t, state.Game)
	assert.Equal(t, gameID, state.Game.ID)
	assert.Equal(t, models.SymbolX, state.Game.Board[1])
	assert.Equal(t, "X", state.YourSymbol)

	f = bob.expect(protocol.TypePlayerReconnected)
	assert.Equal(t, "alice", f.UserID)

	back.send(map[string]any{"type": protocol.TypeRequestCurrentGameState, "userId": "alice"})
	current := back.expect(protocol.TypeCurrentGameState)
	require.NotNil(t, current.Game)
	assert.Equal(t, gameID, current.Game.ID)

	bob.move(gameID, 6)
}

func TestLeaveRoomAbandonsGame(t *testing.T) {
	e := newTestEnv(t, "", map[string]int64{"alice": 1000, "bob": 1000})
	alice := e.login(t, "alice")
	bob := e.login(t, "bob")
	roomID, _ := startRoom(t, alice, bob, 100)

	alice.send(map[string]any{"type": protocol.TypeLeaveRoom, "roomId": roomID})
	alice.expect(protocol.TypeLeaveRoomSuccess)
	win := bob.expect(protocol.TypePlayerLeftWin)
	assert.Equal(t, "bob", win.Winner)
	assert.Equal(t, int64(1100), e.balance(t, "bob"))
}

func TestChatRelay(t *testing.T) {
	e := newTestEnv(t, "", map[string]int64{"alice": 1000, "bob": 1000})
	alice := e.login(t, "alice")
	bob := e.login(t, "bob")

	alice.send(map[string]any{"type": protocol.TypeSendChatMessage, "targetUserId": "bob", "message": " good game "})
	got := bob.expect(protocol.TypeChatMessageReceived)
	assert.Equal(t, "alice", got.SenderID)
	assert.Equal(t, "good game", got.Message)

	alice.send(map[string]any{"type": protocol.TypeSendChatMessage, "targetUserId": "bob", "message": "   "})
	f := alice.expect(protocol.TypeChatError)
	assert.Equal(t, protocol.CodeValidation, f.Error)
}

func TestHTTPRoutes(t *testing.T) {
	e := newTestEnv(t, "", map[string]int64{"alice": 1000})
	alice := e.login(t, "alice")
	alice.send(map[string]any{"type": protocol.TypeCreateRoom, "requestId": "c1", "roomData": map[string]any{}})
	created := alice.expect(protocol.TypeCreateRoomSuccess)

	resp, err := http.Get(e.http.URL + "/health")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(1), health["rooms"])
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = http.Get(e.http.URL + "/rooms/" + strings.ToLower(created.Room.Code))
	require.NoError(t, err)
	var view room.View
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	resp.Body.Close()
	assert.Equal(t, created.RoomID, view.Room.ID)

	resp, err = http.Get(e.http.URL + "/rooms/NOPE00")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(e.http.URL + "/matchmaking/tiers")
	require.NoError(t, err)
	var tiers struct {
		Tiers []int64 `json:"tiers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tiers))
	resp.Body.Close()
	assert.Equal(t, []int64{5000, 10000, 50000, 100000, 1000000, 10000000}, tiers.Tiers)
}

func TestRetriedStartReturnsSameGame(t *testing.T) {
	e := newTestEnv(t, "", map[string]int64{"alice": 1000, "bob": 1000})
	alice := e.login(t, "alice")
	bob := e.login(t, "bob")

	alice.send(map[string]any{"type": protocol.TypeCreateRoom, "requestId": "c1", "roomData": map[string]any{"betAmount": 100}})
	created := alice.expect(protocol.TypeCreateRoomSuccess)
	bob.send(map[string]any{"type": protocol.TypeJoinRoomRequest, "requestId": "j1", "code": created.Room.Code})
	bob.expect(protocol.TypeJoinRoomSuccess)

	start := map[string]any{"type": protocol.TypeStartGameRequest, "requestId": "abc", "roomId": created.RoomID}
	alice.send(start)
	alice.send(start)
	first := alice.expect(protocol.TypeStartGameSuccess)
	second := alice.expect(protocol.TypeStartGameSuccess)

	assert.Equal(t, "abc", first.RequestID)
	assert.Equal(t, "abc", second.RequestID)
	require.NotNil(t, first.Game)
	require.NotNil(t, second.Game)
	assert.Equal(t, first.Game.ID, second.Game.ID)
	assert.Equal(t, int64(900), e.balance(t, "alice"))
	_, playing := e.srv.rooms.Counts()
	assert.Equal(t, 1, playing)
}

func TestJoinWithoutCoinsIsRejected(t *testing.T) {
	e := newTestEnv(t, "", map[string]int64{"alice": 100000, "bob": 10})
	alice := e.login(t, "alice")
	bob := e.login(t, "bob")

	alice.send(map[string]any{"type": protocol.TypeCreateRoom, "requestId": "c1", "roomData": map[string]any{"betAmount": 50000}})
	created := alice.expect(protocol.TypeCreateRoomSuccess)

	bob.send(map[string]any{"type": protocol.TypeJoinRoomRequest, "requestId": "j1", "code": created.Room.Code, "role": "player"})
	f := bob.expect(protocol.TypeJoinRoomError)
	assert.Equal(t, "j1", f.RequestID)
	assert.Equal(t, protocol.CodeInsufficientCoins, f.Error)

	v, err := e.srv.rooms.Room(created.RoomID)
	require.NoError(t, err)
	assert.Len(t, v.Participants, 1)
}
