// Package hub tracks live websocket connections and routes server messages to users.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spyderonmode/TicTacMaster-sub002/internal/protocol"
)

type Config struct {
	PingInterval   time.Duration
	SendBuffer     int
	InboxSize      int
	MaxMessageSize int64
	AckTimeout     time.Duration
	AckMaxRetries  int
	AckRetention   time.Duration
	OutboxTTL      time.Duration
	InvitationTTL  time.Duration
}

func DefaultConfig() Config {
	return Config{
		PingInterval:   25 * time.Second,
		SendBuffer:     256,
		InboxSize:      64,
		MaxMessageSize: 64 * 1024,
		AckTimeout:     5 * time.Second,
		AckMaxRetries:  3,
		AckRetention:   10 * time.Minute,
		OutboxTTL:      10 * time.Minute,
		InvitationTTL:  24 * time.Hour,
	}
}

type pendingMessage struct {
	data    []byte
	sends   int
	timer   *time.Timer
	expires *time.Timer
}

// Hub is the connection registry: at most one authenticated client per user,
// plus room subscriptions used for fan-out.
type Hub struct {
	cfg    Config
	outbox Outbox

	mu      sync.RWMutex
	clients map[*Client]bool
	users   map[string]*Client
	rooms   map[string]map[string]bool
	pending map[string]map[string]*pendingMessage

	onOffline func(userID string)
}

func New(cfg Config, outbox Outbox) *Hub {
	return &Hub{
		cfg:     cfg,
		outbox:  outbox,
		clients: make(map[*Client]bool),
		users:   make(map[string]*Client),
		rooms:   make(map[string]map[string]bool),
		pending: make(map[string]map[string]*pendingMessage),
	}
}

// OnOffline registers fn to run after a user's last connection goes away.
func (h *Hub) OnOffline(fn func(userID string)) {
	h.mu.Lock()
	h.onOffline = fn
	h.mu.Unlock()
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()

	log.Printf("[hub] Client %s connected (total: %d)", c.ID, total)
}

// Authenticate binds c to userID. An older connection of the same user is closed.
func (h *Hub) Authenticate(c *Client, userID string) {
	h.mu.Lock()
	if prev := c.UserID(); prev != "" && prev != userID && h.users[prev] == c {
		delete(h.users, prev)
	}
	old := h.users[userID]
	h.users[userID] = c
	h.mu.Unlock()

	c.setUser(userID)
	if old != nil && old != c {
		log.Printf("[hub] Client %s supersedes %s for user %s", c.ID, old.ID, userID)
		old.Close()
	}
	log.Printf("[hub] User %s authenticated on client %s", userID, c.ID)
	h.broadcastPresence()
}

// Unregister drops c. If it was the user's live connection the user goes offline.
func (h *Hub) Unregister(c *Client) {
	userID := c.UserID()

	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	offline := userID != "" && h.users[userID] == c
	if offline {
		delete(h.users, userID)
	}
	onOffline := h.onOffline
	h.mu.Unlock()

	c.Close()
	log.Printf("[hub] Client %s disconnected (user %q)", c.ID, userID)

	if !offline {
		return
	}
	h.sendAll(protocol.Presence{Envelope: protocol.Env(protocol.TypeUserOffline), UserID: userID})
	h.broadcastPresence()
	if onOffline != nil {
		onOffline(userID)
	}
}

func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.users[userID]
	return ok
}

func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.users))
	for id := range h.users {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcastPresence() {
	ids := h.OnlineUsers()
	h.sendAll(protocol.Presence{
		Envelope: protocol.Env(protocol.TypeOnlineUsersUpdate),
		UserIDs:  ids,
		Count:    len(ids),
	})
}

func (h *Hub) sendAll(msg protocol.Outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[hub] Failed to marshal %s: %v", msg.MessageType(), err)
		return
	}
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.users))
	for _, c := range h.users {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.Send(data)
	}
}

func (h *Hub) client(userID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.users[userID]
}

// Send delivers msg to the user's live connection. Offline users only receive
// durable message types, which wait in the outbox for their next login.
func (h *Hub) Send(userID string, msg protocol.Outbound) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[hub] Failed to marshal %s: %v", msg.MessageType(), err)
		return false
	}
	if c := h.client(userID); c != nil && c.Send(data) {
		return true
	}
	if protocol.IsDurable(msg.MessageType()) {
		h.store(userID, msg.MessageType(), data)
	}
	return false
}

func (h *Hub) store(userID, msgType string, data []byte) {
	ttl := h.cfg.OutboxTTL
	if msgType == protocol.TypeRoomInvitation {
		ttl = h.cfg.InvitationTTL
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.outbox.Push(ctx, userID, data, ttl); err != nil {
		log.Printf("[hub] Failed to queue %s for %s: %v", msgType, userID, err)
	}
}

// SendReliable stamps msg with a message id and resends it until acknowledged.
func (h *Hub) SendReliable(userID string, msg protocol.Reliable) string {
	id := uuid.NewString()
	msg.Stamp(id)
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[hub] Failed to marshal %s: %v", msg.MessageType(), err)
		return ""
	}

	p := &pendingMessage{data: data}
	h.mu.Lock()
	if h.pending[userID] == nil {
		h.pending[userID] = make(map[string]*pendingMessage)
	}
	h.pending[userID][id] = p
	p.expires = time.AfterFunc(h.cfg.AckRetention, func() { h.Ack(userID, id) })
	h.mu.Unlock()

	if !h.transmit(userID, id) && protocol.IsDurable(msg.MessageType()) {
		h.store(userID, msg.MessageType(), data)
	}
	return id
}

// transmit sends a pending message once and arms the resend timer.
func (h *Hub) transmit(userID, id string) bool {
	h.mu.Lock()
	p, ok := h.pending[userID][id]
	c := h.users[userID]
	if !ok || c == nil || p.sends >= h.cfg.AckMaxRetries {
		h.mu.Unlock()
		return false
	}
	p.sends++
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(h.cfg.AckTimeout, func() { h.retry(userID, id) })
	data := p.data
	h.mu.Unlock()

	return c.Send(data)
}

func (h *Hub) retry(userID, id string) {
	h.mu.RLock()
	_, ok := h.pending[userID][id]
	h.mu.RUnlock()
	if ok {
		log.Printf("[hub] Resending unacknowledged message %s to %s", id, userID)
		h.transmit(userID, id)
	}
}

// Ack clears a pending reliable message.
func (h *Hub) Ack(userID, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.pending[userID][id]
	if !ok {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.expires.Stop()
	delete(h.pending[userID], id)
	if len(h.pending[userID]) == 0 {
		delete(h.pending, userID)
	}
}

func (h *Hub) PendingCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.pending[userID])
}

// Deliver runs after a successful login: it drains the outbox, skipping copies of
// messages still pending, then resends every pending reliable message.
func (h *Hub) Deliver(ctx context.Context, userID string) {
	c := h.client(userID)
	if c == nil {
		return
	}

	queued, err := h.outbox.Drain(ctx, userID)
	if err != nil {
		log.Printf("[hub] Failed to drain outbox for %s: %v", userID, err)
	}

	h.mu.Lock()
	ids := make([]string, 0, len(h.pending[userID]))
	for id, p := range h.pending[userID] {
		p.sends = 0
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, data := range queued {
		var stamped struct {
			MessageID string `json:"messageId"`
		}
		if json.Unmarshal(data, &stamped) == nil && stamped.MessageID != "" && h.isPending(userID, stamped.MessageID) {
			continue
		}
		c.Send(data)
	}

	for _, id := range ids {
		h.transmit(userID, id)
	}
	if len(queued)+len(ids) > 0 {
		log.Printf("[hub] Delivered %d queued and %d pending message(s) to %s", len(queued), len(ids), userID)
	}
}

func (h *Hub) isPending(userID, id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.pending[userID][id]
	return ok
}

func (h *Hub) Subscribe(roomID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]bool)
	}
	h.rooms[roomID][userID] = true
}

func (h *Hub) Unsubscribe(roomID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms[roomID], userID)
	if len(h.rooms[roomID]) == 0 {
		delete(h.rooms, roomID)
	}
}

func (h *Hub) Members(roomID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.rooms[roomID]))
	for id := range h.rooms[roomID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Broadcast sends msg to every subscriber of roomID except the excluded users.
func (h *Hub) Broadcast(roomID string, msg protocol.Outbound, exclude ...string) {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	for _, id := range h.Members(roomID) {
		if !skip[id] {
			h.Send(id, msg)
		}
	}
}

// Close disconnects every client and stops resend timers.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	for _, byID := range h.pending {
		for _, p := range byID {
			if p.timer != nil {
				p.timer.Stop()
			}
			p.expires.Stop()
		}
	}
	h.pending = make(map[string]map[string]*pendingMessage)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	log.Printf("[hub] Closed %d client(s)", len(clients))
}
