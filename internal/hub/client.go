package hub

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/spyderonmode/TicTacMaster-sub002/internal/protocol"
)

const writeWait = 10 * time.Second

// Handler processes decoded commands off the read loop.
type Handler interface {
	Handle(c *Client, cmd protocol.Command)
}

// Client is one websocket connection. A nil conn is allowed for in-process use.
type Client struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn

	send    chan []byte
	inbox   chan protocol.Command
	handler Handler

	mu       sync.Mutex
	userID   string
	lastPing time.Time
	closed   bool
	done     chan struct{}
}

func NewClient(h *Hub, conn *websocket.Conn, handler Handler) *Client {
	return &Client{
		ID:       uuid.NewString(),
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, h.cfg.SendBuffer),
		inbox:    make(chan protocol.Command, h.cfg.InboxSize),
		handler:  handler,
		lastPing: time.Now(),
		done:     make(chan struct{}),
	}
}

// UserID is empty until the connection authenticates.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) setUser(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

func (c *Client) LastPing() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastPing = time.Now()
	c.mu.Unlock()
}

// Start launches the pumps. It must be called once, after Register.
func (c *Client) Start() {
	go c.writePump()
	go c.processLoop()
	go c.readPump()
}

// Send queues raw bytes. A full buffer closes the connection rather than block the caller.
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		log.Printf("[hub] Send buffer full for client %s (user %s), closing", c.ID, c.userID)
		c.closeLocked()
		return false
	}
}

// SendMessage marshals and queues a server message.
func (c *Client) SendMessage(msg protocol.Outbound) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[hub] Failed to marshal %s: %v", msg.MessageType(), err)
		return false
	}
	return c.Send(data)
}

func (c *Client) SendError(code, message string) {
	c.SendMessage(protocol.ErrorMessage{Envelope: protocol.Env(protocol.TypeError), Code: code, Message: message})
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *Client) readDeadline() time.Time {
	return time.Now().Add(c.hub.cfg.PingInterval * 5 / 2)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
	}()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(c.readDeadline())
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return c.conn.SetReadDeadline(c.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[hub] Read error for client %s: %v", c.ID, err)
			}
			return
		}
		c.conn.SetReadDeadline(c.readDeadline())
		c.touch()
		c.dispatch(data)
	}
}

// dispatch answers pings inline and hands everything else to the process loop.
func (c *Client) dispatch(data []byte) {
	cmd, err := protocol.Decode(data)
	if err != nil {
		var unknown *protocol.UnknownTypeError
		if errors.As(err, &unknown) {
			c.SendError(protocol.CodeUnknownMessageType, err.Error())
			return
		}
		log.Printf("[hub] Dropping message from client %s: %v", c.ID, err)
		return
	}

	if ping, ok := cmd.(protocol.Ping); ok {
		c.SendMessage(protocol.Pong{
			Envelope:   protocol.Env(protocol.TypePong),
			Timestamp:  ping.Timestamp,
			ServerTime: time.Now().UnixMilli(),
		})
		return
	}

	select {
	case c.inbox <- cmd:
	default:
		c.SendError(protocol.CodeServerBusy, "too many requests in flight")
	}
}

// Queue hands cmd to the process loop as if it had been read from the socket.
// It reports false when the inbox is full.
func (c *Client) Queue(cmd protocol.Command) bool {
	select {
	case c.inbox <- cmd:
		return true
	default:
		return false
	}
}

func (c *Client) processLoop() {
	for {
		select {
		case cmd := <-c.inbox:
			c.handler.Handle(c, cmd)
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
