package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrNotConnected = errors.New("signaling: not connected")
	ErrClosed       = errors.New("signaling: client closed")
)

// PingInterval is how often the client sends heartbeats. The connection is
// considered dead after two intervals without any inbound message.
var PingInterval = 25 * time.Second

const (
	writeTimeout = 5 * time.Second
	outboxSize   = 16
)

// Handler callbacks for incoming signaling messages. They run on the read
// goroutine of the client, one at a time.
type Handler struct {
	OnRegistered        func()
	OnOffer             func(from string, payload json.RawMessage)
	OnAnswer            func(from string, payload json.RawMessage)
	OnICECandidate      func(from string, payload json.RawMessage)
	OnPublishersUpdated func(publishers []PublisherInfo)
	OnPublisherGone     func(publisherID string)
	OnError             func(msg string)
}

// Client is one registration with the relay. Outbound messages are queued
// and written by a single writer goroutine.
type Client struct {
	url     string
	id      string
	role    Role
	handler Handler
	log     zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	outbox    chan Message
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient creates a client that registers as id with the given role.
// Nothing is dialled until Connect.
func NewClient(url, id string, role Role, handler Handler, logger zerolog.Logger) *Client {
	return &Client{
		url:     url,
		id:      id,
		role:    role,
		handler: handler,
		log:     logger,
		outbox:  make(chan Message, outboxSize),
		done:    make(chan struct{}),
	}
}

// ID returns the id this client registers with.
func (c *Client) ID() string { return c.id }

// Connect dials the relay, registers and starts the reader and writer.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("signaling dial %s: %w", c.url, err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(Message{Type: TypeRegister, ID: c.id, Role: c.role}); err != nil {
		conn.Close()
		return fmt.Errorf("signaling register: %w", err)
	}

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	default:
	}
	c.conn = conn
	c.wg.Add(2)
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.writeLoop(conn)
	return nil
}

// Close hangs up and waits for the client goroutines. Safe to call more
// than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
	})
	c.wg.Wait()
}

// SendOffer sends an SDP offer to target.
func (c *Client) SendOffer(target string, payload json.RawMessage) error {
	return c.send(Message{Type: TypeOffer, Target: target, Payload: payload})
}

// SendAnswer sends an SDP answer to target.
func (c *Client) SendAnswer(target string, payload json.RawMessage) error {
	return c.send(Message{Type: TypeAnswer, Target: target, Payload: payload})
}

// SendICECandidate sends an ICE candidate to target.
func (c *Client) SendICECandidate(target string, payload json.RawMessage) error {
	return c.send(Message{Type: TypeICECandidate, Target: target, Payload: payload})
}

// RequestPublisherList asks the relay for the publishers online.
func (c *Client) RequestPublisherList() error {
	return c.send(Message{Type: TypeListPublishers})
}

func (c *Client) send(msg Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.mu.Lock()
	connected := c.conn != nil
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	select {
	case c.outbox <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) writeLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		var msg Message
		select {
		case <-c.done:
			return
		case msg = <-c.outbox:
		case <-ticker.C:
			msg = Message{Type: TypePing}
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			c.log.Warn().Err(err).Str("type", string(msg.Type)).Msg("signaling write failed")
			conn.Close()
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * PingInterval))
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warn().Err(err).Msg("signaling connection lost")
			}
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg Message) {
	h := c.handler
	switch msg.Type {
	case TypeRegistered:
		if h.OnRegistered != nil {
			h.OnRegistered()
		}
	case TypeOffer:
		relayed(h.OnOffer, msg)
	case TypeAnswer:
		relayed(h.OnAnswer, msg)
	case TypeICECandidate:
		relayed(h.OnICECandidate, msg)
	case TypePublishers, TypePublishersUpdated:
		if h.OnPublishersUpdated != nil {
			h.OnPublishersUpdated(msg.List)
		}
	case TypePublisherGone:
		if h.OnPublisherGone != nil {
			h.OnPublisherGone(msg.PublisherID)
		}
	case TypeError:
		if h.OnError != nil {
			h.OnError(msg.Error)
		}
	case TypePong:
	default:
		c.log.Debug().Str("type", string(msg.Type)).Msg("ignoring unknown signaling message")
	}
}

func relayed(fn func(from string, payload json.RawMessage), msg Message) {
	if fn != nil {
		fn(msg.From, msg.Payload)
	}
}
