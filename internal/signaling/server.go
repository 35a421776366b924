package signaling

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Server relays signaling messages between registered clients. Messages
// with a Target are forwarded to that client with From set to the sender.
type Server struct {
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu      sync.Mutex
	clients map[string]*peerConn
}

type peerConn struct {
	id      string
	role    Role
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *peerConn) write(msg Message) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return p.conn.WriteJSON(msg)
}

// NewServer creates a relay.
func NewServer(logger zerolog.Logger) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:     logger,
		clients: make(map[string]*peerConn),
	}
}

// ServeHTTP upgrades the connection and serves one client until it leaves.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("signaling upgrade failed")
		return
	}
	defer conn.Close()

	var p *peerConn
	defer func() {
		if p != nil {
			s.unregister(p)
		}
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if err := msg.Validate(); err != nil {
			s.log.Debug().Err(err).Msg("rejecting signaling message")
			s.reject(p, conn, err.Error())
			continue
		}
		if p == nil {
			if msg.Type != TypeRegister {
				s.reject(p, conn, "register first")
				continue
			}
			p = &peerConn{id: msg.ID, role: msg.Role, conn: conn}
			s.register(p)
			continue
		}
		s.handle(p, msg)
	}
}

// reject answers with an error. Before registration there is no peerConn
// and nothing else writes to conn.
func (s *Server) reject(p *peerConn, conn *websocket.Conn, reason string) {
	msg := Message{Type: TypeError, Error: reason}
	if p != nil {
		_ = p.write(msg)
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteJSON(msg)
}

func (s *Server) register(p *peerConn) {
	s.mu.Lock()
	if old, ok := s.clients[p.id]; ok {
		old.conn.Close()
	}
	s.clients[p.id] = p
	s.mu.Unlock()

	s.log.Info().Str("client", p.id).Str("role", string(p.role)).Msg("signaling client registered")
	_ = p.write(Message{Type: TypeRegistered, ID: p.id})
	if p.role == RolePublisher {
		s.broadcast(Message{Type: TypePublishersUpdated, List: s.publishers()}, RoleViewer)
	}
}

func (s *Server) unregister(p *peerConn) {
	s.mu.Lock()
	if cur, ok := s.clients[p.id]; ok && cur == p {
		delete(s.clients, p.id)
	}
	s.mu.Unlock()

	s.log.Info().Str("client", p.id).Msg("signaling client left")
	if p.role == RolePublisher {
		s.broadcast(Message{Type: TypePublisherGone, PublisherID: p.id}, RoleViewer)
	}
}

// handle serves a validated message from a registered client.
func (s *Server) handle(p *peerConn, msg Message) {
	switch {
	case msg.Type == TypePing:
		_ = p.write(Message{Type: TypePong})
	case msg.Type == TypeListPublishers:
		_ = p.write(Message{Type: TypePublishers, List: s.publishers()})
	case msg.Type == TypeRegister:
		s.reject(p, nil, "already registered as "+p.id)
	case msg.Type.Relayed():
		s.mu.Lock()
		target, ok := s.clients[msg.Target]
		s.mu.Unlock()
		if !ok {
			s.reject(p, nil, "unknown target "+msg.Target)
			return
		}
		if err := target.write(Message{Type: msg.Type, From: p.id, Payload: msg.Payload}); err != nil {
			s.log.Warn().Err(err).Str("client", target.id).Msg("signaling relay failed")
		}
	}
}

func (s *Server) publishers() []PublisherInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []PublisherInfo
	for id, c := range s.clients {
		if c.role == RolePublisher {
			list = append(list, PublisherInfo{ID: id, Online: true})
		}
	}
	return list
}

func (s *Server) broadcast(msg Message, role Role) {
	s.mu.Lock()
	targets := make([]*peerConn, 0, len(s.clients))
	for _, c := range s.clients {
		if c.role == role {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()
	for _, c := range targets {
		_ = c.write(msg)
	}
}
