package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MsgType names a signaling message on the wire.
type MsgType string

const (
	TypeRegister          MsgType = "register"
	TypeRegistered        MsgType = "registered"
	TypeListPublishers    MsgType = "list-publishers"
	TypePublishers        MsgType = "publishers"
	TypePublishersUpdated MsgType = "publishers-updated"
	TypeOffer             MsgType = "offer"
	TypeAnswer            MsgType = "answer"
	TypeICECandidate      MsgType = "ice-candidate"
	TypePing              MsgType = "ping"
	TypePong              MsgType = "pong"
	TypeError             MsgType = "error"
	TypePublisherGone     MsgType = "publisher-disconnected"
)

// Relayed reports whether the relay forwards messages of this type to a
// target client instead of answering them itself.
func (t MsgType) Relayed() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	}
	return false
}

// Role is what a client registers as. Publisher changes are broadcast to
// viewers.
type Role string

const (
	RolePublisher Role = "publisher"
	RoleViewer    Role = "viewer"
)

// Message is the envelope for all signaling messages. Which fields are set
// depends on Type; see Validate.
type Message struct {
	Type        MsgType         `json:"type"`
	ID          string          `json:"id,omitempty"`
	Role        Role            `json:"role,omitempty"`
	From        string          `json:"from,omitempty"`
	Target      string          `json:"target,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	List        []PublisherInfo `json:"list,omitempty"`
	PublisherID string          `json:"publisherId,omitempty"`
	Error       string          `json:"error,omitempty"`
}

var errNoPayload = errors.New("empty payload")

// Validate checks a message a client sent to the relay.
func (m *Message) Validate() error {
	switch {
	case m.Type == TypeRegister:
		if m.ID == "" {
			return fmt.Errorf("%s: missing id", m.Type)
		}
		if m.Role != RolePublisher && m.Role != RoleViewer {
			return fmt.Errorf("%s: unknown role %q", m.Type, m.Role)
		}
	case m.Type.Relayed():
		if m.Target == "" {
			return fmt.Errorf("%s: missing target", m.Type)
		}
		if len(m.Payload) == 0 {
			return fmt.Errorf("%s: %w", m.Type, errNoPayload)
		}
	case m.Type == TypePing, m.Type == TypeListPublishers:
	default:
		return fmt.Errorf("unsupported message %q", m.Type)
	}
	return nil
}

// PublisherInfo describes a publisher in the publisher list.
type PublisherInfo struct {
	ID     string `json:"id"`
	Online bool   `json:"online"`
}
