package peer

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/junsooki/camview/internal/transport"
)

// Publisher is the camera side of one viewer connection. The viewer offers
// and creates the frames data channel; the publisher answers.
type Publisher struct {
	pc        *webrtc.PeerConnection
	sig       Signaler
	transport *transport.DataChannelTransport
	viewerID  string
}

// NewPublisher creates a publisher for viewerID. onClosed is called once the
// connection fails or closes.
func NewPublisher(sig Signaler, viewerID string, logger zerolog.Logger, onClosed func()) (*Publisher, error) {
	p := &Publisher{
		sig:       sig,
		transport: transport.NewDataChannelTransport(nil),
		viewerID:  viewerID,
	}
	pc, err := NewPeerConnection(logger, func(state webrtc.PeerConnectionState) {
		if IsTerminal(state) && onClosed != nil {
			onClosed()
		}
	})
	if err != nil {
		return nil, err
	}
	p.pc = pc

	// Accept data channels from the viewer.
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		logger.Info().Str("label", dc.Label()).Msg("data channel received")
		if dc.Label() == transport.FramesLabel {
			p.transport.SetFramesChannel(dc)
		}
	})
	return p, nil
}

// ViewerID returns the remote viewer id.
func (p *Publisher) ViewerID() string { return p.viewerID }

// Transport sends frames on the viewer's frames channel.
func (p *Publisher) Transport() transport.FrameSender {
	return p.transport
}

// HandleOffer answers an incoming offer from the viewer.
func (p *Publisher) HandleOffer(ctx context.Context, payload json.RawMessage) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &offer); err != nil {
		return err
	}

	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return err
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}

	answerJSON, err := setLocalAndGather(ctx, p.pc, answer)
	if err != nil {
		return err
	}

	return p.sig.SendAnswer(p.viewerID, answerJSON)
}

// HandleICECandidate adds a remote ICE candidate.
func (p *Publisher) HandleICECandidate(payload json.RawMessage) error {
	return addCandidate(p.pc, payload)
}

// Close shuts down the peer connection.
func (p *Publisher) Close() {
	if p.pc != nil {
		p.pc.Close()
	}
}
