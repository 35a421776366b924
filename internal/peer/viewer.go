package peer

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/junsooki/camview/internal/transport"
)

// Viewer is the remote side that receives a publisher's frames.
type Viewer struct {
	pc          *webrtc.PeerConnection
	sig         Signaler
	transport   *transport.DataChannelTransport
	publisherID string
}

// NewViewer creates a viewer for publisherID and the frames data channel.
// Frames may arrive out of order and are never retransmitted: a late frame
// is worse than a lost one.
func NewViewer(sig Signaler, publisherID string, logger zerolog.Logger, onClosed func()) (*Viewer, error) {
	pc, err := NewPeerConnection(logger, func(state webrtc.PeerConnectionState) {
		if IsTerminal(state) && onClosed != nil {
			onClosed()
		}
	})
	if err != nil {
		return nil, err
	}

	ordered := false
	maxRetransmits := uint16(0)
	dc, err := pc.CreateDataChannel(transport.FramesLabel, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
	if err != nil {
		pc.Close()
		return nil, err
	}
	dc.OnOpen(func() {
		logger.Info().Msg("frames data channel open")
	})

	return &Viewer{
		pc:          pc,
		sig:         sig,
		transport:   transport.NewDataChannelTransport(dc),
		publisherID: publisherID,
	}, nil
}

// Transport delivers frames received from the publisher.
func (v *Viewer) Transport() transport.FrameReceiver {
	return v.transport
}

// Connect initiates the WebRTC connection by creating and sending an offer.
func (v *Viewer) Connect(ctx context.Context) error {
	offer, err := v.pc.CreateOffer(nil)
	if err != nil {
		return err
	}

	offerJSON, err := setLocalAndGather(ctx, v.pc, offer)
	if err != nil {
		return err
	}

	return v.sig.SendOffer(v.publisherID, offerJSON)
}

// HandleAnswer processes an incoming SDP answer.
func (v *Viewer) HandleAnswer(payload json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &answer); err != nil {
		return err
	}
	return v.pc.SetRemoteDescription(answer)
}

// HandleICECandidate adds a remote ICE candidate.
func (v *Viewer) HandleICECandidate(payload json.RawMessage) error {
	return addCandidate(v.pc, payload)
}

// Close shuts down the peer connection.
func (v *Viewer) Close() {
	if v.pc != nil {
		v.pc.Close()
	}
}
