package peer

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
)

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		state webrtc.PeerConnectionState
		want  bool
	}{
		{webrtc.PeerConnectionStateNew, false},
		{webrtc.PeerConnectionStateConnecting, false},
		{webrtc.PeerConnectionStateConnected, false},
		{webrtc.PeerConnectionStateDisconnected, true},
		{webrtc.PeerConnectionStateFailed, true},
		{webrtc.PeerConnectionStateClosed, true},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, IsTerminal(tt.state))
		})
	}
}
