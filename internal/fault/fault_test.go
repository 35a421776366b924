package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/junsooki/camview/internal/frame"
)

func TestError_IsByKind(t *testing.T) {
	err := fmt.Errorf("loop: %w", ForBuffer(KindProtocolViolation, "present",
		frame.Key{ID: 4, Generation: 2}, errors.New("double lease")))

	assert.True(t, errors.Is(err, ErrProtocolViolation))
	assert.False(t, errors.Is(err, ErrBackendImport))
	assert.Equal(t, KindProtocolViolation, KindOf(err))
	assert.Equal(t, "present: protocol_violation (buffer 4/2): double lease", errors.Unwrap(err).Error())
}

func TestError_UnwrapCause(t *testing.T) {
	cause := errors.New("no such device")
	err := New(KindDeviceError, "start", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "start: device_error: no such device", err.Error())
}

func TestKindOf_Plain(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestIsGraceful(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"signal", New(KindSignalTermination, "", nil), true},
		{"sink closed", Newf(KindSinkClosed, "render", "window closed"), true},
		{"import", New(KindBackendImport, "import", errors.New("bad layout")), false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsGraceful(tt.err))
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "device_timeout", KindDeviceTimeout.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
