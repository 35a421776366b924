package pipeline

import (
	"fmt"

	"github.com/junsooki/camview/internal/metrics"
)

// State is the pipeline state owned by the Loop.
type State int32

const (
	StateIdle State = iota
	StateCapturing
	StateRestarting
	StateTerminating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateRestarting:
		return "restarting"
	case StateTerminating:
		return "terminating"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var stateNames = []string{
	StateIdle.String(),
	StateCapturing.String(),
	StateRestarting.String(),
	StateTerminating.String(),
}

func publishState(s State) {
	metrics.SetState(s.String(), stateNames)
}
