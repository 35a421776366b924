package pipeline

import "time"

// RestartPolicy controls recovery from device timeouts.
type RestartPolicy struct {
	// MaxRestarts bounds consecutive restarts without a frame in between.
	// Zero means unlimited.
	MaxRestarts int
	// Delay before the first restart; doubled for every further
	// consecutive restart. Zero restarts immediately.
	Delay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
}

// DefaultRestartPolicy restarts immediately and forever.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{MaxDelay: 5 * time.Second}
}

// backoff returns the wait before the given consecutive restart (1-based):
// Delay * 2^(attempt-1), capped at MaxDelay.
func (p RestartPolicy) backoff(attempt int) time.Duration {
	if p.Delay <= 0 || attempt < 1 {
		return 0
	}
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	delay := p.Delay * time.Duration(1<<uint(shift))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func (p RestartPolicy) exhausted(attempt int) bool {
	return p.MaxRestarts > 0 && attempt > p.MaxRestarts
}
