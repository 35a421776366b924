// Package pipeline drives a capture source into the preview controller.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/junsooki/camview/internal/capture"
	"github.com/junsooki/camview/internal/fault"
	"github.com/junsooki/camview/internal/frame"
	xlog "github.com/junsooki/camview/internal/log"
	"github.com/junsooki/camview/internal/metrics"
)

// Presenter is the display side of the loop, implemented by
// preview.Controller.
type Presenter interface {
	Present(h *frame.Handle) error
	Abandon() int
	Quit() bool
	// Done is closed when the display can no longer take frames; Err
	// tells why.
	Done() <-chan struct{}
	Err() error
}

// Loop is the capture event loop. It is the only writer of the pipeline
// state.
type Loop struct {
	src    capture.Source
	out    Presenter
	policy RestartPolicy
	log    zerolog.Logger

	state    atomic.Int32
	frames   atomic.Uint64
	restarts atomic.Uint64
	started  atomic.Bool
}

// New creates a loop. Run starts it.
func New(src capture.Source, out Presenter, policy RestartPolicy, logger zerolog.Logger) *Loop {
	l := &Loop{src: src, out: out, policy: policy, log: logger}
	l.setState(StateIdle)
	return l
}

// State returns the current pipeline state.
func (l *Loop) State() State { return State(l.state.Load()) }

// Frames returns the number of frames presented.
func (l *Loop) Frames() uint64 { return l.frames.Load() }

// Restarts returns the number of device restarts performed.
func (l *Loop) Restarts() uint64 { return l.restarts.Load() }

func (l *Loop) setState(s State) {
	old := State(l.state.Swap(int32(s)))
	publishState(s)
	if old != s {
		l.log.Debug().
			Str(xlog.FieldOldState, old.String()).
			Str(xlog.FieldNewState, s.String()).
			Msg("pipeline state changed")
	}
}

// Run starts the source and processes messages until the source quits, ctx
// is cancelled or a fatal error occurs. The source is stopped and the
// presenter torn down before Run returns. A Quit message or a plain
// cancellation of ctx returns nil; a cancellation cause, such as the
// SignalTermination fault set by NotifyContext, is returned as is.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return errors.New("pipeline: Run called twice")
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		select {
		case <-l.out.Done():
			cancel(l.out.Err())
		case <-ctx.Done():
		}
	}()

	defer func() {
		l.terminate()
		cancel(nil)
		<-watchDone
	}()

	if err := l.src.Start(ctx); err != nil {
		return fault.New(fault.KindDeviceError, "start "+l.src.Name(), err)
	}
	l.setState(StateCapturing)
	l.log.Info().Str(xlog.FieldSource, l.src.Name()).Msg("capture started")

	consecutive := 0
	for {
		msg, err := l.src.Wait(ctx)
		if err != nil {
			return cancellation(err)
		}

		switch msg.Type {
		case capture.MsgFrameReady:
			if msg.Frame == nil {
				return fault.Newf(fault.KindProtocolViolation, "wait", "frame message without a buffer")
			}
			if err := l.out.Present(msg.Frame); err != nil {
				return err
			}
			consecutive = 0
			n := l.frames.Add(1)
			l.log.Debug().
				Uint64(xlog.FieldFrame, n).
				Int(xlog.FieldBufferID, int(msg.Frame.ID)).
				Uint64(xlog.FieldGeneration, msg.Frame.Generation).
				Msg("viewfinder frame")

		case capture.MsgTimeout:
			consecutive++
			if err := l.restart(ctx, consecutive); err != nil {
				return err
			}

		case capture.MsgQuit:
			l.log.Info().Uint64(xlog.FieldFrame, l.frames.Load()).Msg("capture source finished")
			return nil

		default:
			return fault.Newf(fault.KindProtocolViolation, "wait", "unrecognised message %s", msg.Type)
		}
	}
}

// restart recovers from a device timeout: stop, abandon every outstanding
// lease, start again.
func (l *Loop) restart(ctx context.Context, attempt int) error {
	l.setState(StateRestarting)
	l.log.Warn().
		Str(xlog.FieldSource, l.src.Name()).
		Int(xlog.FieldRestarts, attempt).
		Msg("device timeout, restarting camera")

	if l.policy.exhausted(attempt) {
		return fault.Newf(fault.KindDeviceTimeout, "restart "+l.src.Name(),
			"%d consecutive timeouts", attempt)
	}
	if err := l.src.Stop(); err != nil {
		l.log.Warn().Err(err).Str(xlog.FieldSource, l.src.Name()).Msg("device stop failed")
	}
	l.out.Abandon()

	if delay := l.policy.backoff(attempt); delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return cancellation(context.Cause(ctx))
		}
	}

	if err := l.src.Start(ctx); err != nil {
		metrics.IncRestart(false)
		return fault.New(fault.KindDeviceError, "restart "+l.src.Name(), err)
	}
	metrics.IncRestart(true)
	l.restarts.Add(1)
	l.setState(StateCapturing)
	return nil
}

// terminate stops the device before tearing the display down, so no
// completion can race the teardown.
func (l *Loop) terminate() {
	l.setState(StateTerminating)
	if err := l.src.Stop(); err != nil {
		l.log.Warn().Err(err).Str(xlog.FieldSource, l.src.Name()).Msg("device stop failed")
	}
	if !l.out.Quit() {
		l.log.Warn().
			Err(fault.New(fault.KindBackendTeardown, "quit", fmt.Errorf("display teardown incomplete"))).
			Msg("preview teardown failed")
	}
}

func cancellation(cause error) error {
	if cause == nil || fault.KindOf(cause) == fault.KindUnknown && errors.Is(cause, context.Canceled) {
		return nil
	}
	return cause
}
