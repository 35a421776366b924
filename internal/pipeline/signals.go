package pipeline

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/junsooki/camview/internal/fault"
)

// TerminationSignals stop the pipeline gracefully: user interrupt, service
// manager stop and a broken downstream pipe.
var TerminationSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGPIPE}

// NotifyContext is like signal.NotifyContext but records which signal
// arrived: the context's cause is a SignalTermination fault.
func NotifyContext(parent context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			cancel(fault.Newf(fault.KindSignalTermination, "signal", "received %s", sig))
		case <-ctx.Done():
		case <-done:
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
			cancel(context.Canceled)
		})
	}
}
