// Package display defines the sink side of the preview pipeline.
//
// A Sink imports capture buffers into backend resources, renders them and
// reports through the done callback when a shown buffer may go back to the
// device. Sinks never release the buffer currently on screen: the previous
// one is released once a newer buffer has been shown, or when the sink is
// reset or closed.
package display

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/junsooki/camview/internal/fault"
	"github.com/junsooki/camview/internal/frame"
	xlog "github.com/junsooki/camview/internal/log"
)

// Resource is a backend object imported for one buffer id, such as a
// texture. Only the backend that created it knows its concrete type.
type Resource any

// Sink is a display backend. Import, Render, Destroy, Reset and Close are
// called from a single display goroutine; the done callback may be invoked
// from any goroutine.
type Sink interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Import creates the resource for h's buffer id.
	Import(h *frame.Handle) (Resource, error)
	// Render shows h using a resource previously imported for its id. It
	// may block on the display link. On success the sink owns the release
	// of h; on error the caller does.
	Render(ctx context.Context, res Resource, h *frame.Handle) error
	// Destroy frees a resource returned by Import.
	Destroy(res Resource) error
	// Reset releases the buffer on screen, if any.
	Reset()
	// MaxImageSize reports the display surface bounds. Zero means no bound.
	MaxImageSize() (width, height int)
	// SetDone installs the release callback.
	SetDone(done func(*frame.Handle))
	// Close releases the buffer on screen and tears the backend down.
	Close() error
}

// Runner is implemented by backends that must own the calling goroutine,
// usually the main one, while the pipeline runs elsewhere.
type Runner interface {
	Run() error
}

// ClosedNotifier is implemented by backends the user can close.
type ClosedNotifier interface {
	Closed() <-chan struct{}
}

// ErrClosed is returned by Render once the user closed the display.
var ErrClosed = fault.New(fault.KindSinkClosed, "render", errors.New("display closed"))

// Factory builds one backend.
type Factory struct {
	Name string
	New  func() (Sink, error)
}

// Select tries factories in order and returns the first backend that
// starts. Every failure is logged before falling back to the next one.
func Select(factories []Factory, logger zerolog.Logger) (Sink, error) {
	if len(factories) == 0 {
		return nil, fault.Newf(fault.KindBackendImport, "select display", "no display backend configured")
	}
	var errs []error
	for i, f := range factories {
		sink, err := f.New()
		if err == nil {
			logger.Info().Str(xlog.FieldBackend, f.Name).Msg("display backend selected")
			return sink, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", f.Name, err))
		ev := logger.Warn().Err(err).Str(xlog.FieldBackend, f.Name)
		if i+1 < len(factories) {
			ev.Str("fallback", factories[i+1].Name)
		}
		ev.Msg("display backend unavailable")
	}
	return nil, fault.New(fault.KindBackendImport, "select display", errors.Join(errs...))
}

// CheckFormat reports whether h can be turned into RGBA pixels.
func CheckFormat(h *frame.Handle) error {
	switch h.Format {
	case frame.FormatYUV420, frame.FormatRGBA:
		return h.Validate()
	}
	return fmt.Errorf("unsupported pixel format %s", h.Format)
}
