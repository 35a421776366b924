// Command camview captures frames from a camera, the screen or a test
// pattern and previews them on a native window or over the network.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/junsooki/camview/internal/capture"
	"github.com/junsooki/camview/internal/config"
	"github.com/junsooki/camview/internal/display"
	ebitensink "github.com/junsooki/camview/internal/display/ebiten"
	"github.com/junsooki/camview/internal/display/remote"
	"github.com/junsooki/camview/internal/fault"
	"github.com/junsooki/camview/internal/frame"
	xlog "github.com/junsooki/camview/internal/log"
	"github.com/junsooki/camview/internal/pipeline"
	"github.com/junsooki/camview/internal/preview"
	"github.com/junsooki/camview/internal/server"
	"github.com/junsooki/camview/internal/signaling"
	"github.com/junsooki/camview/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Parse(args, os.Stderr)
	switch {
	case errors.Is(err, config.ErrHelp):
		return 0
	case errors.Is(err, config.ErrVersion):
		fmt.Println(version.String("camview"))
		return 0
	case err != nil:
		fmt.Fprintln(os.Stderr, "camview:", err)
		return 2
	}

	xlog.Reconfigure(xlog.Config{Level: cfg.EffectiveLogLevel(), Service: "camview"})
	logger := xlog.WithComponent("main")

	ctx, stop := pipeline.NotifyContext(context.Background(), pipeline.TerminationSignals...)
	defer stop()

	if err := serve(ctx, cfg, logger); !fault.IsGraceful(err) {
		fmt.Fprintln(os.Stderr, "camview:", err)
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	remoteOpts := remote.Options{
		Quality:   cfg.Quality,
		MaxFPS:    cfg.RemoteMaxFPS,
		MaxWidth:  cfg.RemoteMaxW,
		MaxHeight: cfg.RemoteMaxH,
	}

	var ws *remote.WebSocket
	if slices.Contains(cfg.Display, config.DisplayWS) {
		ws = remote.NewWebSocket(remoteOpts, xlog.WithComponent("ws"))
	}

	// The HTTP server is serving before any backend starts: the rtc
	// backend registers with the signaling relay mounted on it.
	g, gctx := errgroup.WithContext(ctx)
	srvCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()
	abort := func(err error) error {
		stopServer()
		_ = g.Wait()
		return err
	}

	var (
		live    atomic.Pointer[pipeline.Loop]
		backend atomic.Value
	)
	if cfg.Listen != "" {
		opts := server.Options{
			Addr:      cfg.Listen,
			Signaling: signaling.NewServer(xlog.WithComponent("signaling")),
			Status: func() server.Status {
				name, _ := backend.Load().(string)
				loop := live.Load()
				if loop == nil {
					return server.Status{State: pipeline.StateIdle.String(), Backend: name}
				}
				return server.Status{
					State:    loop.State().String(),
					Frames:   loop.Frames(),
					Restarts: loop.Restarts(),
					Backend:  name,
				}
			},
		}
		if ws != nil {
			opts.Preview = ws
		}
		srv := server.New(opts, xlog.WithComponent("http"))
		if err := srv.Listen(); err != nil {
			return err
		}
		g.Go(func() error { return srv.Serve(srvCtx) })
	}

	sink, err := display.Select(displayFactories(gctx, cfg, ws, remoteOpts), logger)
	if err != nil {
		return abort(err)
	}
	backend.Store(sink.Name())
	if ws != nil && sink != display.Sink(ws) {
		_ = ws.Close()
	}

	out := preview.New(sink, xlog.WithComponent("preview"))
	capSize(cfg, out, logger)

	src, err := newSource(cfg, xlog.WithComponent("capture"))
	if err != nil {
		out.Quit()
		return abort(fault.New(fault.KindDeviceError, "open source", err))
	}

	loop := pipeline.New(src, out, pipeline.RestartPolicy{
		MaxRestarts: cfg.MaxRestarts,
		Delay:       cfg.RestartDelay,
		MaxDelay:    pipeline.DefaultRestartPolicy().MaxDelay,
	}, xlog.WithComponent("pipeline"))
	live.Store(loop)

	g.Go(func() error {
		defer stopServer()
		return loop.Run(gctx)
	})

	if r, ok := sink.(display.Runner); ok {
		if err := r.Run(); err != nil {
			logger.Error().Err(err).Str(xlog.FieldBackend, sink.Name()).Msg("display loop failed")
		}
	}
	return g.Wait()
}

func displayFactories(ctx context.Context, cfg *config.Config, ws *remote.WebSocket, opts remote.Options) []display.Factory {
	factories := make([]display.Factory, 0, len(cfg.Display))
	for _, name := range cfg.Display {
		switch name {
		case config.DisplayEbiten:
			factories = append(factories, display.Factory{Name: name, New: func() (display.Sink, error) {
				if err := ebitensink.Probe(); err != nil {
					return nil, err
				}
				return ebitensink.New(ebitensink.Options{
					Title:  "camview " + cfg.Source,
					Width:  cfg.Width,
					Height: cfg.Height,
				}, xlog.WithComponent("ebiten")), nil
			}})
		case config.DisplayWS:
			factories = append(factories, display.Factory{Name: name, New: func() (display.Sink, error) {
				if ws == nil || cfg.Listen == "" {
					return nil, fmt.Errorf("ws preview needs --listen")
				}
				return ws, nil
			}})
		case config.DisplayRTC:
			factories = append(factories, display.Factory{Name: name, New: func() (display.Sink, error) {
				return remote.NewRTC(ctx, remote.RTCConfig{
					Options:      opts,
					SignalingURL: cfg.SignalingURL,
					HostID:       cfg.HostID,
				}, xlog.WithComponent("rtc"))
			}})
		case config.DisplayNull:
			factories = append(factories, display.Factory{Name: name, New: func() (display.Sink, error) {
				return display.NewNull(0), nil
			}})
		}
	}
	return factories
}

// capSize shrinks the capture resolution to what the display can show.
func capSize(cfg *config.Config, out *preview.Controller, logger zerolog.Logger) {
	maxW, maxH := out.MaxImageSize()
	w, h := cfg.Width, cfg.Height
	if maxW > 0 && w > maxW {
		w = maxW &^ 1
	}
	if maxH > 0 && h > maxH {
		h = maxH &^ 1
	}
	if w != cfg.Width || h != cfg.Height {
		logger.Info().
			Str(xlog.FieldResolution, fmt.Sprintf("%dx%d", w, h)).
			Msg("capture size capped to display bounds")
		cfg.Width, cfg.Height = w, h
	}
}

func newSource(cfg *config.Config, logger zerolog.Logger) (capture.Source, error) {
	cs, err := frame.ParseColorSpace(cfg.ColorSpace)
	if err != nil {
		return nil, err
	}
	switch cfg.Source {
	case config.SourceV4L2:
		return capture.NewV4L2(capture.V4L2Config{
			Device:     cfg.Device,
			Width:      cfg.Width,
			Height:     cfg.Height,
			FPS:        cfg.FrameRate,
			Buffers:    cfg.BufferCount,
			Timeout:    cfg.Timeout,
			ColorSpace: cs,
		}, logger)
	case config.SourceScreen:
		return capture.NewScreen(capture.ScreenConfig{
			DisplayIndex: cfg.DisplayIndex,
			FPS:          cfg.FrameRate,
			Buffers:      cfg.BufferCount,
			Timeout:      cfg.Timeout,
		}, logger)
	default:
		return capture.NewSynthetic(capture.SyntheticConfig{
			Width:      cfg.Width,
			Height:     cfg.Height,
			FPS:        cfg.FrameRate,
			Buffers:    cfg.BufferCount,
			Timeout:    cfg.Timeout,
			ColorSpace: cs,
			Frames:     cfg.Frames,
		}, logger)
	}
}
