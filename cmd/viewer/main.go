// Command viewer previews the frames a remote camview instance publishes
// over its rtc backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/junsooki/camview/internal/capture"
	"github.com/junsooki/camview/internal/config"
	"github.com/junsooki/camview/internal/display"
	ebitensink "github.com/junsooki/camview/internal/display/ebiten"
	"github.com/junsooki/camview/internal/fault"
	xlog "github.com/junsooki/camview/internal/log"
	"github.com/junsooki/camview/internal/pipeline"
	"github.com/junsooki/camview/internal/preview"
	"github.com/junsooki/camview/internal/server"
	"github.com/junsooki/camview/internal/version"
)

func main() {
	cfg, err := config.ParseViewer(os.Args[1:], os.Stderr)
	switch {
	case errors.Is(err, config.ErrHelp):
		return
	case errors.Is(err, config.ErrVersion):
		fmt.Println(version.String("viewer"))
		return
	case err != nil:
		fmt.Fprintln(os.Stderr, "viewer:", err)
		os.Exit(2)
	}

	xlog.Reconfigure(xlog.Config{Level: cfg.EffectiveLogLevel(), Service: "camview-viewer"})
	logger := xlog.WithComponent("main")
	logger.Info().
		Str(xlog.FieldPeer, cfg.ViewerID).
		Str("host", cfg.HostID).
		Str("signaling", cfg.SignalingURL).
		Msg("viewer starting")

	ctx, stop := pipeline.NotifyContext(context.Background(), pipeline.TerminationSignals...)
	err = run(ctx, cfg, logger)
	stop()
	if !fault.IsGraceful(err) {
		fmt.Fprintln(os.Stderr, "viewer:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.ViewerConfig, logger zerolog.Logger) error {
	src, err := capture.NewRemote(capture.RemoteConfig{
		SignalingURL: cfg.SignalingURL,
		ViewerID:     cfg.ViewerID,
		PublisherID:  cfg.HostID,
		Buffers:      cfg.Buffers,
		Timeout:      cfg.Timeout,
	}, xlog.WithComponent("remote"))
	if err != nil {
		return err
	}

	factories := make([]display.Factory, 0, len(cfg.Display))
	for _, name := range cfg.Display {
		switch name {
		case config.DisplayEbiten:
			factories = append(factories, display.Factory{Name: name, New: func() (display.Sink, error) {
				if err := ebitensink.Probe(); err != nil {
					return nil, err
				}
				return ebitensink.New(ebitensink.Options{Title: "camview viewer: " + cfg.HostID}, xlog.WithComponent("ebiten")), nil
			}})
		case config.DisplayNull:
			factories = append(factories, display.Factory{Name: name, New: func() (display.Sink, error) {
				return display.NewNull(0), nil
			}})
		}
	}
	sink, err := display.Select(factories, logger)
	if err != nil {
		return err
	}

	out := preview.New(sink, xlog.WithComponent("preview"))
	loop := pipeline.New(src, out, pipeline.RestartPolicy{
		MaxRestarts: cfg.MaxRestarts,
		Delay:       cfg.RestartDelay,
		MaxDelay:    pipeline.DefaultRestartPolicy().MaxDelay,
	}, xlog.WithComponent("pipeline"))

	g, gctx := errgroup.WithContext(ctx)
	srvCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()
	g.Go(func() error {
		defer stopServer()
		return loop.Run(gctx)
	})
	if cfg.Listen != "" {
		srv := server.New(server.Options{
			Addr: cfg.Listen,
			Status: func() server.Status {
				return server.Status{
					State:    loop.State().String(),
					Frames:   loop.Frames(),
					Restarts: loop.Restarts(),
					Backend:  sink.Name(),
				}
			},
		}, xlog.WithComponent("http"))
		g.Go(func() error { return srv.Serve(srvCtx) })
	}

	if r, ok := sink.(display.Runner); ok {
		if err := r.Run(); err != nil {
			logger.Error().Err(err).Str(xlog.FieldBackend, sink.Name()).Msg("display loop failed")
		}
	}
	return g.Wait()
}
