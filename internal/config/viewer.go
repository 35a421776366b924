package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"
)

// ViewerConfig holds configuration for the viewer binary.
type ViewerConfig struct {
	SignalingURL string
	ViewerID     string
	HostID       string
	Buffers      int
	Timeout      time.Duration
	MaxRestarts  int
	RestartDelay time.Duration
	Display      []string
	Listen       string
	LogLevel     string
	Verbose      int
}

// ParseViewer parses flags for the viewer binary.
func ParseViewer(args []string, output io.Writer) (*ViewerConfig, error) {
	cfg := &ViewerConfig{Display: []string{DisplayEbiten, DisplayNull}}
	version := false
	fs := flag.NewFlagSet("viewer", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.BoolVar(&version, "version", false, "Print version and exit")
	fs.StringVar(&cfg.SignalingURL, "signaling", "ws://localhost:9090/signal", "Signaling server WebSocket URL")
	fs.StringVar(&cfg.ViewerID, "id", "", "Viewer ID (auto-generated if empty)")
	fs.StringVar(&cfg.HostID, "host", "", "Publisher ID to connect to (required)")
	fs.IntVar(&cfg.Buffers, "buffer-count", 4, "Number of receive buffers")
	fs.DurationVar(&cfg.Timeout, "timeout", 3*time.Second, "Gap between frames before reconnecting")
	fs.IntVar(&cfg.MaxRestarts, "max-restarts", 0, "Consecutive reconnects before giving up (0 = unlimited)")
	fs.DurationVar(&cfg.RestartDelay, "restart-delay", 500*time.Millisecond, "Initial delay between reconnects, doubled each time")
	fs.Var(listValue{&cfg.Display}, "display", "Display backends to try in order: ebiten, null")
	fs.StringVar(&cfg.Listen, "listen", "", "HTTP listen address for metrics and health (empty disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "Log level (overrides --verbose)")
	fs.IntVar(&cfg.Verbose, "verbose", 1, "Verbosity: 0 quiet, 1 normal, 2 per-frame")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if version {
		return nil, ErrVersion
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	if cfg.ViewerID == "" {
		cfg.ViewerID = "viewer-" + shortID()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and names.
func (c *ViewerConfig) Validate() error {
	var errs []error
	if c.HostID == "" {
		errs = append(errs, fmt.Errorf("--host is required"))
	}
	if c.SignalingURL == "" {
		errs = append(errs, fmt.Errorf("--signaling is required"))
	}
	if c.Buffers < 2 {
		errs = append(errs, fmt.Errorf("buffer-count must be at least 2, got %d", c.Buffers))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive"))
	}
	errs = append(errs, validateDisplays(c.Display)...)
	for _, d := range c.Display {
		if d == DisplayWS || d == DisplayRTC {
			errs = append(errs, fmt.Errorf("display %s is not available in the viewer", d))
		}
	}
	errs = append(errs, validateRestart(c.MaxRestarts, c.RestartDelay)...)
	errs = append(errs, validateLogging(c.LogLevel, c.Verbose)...)
	return errors.Join(errs...)
}

// EffectiveLogLevel is LogLevel if set, else derived from Verbose.
func (c *ViewerConfig) EffectiveLogLevel() string {
	return logLevel(c.LogLevel, c.Verbose)
}
