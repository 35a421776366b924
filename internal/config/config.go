// Package config parses command line flags and the optional YAML file of
// the camview binaries. Explicitly set flags win over the file, which wins
// over the built-in defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrHelp is returned when -h or --help was requested; usage has been
	// printed.
	ErrHelp = flag.ErrHelp
	// ErrVersion is returned when --version was requested.
	ErrVersion = errors.New("version requested")
)

// Source names.
const (
	SourceSynthetic = "synthetic"
	SourceV4L2      = "v4l2"
	SourceScreen    = "screen"
)

// Display backend names.
const (
	DisplayEbiten = "ebiten"
	DisplayWS     = "ws"
	DisplayRTC    = "rtc"
	DisplayNull   = "null"
)

// Defaults applied when width and height are left at zero.
const (
	DefaultWidth  = 640
	DefaultHeight = 480
)

// Config holds the runtime configuration of the camview binary.
type Config struct {
	Width        int           `yaml:"width"`
	Height       int           `yaml:"height"`
	FrameRate    float64       `yaml:"framerate"`
	Source       string        `yaml:"source"`
	Device       string        `yaml:"device"`
	DisplayIndex int           `yaml:"display_index"`
	BufferCount  int           `yaml:"buffer_count"`
	Timeout      time.Duration `yaml:"timeout"`
	ColorSpace   string        `yaml:"color_space"`
	Frames       int           `yaml:"frames"`

	Display []string `yaml:"display"`

	Listen       string  `yaml:"listen"`
	Quality      int     `yaml:"quality"`
	RemoteMaxFPS float64 `yaml:"remote_max_fps"`
	RemoteMaxW   int     `yaml:"remote_max_width"`
	RemoteMaxH   int     `yaml:"remote_max_height"`
	SignalingURL string  `yaml:"signaling"`
	HostID       string  `yaml:"host_id"`

	MaxRestarts  int           `yaml:"max_restarts"`
	RestartDelay time.Duration `yaml:"restart_delay"`

	LogLevel string `yaml:"log_level"`
	Verbose  int    `yaml:"verbose"`

	// ConfigFile is the path given with --config.
	ConfigFile string `yaml:"-"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		FrameRate:    30,
		Source:       SourceSynthetic,
		Device:       "/dev/video0",
		BufferCount:  4,
		Timeout:      time.Second,
		ColorSpace:   "smpte170m",
		Display:      []string{DisplayEbiten, DisplayNull},
		Listen:       ":9090",
		Quality:      70,
		RemoteMaxFPS: 15,
		SignalingURL: "ws://localhost:9090/signal",
		Verbose:      1,
	}
}

// listValue is a comma separated flag.
type listValue struct{ list *[]string }

func (v listValue) String() string {
	if v.list == nil {
		return ""
	}
	return strings.Join(*v.list, ",")
}

func (v listValue) Set(s string) error {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*v.list = out
	return nil
}

func (c *Config) bind(fs *flag.FlagSet, version *bool) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "YAML configuration file")
	fs.BoolVar(version, "version", false, "Print version and exit")

	fs.IntVar(&c.Width, "width", c.Width, "Capture width (0 = 640)")
	fs.IntVar(&c.Height, "height", c.Height, "Capture height (0 = 480)")
	fs.Float64Var(&c.FrameRate, "framerate", c.FrameRate, "Capture frames per second")
	fs.StringVar(&c.Source, "source", c.Source, "Capture source: synthetic, v4l2 or screen")
	fs.StringVar(&c.Device, "device", c.Device, "V4L2 device path")
	fs.IntVar(&c.DisplayIndex, "display-index", c.DisplayIndex, "Display index to capture for the screen source (0 = primary)")
	fs.IntVar(&c.BufferCount, "buffer-count", c.BufferCount, "Number of capture buffers")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "Device timeout before the camera is restarted")
	fs.StringVar(&c.ColorSpace, "color-space", c.ColorSpace, "Colour space of YUV buffers: smpte170m, sycc, rec709")
	fs.IntVar(&c.Frames, "frames", c.Frames, "Stop after this many frames (0 = unlimited)")

	fs.Var(listValue{&c.Display}, "display", "Display backends to try in order, comma separated: ebiten, ws, rtc, null")

	fs.StringVar(&c.Listen, "listen", c.Listen, "HTTP listen address for metrics, health and the WebSocket preview (empty disables)")
	fs.IntVar(&c.Quality, "quality", c.Quality, "JPEG quality for remote preview (1-100)")
	fs.Float64Var(&c.RemoteMaxFPS, "remote-max-fps", c.RemoteMaxFPS, "Frame rate cap for remote preview (0 = uncapped)")
	fs.IntVar(&c.RemoteMaxW, "remote-max-width", c.RemoteMaxW, "Width cap for remote preview (0 = none)")
	fs.IntVar(&c.RemoteMaxH, "remote-max-height", c.RemoteMaxH, "Height cap for remote preview (0 = none)")
	fs.StringVar(&c.SignalingURL, "signaling", c.SignalingURL, "Signaling server WebSocket URL for the rtc backend")
	fs.StringVar(&c.HostID, "id", c.HostID, "Publisher ID (auto-generated if empty)")

	fs.IntVar(&c.MaxRestarts, "max-restarts", c.MaxRestarts, "Consecutive device restarts before giving up (0 = unlimited)")
	fs.DurationVar(&c.RestartDelay, "restart-delay", c.RestartDelay, "Initial delay between restarts, doubled each time")

	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (overrides --verbose)")
	fs.IntVar(&c.Verbose, "verbose", c.Verbose, "Verbosity: 0 quiet, 1 normal, 2 per-frame")
}

// Parse parses args (without the program name). Usage goes to output.
func Parse(args []string, output io.Writer) (*Config, error) {
	cfg := Defaults()
	version := false
	fs := flag.NewFlagSet("camview", flag.ContinueOnError)
	fs.SetOutput(output)
	cfg.bind(fs, &version)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if version {
		return nil, ErrVersion
	}

	if cfg.ConfigFile != "" {
		path := cfg.ConfigFile
		fileCfg := Defaults()
		if err := LoadFile(path, &fileCfg); err != nil {
			return nil, err
		}
		// Parse again on top of the file so explicit flags win.
		fs = flag.NewFlagSet("camview", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		fileCfg.bind(fs, &version)
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		fileCfg.ConfigFile = path
		cfg = fileCfg
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Width == 0 {
		c.Width = DefaultWidth
	}
	if c.Height == 0 {
		c.Height = DefaultHeight
	}
	if c.HostID == "" {
		c.HostID = "camview-" + shortID()
	}
}

// Validate checks value ranges and names.
func (c *Config) Validate() error {
	var errs []error
	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Errorf("invalid size %dx%d", c.Width, c.Height))
	}
	if c.FrameRate <= 0 || c.FrameRate > 240 {
		errs = append(errs, fmt.Errorf("framerate must be in (0, 240], got %v", c.FrameRate))
	}
	switch c.Source {
	case SourceSynthetic, SourceV4L2, SourceScreen:
	default:
		errs = append(errs, fmt.Errorf("unknown source %q", c.Source))
	}
	if c.BufferCount < 2 {
		errs = append(errs, fmt.Errorf("buffer_count must be at least 2, got %d", c.BufferCount))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	switch c.ColorSpace {
	case "smpte170m", "sycc", "rec709":
	default:
		errs = append(errs, fmt.Errorf("unknown color_space %q", c.ColorSpace))
	}
	if c.Frames < 0 {
		errs = append(errs, fmt.Errorf("frames must not be negative"))
	}
	errs = append(errs, validateDisplays(c.Display)...)
	for _, d := range c.Display {
		if d == DisplayRTC && c.SignalingURL == "" {
			errs = append(errs, fmt.Errorf("display rtc needs a signaling url"))
		}
	}
	if c.Quality < 1 || c.Quality > 100 {
		errs = append(errs, fmt.Errorf("quality must be 1-100, got %d", c.Quality))
	}
	if c.RemoteMaxFPS < 0 || c.RemoteMaxW < 0 || c.RemoteMaxH < 0 {
		errs = append(errs, fmt.Errorf("remote caps must not be negative"))
	}
	errs = append(errs, validateRestart(c.MaxRestarts, c.RestartDelay)...)
	errs = append(errs, validateLogging(c.LogLevel, c.Verbose)...)
	return errors.Join(errs...)
}

func validateDisplays(list []string) []error {
	if len(list) == 0 {
		return []error{fmt.Errorf("at least one display backend is required")}
	}
	var errs []error
	for _, d := range list {
		switch d {
		case DisplayEbiten, DisplayWS, DisplayRTC, DisplayNull:
		default:
			errs = append(errs, fmt.Errorf("unknown display backend %q", d))
		}
	}
	return errs
}

func validateRestart(maxRestarts int, delay time.Duration) []error {
	var errs []error
	if maxRestarts < 0 {
		errs = append(errs, fmt.Errorf("max_restarts must not be negative"))
	}
	if delay < 0 {
		errs = append(errs, fmt.Errorf("restart_delay must not be negative"))
	}
	return errs
}

func validateLogging(level string, verbose int) []error {
	var errs []error
	if level != "" {
		if _, err := zerolog.ParseLevel(level); err != nil {
			errs = append(errs, fmt.Errorf("log_level: %w", err))
		}
	}
	if verbose < 0 || verbose > 2 {
		errs = append(errs, fmt.Errorf("verbose must be 0-2, got %d", verbose))
	}
	return errs
}

// EffectiveLogLevel is LogLevel if set, else derived from Verbose.
func (c *Config) EffectiveLogLevel() string {
	return logLevel(c.LogLevel, c.Verbose)
}

func logLevel(level string, verbose int) string {
	if level != "" {
		return level
	}
	switch {
	case verbose >= 2:
		return "debug"
	case verbose == 0:
		return "warn"
	default:
		return "info"
	}
}

func shortID() string {
	return uuid.NewString()[:8]
}
