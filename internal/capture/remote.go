package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/junsooki/camview/internal/decoder"
	"github.com/junsooki/camview/internal/frame"
	xlog "github.com/junsooki/camview/internal/log"
	"github.com/junsooki/camview/internal/peer"
	"github.com/junsooki/camview/internal/signaling"
)

// RemoteConfig configures a source fed by a remote camview publisher.
type RemoteConfig struct {
	SignalingURL string
	ViewerID     string
	PublisherID  string
	Buffers      int
	// Timeout is the longest gap between frames before the loop restarts
	// the source, which reconnects.
	Timeout        time.Duration
	ConnectTimeout time.Duration
}

// Remote receives JPEG frames over a WebRTC data channel and lends them as
// RGBA buffers. Each Start dials the signaling server and offers a new
// peer connection; Stop hangs up.
type Remote struct {
	cfg  RemoteConfig
	pool *Pool
	dec  decoder.Decoder
	log  zerolog.Logger

	mu     sync.Mutex
	sig    *signaling.Client
	viewer *peer.Viewer
	msgs   chan Message
	seq    uint64
	gen    uint64
}

// NewRemote validates cfg. Nothing is dialled until Start.
func NewRemote(cfg RemoteConfig, logger zerolog.Logger) (*Remote, error) {
	if cfg.SignalingURL == "" || cfg.PublisherID == "" || cfg.ViewerID == "" {
		return nil, fmt.Errorf("remote: signaling url, publisher and viewer ids are required")
	}
	if cfg.Buffers < 2 {
		return nil, fmt.Errorf("remote: need at least 2 buffers, got %d", cfg.Buffers)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Remote{
		cfg:  cfg,
		pool: NewPool(cfg.Buffers, 0, logger),
		dec:  decoder.NewJPEGDecoder(),
		log:  logger,
		msgs: make(chan Message, cfg.Buffers),
	}, nil
}

func (r *Remote) Name() string { return "remote:" + r.cfg.PublisherID }

func (r *Remote) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.sig != nil {
		r.mu.Unlock()
		return fmt.Errorf("remote: already running")
	}
	r.gen++
	gen := r.gen
	r.mu.Unlock()
	r.pool.Reclaim()

	var viewer *peer.Viewer
	var viewerMu sync.Mutex
	current := func() *peer.Viewer {
		viewerMu.Lock()
		defer viewerMu.Unlock()
		return viewer
	}

	sig := signaling.NewClient(r.cfg.SignalingURL, r.cfg.ViewerID, signaling.RoleViewer, signaling.Handler{
		OnAnswer: func(from string, payload json.RawMessage) {
			if v := current(); v != nil && from == r.cfg.PublisherID {
				if err := v.HandleAnswer(payload); err != nil {
					r.log.Warn().Err(err).Msg("failed to apply answer")
				}
			}
		},
		OnICECandidate: func(from string, payload json.RawMessage) {
			if v := current(); v != nil && from == r.cfg.PublisherID {
				if err := v.HandleICECandidate(payload); err != nil {
					r.log.Warn().Err(err).Msg("failed to add ICE candidate")
				}
			}
		},
		OnPublisherGone: func(id string) {
			if id == r.cfg.PublisherID {
				r.log.Warn().Str(xlog.FieldPeer, id).Msg("publisher left signaling server")
			}
		},
		OnError: func(msg string) {
			r.log.Warn().Str("error", msg).Msg("signaling error")
		},
	}, r.log)

	connectCtx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	defer cancel()
	if err := sig.Connect(connectCtx); err != nil {
		return fmt.Errorf("remote: %w", err)
	}

	v, err := peer.NewViewer(sig, r.cfg.PublisherID, r.log, func() {
		r.log.Info().Str(xlog.FieldPeer, r.cfg.PublisherID).Msg("peer connection ended")
	})
	if err != nil {
		sig.Close()
		return fmt.Errorf("remote: %w", err)
	}
	v.Transport().OnFrame(func(data []byte) { r.onFrame(gen, data) })
	viewerMu.Lock()
	viewer = v
	viewerMu.Unlock()

	if err := v.Connect(connectCtx); err != nil {
		v.Close()
		sig.Close()
		return fmt.Errorf("remote: offer: %w", err)
	}

	r.mu.Lock()
	r.sig = sig
	r.viewer = v
	r.mu.Unlock()
	r.log.Info().Str(xlog.FieldPeer, r.cfg.PublisherID).Msg("offer sent to publisher")
	return nil
}

func (r *Remote) Stop() error {
	r.mu.Lock()
	sig, v := r.sig, r.viewer
	r.sig, r.viewer = nil, nil
	r.gen++
	r.mu.Unlock()
	if sig == nil {
		return nil
	}
	v.Close()
	sig.Close()
	drain(r.msgs)
	return nil
}

func (r *Remote) Wait(ctx context.Context) (Message, error) {
	return waitMessage(ctx, r.msgs, r.cfg.Timeout)
}

// onFrame runs on the data channel goroutine.
func (r *Remote) onFrame(gen uint64, data []byte) {
	w, h, err := r.dec.Size(data)
	if err != nil {
		r.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping undecodable frame")
		return
	}
	b, ok := r.pool.Get()
	if !ok {
		r.log.Debug().Msg("no free buffer, dropping frame")
		return
	}
	if err := r.dec.DecodeInto(b.Grow(w*h*4), data); err != nil {
		r.pool.Put(b)
		r.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping undecodable frame")
		return
	}
	geo := frame.Geometry{Width: w, Height: h, Format: frame.FormatRGBA, ColorSpace: frame.ColorSpaceRaw, Stride: w * 4}
	planes := frame.RGBAPlanes(w, h)

	// Holding mu across the send keeps frames of a stopped connection out
	// of the queue once Stop has drained it.
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		r.pool.Put(b)
		return
	}
	r.seq++
	handle := r.pool.Lend(b, geo, planes, r.seq)
	select {
	case r.msgs <- Message{Type: MsgFrameReady, Frame: handle}:
	default:
		handle.Release()
	}
}
