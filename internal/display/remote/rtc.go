package remote

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/junsooki/camview/internal/display"
	"github.com/junsooki/camview/internal/frame"
	xlog "github.com/junsooki/camview/internal/log"
	"github.com/junsooki/camview/internal/metrics"
	"github.com/junsooki/camview/internal/peer"
	"github.com/junsooki/camview/internal/signaling"
)

// answerTimeout bounds ICE gathering for one answer.
const answerTimeout = 10 * time.Second

// RTCConfig configures the WebRTC data-channel backend.
type RTCConfig struct {
	Options
	SignalingURL string
	HostID       string
}

// RTC publishes frames to every viewer that connects through the signaling
// server. Each viewer gets its own peer connection and frames data channel.
type RTC struct {
	display.DoneTracker
	frames *frameEncoder
	cfg    RTCConfig
	sig    *signaling.Client
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	viewers map[string]*peer.Publisher
	closed  bool
	wg      sync.WaitGroup
}

// NewRTC connects to the signaling server and registers as a publisher.
func NewRTC(ctx context.Context, cfg RTCConfig, logger zerolog.Logger) (*RTC, error) {
	r := &RTC{
		frames:  newFrameEncoder(cfg.Options, logger),
		cfg:     cfg,
		log:     logger,
		viewers: make(map[string]*peer.Publisher),
	}
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	r.sig = signaling.NewClient(cfg.SignalingURL, cfg.HostID, signaling.RolePublisher, signaling.Handler{
		OnRegistered: func() {
			logger.Info().Str(xlog.FieldPeer, cfg.HostID).Msg("registered with signaling server")
		},
		OnOffer:        r.handleOffer,
		OnICECandidate: r.handleCandidate,
		OnError: func(msg string) {
			logger.Warn().Str("error", msg).Msg("signaling error")
		},
	}, logger)
	if err := r.sig.Connect(ctx); err != nil {
		r.cancel()
		return nil, err
	}
	return r, nil
}

func (r *RTC) Name() string { return "rtc" }

// handleOffer runs on the signaling read loop; answering waits for ICE
// gathering so it happens on its own goroutine.
func (r *RTC) handleOffer(from string, payload json.RawMessage) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	old := r.viewers[from]
	delete(r.viewers, from)
	r.mu.Unlock()
	if old != nil {
		old.Close()
		metrics.RemoteClients.WithLabelValues("rtc").Dec()
	}

	var pub *peer.Publisher
	pub, err := peer.NewPublisher(r.sig, from, r.log.With().Str(xlog.FieldPeer, from).Logger(), func() {
		r.dropViewer(from, pub)
	})
	if err != nil {
		r.log.Error().Err(err).Str(xlog.FieldPeer, from).Msg("failed to create peer connection")
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		pub.Close()
		return
	}
	r.viewers[from] = pub
	r.wg.Add(1)
	r.mu.Unlock()
	metrics.RemoteClients.WithLabelValues("rtc").Inc()

	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(r.ctx, answerTimeout)
		defer cancel()
		if err := pub.HandleOffer(ctx, payload); err != nil {
			r.log.Error().Err(err).Str(xlog.FieldPeer, from).Msg("failed to answer offer")
			r.dropViewer(from, pub)
		}
	}()
}

func (r *RTC) handleCandidate(from string, payload json.RawMessage) {
	r.mu.Lock()
	pub := r.viewers[from]
	r.mu.Unlock()
	if pub == nil {
		return
	}
	if err := pub.HandleICECandidate(payload); err != nil {
		r.log.Warn().Err(err).Str(xlog.FieldPeer, from).Msg("failed to add ICE candidate")
	}
}

func (r *RTC) dropViewer(id string, pub *peer.Publisher) {
	r.mu.Lock()
	cur, ok := r.viewers[id]
	if ok && cur == pub {
		delete(r.viewers, id)
	}
	r.mu.Unlock()
	if ok && cur == pub {
		pub.Close()
		metrics.RemoteClients.WithLabelValues("rtc").Dec()
		r.log.Info().Str(xlog.FieldPeer, id).Msg("viewer disconnected")
	}
}

func (r *RTC) Import(h *frame.Handle) (display.Resource, error) {
	return r.frames.importBuffer(h)
}

func (r *RTC) Render(_ context.Context, res display.Resource, h *frame.Handle) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return display.ErrClosed
	}
	var ready []*peer.Publisher
	for _, pub := range r.viewers {
		if pub.Transport().Ready() {
			ready = append(ready, pub)
		}
	}
	r.mu.Unlock()

	if len(ready) > 0 {
		data, err := r.frames.encode(res, h)
		if err != nil {
			return err
		}
		for _, pub := range ready {
			if data == nil {
				break
			}
			if err := pub.Transport().SendFrame(data); err != nil {
				r.log.Debug().Err(err).Str(xlog.FieldPeer, pub.ViewerID()).Msg("frame send failed")
			}
		}
	}
	r.Shown(h)
	return nil
}

func (r *RTC) Destroy(display.Resource) error { return nil }

func (r *RTC) Reset() { r.Flush() }

// MaxImageSize reports no bound: frames are scaled down when encoded.
func (r *RTC) MaxImageSize() (int, int) { return 0, 0 }

// Close hangs up every viewer and leaves the signaling server.
func (r *RTC) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	viewers := r.viewers
	r.viewers = make(map[string]*peer.Publisher)
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	for _, pub := range viewers {
		pub.Close()
		metrics.RemoteClients.WithLabelValues("rtc").Dec()
	}
	r.sig.Close()
	r.Flush()
	return nil
}

var _ display.Sink = (*RTC)(nil)
