package remote

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/junsooki/camview/internal/display"
	"github.com/junsooki/camview/internal/frame"
	xlog "github.com/junsooki/camview/internal/log"
	"github.com/junsooki/camview/internal/metrics"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsClientQueue  = 2
)

// WebSocket broadcasts each rendered frame as a binary JPEG message to every
// connected client. Slow clients skip frames instead of holding buffers.
type WebSocket struct {
	display.DoneTracker
	frames   *frameEncoder
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
	wg      sync.WaitGroup
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// NewWebSocket creates the sink. Mount it as an http.Handler to accept
// clients.
func NewWebSocket(opts Options, logger zerolog.Logger) *WebSocket {
	return &WebSocket{
		frames: newFrameEncoder(opts, logger),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:     logger,
		clients: make(map[*wsClient]struct{}),
	}
}

func (w *WebSocket) Name() string { return "ws" }

// ServeHTTP upgrades the request and streams frames until the client leaves.
func (w *WebSocket) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.log.Warn().Err(err).Msg("preview upgrade failed")
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, wsClientQueue), done: make(chan struct{})}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		conn.Close()
		return
	}
	w.clients[c] = struct{}{}
	w.wg.Add(1)
	w.mu.Unlock()
	metrics.RemoteClients.WithLabelValues("ws").Inc()
	w.log.Info().Str(xlog.FieldRemote, r.RemoteAddr).Msg("preview client connected")

	go w.writeLoop(c)

	// Drain reads so close frames and disconnects are noticed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	w.remove(c)
	w.log.Info().Str(xlog.FieldRemote, r.RemoteAddr).Msg("preview client left")
}

func (w *WebSocket) writeLoop(c *wsClient) {
	defer w.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				c.close()
				return
			}
		}
	}
}

func (w *WebSocket) remove(c *wsClient) {
	w.mu.Lock()
	_, ok := w.clients[c]
	delete(w.clients, c)
	w.mu.Unlock()
	c.close()
	if ok {
		metrics.RemoteClients.WithLabelValues("ws").Dec()
	}
}

// Clients returns the number of connected clients.
func (w *WebSocket) Clients() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.clients)
}

func (w *WebSocket) Import(h *frame.Handle) (display.Resource, error) {
	return w.frames.importBuffer(h)
}

func (w *WebSocket) Render(_ context.Context, res display.Resource, h *frame.Handle) error {
	w.mu.Lock()
	closed, n := w.closed, len(w.clients)
	w.mu.Unlock()
	if closed {
		return display.ErrClosed
	}
	if n > 0 {
		data, err := w.frames.encode(res, h)
		if err != nil {
			return err
		}
		if data != nil {
			w.broadcast(data)
		}
	}
	w.Shown(h)
	return nil
}

func (w *WebSocket) broadcast(data []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for c := range w.clients {
		select {
		case c.send <- data:
		default:
			// Client is behind; it gets the next frame instead.
		}
	}
}

func (w *WebSocket) Destroy(display.Resource) error { return nil }

func (w *WebSocket) Reset() { w.Flush() }

// MaxImageSize reports no bound: frames are scaled down when encoded.
func (w *WebSocket) MaxImageSize() (int, int) { return 0, 0 }

// Close disconnects every client and waits for their writers.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	w.closed = true
	clients := make([]*wsClient, 0, len(w.clients))
	for c := range w.clients {
		clients = append(clients, c)
	}
	w.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
	w.wg.Wait()
	w.Flush()
	return nil
}

var _ display.Sink = (*WebSocket)(nil)
