// Package preview mediates between a capture source and a display sink.
//
// The Controller enforces the buffer lease protocol: at most one lease per
// buffer id is outstanding, every presented lease is released exactly once
// (unless a device restart abandoned it), and backend resources are cached
// per buffer id. All sink calls run on one display goroutine fed through a
// single-slot mailbox; a frame still waiting in the mailbox when a newer one
// arrives is dropped and released at once.
package preview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/junsooki/camview/internal/display"
	"github.com/junsooki/camview/internal/fault"
	"github.com/junsooki/camview/internal/frame"
	xlog "github.com/junsooki/camview/internal/log"
	"github.com/junsooki/camview/internal/metrics"
)

type cacheEntry struct {
	res display.Resource
	geo frame.Geometry
}

type cmdKind int

const (
	cmdReset cmdKind = iota
	cmdQuit
)

type command struct {
	kind  cmdKind
	reply chan bool
}

// Controller owns the lease table and the DisplayBufferCache.
type Controller struct {
	sink display.Sink
	log  zerolog.Logger

	mu      sync.Mutex
	leases  map[frame.ID]*frame.Handle
	lastGen map[frame.ID]uint64
	cache   map[frame.ID]cacheEntry
	pending *frame.Handle
	quit    bool
	quitOK  bool
	err     error

	wake       chan struct{}
	cmds       chan command
	failed     chan struct{}
	failOnce   sync.Once
	exited     chan struct{}
	renderCtx  context.Context
	cancel     context.CancelFunc
	watcherWG  sync.WaitGroup
	quitResult chan struct{}
}

// New starts the display goroutine for sink. Call Quit to stop it.
func New(sink display.Sink, logger zerolog.Logger) *Controller {
	c := &Controller{
		sink:       sink,
		log:        logger,
		leases:     make(map[frame.ID]*frame.Handle),
		lastGen:    make(map[frame.ID]uint64),
		cache:      make(map[frame.ID]cacheEntry),
		wake:       make(chan struct{}, 1),
		cmds:       make(chan command),
		failed:     make(chan struct{}),
		exited:     make(chan struct{}),
		quitResult: make(chan struct{}),
	}
	c.renderCtx, c.cancel = context.WithCancel(context.Background())
	sink.SetDone(c.releaseDone)
	go c.run()

	if n, ok := sink.(display.ClosedNotifier); ok {
		c.watcherWG.Add(1)
		go func() {
			defer c.watcherWG.Done()
			select {
			case <-n.Closed():
				c.fail(fault.New(fault.KindSinkClosed, "display", errors.New("closed by user")))
			case <-c.exited:
			}
		}()
	}
	return c
}

// Present hands a leased buffer to the display. The controller owns the
// lease from here on. Presenting an id whose previous lease is still
// outstanding, or a generation that does not advance, is a protocol
// violation and leaves h untouched.
func (c *Controller) Present(h *frame.Handle) error {
	if h == nil {
		return fault.Newf(fault.KindProtocolViolation, "present", "nil buffer")
	}
	key := h.Key()

	c.mu.Lock()
	if c.quit {
		c.mu.Unlock()
		c.releaseRejected(h, "controller stopped")
		return fault.ForBuffer(fault.KindSinkClosed, "present", key, errors.New("preview stopped"))
	}
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		c.releaseRejected(h, "display failed")
		return err
	}
	if held, ok := c.leases[h.ID]; ok {
		c.mu.Unlock()
		c.log.Error().
			Int(xlog.FieldBufferID, int(h.ID)).
			Uint64(xlog.FieldGeneration, h.Generation).
			Uint64("held_generation", held.Generation).
			Msg("buffer presented while its previous lease is outstanding")
		return fault.ForBuffer(fault.KindProtocolViolation, "present", key,
			fmt.Errorf("lease %s still outstanding", held.Key()))
	}
	if last, ok := c.lastGen[h.ID]; ok && h.Generation <= last {
		c.mu.Unlock()
		c.log.Error().
			Int(xlog.FieldBufferID, int(h.ID)).
			Uint64(xlog.FieldGeneration, h.Generation).
			Uint64("last_generation", last).
			Msg("stale buffer generation")
		return fault.ForBuffer(fault.KindProtocolViolation, "present", key,
			fmt.Errorf("generation %d does not follow %d", h.Generation, last))
	}
	c.leases[h.ID] = h
	c.lastGen[h.ID] = h.Generation
	dropped := c.pending
	c.pending = h
	if dropped != nil {
		delete(c.leases, dropped.ID)
	}
	c.mu.Unlock()

	metrics.FramesPresented.Inc()
	if dropped != nil {
		c.log.Debug().
			Int(xlog.FieldBufferID, int(dropped.ID)).
			Uint64(xlog.FieldGeneration, dropped.Generation).
			Msg("display busy, dropping frame")
		metrics.FramesDropped.Inc()
		c.release(dropped)
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Abandon forgets every outstanding lease without releasing it. The loop
// calls it when the device restarts and takes its buffers back; late
// releases for abandoned leases are ignored. Cached resources are kept.
func (c *Controller) Abandon() int {
	c.mu.Lock()
	abandoned := make([]*frame.Handle, 0, len(c.leases))
	for _, h := range c.leases {
		abandoned = append(abandoned, h)
	}
	clear(c.leases)
	c.pending = nil
	c.mu.Unlock()

	for _, h := range abandoned {
		c.log.Warn().
			Int(xlog.FieldBufferID, int(h.ID)).
			Uint64(xlog.FieldGeneration, h.Generation).
			Msg("abandoning lease on device restart")
		metrics.LeasesAbandoned.Inc()
	}
	return len(abandoned)
}

// Reset destroys every cached resource and releases the buffers the display
// still holds. Calling it again has no further effect.
func (c *Controller) Reset() {
	reply := make(chan bool, 1)
	select {
	case c.cmds <- command{kind: cmdReset, reply: reply}:
		<-reply
	case <-c.exited:
	}
}

// Quit tears the display down for good and reports whether every backend
// resource was freed cleanly. Later calls return the first result.
func (c *Controller) Quit() bool {
	c.mu.Lock()
	first := !c.quit
	c.quit = true
	c.mu.Unlock()

	if !first {
		<-c.quitResult
		return c.quitOK
	}

	c.cancel()
	reply := make(chan bool, 1)
	ok := false
	select {
	case c.cmds <- command{kind: cmdQuit, reply: reply}:
		ok = <-reply
	case <-c.exited:
		ok = c.teardown()
		if cerr := c.sink.Close(); cerr != nil {
			ok = false
		}
	}
	<-c.exited
	c.watcherWG.Wait()

	c.quitOK = ok
	close(c.quitResult)
	if !ok {
		c.log.Warn().Msg("display teardown incomplete")
	}
	return ok
}

// MaxImageSize reports the display surface bounds.
func (c *Controller) MaxImageSize() (int, int) {
	return c.sink.MaxImageSize()
}

// Done is closed when the display fails or is closed by the user.
func (c *Controller) Done() <-chan struct{} { return c.failed }

// Err returns the failure that closed Done.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Outstanding returns the number of leases not yet released.
func (c *Controller) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.leases)
}

// Cached returns the number of cached backend resources.
func (c *Controller) Cached() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

func (c *Controller) fail(err error) {
	c.failOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.failed)
	})
}

// releaseDone is the sink's done callback.
func (c *Controller) releaseDone(h *frame.Handle) {
	c.mu.Lock()
	cur, ok := c.leases[h.ID]
	if !ok || cur != h {
		c.mu.Unlock()
		c.log.Debug().
			Int(xlog.FieldBufferID, int(h.ID)).
			Uint64(xlog.FieldGeneration, h.Generation).
			Msg("ignoring release for a lease no longer held")
		return
	}
	delete(c.leases, h.ID)
	c.mu.Unlock()
	c.release(h)
}

func (c *Controller) release(h *frame.Handle) {
	if h.Release() {
		metrics.BuffersReleased.Inc()
	}
}

func (c *Controller) releaseRejected(h *frame.Handle, reason string) {
	c.log.Warn().
		Int(xlog.FieldBufferID, int(h.ID)).
		Uint64(xlog.FieldGeneration, h.Generation).
		Str("reason", reason).
		Msg("rejecting frame")
	c.release(h)
}

// dropLease ends a lease whose handle the sink never took.
func (c *Controller) dropLease(h *frame.Handle) {
	c.mu.Lock()
	cur, ok := c.leases[h.ID]
	if ok && cur == h {
		delete(c.leases, h.ID)
	}
	c.mu.Unlock()
	if ok && cur == h {
		c.release(h)
	}
}

// run is the display goroutine.
func (c *Controller) run() {
	defer close(c.exited)
	for {
		select {
		case <-c.wake:
			c.renderPending()
		case cmd := <-c.cmds:
			switch cmd.kind {
			case cmdReset:
				c.teardown()
				cmd.reply <- true
			case cmdQuit:
				ok := c.teardown()
				if err := c.sink.Close(); err != nil {
					c.log.Warn().Err(fault.New(fault.KindBackendTeardown, "close display", err)).Msg("display close failed")
					ok = false
				}
				cmd.reply <- ok
				return
			}
		}
	}
}

func (c *Controller) renderPending() {
	c.mu.Lock()
	h := c.pending
	c.pending = nil
	if h == nil {
		c.mu.Unlock()
		return
	}
	failed := c.err != nil
	ent, cached := c.cache[h.ID]
	c.mu.Unlock()
	if failed {
		c.dropLease(h)
		return
	}

	backend := c.sink.Name()
	if cached && ent.geo != h.Geometry() {
		c.log.Info().
			Int(xlog.FieldBufferID, int(h.ID)).
			Msg("buffer geometry changed, re-importing")
		c.destroy(h.ID, ent)
		cached = false
	}
	if !cached {
		res, err := c.sink.Import(h)
		metrics.IncImport(backend, err == nil)
		if err != nil {
			ferr := fault.ForBuffer(fault.KindBackendImport, "import", h.Key(), err)
			c.log.Error().Err(ferr).Str(xlog.FieldBackend, backend).Msg("cannot display buffer")
			c.dropLease(h)
			c.fail(ferr)
			return
		}
		ent = cacheEntry{res: res, geo: h.Geometry()}
		c.mu.Lock()
		c.cache[h.ID] = ent
		c.mu.Unlock()
	}

	start := time.Now()
	err := c.sink.Render(c.renderCtx, ent.res, h)
	metrics.ObserveRender(backend, time.Since(start))
	if err == nil {
		c.log.Debug().Uint64(xlog.FieldFrame, h.Seq).Int(xlog.FieldBufferID, int(h.ID)).Msg("frame shown")
		return
	}
	c.dropLease(h)
	switch {
	case fault.KindOf(err) == fault.KindSinkClosed:
		c.fail(err)
	case errors.Is(err, context.Canceled):
	default:
		c.log.Warn().Err(err).Str(xlog.FieldBackend, backend).Int(xlog.FieldBufferID, int(h.ID)).Msg("render failed, frame skipped")
	}
}

func (c *Controller) destroy(id frame.ID, ent cacheEntry) bool {
	c.mu.Lock()
	delete(c.cache, id)
	c.mu.Unlock()
	if err := c.sink.Destroy(ent.res); err != nil {
		c.log.Warn().
			Err(fault.New(fault.KindBackendTeardown, "destroy resource", err)).
			Int(xlog.FieldBufferID, int(id)).
			Msg("backend resource teardown failed")
		return false
	}
	return true
}

// teardown runs on the display goroutine, or after it exited. Only the
// leases outstanding when it starts are ended; a frame presented while the
// sink is being reset stays pending and is rendered afterwards.
func (c *Controller) teardown() bool {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	entries := make(map[frame.ID]cacheEntry, len(c.cache))
	for id, ent := range c.cache {
		entries[id] = ent
	}
	held := make([]*frame.Handle, 0, len(c.leases))
	for _, h := range c.leases {
		if h != pending {
			held = append(held, h)
		}
	}
	clear(c.lastGen)
	c.mu.Unlock()

	if pending != nil {
		c.dropLease(pending)
	}
	c.sink.Reset()

	ok := true
	for id, ent := range entries {
		if !c.destroy(id, ent) {
			ok = false
		}
	}

	// Whatever the sink still has not handed back is released here.
	c.mu.Lock()
	leftover := held[:0]
	for _, h := range held {
		if c.leases[h.ID] == h {
			delete(c.leases, h.ID)
			leftover = append(leftover, h)
		}
	}
	c.mu.Unlock()
	for _, h := range leftover {
		c.log.Warn().
			Int(xlog.FieldBufferID, int(h.ID)).
			Uint64(xlog.FieldGeneration, h.Generation).
			Msg("display did not release buffer, releasing on teardown")
		c.release(h)
	}
	return ok
}
