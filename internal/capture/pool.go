package capture

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/junsooki/camview/internal/frame"
	xlog "github.com/junsooki/camview/internal/log"
)

type bufState int

const (
	bufFree bufState = iota
	bufFilling
	bufLeased
)

// Buffer is one device buffer slot.
type Buffer struct {
	id    frame.ID
	data  []byte
	gen   uint64
	state bufState
}

// ID returns the slot id.
func (b *Buffer) ID() frame.ID { return b.id }

// Data returns the slot memory.
func (b *Buffer) Data() []byte { return b.data }

// Grow makes sure the slot holds at least n bytes and returns its memory.
func (b *Buffer) Grow(n int) []byte {
	if cap(b.data) < n {
		b.data = make([]byte, n)
	}
	b.data = b.data[:n]
	return b.data
}

// Pool is the fixed set of buffers a device cycles through. It hands out
// each id at most once per lease and bumps the generation on every lend.
type Pool struct {
	mu    sync.Mutex
	bufs  []*Buffer
	freed chan struct{}
	log   zerolog.Logger

	staleReleases uint64
}

// NewPool allocates n buffers of size bytes each.
func NewPool(n, size int, logger zerolog.Logger) *Pool {
	p := &Pool{
		bufs:  make([]*Buffer, n),
		freed: make(chan struct{}, 1),
		log:   logger,
	}
	for i := range p.bufs {
		p.bufs[i] = &Buffer{id: frame.ID(i), data: make([]byte, size)}
	}
	return p
}

// Get takes a free buffer for filling. It reports false when every buffer
// is being filled or is out on lease.
func (p *Pool) Get() (*Buffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.bufs {
		if b.state == bufFree {
			b.state = bufFilling
			return b, true
		}
	}
	return nil, false
}

// Put returns a buffer that was taken with Get but never lent.
func (p *Pool) Put(b *Buffer) {
	p.mu.Lock()
	if b.state == bufFilling {
		b.state = bufFree
	}
	p.mu.Unlock()
	p.signal()
}

// Lend starts a lease on a filled buffer.
func (p *Pool) Lend(b *Buffer, geo frame.Geometry, planes []frame.Plane, seq uint64) *frame.Handle {
	p.mu.Lock()
	b.gen++
	b.state = bufLeased
	key := frame.Key{ID: b.id, Generation: b.gen}
	p.mu.Unlock()

	h := frame.NewHandle(key, geo, planes, b.data, func() { p.release(key) })
	h.Seq = seq
	return h
}

func (p *Pool) release(key frame.Key) {
	p.mu.Lock()
	b := p.bufs[key.ID]
	if b.gen != key.Generation || b.state != bufLeased {
		p.staleReleases++
		p.mu.Unlock()
		p.log.Warn().
			Int(xlog.FieldBufferID, int(key.ID)).
			Uint64(xlog.FieldGeneration, key.Generation).
			Msg("ignoring release of a lease the device already reclaimed")
		return
	}
	b.state = bufFree
	p.mu.Unlock()
	p.signal()
}

func (p *Pool) signal() {
	select {
	case p.freed <- struct{}{}:
	default:
	}
}

// Freed is signalled whenever a buffer becomes free.
func (p *Pool) Freed() <-chan struct{} { return p.freed }

// Reclaim takes back every buffer regardless of lease state. Devices call it
// on start; leases outstanding at that point are abandoned and their late
// releases are ignored.
func (p *Pool) Reclaim() int {
	p.mu.Lock()
	n := 0
	for _, b := range p.bufs {
		if b.state == bufLeased {
			n++
		}
		b.state = bufFree
	}
	p.mu.Unlock()
	if n > 0 {
		p.log.Warn().Int("reclaimed", n).Msg("reclaimed buffers still on lease")
	}
	return n
}

// Outstanding returns the number of buffers out on lease.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.bufs {
		if b.state == bufLeased {
			n++
		}
	}
	return n
}

// Len returns the number of buffers.
func (p *Pool) Len() int { return len(p.bufs) }

// StaleReleases returns how many releases arrived for reclaimed leases.
func (p *Pool) StaleReleases() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.staleReleases
}
