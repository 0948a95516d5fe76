// Package pool implements the bounded connection pool described in
// spec.md §4.8: borrow/release with idle reuse and validation,
// exclusive leases, an idle reaper, and graceful shutdown.
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ha1tch/gotds/internal/connio"
)

// ErrShutdown is returned by Borrow once Shutdown has been called.
var ErrShutdown = errors.New("pool: shutdown in progress")

// DialFunc opens one new physical connection.
type DialFunc func(ctx context.Context) (*connio.Conn, error)

// ValidateFunc runs a cheap query against an idle connection before
// handing it back out, returning a non-nil error if the connection is
// no longer usable. A nil ValidateFunc skips validation.
type ValidateFunc func(ctx context.Context, c *connio.Conn) error

// Config carries pool sizing and behaviour knobs.
type Config struct {
	Max         int           // maximum live connections
	MinIdle     int           // idle reaper never closes below this count
	IdleTimeout time.Duration // connections idle longer than this are reaped; 0 disables
	Dial        DialFunc
	Validate    ValidateFunc
}

type idleConn struct {
	conn    *connio.Conn
	sinceAt time.Time
}

// Pool is a bounded pool of connio.Conn, lending exclusive leases to
// callers and reclaiming them on Release.
//
// Concurrency gate: a buffered channel semaphore sized to cfg.Max,
// acquired via select against ctx.Done(), released via a receive in a
// deferred func. Grounded on the teacher's pkg/runtime.Runtime's own
// execSemaphore pattern for bounding concurrent work.
type Pool struct {
	cfg Config
	sem chan struct{}

	mu        sync.Mutex
	idle      *list.List // of *idleConn
	liveCount int
	closed    bool

	reaperStop chan struct{}
	reaperDone chan struct{}
}

// New creates a Pool and starts its idle reaper goroutine.
func New(cfg Config) *Pool {
	if cfg.Max <= 0 {
		cfg.Max = 1
	}
	p := &Pool{
		cfg:        cfg,
		sem:        make(chan struct{}, cfg.Max),
		idle:       list.New(),
		reaperStop: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	go p.reapLoop()
	return p
}

// Borrow leases an exclusive connection, creating one if under cfg.Max
// or reusing a validated idle connection if available. The sem
// semaphore alone provides the "wait for a release" behaviour: it is
// held for a connection's entire borrowed lifetime (released in
// Release, or on the error paths below), so at most cfg.Max goroutines
// can ever be past the acquire point below at once -- a blocked
// Borrow call is simply parked on the sem acquire, with no separate
// waiter queue needed once it gets past that point. Shutdown wakes a
// parked Borrow with ErrShutdown.
func (p *Pool) Borrow(ctx context.Context) (*connio.Conn, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.reaperStop:
		return nil, ErrShutdown
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			<-p.sem
			return nil, ErrShutdown
		}
		if el := p.idle.Front(); el != nil {
			p.idle.Remove(el)
			ic := el.Value.(*idleConn)
			p.mu.Unlock()

			if p.cfg.Validate != nil {
				if err := p.cfg.Validate(ctx, ic.conn); err != nil {
					ic.conn.Close()
					p.mu.Lock()
					p.liveCount--
					p.mu.Unlock()
					continue
				}
			}
			return ic.conn, nil
		}

		if p.liveCount < p.cfg.Max {
			p.liveCount++
			p.mu.Unlock()
			conn, err := p.cfg.Dial(ctx)
			if err != nil {
				p.mu.Lock()
				p.liveCount--
				p.mu.Unlock()
				<-p.sem
				return nil, fmt.Errorf("pool: dialing new connection: %w", err)
			}
			return conn, nil
		}

		// Unreachable in practice: sem (capacity cfg.Max) is held for a
		// connection's whole borrowed lifetime, so by the time this
		// goroutine holds its own sem token, at most cfg.Max-1 others can
		// be live+out, and liveCount < cfg.Max above always fires first
		// when idle is empty. Kept as a defensive guard rather than a
		// silent infinite loop if that invariant is ever violated.
		p.mu.Unlock()
		<-p.sem
		return nil, fmt.Errorf("pool: internal invariant violated: no idle connection, no dial slot, and no waiter queue")
	}
}

// Release returns a connection to the pool: an unhealthy connection is
// discarded and its live slot freed, otherwise it is parked in idle for
// reuse by the next Borrow.
func (p *Pool) Release(c *connio.Conn, healthy bool) {
	defer func() { <-p.sem }()

	p.mu.Lock()
	if p.closed || !healthy || c.State() == connio.StateBrokenClosed {
		p.liveCount--
		p.mu.Unlock()
		c.Close()
		return
	}

	p.idle.PushBack(&idleConn{conn: c, sinceAt: time.Now()})
	p.mu.Unlock()
}

// Shutdown refuses new borrows and closes every idle and in-flight
// connection as it's returned.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for el := p.idle.Front(); el != nil; el = el.Next() {
		el.Value.(*idleConn).conn.Close()
	}
	p.idle.Init()
	p.mu.Unlock()

	close(p.reaperStop)
	<-p.reaperDone
}

// reapLoop periodically closes idle connections older than
// cfg.IdleTimeout, never dropping below cfg.MinIdle.
func (p *Pool) reapLoop() {
	defer close(p.reaperDone)
	if p.cfg.IdleTimeout <= 0 {
		<-p.reaperStop
		return
	}
	ticker := time.NewTicker(p.cfg.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-p.reaperStop:
			return
		case <-ticker.C:
			p.reapOnce()
		}
	}
}

func (p *Pool) reapOnce() {
	now := time.Now()
	var toClose []*connio.Conn

	p.mu.Lock()
	for p.idle.Len() > p.cfg.MinIdle {
		front := p.idle.Front()
		ic := front.Value.(*idleConn)
		if now.Sub(ic.sinceAt) < p.cfg.IdleTimeout {
			break
		}
		p.idle.Remove(front)
		p.liveCount--
		toClose = append(toClose, ic.conn)
	}
	p.mu.Unlock()

	for _, c := range toClose {
		c.Close()
	}
}

// Stats reports a snapshot of pool occupancy.
type Stats struct {
	Live int
	Idle int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Live: p.liveCount, Idle: p.idle.Len()}
}
