package lsptypes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// StartFunc launches and fully prepares one process, including the
// initialize handshake. The pool calls it whenever a fresh process is
// needed for a key.
type StartFunc func(ctx context.Context) (*Process, error)

// PoolConfig tunes process reuse. MaxSize <= 0 disables pooling entirely:
// every Acquire starts a process and every Release shuts it down.
type PoolConfig struct {
	// MaxSize caps live processes per launch configuration. A key at its
	// cap never blocks acquisitions for other keys.
	MaxSize int

	// MaxIdleTime retires processes that sat unused this long. Zero keeps
	// idle processes forever.
	MaxIdleTime time.Duration

	// MaxRequests retires a process once it has served this many requests.
	// Zero means no recycling.
	MaxRequests int

	// MinWarm is the number of idle processes per key the reaper leaves
	// alone regardless of MaxIdleTime.
	MinWarm int

	// AcquireTimeout bounds how long Acquire waits for a slot when the
	// pool is full. Zero waits until the caller's context expires.
	AcquireTimeout time.Duration

	// ReapInterval is how often idle processes are checked against
	// MaxIdleTime. Defaults to MaxIdleTime/2 when unset.
	ReapInterval time.Duration

	// ShutdownGrace bounds the graceful shutdown of retired processes.
	ShutdownGrace time.Duration
}

const defaultShutdownGrace = 5 * time.Second

type poolEntry struct {
	proc      *Process
	key       string
	idleSince time.Time
}

type poolWaiter struct {
	key string
	// Buffered so a handoff never blocks Release. A nil entry means a slot
	// freed up and the waiter should retry.
	ch chan *poolEntry
}

// Pool reuses language server processes across sessions. Processes are
// keyed by their LaunchInfo fingerprint; only an exactly matching idle
// process is handed out. Waiters are served first come, first served.
type Pool struct {
	cfg PoolConfig

	mu      sync.Mutex
	idle    map[string][]*poolEntry
	index   map[*Process]*poolEntry
	waiters []*poolWaiter
	sizes   map[string]int
	closed  bool
	changed chan struct{}

	reapStop chan struct{}
	reapDone chan struct{}
}

// NewPool creates a pool and starts its idle reaper when MaxIdleTime is
// set.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaultShutdownGrace
	}
	if cfg.ReapInterval <= 0 && cfg.MaxIdleTime > 0 {
		cfg.ReapInterval = cfg.MaxIdleTime / 2
	}

	p := &Pool{
		cfg:      cfg,
		idle:     make(map[string][]*poolEntry),
		index:    make(map[*Process]*poolEntry),
		sizes:    make(map[string]int),
		changed:  make(chan struct{}),
		reapStop: make(chan struct{}),
		reapDone: make(chan struct{}),
	}
	if cfg.MaxIdleTime > 0 {
		go p.reapLoop()
	} else {
		close(p.reapDone)
	}
	return p
}

// Acquire returns a process for info, reusing an idle one when available.
// When info's configuration is at capacity it blocks until a matching
// process is released or a slot frees, bounded by AcquireTimeout and ctx.
func (p *Pool) Acquire(ctx context.Context, info LaunchInfo, start StartFunc) (*Process, error) {
	if p.cfg.MaxSize <= 0 {
		return start(ctx)
	}

	if p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	key := info.Key()
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		if e := p.popIdle(key); e != nil {
			e.proc.setState(StateInUse)
			p.mu.Unlock()
			return e.proc, nil
		}
		if p.sizes[key] < p.cfg.MaxSize {
			p.sizes[key]++
			p.mu.Unlock()
			return p.startEntry(ctx, key, start)
		}

		w := &poolWaiter{key: key, ch: make(chan *poolEntry, 1)}
		p.waiters = append(p.waiters, w)
		p.mu.Unlock()

		select {
		case e := <-w.ch:
			if e == nil {
				continue
			}
			return e.proc, nil
		case <-ctx.Done():
			if e := p.abandonWaiter(w); e != nil {
				return e.proc, nil
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("acquire %s: %w", info.Command, ErrPoolExhausted)
			}
			return nil, ctx.Err()
		}
	}
}

// AcquireOrStart is Acquire without blocking: when no slot is free it
// starts a process outside the pool. Releasing such a process shuts it
// down.
func (p *Pool) AcquireOrStart(ctx context.Context, info LaunchInfo, start StartFunc) (*Process, error) {
	if p.cfg.MaxSize <= 0 {
		return start(ctx)
	}

	key := info.Key()
	p.mu.Lock()
	if !p.closed {
		if e := p.popIdle(key); e != nil {
			e.proc.setState(StateInUse)
			p.mu.Unlock()
			return e.proc, nil
		}
		if p.sizes[key] < p.cfg.MaxSize {
			p.sizes[key]++
			p.mu.Unlock()
			return p.startEntry(ctx, key, start)
		}
	}
	p.mu.Unlock()

	return start(ctx)
}

// Release returns a process to the pool. Unhealthy processes, processes
// past the recycle threshold, and processes the pool never tracked are
// shut down instead of parked.
func (p *Pool) Release(proc *Process, healthy bool) {
	p.mu.Lock()
	e, tracked := p.index[proc]
	if !tracked {
		p.mu.Unlock()
		p.retire(proc)
		return
	}

	recycle := p.cfg.MaxRequests > 0 && proc.CallCount() >= int64(p.cfg.MaxRequests)
	if p.closed || !healthy || recycle || proc.State() == StateExited {
		p.dropEntryLocked(e)
		p.mu.Unlock()
		p.retire(proc)
		return
	}

	// Handing off under the lock: a waiter that raced into the queue can
	// never miss this release.
	if w := p.takeWaiterLocked(e.key); w != nil {
		proc.setState(StateInUse)
		p.notifyChangeLocked()
		p.mu.Unlock()
		w.ch <- e
		return
	}

	e.idleSince = time.Now()
	p.idle[e.key] = append(p.idle[e.key], e)
	proc.setState(StateIdle)
	p.notifyChangeLocked()
	p.mu.Unlock()
}

// Warmup pre-starts up to n processes for info so later sessions skip the
// launch cost. Starts that would exceed MaxSize are skipped.
func (p *Pool) Warmup(ctx context.Context, info LaunchInfo, n int, start StartFunc) error {
	key := info.Key()
	g, ctx := errgroup.WithContext(ctx)
	for range n {
		g.Go(func() error {
			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				return ErrPoolClosed
			}
			if p.sizes[key] >= p.cfg.MaxSize {
				p.mu.Unlock()
				return nil
			}
			p.sizes[key]++
			p.mu.Unlock()

			proc, err := p.startEntry(ctx, key, start)
			if err != nil {
				return err
			}
			p.Release(proc, true)
			return nil
		})
	}
	return g.Wait()
}

// Close drains the pool: idle processes are shut down immediately and the
// pool waits for in-use processes to be released, bounded by ctx.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	for _, w := range p.waiters {
		w.ch <- nil
	}
	p.waiters = nil

	var parked []*poolEntry
	for _, es := range p.idle {
		parked = append(parked, es...)
	}
	p.idle = make(map[string][]*poolEntry)
	for _, e := range parked {
		p.dropEntryLocked(e)
	}
	p.mu.Unlock()

	close(p.reapStop)
	<-p.reapDone

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range parked {
		g.Go(func() error {
			return e.proc.Shutdown(gctx, p.cfg.ShutdownGrace)
		})
	}
	err := g.Wait()

	// In-use processes come back through Release, which retires them once
	// the pool is closed.
	for {
		p.mu.Lock()
		if len(p.index) == 0 {
			p.mu.Unlock()
			return err
		}
		ch := p.changed
		p.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PoolStats is a point-in-time snapshot for introspection and tests. Size
// counts live processes across all keys.
type PoolStats struct {
	Size      int
	Available int
	Waiters   int
}

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	size := 0
	for _, n := range p.sizes {
		size += n
	}
	available := 0
	for _, es := range p.idle {
		available += len(es)
	}
	return PoolStats{Size: size, Available: available, Waiters: len(p.waiters)}
}

func (p *Pool) startEntry(ctx context.Context, key string, start StartFunc) (*Process, error) {
	proc, err := start(ctx)
	if err != nil {
		p.mu.Lock()
		p.releaseSlotLocked(key)
		p.mu.Unlock()
		return nil, err
	}

	e := &poolEntry{proc: proc, key: key}
	p.mu.Lock()
	p.index[proc] = e
	p.mu.Unlock()
	proc.setState(StateInUse)
	return proc, nil
}

// popIdle returns the most recently parked live entry for key. Entries
// whose process died while idle are dropped on the way, freeing their slot.
func (p *Pool) popIdle(key string) *poolEntry {
	for {
		es := p.idle[key]
		if len(es) == 0 {
			return nil
		}
		e := es[len(es)-1]
		p.idle[key] = es[:len(es)-1]
		if e.proc.State() == StateExited {
			p.dropEntryLocked(e)
			continue
		}
		return e
	}
}

func (p *Pool) dropEntryLocked(e *poolEntry) {
	delete(p.index, e.proc)
	p.releaseSlotLocked(e.key)
}

// releaseSlotLocked gives key's slot back and wakes its oldest waiter so it
// can retry.
func (p *Pool) releaseSlotLocked(key string) {
	p.sizes[key]--
	if p.sizes[key] <= 0 {
		delete(p.sizes, key)
	}
	p.notifyKeyLocked(key)
	p.notifyChangeLocked()
}

// takeWaiterLocked removes and returns the oldest waiter for key.
func (p *Pool) takeWaiterLocked(key string) *poolWaiter {
	for i, w := range p.waiters {
		if w.key == key {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return w
		}
	}
	return nil
}

func (p *Pool) notifyKeyLocked(key string) {
	for i, w := range p.waiters {
		if w.key == key {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			w.ch <- nil
			return
		}
	}
}

func (p *Pool) notifyChangeLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// abandonWaiter removes w from the queue. If a handoff raced the removal
// the delivered entry is returned so the caller can still use it.
func (p *Pool) abandonWaiter(w *poolWaiter) *poolEntry {
	p.mu.Lock()
	for i, q := range p.waiters {
		if q == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	select {
	case e := <-w.ch:
		return e
	default:
		return nil
	}
}

func (p *Pool) retire(proc *Process) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ShutdownGrace+time.Second)
		defer cancel()
		_ = proc.Shutdown(ctx, p.cfg.ShutdownGrace)
	}()
}

func (p *Pool) reapLoop() {
	defer close(p.reapDone)

	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.reapStop:
			return
		case now := <-ticker.C:
			p.reapIdle(now)
		}
	}
}

// reapIdle retires processes idle past MaxIdleTime, keeping MinWarm idle
// processes per key.
func (p *Pool) reapIdle(now time.Time) {
	var expired []*poolEntry

	p.mu.Lock()
	for key, es := range p.idle {
		remaining := len(es)
		kept := es[:0]
		for _, e := range es {
			if remaining <= p.cfg.MinWarm || now.Sub(e.idleSince) <= p.cfg.MaxIdleTime {
				kept = append(kept, e)
				continue
			}
			remaining--
			expired = append(expired, e)
			p.dropEntryLocked(e)
		}
		p.idle[key] = kept
	}
	p.mu.Unlock()

	for _, e := range expired {
		p.retire(e.proc)
	}
}
