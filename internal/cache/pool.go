// Package cache keeps constructed renderers for reuse across tile requests.
package cache

import (
	"container/list"
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"tilecore/internal/renderer"
)

// Key identifies a reusable renderer.
type Key struct {
	Token       string
	Layers      string // canonical resolved indices, see layerfilter.Key
	Format      string
	ScaleFactor float64
	Static      bool
	// Gen is the token generation observed before the map config was
	// loaded, see Pool.Generation.
	Gen uint64
}

func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.Token)
	b.WriteByte(':')
	b.WriteString(k.Layers)
	b.WriteByte(':')
	b.WriteString(k.Format)
	b.WriteByte(':')
	b.WriteString(strconv.FormatFloat(k.ScaleFactor, 'f', -1, 64))
	if k.Static {
		b.WriteString(":static")
	}
	if k.Gen > 0 {
		b.WriteByte('#')
		b.WriteString(strconv.FormatUint(k.Gen, 10))
	}
	return b.String()
}

// BuildFunc constructs the renderer for a key on a cache miss.
type BuildFunc func(ctx context.Context) (renderer.Renderer, error)

type entry struct {
	key      Key
	r        renderer.Renderer
	refs     int
	lastUsed time.Time
	evicted  bool
	closed   bool
}

type Options struct {
	MaxRenderers int
	IdleTTL      time.Duration
}

// Pool is a bounded LRU of shared renderers. Entries are reference counted;
// an evicted entry is closed once its last handle is released.
type Pool struct {
	mu      sync.Mutex
	items   map[Key]*list.Element
	lruList *list.List
	gens    map[string]uint64
	stats   Stats

	flight  singleflight.Group
	maxSize int
	idleTTL time.Duration
	now     func() time.Time
	log     *zap.Logger

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type Stats struct {
	Size      int   `json:"size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Builds    int64 `json:"builds"`
	Failures  int64 `json:"failures"`
	Evictions int64 `json:"evictions"`
}

func NewPool(opts Options, log *zap.Logger) *Pool {
	if opts.MaxRenderers <= 0 {
		opts.MaxRenderers = 1024
	}
	return &Pool{
		items:   make(map[Key]*list.Element),
		lruList: list.New(),
		gens:    make(map[string]uint64),
		maxSize: opts.MaxRenderers,
		idleTTL: opts.IdleTTL,
		now:     time.Now,
		log:     log.Named("pool"),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Handle is a reference to a pooled renderer. Release it when the request
// is done.
type Handle struct {
	pool *Pool
	e    *entry
	once sync.Once
}

func (h *Handle) Renderer() renderer.Renderer { return h.e.r }

func (h *Handle) GetTile(ctx context.Context, format renderer.Format, z, x, y int) (*renderer.Tile, error) {
	return h.e.r.GetTile(ctx, format, z, x, y)
}

func (h *Handle) Release() {
	h.once.Do(func() { h.pool.release(h.e) })
}

// Acquire returns the renderer for key, calling build at most once for any
// number of concurrent callers. build runs detached from ctx so a caller
// giving up does not fail the other waiters. Failed builds are not cached.
//
// A renderer whose key.Gen is older than the token's current generation is
// handed to the waiters of that build but never pooled; it is closed when
// the last of them releases it.
func (p *Pool) Acquire(ctx context.Context, key Key, build BuildFunc) (*Handle, error) {
	if h := p.lookup(key); h != nil {
		return h, nil
	}

	buildCtx := context.WithoutCancel(ctx)
	for {
		ch := p.flight.DoChan(key.String(), func() (any, error) {
			if e := p.peek(key); e != nil {
				return e, nil
			}
			p.countBuild()
			r, err := build(buildCtx)
			if err != nil {
				p.countFailure()
				return nil, err
			}
			return p.insert(key, r), nil
		})

		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			go p.dropOrphan(ch)
			return nil, ctx.Err()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		if h := p.retain(res.Val.(*entry)); h != nil {
			return h, nil
		}
		// Evicted and closed before we could take a reference.
	}
}

func (p *Pool) lookup(key Key) *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()

	elem, ok := p.items[key]
	if !ok {
		p.stats.Misses++
		return nil
	}
	p.stats.Hits++
	p.lruList.MoveToFront(elem)
	e := elem.Value.(*entry)
	e.refs++
	return &Handle{pool: p, e: e}
}

func (p *Pool) peek(key Key) *entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	if elem, ok := p.items[key]; ok {
		return elem.Value.(*entry)
	}
	return nil
}

func (p *Pool) retain(e *entry) *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e.closed {
		return nil
	}
	e.refs++
	return &Handle{pool: p, e: e}
}

// dropOrphan closes an unpooled renderer nobody took a reference to after
// the caller that waited for it gave up.
func (p *Pool) dropOrphan(ch <-chan singleflight.Result) {
	res := <-ch
	if res.Err != nil {
		return
	}
	e := res.Val.(*entry)
	p.mu.Lock()
	closeNow := e.evicted && e.refs == 0 && !e.closed
	if closeNow {
		e.closed = true
	}
	p.mu.Unlock()

	if closeNow {
		p.closeEntries([]*entry{e}, "stale")
	}
}

func (p *Pool) insert(key Key, r renderer.Renderer) *entry {
	p.mu.Lock()
	e := &entry{key: key, r: r, lastUsed: p.now()}
	if key.Gen != p.gens[key.Token] {
		// invalidated while building
		e.evicted = true
		p.mu.Unlock()
		p.log.Debug("Stale renderer not pooled", zap.String("key", key.String()))
		return e
	}
	elem := p.lruList.PushFront(e)
	p.items[key] = elem

	var victims []*entry
	for p.lruList.Len() > p.maxSize {
		oldest := p.lruList.Back()
		if oldest == elem {
			break
		}
		if v := p.removeLocked(oldest); v != nil {
			victims = append(victims, v)
		}
	}
	p.mu.Unlock()

	p.closeEntries(victims, "capacity")
	return e
}

// removeLocked drops elem from the pool and returns its entry if it is no
// longer referenced and must be closed by the caller.
func (p *Pool) removeLocked(elem *list.Element) *entry {
	e := elem.Value.(*entry)
	p.lruList.Remove(elem)
	delete(p.items, e.key)
	e.evicted = true
	p.stats.Evictions++
	if e.refs == 0 {
		e.closed = true
		return e
	}
	return nil
}

func (p *Pool) release(e *entry) {
	p.mu.Lock()
	e.refs--
	e.lastUsed = p.now()
	closeNow := e.evicted && e.refs == 0 && !e.closed
	if closeNow {
		e.closed = true
	}
	p.mu.Unlock()

	if closeNow {
		p.closeEntries([]*entry{e}, "released")
	}
}

func (p *Pool) closeEntries(entries []*entry, reason string) {
	for _, e := range entries {
		if err := e.r.Close(); err != nil {
			p.log.Warn("Failed to close renderer",
				zap.String("key", e.key.String()),
				zap.String("reason", reason),
				zap.Error(err),
			)
			continue
		}
		p.log.Debug("Renderer closed", zap.String("key", e.key.String()), zap.String("reason", reason))
	}
}

func (p *Pool) countBuild() {
	p.mu.Lock()
	p.stats.Builds++
	p.mu.Unlock()
}

func (p *Pool) countFailure() {
	p.mu.Lock()
	p.stats.Failures++
	p.mu.Unlock()
}

// Generation returns the current generation of token. Callers put it in
// Key.Gen before loading the map config the renderer is built from.
func (p *Pool) Generation(token string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gens[token]
}

// InvalidateToken drops every renderer built for token and bumps its
// generation so builds already in flight are not pooled.
func (p *Pool) InvalidateToken(token string) int {
	p.mu.Lock()
	p.gens[token]++
	p.mu.Unlock()
	return p.removeWhere(func(e *entry) bool { return e.key.Token == token }, "invalidated")
}

// Purge drops every renderer.
func (p *Pool) Purge() int {
	return p.removeWhere(func(*entry) bool { return true }, "purged")
}

// Sweep drops renderers unused for longer than the idle TTL.
func (p *Pool) Sweep() int {
	if p.idleTTL <= 0 {
		return 0
	}
	cutoff := p.now().Add(-p.idleTTL)
	return p.removeWhere(func(e *entry) bool {
		return e.refs == 0 && !e.lastUsed.After(cutoff)
	}, "idle")
}

func (p *Pool) removeWhere(match func(*entry) bool, reason string) int {
	p.mu.Lock()
	var victims []*entry
	removed := 0
	for elem := p.lruList.Back(); elem != nil; {
		prev := elem.Prev()
		if match(elem.Value.(*entry)) {
			removed++
			if v := p.removeLocked(elem); v != nil {
				victims = append(victims, v)
			}
		}
		elem = prev
	}
	p.mu.Unlock()

	p.closeEntries(victims, reason)
	return removed
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	s.Size = p.lruList.Len()
	return s
}

// Start runs the idle sweeper until ctx is done or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	if p.idleTTL <= 0 || !p.started.CompareAndSwap(false, true) {
		return
	}
	interval := p.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case <-ticker.C:
				if n := p.Sweep(); n > 0 {
					p.log.Debug("Idle renderers evicted", zap.Int("count", n))
				}
			}
		}
	}()
}

// Stop ends the sweeper started by Start and waits for it.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	if p.started.Load() {
		<-p.done
	}
}
