// Package refresh decides when a cached view is served as is and when it is
// rebuilt from chain state.
package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/6529-Collections/royaltynode/internal/cache"
	"github.com/6529-Collections/royaltynode/internal/metrics"
	"github.com/6529-Collections/royaltynode/internal/royalty"
	"github.com/6529-Collections/royaltynode/internal/signals"
	"github.com/6529-Collections/royaltynode/pkg/stringtools"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type State string

const (
	Absent State = "ABSENT"
	Fresh  State = "FRESH"
	Stale  State = "STALE"
)

const (
	DefaultStaleAfter  = 5 * time.Minute
	DefaultSignalDelay = 2 * time.Second
)

// BuildFunc derives the full view for one address from chain state.
type BuildFunc[R any] func(ctx context.Context, address string) (royalty.Result[R], error)

type Options struct {
	StaleAfter  time.Duration
	SignalDelay time.Duration
	Now         func() time.Time
}

// View is what a caller gets back: the cached entry, if any, and how the
// request went.
type View[R any] struct {
	Entry cache.Entry[R]
	Found bool
	// State is the entry's state before the request.
	State        State
	Refreshed    bool
	SourceErrors map[string]string
	Error        string
}

type Policy[R any] struct {
	cache       *cache.Cache[R]
	build       BuildFunc[R]
	staleAfter  time.Duration
	signalDelay time.Duration
	now         func() time.Time

	flights singleflight.Group

	mu          sync.Mutex
	generations map[string]uint64
	cancels     map[string]context.CancelFunc
	timers      map[string]*time.Timer
}

func New[R any](c *cache.Cache[R], build BuildFunc[R], opts Options) *Policy[R] {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.SignalDelay <= 0 {
		opts.SignalDelay = DefaultSignalDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Policy[R]{
		cache:       c,
		build:       build,
		staleAfter:  opts.StaleAfter,
		signalDelay: opts.SignalDelay,
		now:         opts.Now,
		generations: make(map[string]uint64),
		cancels:     make(map[string]context.CancelFunc),
		timers:      make(map[string]*time.Timer),
	}
}

func (p *Policy[R]) StaleAfter() time.Duration {
	return p.staleAfter
}

// IsStale reports whether the entry served in v is past the threshold by now.
func (p *Policy[R]) IsStale(v View[R]) bool {
	return v.Found && classify(v.Entry, true, p.staleAfter, p.now()) == Stale
}

func (p *Policy[R]) Namespace() string {
	return p.cache.Namespace()
}

func classify[R any](e cache.Entry[R], ok bool, staleAfter time.Duration, now time.Time) State {
	if !ok {
		return Absent
	}
	if now.Sub(time.UnixMilli(e.LastFetchedAt)) >= staleAfter {
		return Stale
	}
	return Fresh
}

func normalize(address string) (string, error) {
	addr, err := royalty.ParseAddress(address)
	if err != nil {
		return "", err
	}
	return stringtools.NormalizeAddress(addr.Hex()), nil
}

// StateOf classifies the cached entry for address without fetching.
func (p *Policy[R]) StateOf(address string) (State, error) {
	key, err := normalize(address)
	if err != nil {
		return Absent, err
	}
	e, ok := p.cache.Get(key)
	return classify(e, ok, p.staleAfter, p.now()), nil
}

// Get serves a fresh entry from the cache and rebuilds absent or stale ones.
// When the rebuild fails the previous entry, if any, is still returned
// alongside the error.
func (p *Policy[R]) Get(ctx context.Context, address string) (View[R], error) {
	key, err := normalize(address)
	if err != nil {
		return View[R]{State: Absent}, err
	}
	e, ok := p.cache.Get(key)
	state := classify(e, ok, p.staleAfter, p.now())
	metrics.CacheLookupsTotal.WithLabelValues(p.Namespace(), string(state)).Inc()

	if state == Fresh {
		return View[R]{Entry: e, Found: true, State: state}, nil
	}
	return p.run(ctx, key, state, false)
}

// Refresh rebuilds the entry for address regardless of its state. A build
// already in flight for the address is cancelled and every caller waiting on
// it gets the result of the rebuild instead.
func (p *Policy[R]) Refresh(ctx context.Context, address string) (View[R], error) {
	key, err := normalize(address)
	if err != nil {
		return View[R]{State: Absent}, err
	}
	e, ok := p.cache.Get(key)
	return p.run(ctx, key, classify(e, ok, p.staleAfter, p.now()), true)
}

var errSuperseded = errors.New("superseded by a newer refresh")

type fetched[R any] struct {
	entry        cache.Entry[R]
	sourceErrors map[string]string
	generation   uint64
}

func (p *Policy[R]) run(ctx context.Context, key string, state State, force bool) (View[R], error) {
	p.mu.Lock()
	if force {
		p.generations[key]++
		if cancel, ok := p.cancels[key]; ok {
			cancel()
		}
	}
	want := p.generations[key]
	p.mu.Unlock()

	// The build outlives a caller that gives up, other callers may be waiting on it.
	buildCtx := context.WithoutCancel(ctx)
	for {
		ch := p.flights.DoChan(key, func() (interface{}, error) {
			return p.flight(buildCtx, key)
		})

		select {
		case res := <-ch:
			f, _ := res.Val.(fetched[R])
			if f.generation < want {
				// Joined a flight that settled before this request was counted.
				continue
			}
			if res.Err != nil {
				return p.failed(key, state, res.Err), res.Err
			}
			return View[R]{Entry: f.entry, Found: true, State: state, Refreshed: true, SourceErrors: f.sourceErrors}, nil
		case <-ctx.Done():
			return p.failed(key, state, ctx.Err()), ctx.Err()
		}
	}
}

// flight builds until one build completes with no newer refresh requested
// while it ran.
func (p *Policy[R]) flight(ctx context.Context, key string) (fetched[R], error) {
	for {
		p.mu.Lock()
		gen := p.generations[key]
		buildCtx, cancel := context.WithCancel(ctx)
		p.cancels[key] = cancel
		p.mu.Unlock()

		f, err := p.fetch(buildCtx, key, gen)
		cancel()
		if errors.Is(err, errSuperseded) {
			continue
		}
		return f, err
	}
}

func (p *Policy[R]) failed(key string, state State, err error) View[R] {
	prior, ok := p.cache.Get(key)
	return View[R]{Entry: prior, Found: ok, State: state, Error: err.Error()}
}

func (p *Policy[R]) fetch(ctx context.Context, key string, gen uint64) (fetched[R], error) {
	ns := p.Namespace()
	res, err := p.build(ctx, key)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.generations[key] != gen {
		metrics.RefreshesTotal.WithLabelValues(ns, "superseded").Inc()
		zap.L().Debug("Dropping superseded refresh", zap.String("namespace", ns), zap.String("address", key))
		return fetched[R]{}, errSuperseded
	}
	delete(p.cancels, key)

	if err != nil {
		metrics.RefreshesTotal.WithLabelValues(ns, "failed").Inc()
		zap.L().Warn("Refresh failed, keeping previous entry",
			zap.String("namespace", ns),
			zap.String("address", key),
			zap.Error(err),
		)
		return fetched[R]{generation: gen}, err
	}

	entry := cache.Entry[R]{
		Records:          res.Records,
		Summary:          res.Summary,
		LastFetchedAt:    p.now().UnixMilli(),
		LastScannedBlock: res.ScannedBlock,
	}
	if err := p.cache.Put(key, entry); err != nil {
		zap.L().Warn("Refreshed entry not persisted", zap.String("address", key), zap.Error(err))
	}

	outcome := "success"
	if len(res.SourceErrors) > 0 {
		outcome = "partial"
	}
	metrics.RefreshesTotal.WithLabelValues(ns, outcome).Inc()
	zap.L().Debug("Refreshed",
		zap.String("namespace", ns),
		zap.String("address", key),
		zap.Int("records", len(entry.Records)),
		zap.Uint64("scannedBlock", entry.LastScannedBlock),
	)
	return fetched[R]{entry: entry, sourceErrors: res.SourceErrors, generation: gen}, nil
}

// Watch refreshes an address a short delay after a signal names it. The
// broadcast address refreshes every cached address. Signals arriving while a
// refresh is pending push it back.
func (p *Policy[R]) Watch(ctx context.Context, bus *signals.Bus) (stop func()) {
	unsubscribe := bus.Subscribe(func(sig signals.Signal) {
		if sig.Address == signals.Broadcast {
			for _, addr := range p.cache.Addresses() {
				p.schedule(ctx, addr)
			}
			return
		}
		key, err := normalize(sig.Address)
		if err != nil {
			zap.L().Debug("Ignoring signal", zap.String("address", sig.Address), zap.Error(err))
			return
		}
		p.schedule(ctx, key)
	})

	return func() {
		unsubscribe()
		p.mu.Lock()
		defer p.mu.Unlock()
		for key, t := range p.timers {
			t.Stop()
			delete(p.timers, key)
		}
	}
}

func (p *Policy[R]) schedule(ctx context.Context, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.timers[key]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(p.signalDelay, func() {
		p.mu.Lock()
		if p.timers[key] == timer {
			delete(p.timers, key)
		}
		p.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if _, err := p.Refresh(ctx, key); err != nil {
			zap.L().Warn("Signalled refresh failed", zap.String("address", key), zap.Error(err))
		}
	})
	p.timers[key] = timer
}
