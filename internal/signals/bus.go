// Package signals carries "something just happened for this address" notices
// from the HTTP API and NATS to whoever wants to refresh on them.
package signals

import (
	"errors"
	"fmt"
	"sync"

	"github.com/6529-Collections/royaltynode/internal/metrics"
	"github.com/6529-Collections/royaltynode/pkg/stringtools"
	"go.uber.org/zap"
)

// Broadcast addresses every cached address at once.
const Broadcast = "*"

type Kind string

const (
	KindMint     Kind = "mint"
	KindPurchase Kind = "purchase"
	KindListing  Kind = "listing"
	KindRefresh  Kind = "refresh"
)

const (
	OriginLocal = "local"
	OriginHTTP  = "http"
	OriginNATS  = "nats"
)

var ErrInvalidSignal = errors.New("invalid signal")

type Signal struct {
	Address string `json:"address"`
	Kind    Kind   `json:"kind"`
	TxHash  string `json:"txHash,omitempty"`
	Origin  string `json:"-"`
}

// Normalize validates the signal and lowercases its address.
func (s Signal) Normalize() (Signal, error) {
	s.Address = stringtools.NormalizeAddress(s.Address)
	if s.Address == "" {
		return s, fmt.Errorf("%w: missing address", ErrInvalidSignal)
	}
	if s.Kind == "" {
		s.Kind = KindRefresh
	}
	if s.Origin == "" {
		s.Origin = OriginLocal
	}
	return s, nil
}

const subscriberBuffer = 64

type subscriber struct {
	ch   chan Signal
	done chan struct{}
}

// Bus fans signals out to subscribers. Each subscriber has its own buffer and
// goroutine, so a slow one never blocks Publish or the others.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscriber
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*subscriber)}
}

// Subscribe calls fn for every published signal until the returned function
// is called.
func (b *Bus) Subscribe(fn func(Signal)) (unsubscribe func()) {
	sub := &subscriber{ch: make(chan Signal, subscriberBuffer), done: make(chan struct{})}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case sig := <-sub.ch:
				fn(sig)
			case <-sub.done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.done)
		})
	}
}

// Publish hands the signal to every subscriber without waiting. A subscriber
// whose buffer is full misses it.
func (b *Bus) Publish(sig Signal) error {
	sig, err := sig.Normalize()
	if err != nil {
		return err
	}
	metrics.SignalsTotal.WithLabelValues(sig.Origin).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subs {
		select {
		case sub.ch <- sig:
		default:
			zap.L().Warn("Dropping signal for slow subscriber",
				zap.Uint64("subscriber", id),
				zap.String("address", sig.Address),
			)
		}
	}
	return nil
}
