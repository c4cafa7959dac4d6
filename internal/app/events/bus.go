// Package events fans settlement events out to in-process subscribers,
// websocket clients, and an optional Redis channel. Publishing never blocks
// the settlement path: slow subscribers drop events.
package events

import (
	"sync"
	"time"

	"github.com/R3E-Network/settlement_engine/internal/app/domain/market"
	"github.com/R3E-Network/settlement_engine/pkg/logger"
)

// Sink receives every published event out of band.
type Sink interface {
	Deliver(event market.Event) error
}

// Bus is the settlement event bus.
type Bus struct {
	mu     sync.Mutex
	subs   map[chan market.Event]struct{}
	sinks  []Sink
	buffer int
	log    *logger.Logger
}

// NewBus creates a bus with the given per-subscriber buffer depth.
func NewBus(buffer int, log *logger.Logger) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[chan market.Event]struct{}),
		buffer: buffer,
		log:    log,
	}
}

// AddSink attaches an out-of-band delivery target.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Subscribe registers a subscriber. The returned cancel function must be
// called to release the channel.
func (b *Bus) Subscribe() (<-chan market.Event, func()) {
	ch := make(chan market.Event, b.buffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers and sinks. A subscriber whose
// buffer is full misses the event.
func (b *Bus) Publish(event market.Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.mu.Lock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.log.WithField("event", string(event.Type)).Warn("subscriber buffer full, event dropped")
		}
	}
	b.mu.Unlock()

	for _, s := range sinks {
		if err := s.Deliver(event); err != nil {
			b.log.WithError(err).WithField("event", string(event.Type)).Warn("event sink delivery failed")
		}
	}
}
