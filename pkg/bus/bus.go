// Package bus implements the named publish/subscribe channels joining
// the transports together. A message published on a bus is delivered to
// every subscriber, including the publisher's own subscription; loop
// prevention is the subscriber's responsibility via Message.Sender.
package bus

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nemored/pipo/pkg/message"
)

// Capacity of each subscriber channel. A subscriber that falls this far
// behind starts losing messages.
const subscriberBuffer = 100

var ErrClosed = errors.New("bus closed")

// Bus is one named fan-out channel.
type Bus struct {
	name string
	log  zerolog.Logger

	mu     sync.Mutex
	subs   []chan message.Message
	closed bool
	drops  uint64
}

// Name returns the configured bus name.
func (b *Bus) Name() string { return b.name }

// Subscribe registers a new subscriber and returns its receive channel.
// The channel is closed when the registry shuts down.
func (b *Bus) Subscribe() <-chan message.Message {
	ch := make(chan message.Message, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Send delivers m to every subscriber in publish order. A subscriber
// with a full buffer misses the message; that is counted and logged
// rather than blocking the publisher.
func (b *Bus) Send(m message.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for _, ch := range b.subs {
		select {
		case ch <- m:
		default:
			b.drops++
			b.log.Warn().
				Str("bus", b.name).
				Uint64("drops", b.drops).
				Msg("subscriber buffer full, message dropped")
		}
	}
	return nil
}

// Registry holds every configured bus.
type Registry struct {
	mu    sync.Mutex
	buses map[string]*Bus
	order []*Bus
}

// NewRegistry creates one bus per name, preserving the order given.
func NewRegistry(names []string, log zerolog.Logger) *Registry {
	r := &Registry{buses: make(map[string]*Bus, len(names))}
	for _, name := range names {
		if _, dup := r.buses[name]; dup {
			log.Warn().Str("bus", name).Msg("duplicate bus in configuration, ignored")
			continue
		}
		b := &Bus{name: name, log: log}
		r.buses[name] = b
		r.order = append(r.order, b)
	}
	return r
}

// Lookup returns the bus with the given name, or nil.
func (r *Registry) Lookup(name string) *Bus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buses[name]
}

// Buses returns every bus in configuration order.
func (r *Registry) Buses() []*Bus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Bus(nil), r.order...)
}

// Close shuts down every bus. Subsequent Sends fail with ErrClosed and
// all subscriber channels are closed.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.order {
		b.mu.Lock()
		if !b.closed {
			b.closed = true
			for _, ch := range b.subs {
				close(ch)
			}
			b.subs = nil
		}
		b.mu.Unlock()
	}
}
