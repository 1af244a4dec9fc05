// Package bus fans decoded messages out to the listeners of each message kind.
package bus

import (
	"fmt"
	"sync"

	charmlog "github.com/charmbracelet/log"

	"github.com/JeanRibes/looper/protocol"
)

// Handler receives one message. A returned error is logged and does not stop the
// handlers that come after it.
type Handler func(protocol.Message) error

// Subscription identifies a registered handler so it can be removed again.
type Subscription uint64

type subscriber struct {
	id Subscription
	fn Handler
}

// Bus is a synchronous dispatch table: kind -> handlers in subscription order.
// Publishing runs every handler on the caller's goroutine, nothing is queued.
type Bus struct {
	mu     sync.RWMutex
	subs   map[protocol.Kind][]subscriber
	nextID Subscription
	logger *charmlog.Logger
}

func New(logger *charmlog.Logger) *Bus {
	return &Bus{
		subs:   make(map[protocol.Kind][]subscriber),
		logger: logger.WithPrefix("bus"),
	}
}

func (b *Bus) Subscribe(kind protocol.Kind, fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[kind] = append(b.subs[kind], subscriber{id: b.nextID, fn: fn})
	return b.nextID
}

// Unsubscribe removes a handler. It reports false when the subscription is unknown for kind.
func (b *Bus) Unsubscribe(kind protocol.Kind, id Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[kind]
	for i, s := range list {
		if s.id == id {
			// copy so that a Publish already iterating the old slice is unaffected
			next := make([]subscriber, 0, len(list)-1)
			next = append(next, list[:i]...)
			b.subs[kind] = append(next, list[i+1:]...)
			return true
		}
	}
	return false
}

// Subscribers counts the handlers registered for kind.
func (b *Bus) Subscribers(kind protocol.Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}

// Publish hands msg to every handler of kind.
func (b *Bus) Publish(kind protocol.Kind, msg protocol.Message) {
	b.mu.RLock()
	list := b.subs[kind]
	b.mu.RUnlock()

	for _, s := range list {
		if err := b.call(s.fn, msg); err != nil {
			b.logger.Error("handler failed", "kind", kind, "subscription", s.id, "err", err)
		}
	}
}

// Dispatch publishes a decoded message under its own kind (Undefined included),
// then under AnyChannelVoice for channel-voice messages, then under AnyMessage.
func (b *Bus) Dispatch(msg protocol.Message) {
	kind := msg.Kind()
	b.Publish(kind, msg)
	if kind.IsChannelVoice() {
		b.Publish(protocol.AnyChannelVoice, msg)
	}
	b.Publish(protocol.AnyMessage, msg)
}

func (b *Bus) call(fn Handler, msg protocol.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(msg)
}
