package events

import (
	"sync"
)

// Message pairs a payload with the topic it arrived on, so a subscriber
// listening across topics can tell the streams apart.
type Message struct {
	Topic   Event
	Payload any
}

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]chan Message
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan Message)}
}

// Subscribe registers a listener for one topic and returns the stream and an
// unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan Message, func()) {
	return b.SubscribeAll([]Event{e}, buffer)
}

// SubscribeAll registers one listener across several topics sharing a single
// stream. Unsubscribing detaches from every topic and closes the stream.
func (b *Bus) SubscribeAll(topics []Event, buffer int) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Message, buffer)
	for _, e := range topics {
		b.subs[e] = append(b.subs[e], ch)
	}

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, e := range topics {
				b.subs[e] = remove(b.subs[e], ch)
			}
			close(ch)
		})
	}
	return ch, unsub
}

// Publish fans the payload out to every subscriber of the topic. Delivery
// never blocks; a subscriber whose buffer is full loses the message.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	msg := Message{Topic: e, Payload: payload}
	for _, ch := range b.subs[e] {
		select {
		case ch <- msg:
		default:
		}
	}
}

func remove(subs []chan Message, ch chan Message) []chan Message {
	for i, c := range subs {
		if c == ch {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}
