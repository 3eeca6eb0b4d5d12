// Package pubsub is an in-process topic broker. Publishing never blocks:
// a subscriber whose buffer is full misses the message and the drop is
// counted.
package pubsub

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuffer is the subscription buffer used when none is given.
const DefaultBuffer = 64

// Message is one published event.
type Message struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Time  time.Time       `json:"time"`
}

// Subscription receives the messages of one topic on C until Close is
// called or the broker is closed.
type Subscription struct {
	C <-chan Message

	topic  string
	ch     chan Message
	broker *Broker
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// Close unsubscribes and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.broker.remove(s)
}

// Option configures a Broker.
type Option func(*Broker)

// WithDropHook calls fn with the topic of every dropped message.
func WithDropHook(fn func(topic string)) Option {
	return func(b *Broker) {
		b.onDrop = fn
	}
}

// Broker fans messages out to topic subscribers. It is safe for concurrent
// use.
type Broker struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	closed  bool
	onDrop  func(topic string)
	dropped atomic.Uint64
}

// New creates a broker.
func New(opts ...Option) *Broker {
	b := &Broker{subs: make(map[string]map[*Subscription]struct{})}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a subscription with the given buffer size. On a
// closed broker the returned subscription is already closed.
func (b *Broker) Subscribe(topic string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Message, buffer)
	sub := &Subscription{C: ch, topic: topic, ch: ch, broker: b}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return sub
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*Subscription]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	return sub
}

// Publish delivers msg to every subscriber of msg.Topic and returns how
// many received it. A zero Time is set to now.
func (b *Broker) Publish(msg Message) int {
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for sub := range b.subs[msg.Topic] {
		select {
		case sub.ch <- msg:
			delivered++
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop(msg.Topic)
			}
		}
	}
	return delivered
}

// PublishJSON marshals data and publishes it.
func (b *Broker) PublishJSON(topic, msgType string, data any) (int, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return 0, err
	}
	return b.Publish(Message{Topic: topic, Type: msgType, Data: raw}), nil
}

// Dropped returns the number of messages dropped so far.
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers returns the number of subscriptions of a topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close closes every subscription. Later publishes deliver nothing.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.subs {
		for sub := range subs {
			close(sub.ch)
		}
		delete(b.subs, topic)
	}
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subs[sub.topic]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.subs, sub.topic)
	}
	close(sub.ch)
}
