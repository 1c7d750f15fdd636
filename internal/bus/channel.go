// Package bus provides the event bus implementations for Kestrel.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-voice/kestrel/internal/domain"
)

// ChannelBus is the Community tier event bus. Delivery is in-process
// and best-effort: a subscriber whose buffer is full misses the
// message rather than blocking the publisher.
type ChannelBus struct {
	mu     sync.RWMutex
	buffer int
	subs   map[string][]*chanSub
	closed bool
}

type chanSub struct {
	id      string
	topic   string
	handler domain.MessageHandler
	inbox   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewChannelBus creates an in-process event bus. bufferSize bounds
// each subscriber's inbox.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		buffer: bufferSize,
		subs:   make(map[string][]*chanSub),
	}
}

// Publish delivers payload to every subscriber of topic.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	subs := b.subs[topic]
	b.mu.RUnlock()

	msg := &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	for _, sub := range subs {
		select {
		case sub.inbox <- msg:
		default:
			// Subscriber is behind; drop rather than block.
		}
	}
	return nil
}

// Subscribe registers handler for topic. The handler runs on its own
// goroutine until the subscription is cancelled or the bus closes.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &chanSub{
		id:      uuid.New().String(),
		topic:   topic,
		handler: handler,
		inbox:   make(chan *domain.Message, b.buffer),
		ctx:     subCtx,
		cancel:  cancel,
	}
	b.subs[topic] = append(b.subs[topic], sub)

	go sub.run()
	return sub, nil
}

func (s *chanSub) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.inbox:
			if msg != nil {
				_ = s.handler(s.ctx, msg)
			}
		}
	}
}

// Ping reports whether the bus is accepting traffic.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close cancels every subscription. Close is idempotent.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.cancel()
			close(sub.inbox)
		}
	}
	b.subs = make(map[string][]*chanSub)
	return nil
}

// Unsubscribe stops message delivery to this subscription.
func (s *chanSub) Unsubscribe() error {
	s.cancel()
	return nil
}

// Topic returns the subscribed topic.
func (s *chanSub) Topic() string {
	return s.topic
}
