// Package memory provides an in-process broker for local runs and tests.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/olx-listings-pipeline/internal/queue"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("broker closed")

// Broker is a set of bounded in-memory topics. Publish blocks while a topic
// is full; Receive drains a topic until Close or ctx cancellation.
type Broker struct {
	capacity int

	mu     sync.RWMutex
	topics map[string]chan []byte
	closed bool
	seq    atomic.Uint64
}

var _ queue.Broker = (*Broker)(nil)

// NewBroker constructs a broker whose topics buffer capacity messages each.
func NewBroker(capacity int) *Broker {
	if capacity < 0 {
		capacity = 0
	}
	return &Broker{
		capacity: capacity,
		topics:   make(map[string]chan []byte),
	}
}

// topic returns the channel for name, creating it on first use.
func (b *Broker) topic(name string) (chan []byte, error) {
	b.mu.RLock()
	ch, ok := b.topics[name]
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return ch, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if ch, ok = b.topics[name]; !ok {
		ch = make(chan []byte, b.capacity)
		b.topics[name] = ch
	}
	return ch, nil
}

// Publish marshals payload to JSON and enqueues it on topic.
func (b *Broker) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	if _, err := b.topic(topic); err != nil {
		return "", err
	}

	// Holding the read lock keeps Close from closing the channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return "", ErrClosed
	}
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("publish canceled: %w", ctx.Err())
	case b.topics[topic] <- data:
	}
	return "memory-" + strconv.FormatUint(b.seq.Add(1), 10), nil
}

// Receive hands every message on subscription to h in order. It returns nil
// once the broker is closed and the topic is drained.
func (b *Broker) Receive(ctx context.Context, subscription string, h queue.Handler) error {
	ch, err := b.topic(subscription)
	if errors.Is(err, ErrClosed) {
		b.mu.RLock()
		ch = b.topics[subscription]
		b.mu.RUnlock()
		if ch == nil {
			return nil
		}
	} else if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			h(ctx, data)
		}
	}
}

// Len reports the number of buffered messages on topic.
func (b *Broker) Len(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Close stops accepting publishes. Buffered messages remain receivable.
// Closing twice is safe.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, ch := range b.topics {
		close(ch)
	}
	return nil
}
