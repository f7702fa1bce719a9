// Package queue defines the message channel between the crawl and ingest stages.
// Implementations deliver at most once: a message is acknowledged on receipt,
// before its handler runs.
package queue

import (
	"context"
)

// Handler processes one message body. It owns error reporting; the
// transport never redelivers.
type Handler func(ctx context.Context, data []byte)

// Publisher sends a JSON-encoded payload to a named topic and returns the
// transport's message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Subscriber delivers messages from a subscription to h, one at a time, until
// ctx is done or the transport shuts down.
type Subscriber interface {
	Receive(ctx context.Context, subscription string, h Handler) error
}

// Broker is a transport that both publishes and receives.
type Broker interface {
	Publisher
	Subscriber
	// Close cleans up any client connections and resources.
	Close() error
}

// NoOp is a broker that drops every message. It is useful for running the
// crawler without a real message queue.
type NoOp struct{}

// Publish discards the payload.
func (NoOp) Publish(context.Context, string, any) (string, error) { return "", nil }

// Receive blocks until ctx is done.
func (NoOp) Receive(ctx context.Context, _ string, _ Handler) error {
	<-ctx.Done()
	return nil
}

// Close does nothing and returns nil.
func (NoOp) Close() error { return nil }
