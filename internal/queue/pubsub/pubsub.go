// Package pubsub implements the message channel on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listings-pipeline/internal/queue"
)

// Client publishes to and receives from Pub/Sub topics in one project.
type Client struct {
	client *pubsub.Client
	logger *zap.Logger

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

var _ queue.Broker = (*Client)(nil)

// New creates a Pub/Sub client using Application Default Credentials.
func New(ctx context.Context, projectID string, logger *zap.Logger) (*Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("pubsub project id is required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return NewFromClient(client, logger), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *pubsub.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		client:     client,
		logger:     logger,
		publishers: make(map[string]*pubsub.Publisher),
	}
}

func (c *Client) publisher(topic string) *pubsub.Publisher {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[topic]; ok {
		return p
	}
	p := c.client.Publisher(topic)
	c.publishers[topic] = p
	return p
}

// Publish marshals the payload to JSON and publishes it to topic, waiting for
// the server to assign a message ID.
func (c *Client) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("pubsub client is not configured")
	}
	msg, err := newMessage(ctx, payload)
	if err != nil {
		return "", err
	}
	result := c.publisher(topic).Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message to %s: %w", topic, err)
	}
	return id, nil
}

func newMessage(ctx context.Context, payload any) (*pubsub.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{Data: data, Attributes: make(map[string]string)}
	otel.GetTextMapPropagator().Inject(ctx, &carrier{attrs: msg.Attributes})
	return msg, nil
}

// Receive pulls from subscription one message at a time. Each message is
// acknowledged before h runs, so a handler failure never causes redelivery.
func (c *Client) Receive(ctx context.Context, subscription string, h queue.Handler) error {
	if c.client == nil {
		return fmt.Errorf("pubsub client is not configured")
	}
	sub := c.client.Subscriber(subscription)
	sub.ReceiveSettings.NumGoroutines = 1
	sub.ReceiveSettings.MaxOutstandingMessages = 1

	c.logger.Info("receiving messages", zap.String("subscription", subscription))
	err := sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		m.Ack()
		msgCtx := otel.GetTextMapPropagator().Extract(ctx, &carrier{attrs: m.Attributes})
		h(msgCtx, m.Data)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receive from %s: %w", subscription, err)
	}
	return nil
}

// Close flushes pending publishes and closes the client connection.
func (c *Client) Close() error {
	c.mu.Lock()
	for topic, p := range c.publishers {
		p.Stop()
		delete(c.publishers, topic)
	}
	c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

// carrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type carrier struct {
	attrs map[string]string
}

func (c *carrier) Get(key string) string {
	return c.attrs[key]
}

func (c *carrier) Set(key, value string) {
	if c.attrs == nil {
		c.attrs = make(map[string]string)
	}
	c.attrs[key] = value
}

func (c *carrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
