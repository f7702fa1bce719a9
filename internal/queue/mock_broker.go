package queue

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockBroker is a mock implementation of the Broker interface for testing.
type MockBroker struct {
	mock.Mock
}

// Publish is the mock implementation of the Publish method.
func (m *MockBroker) Publish(ctx context.Context, topic string, payload any) (string, error) {
	args := m.Called(ctx, topic, payload)
	return args.String(0), args.Error(1)
}

// Receive is the mock implementation of the Receive method.
func (m *MockBroker) Receive(ctx context.Context, subscription string, h Handler) error {
	args := m.Called(ctx, subscription, h)
	return args.Error(0)
}

// Close is the mock implementation of the Close method.
func (m *MockBroker) Close() error {
	args := m.Called()
	return args.Error(0)
}
