package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNoOpBroker(t *testing.T) {
	t.Parallel()

	var b Broker = NoOp{}
	id, err := b.Publish(context.Background(), "topic", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Empty(t, id)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.NoError(t, b.Receive(ctx, "sub", func(context.Context, []byte) {
		t.Fatal("no-op broker delivered a message")
	}))
	require.NoError(t, b.Close())
}

func TestMockBroker(t *testing.T) {
	t.Parallel()

	m := &MockBroker{}
	m.On("Publish", mock.Anything, "scraped-data", "payload").Return("id-1", nil)
	m.On("Close").Return(errors.New("boom"))

	var b Broker = m
	id, err := b.Publish(context.Background(), "scraped-data", "payload")
	require.NoError(t, err)
	require.Equal(t, "id-1", id)
	require.EqualError(t, b.Close(), "boom")
	m.AssertExpectations(t)
}
