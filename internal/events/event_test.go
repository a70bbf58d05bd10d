package events

import (
	"context"
	"errors"
	"testing"

	"x402-Dashboard/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublisherBuffersEvents(t *testing.T) {
	pub := NewMemoryPublisher(4)
	ctx := context.Background()

	require.NoError(t, pub.Publish(ctx, NewEvent(TypeAgentDeployed, "0xa")))
	require.NoError(t, pub.Publish(ctx, NewEvent(TypeAgentRegistered, "0xa")))

	drained := pub.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, TypeAgentDeployed, drained[0].Type)
	assert.NotEmpty(t, drained[0].ID)
	assert.NotEqual(t, drained[0].ID, drained[1].ID)
	assert.Empty(t, pub.Drain())
}

func TestMemoryPublisherHonoursContext(t *testing.T) {
	pub := NewMemoryPublisher(1)
	require.NoError(t, pub.Publish(context.Background(), Event{Type: TypeDepositConfirmed}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pub.Publish(ctx, Event{Type: TypeDepositConfirmed})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryPublisherClosed(t *testing.T) {
	pub := NewMemoryPublisher(1)
	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close())
	assert.Error(t, pub.Publish(context.Background(), Event{}))
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, Event) error {
	f.calls++
	return errors.New("broker down")
}
func (f *failingPublisher) Close() error { return nil }

func TestEmitSwallowsErrors(t *testing.T) {
	pub := &failingPublisher{}
	Emit(context.Background(), pub, Event{Type: TypeAgentDeployed})
	assert.Equal(t, 1, pub.calls)

	Emit(context.Background(), nil, Event{})
}

func TestOpenDrivers(t *testing.T) {
	pub, err := Open(context.Background(), config.EventsConfig{Driver: "none"})
	require.NoError(t, err)
	assert.IsType(t, NopPublisher{}, pub)

	pub, err = Open(context.Background(), config.EventsConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryPublisher{}, pub)

	_, err = Open(context.Background(), config.EventsConfig{Driver: "kafka"})
	assert.Error(t, err)

	_, err = Open(context.Background(), config.EventsConfig{Driver: "redis"})
	assert.Error(t, err)
}
