package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan RetryEvent) RetryEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return RetryEvent{}
	}
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	events, err := bus.Subscribe(context.Background())
	require.NoError(t, err)

	sent := RetryEvent{
		Type:        RetryAttempt,
		ChannelID:   "main",
		Attempt:     2,
		MaxAttempts: 3,
		Error:       "api: upstream returned status 500",
		NextRetryIn: 750 * time.Millisecond,
	}
	bus.Publish(sent)

	got := receive(t, events)
	assert.Equal(t, sent, got)
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx := context.Background()
	a, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	bus.Publish(RetryEvent{Type: RetrySuccess, ChannelID: "c", Attempt: 2})

	assert.Equal(t, RetrySuccess, receive(t, a).Type)
	assert.Equal(t, RetrySuccess, receive(t, b).Type)
}

func TestBus_PublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	done := make(chan struct{})
	go func() {
		bus.Publish(RetryEvent{Type: RetryFailed})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked with no subscribers")
	}
}

func TestBus_SubscriptionEndsWithContext(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	events, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	cancel()

	require.Eventually(t, func() bool {
		_, open := <-events
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}
