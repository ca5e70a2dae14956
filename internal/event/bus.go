// Package event carries retry-progress notifications from the dispatcher to
// any number of listeners over a watermill in-process pub/sub, so progress
// display never blocks or races a single callback slot.
package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Type is the retry event kind.
type Type string

const (
	// RetryAttempt fires before each delay preceding a re-attempt.
	RetryAttempt Type = "retry.attempt"
	// RetrySuccess fires when an attempt after the first succeeds.
	RetrySuccess Type = "retry.success"
	// RetryFailed fires when retries are exhausted or the error is terminal.
	RetryFailed Type = "retry.failed"
)

// retryTopic is the single watermill topic all retry events ride on.
const retryTopic = "generate.retry"

// RetryEvent describes one step of the dispatcher's retry state machine.
type RetryEvent struct {
	Type         Type          `json:"type"`
	ChannelID    string        `json:"channelID"`
	Attempt      int           `json:"attempt"`
	MaxAttempts  int           `json:"maxAttempts"`
	Error        string        `json:"error,omitempty"`
	ErrorDetails string        `json:"errorDetails,omitempty"`
	NextRetryIn  time.Duration `json:"nextRetryIn,omitempty"`
}

// Bus is a bounded-buffer pub/sub of retry events.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates a bus. Events published with no subscribers are dropped.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NopLogger{},
		),
	}
}

// Publish sends one retry event to all current subscribers.
func (b *Bus) Publish(ev RetryEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	_ = b.pubsub.Publish(retryTopic, msg)
}

// Subscribe returns a channel of retry events, closed when ctx is done.
func (b *Bus) Subscribe(ctx context.Context) (<-chan RetryEvent, error) {
	msgs, err := b.pubsub.Subscribe(ctx, retryTopic)
	if err != nil {
		return nil, err
	}

	out := make(chan RetryEvent, 16)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev RetryEvent
			if err := json.Unmarshal(msg.Payload, &ev); err == nil {
				select {
				case out <- ev:
				case <-ctx.Done():
					msg.Ack()
					return
				}
			}
			msg.Ack()
		}
	}()
	return out, nil
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
