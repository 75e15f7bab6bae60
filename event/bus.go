package event

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/zhubert/plural-orchestrator/logger"
)

// Topic is the watermill topic every event is published on.
const Topic = "orchestrator.events"

const metadataSessionID = "session_id"

// Bus fans orchestrator events out to any number of subscribers over a
// watermill gochannel. Publish returns once every current subscriber has
// received the event, so subscribers observe each session's events in
// publish order.
type Bus struct {
	mu     sync.RWMutex
	pubsub *gochannel.GoChannel
	closed bool
	wg     sync.WaitGroup
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            64,
				BlockPublishUntilSubscriberAck: true,
			},
			watermill.NopLogger{},
		),
	}
}

// Publish sends an event to all subscribers. Its signature matches the
// orchestrator's event sink so a Bus can be installed directly.
func (b *Bus) Publish(sessionID string, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed || ev == nil {
		return
	}

	payload, err := json.Marshal(Envelope{SessionID: sessionID, Event: ev})
	if err != nil {
		logger.WithComponent("event-bus").Error("failed to encode event", "kind", ev.Kind(), "error", err)
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metadataSessionID, sessionID)
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		logger.WithComponent("event-bus").Warn("failed to publish event", "kind", ev.Kind(), "error", err)
	}
}

// Subscribe returns a channel receiving every event published after the
// call. The channel is closed when ctx is done or the bus is closed.
// Callers must keep draining it; a stalled subscriber stalls publishers.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		out := make(chan Envelope)
		close(out)
		return out, nil
	}

	messages, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, err
	}

	out := make(chan Envelope, 64)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(out)
		for msg := range messages {
			var env Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				logger.WithComponent("event-bus").Warn("dropping undecodable event", "uuid", msg.UUID, "error", err)
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down and closes all subscription channels.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}
