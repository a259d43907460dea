// Package eventbus fans turn events out to in-process watchers.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/gogo/sqlagent/internal/domain"
)

// Topic carries every turn event envelope.
const Topic = "turn.events"

// Bus publishes and subscribes turn event envelopes over a watermill GoChannel.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// New creates a bus. Events published while nobody subscribes are dropped.
// Publish waits for every subscriber to ack, so each subscriber sees events in publish order.
func New() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            256,
			BlockPublishUntilSubscriberAck: true,
		}, zerologAdapter{}),
	}
}

// Publish sends env to every current subscriber.
func (b *Bus) Publish(env domain.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("session_id", env.SessionID)
	msg.Metadata.Set("turn_id", env.TurnID)
	msg.Metadata.Set("type", string(env.Type))
	return b.pubsub.Publish(Topic, msg)
}

// Subscribe streams envelopes until ctx is done.
func (b *Bus) Subscribe(ctx context.Context) (<-chan domain.Envelope, error) {
	msgs, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", Topic, err)
	}

	out := make(chan domain.Envelope, 64)
	go func() {
		defer close(out)
		for msg := range msgs {
			var env domain.Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				log.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping undecodable event")
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

// Close stops the bus and closes all subscriptions.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// zerologAdapter routes watermill's internal logging to zerolog.
type zerologAdapter struct {
	fields watermill.LogFields
}

func (a zerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	log.Error().Err(err).Fields(map[string]interface{}(a.fields.Add(fields))).Msg(msg)
}

func (a zerologAdapter) Info(msg string, fields watermill.LogFields) {
	log.Info().Fields(map[string]interface{}(a.fields.Add(fields))).Msg(msg)
}

func (a zerologAdapter) Debug(msg string, fields watermill.LogFields) {
	log.Debug().Fields(map[string]interface{}(a.fields.Add(fields))).Msg(msg)
}

func (a zerologAdapter) Trace(msg string, fields watermill.LogFields) {
	log.Trace().Fields(map[string]interface{}(a.fields.Add(fields))).Msg(msg)
}

func (a zerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return zerologAdapter{fields: a.fields.Add(fields)}
}
