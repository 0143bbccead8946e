// Package bus carries reviewer decisions to the verification state machine
// as commands. A reviewer decision is never polled from review state.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aegis/internal/platform/kafka"
	"aegis/internal/review/models"
	id "aegis/pkg/domain"
)

// Command is one reviewer decision. It is safe to deliver more than once.
type Command struct {
	ReviewID       id.ReviewID       `json:"review_id"`
	VerificationID id.VerificationID `json:"verification_id"`
	Decision       models.Decision   `json:"decision"`
	ReviewerID     id.ReviewerID     `json:"reviewer_id"`
	Notes          string            `json:"notes,omitempty"`
	DecidedAt      time.Time         `json:"decided_at"`
}

type Publisher interface {
	Publish(ctx context.Context, cmd Command) error
}

// Handler applies a command. An error leaves the command for redelivery.
type Handler func(ctx context.Context, cmd Command) error

var ErrBusClosed = errors.New("review command bus closed")

// ChannelBus delivers commands in process.
type ChannelBus struct {
	ch chan Command
}

func NewChannelBus(capacity int) *ChannelBus {
	return &ChannelBus{ch: make(chan Command, capacity)}
}

func (b *ChannelBus) Publish(ctx context.Context, cmd Command) error {
	select {
	case b.ch <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run hands commands to h until ctx is cancelled. A failed command is
// retried after backoff rather than dropped.
func (b *ChannelBus) Run(ctx context.Context, h Handler, backoff time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-b.ch:
			for h(ctx, cmd) != nil {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(backoff):
				}
			}
		}
	}
}

// KafkaPublisher writes commands to the review command topic keyed by
// verification, so commands for one request stay ordered.
type KafkaPublisher struct {
	producer *kafka.Producer
}

func NewKafkaPublisher(p *kafka.Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: p}
}

func (p *KafkaPublisher) Publish(ctx context.Context, cmd Command) error {
	value, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode review command: %w", err)
	}
	return p.producer.Publish(ctx, kafka.TopicReviewCommands, []byte(cmd.VerificationID.String()), value)
}

// KafkaHandler adapts h to a kafka consumer. Undecodable records are
// reported and skipped.
func KafkaHandler(h Handler, onPoison func(msg *kafka.Message, err error)) kafka.Handler {
	return kafka.HandlerFunc(func(ctx context.Context, msg *kafka.Message) error {
		var cmd Command
		if err := json.Unmarshal(msg.Value, &cmd); err != nil {
			if onPoison != nil {
				onPoison(msg, err)
			}
			return nil
		}
		return h(ctx, cmd)
	})
}
