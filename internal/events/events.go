// Package events publishes change notifications (post created, post
// deleted, like toggled, follow toggled) to a Kafka topic. The writer is
// asynchronous: Publish only enqueues, and delivery failures are logged from
// the writer's completion callback. Publishing is best effort and a failure
// is never surfaced to the user.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type Type string

const (
	PostCreated   Type = "post.created"
	PostDeleted   Type = "post.deleted"
	LikeToggled   Type = "like.toggled"
	FollowToggled Type = "follow.toggled"
)

// Event is the JSON message body. Subject is the post id for post and like
// events and the followee's profile id for follow events.
type Event struct {
	Type       Type      `json:"type"`
	ActorID    string    `json:"actorId"`
	Subject    string    `json:"subject"`
	Active     *bool     `json:"active,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher is what services depend on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Writer is the subset of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds Kafka connection parameters.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

const (
	// DefaultPublishTimeout bounds a single Publish call, independent of the
	// caller's context.
	DefaultPublishTimeout = 2 * time.Second

	batchTimeout = 5 * time.Millisecond
)

// KafkaPublisher writes one message per event, keyed by Subject so all
// events for one post or profile land on the same partition in order.
type KafkaPublisher struct {
	writer  Writer
	now     func() time.Time
	timeout time.Duration
}

// NewKafkaPublisher builds a publisher on a *kafka.Writer. The writer dials
// lazily, so this does not fail when brokers are down.
func NewKafkaPublisher(cfg Config) *KafkaPublisher {
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           batchTimeout,
		Async:                  true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Warn("failed to deliver change events",
					slog.Int("count", len(msgs)),
					slog.String("error", err.Error()),
				)
			}
		},
	}
	return NewPublisherWithWriter(w)
}

// NewPublisherWithWriter wraps any Writer; tests pass a fake.
func NewPublisherWithWriter(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w, now: time.Now, timeout: DefaultPublishTimeout}
}

// Publish enqueues ev. It runs under its own timeout and ignores the
// caller's cancellation, so a finished request does not drop its event.
func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = p.now().UTC()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: encoding %s: %w", ev.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.Subject),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: publishing %s: %w", ev.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Bool is a helper for Event.Active.
func Bool(b bool) *bool { return &b }
