package events

//go:generate mockgen -source=publisher.go -destination=mock_publisher.go -package=events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"britepool/pkg/config"

	"github.com/segmentio/kafka-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events", fx.Provide(New))

const TypeEntryDecided = "participation.entry.decided"

// DecisionEvent is emitted after an entry leaves PENDING.
type DecisionEvent struct {
	Type        string    `json:"type"`
	EntryID     string    `json:"entry_id"`
	MemberID    string    `json:"member_id"`
	ReviewerID  string    `json:"reviewer_id"`
	FromStatus  string    `json:"from_status"`
	ToStatus    string    `json:"to_status"`
	Hours       string    `json:"hours"`
	Category    string    `json:"category"`
	Note        string    `json:"note,omitempty"`
	DecidedAt   time.Time `json:"decided_at"`
	PublishedAt time.Time `json:"published_at"`
}

type Publisher interface {
	PublishDecision(ctx context.Context, evt DecisionEvent) error
}

// New returns a kafka publisher when KAFKA.ADDR lists brokers and a no-op
// publisher otherwise.
func New(lc fx.Lifecycle, cfg *config.Config) Publisher {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		zap.L().Info("[Events] KAFKA.ADDR not set, decision events disabled")
		return NopPublisher{}
	}

	p := NewKafkaPublisher(brokers, cfg.Kafka.Topic)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return p.Close()
		},
	})

	zap.L().Info("[Events] kafka publisher configured",
		zap.Strings("brokers", brokers),
		zap.String("topic", cfg.Kafka.Topic),
	)
	return p
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// PublishDecision keys messages by member id so one member's decisions stay
// ordered within a partition.
func (p *KafkaPublisher) PublishDecision(ctx context.Context, evt DecisionEvent) error {
	if evt.Type == "" {
		evt.Type = TypeEntryDecided
	}
	if evt.PublishedAt.IsZero() {
		evt.PublishedAt = time.Now().UTC()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal decision event: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.MemberID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(evt.Type)},
		},
	}); err != nil {
		return fmt.Errorf("publish decision event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type NopPublisher struct{}

func (NopPublisher) PublishDecision(context.Context, DecisionEvent) error { return nil }
