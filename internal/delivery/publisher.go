package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_remind/internal/tracing"
)

// Producer is the publishing half of *nsq.Producer
type Producer interface {
	Publish(topic string, body []byte) error
}

// Publisher writes dead letters to an NSQ topic
type Publisher struct {
	producer Producer
	topic    string
	stop     func()
}

// NewPublisher wraps an existing producer
func NewPublisher(p Producer, topic string) *Publisher {
	return &Publisher{producer: p, topic: topic, stop: func() {}}
}

// NewNSQPublisher connects a producer to nsqd at addr
func NewNSQPublisher(addr, topic string) (*Publisher, error) {
	prod, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	return &Publisher{producer: prod, topic: topic, stop: prod.Stop}, nil
}

func (p *Publisher) Topic() string { return p.topic }

// PublishDeadLetter serializes dl and publishes it to the dead-letter topic
func (p *Publisher) PublishDeadLetter(ctx context.Context, dl DeadLetter) error {
	b, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := p.producer.Publish(p.topic, b); err != nil {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("publish %s: %w", p.topic, err)
	}
	tracing.AddSpanEvent(ctx, "nsq.published_dlq",
		attribute.String("topic", p.topic),
		attribute.String("notification_id", dl.Reminder.NotificationID))
	return nil
}

// Stop closes the underlying producer
func (p *Publisher) Stop() { p.stop() }
