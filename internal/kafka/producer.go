package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-boxoffice/internal/logger"
)

// Producer writes to any topic through a single async writer. Delivery
// failures are reported to the logger by the completion callback.
type Producer struct {
	Writer *kafka.Writer
	log    *logger.Logger
}

func NewProducer(brokers []string, log *logger.Logger) *Producer {
	p := &Producer{log: log}
	p.Writer = &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Async:                  true,
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				for _, m := range messages {
					log.Error("KAFKA", fmt.Sprintf("delivery to %s failed for key %s: %v", m.Topic, m.Key, err))
				}
			}
		},
	}
	return p
}

// Publish streams one event keyed by key, so events for the same order or
// showtime stay ordered within a partition.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	err := p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.log.LogKafka("PUBLISH", topic, key)
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
