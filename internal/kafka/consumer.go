package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/segmentio/kafka-go"

	"ms-boxoffice/internal/logger"
)

// Consumer reads one topic as part of a consumer group and commits each
// message once its handler returns.
type Consumer struct {
	reader *kafka.Reader
	log    *logger.Logger
}

func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, log: log}
}

// Run blocks until ctx is cancelled. Handler errors are logged and the
// message is committed anyway; a poison message must not stall the group.
func (c *Consumer) Run(ctx context.Context, handle func(ctx context.Context, msg kafka.Message) error) error {
	topic := c.reader.Config().Topic
	c.log.LogKafka("CONSUME", topic, "consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			c.log.Error("KAFKA", fmt.Sprintf("read from %s: %v", topic, err))
			continue
		}
		if err := handle(ctx, msg); err != nil {
			c.log.Error("KAFKA", fmt.Sprintf("handle %s@%d/%d: %v", topic, msg.Partition, msg.Offset, err))
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Warn("KAFKA", fmt.Sprintf("commit %s@%d/%d: %v", topic, msg.Partition, msg.Offset, err))
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
