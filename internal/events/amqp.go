package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"ms-boxoffice/internal/logger"
)

// AMQP publishes to a durable topic exchange; the topic becomes the routing
// key. The channel is reopened on the next publish after a broker hiccup.
type AMQP struct {
	url      string
	exchange string
	log      *logger.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQP(url, exchange string, log *logger.Logger) (*AMQP, error) {
	a := &AMQP{url: url, exchange: exchange, log: log}
	if err := a.connect(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *AMQP) connect() error {
	conn, err := amqp.Dial(a.url)
	if err != nil {
		return fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(a.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("rabbitmq: declare exchange %s: %w", a.exchange, err)
	}
	a.conn, a.ch = conn, ch
	return nil
}

func (a *AMQP) Publish(ctx context.Context, topic, key string, value []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ch == nil || a.ch.IsClosed() {
		a.closeLocked()
		if err := a.connect(); err != nil {
			return err
		}
		a.log.Info("EVENTS", "rabbitmq connection re-established")
	}

	err := a.ch.PublishWithContext(ctx, a.exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    key,
		Timestamp:    time.Now().UTC(),
		Body:         value,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq: publish %s: %w", topic, err)
	}
	return nil
}

func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeLocked()
}

func (a *AMQP) closeLocked() error {
	var err error
	if a.ch != nil {
		_ = a.ch.Close()
		a.ch = nil
	}
	if a.conn != nil {
		err = a.conn.Close()
		a.conn = nil
	}
	return err
}
