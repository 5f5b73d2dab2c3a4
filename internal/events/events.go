// Package events turns committed order and seat changes into broker
// messages and local notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ms-boxoffice/internal/clock"
	"ms-boxoffice/internal/logger"
	"ms-boxoffice/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

// Noop drops every message.
type Noop struct{}

func (Noop) Publish(context.Context, string, string, []byte) error { return nil }
func (Noop) Close() error                                          { return nil }

type Topics struct {
	OrderCreated string
	OrderUpdated string
	SeatStatus   string
}

// Emitter implements order.Events and seatlock.Notifier. Publish failures
// are logged; they never fail the operation that produced the event.
type Emitter struct {
	Publisher Publisher
	Topics    Topics
	Clock     clock.Clock
	Logger    *logger.Logger
	// Timeout bounds a single publish.
	Timeout time.Duration

	mu        sync.RWMutex
	listeners []func(models.SeatStatusEvent)
}

func NewEmitter(p Publisher, topics Topics, clk clock.Clock, log *logger.Logger) *Emitter {
	if p == nil {
		p = Noop{}
	}
	return &Emitter{Publisher: p, Topics: topics, Clock: clk, Logger: log, Timeout: 2 * time.Second}
}

// OnSeats registers a local listener for seat changes. Listeners run
// synchronously and must not block.
func (e *Emitter) OnSeats(fn func(models.SeatStatusEvent)) {
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

func (e *Emitter) OrderCreated(ctx context.Context, o *models.Order) {
	if e == nil {
		return
	}
	ev := models.NewOrderEvent(models.EventOrderCreated, o, "", e.Clock.Now())
	e.publish(ctx, e.Topics.OrderCreated, o.ID, ev)
}

func (e *Emitter) OrderTransitioned(ctx context.Context, o *models.Order, from models.OrderStatus) {
	if e == nil {
		return
	}
	ev := models.NewOrderEvent(models.EventOrderUpdated, o, from, e.Clock.Now())
	e.publish(ctx, e.Topics.OrderUpdated, o.ID, ev)
}

func (e *Emitter) SeatsChanged(ctx context.Context, ev models.SeatStatusEvent) {
	if e == nil {
		return
	}
	e.mu.RLock()
	listeners := e.listeners
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}

	msg := struct {
		Type string `json:"type"`
		models.SeatStatusEvent
	}{Type: models.EventSeatsStatus, SeatStatusEvent: ev}
	e.publish(ctx, e.Topics.SeatStatus, ev.ShowtimeID, msg)
}

func (e *Emitter) publish(ctx context.Context, topic, key string, payload any) {
	if topic == "" {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		e.Logger.Error("EVENTS", fmt.Sprintf("marshal %s event: %v", topic, err))
		return
	}

	// The request that triggered the event may already be done.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.Timeout)
	defer cancel()
	if err := e.Publisher.Publish(ctx, topic, key, body); err != nil {
		e.Logger.Error("EVENTS", fmt.Sprintf("publish %s for %s: %v", topic, key, err))
	}
}
