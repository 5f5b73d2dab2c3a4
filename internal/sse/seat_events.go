package sse

import (
	"context"
	"sync"

	"ms-boxoffice/internal/models"
)

// SeatEventEmitter fans seat status changes out to the SSE clients watching
// a showtime.
type SeatEventEmitter struct {
	mu      sync.RWMutex
	clients map[string][]chan models.SeatStatusEvent
	buffer  int
}

func NewSeatEventEmitter() *SeatEventEmitter {
	return &SeatEventEmitter{
		clients: make(map[string][]chan models.SeatStatusEvent),
		buffer:  16,
	}
}

// Subscribe registers a client until ctx is done, at which point the channel
// is closed.
func (e *SeatEventEmitter) Subscribe(ctx context.Context, showtimeID string) <-chan models.SeatStatusEvent {
	ch := make(chan models.SeatStatusEvent, e.buffer)

	e.mu.Lock()
	e.clients[showtimeID] = append(e.clients[showtimeID], ch)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(showtimeID, ch)
	}()
	return ch
}

// Emit never blocks: a client whose buffer is full misses the event and
// resyncs from the availability endpoint.
func (e *SeatEventEmitter) Emit(ev models.SeatStatusEvent) {
	// Sends happen under the read lock so remove cannot close a channel
	// mid-send.
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ch := range e.clients[ev.ShowtimeID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (e *SeatEventEmitter) remove(showtimeID string, ch chan models.SeatStatusEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.clients[showtimeID]
	for i, c := range clients {
		if c == ch {
			e.clients[showtimeID] = append(clients[:i], clients[i+1:]...)
			close(ch)
			break
		}
	}
	if len(e.clients[showtimeID]) == 0 {
		delete(e.clients, showtimeID)
	}
}

// ClientCount returns the number of clients watching a showtime.
func (e *SeatEventEmitter) ClientCount(showtimeID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[showtimeID])
}
