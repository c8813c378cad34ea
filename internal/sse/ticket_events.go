package sse

import (
	"context"
	"sync"

	"ms-ticket-gate/internal/models"
)

const clientBuffer = 16

type client struct {
	ch     chan models.TicketEvent
	filter models.TicketEventType
}

// TicketEventEmitter fans ticket events out to live subscribers. Slow
// subscribers miss events rather than slowing down the emitter.
type TicketEventEmitter struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

func NewTicketEventEmitter() *TicketEventEmitter {
	return &TicketEventEmitter{clients: make(map[*client]struct{})}
}

// Subscribe returns a channel of events of the given type, or of every type
// when filter is empty. The channel is closed once ctx is done.
func (e *TicketEventEmitter) Subscribe(ctx context.Context, filter models.TicketEventType) <-chan models.TicketEvent {
	c := &client{ch: make(chan models.TicketEvent, clientBuffer), filter: filter}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		close(c.ch)
		return c.ch
	}
	e.clients[c] = struct{}{}
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(c)
	}()

	return c.ch
}

// Emit broadcasts event without the holder's token or QR image; the feed is
// for monitoring and must not hand out admission credentials.
func (e *TicketEventEmitter) Emit(event models.TicketEvent) {
	event.Token = ""
	event.QRCode = nil

	// Sends happen under the read lock so remove cannot close a channel
	// mid-send.
	e.mu.RLock()
	defer e.mu.RUnlock()
	for c := range e.clients {
		if c.filter != "" && c.filter != event.Type {
			continue
		}
		select {
		case c.ch <- event:
		default:
		}
	}
}

// Notify lets the emitter sit behind the service's notification port.
func (e *TicketEventEmitter) Notify(_ context.Context, event models.TicketEvent) error {
	e.Emit(event)
	return nil
}

func (e *TicketEventEmitter) remove(c *client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.clients[c]; ok {
		delete(e.clients, c)
		close(c.ch)
	}
}

// Close ends every subscription. Later subscriptions are closed immediately.
func (e *TicketEventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for c := range e.clients {
		delete(e.clients, c)
		close(c.ch)
	}
}

// ClientCount returns the number of live subscribers.
func (e *TicketEventEmitter) ClientCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients)
}
