package service

import (
	"context"
	"errors"
	"fmt"

	"ms-ticket-gate/internal/logger"
	"ms-ticket-gate/internal/models"
)

// LogNotifier stands in for the notification port when no broker is
// configured. It only records that an event would have been sent.
type LogNotifier struct {
	Logger *logger.Logger
}

func (n *LogNotifier) Notify(_ context.Context, event models.TicketEvent) error {
	n.Logger.Info("NOTIFY", fmt.Sprintf("%s for order %s (no broker configured)", event.Type, event.OrderID))
	return nil
}

// MultiNotifier delivers each event to every notifier in turn. One failing
// target does not stop the others.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, event models.TicketEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// dispatch runs the notification on its own goroutine and timeout. Failures
// and panics are logged and dropped; the caller never waits for them.
func (s *TicketService) dispatch(event models.TicketEvent) {
	if s.notifier == nil {
		return
	}

	s.dispatchMu.Lock()
	if s.closed {
		s.dispatchMu.Unlock()
		s.logger.Warn("NOTIFY", fmt.Sprintf("shutting down, dropped %s for order %s", event.Type, event.OrderID))
		return
	}
	s.inflight.Add(1)
	s.dispatchMu.Unlock()

	go func() {
		defer s.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("NOTIFY", fmt.Sprintf("notifier panicked for order %s: %v", event.OrderID, r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()

		if err := s.notifier.Notify(ctx, event); err != nil {
			s.logger.Warn("NOTIFY", fmt.Sprintf("failed to deliver %s for order %s: %v", event.Type, event.OrderID, err))
			return
		}
		s.logger.Debug("NOTIFY", fmt.Sprintf("delivered %s for order %s", event.Type, event.OrderID))
	}()
}

// Wait blocks until every dispatched notification has finished. Callers must
// not issue or redeem concurrently; use Close at shutdown.
func (s *TicketService) Wait() {
	s.inflight.Wait()
}

// Close stops dispatching new notifications and waits for the in-flight ones.
// Requests still running afterwards complete without notifying.
func (s *TicketService) Close() {
	s.dispatchMu.Lock()
	s.closed = true
	s.dispatchMu.Unlock()
	s.inflight.Wait()
}
