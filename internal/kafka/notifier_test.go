package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-ticket-gate/internal/logger"
	"ms-ticket-gate/internal/models"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

var testTopics = Topics{Issued: "tickets.issued", Redeemed: "tickets.redeemed"}

func sampleEvent(t models.TicketEventType) models.TicketEvent {
	return models.TicketEvent{
		Type:       t,
		OrderID:    "order-42",
		HolderName: "Maria Silva",
		Email:      "maria@example.com",
		TicketType: models.TicketTypeVIP,
		Token:      "eyJ2IjoxfQ.c2ln",
		OccurredAt: time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC),
	}
}

func TestNotifyRoutesByEventType(t *testing.T) {
	w := &fakeWriter{}
	n := NewNotifierWithWriter(w, testTopics, logger.NewWriterLogger(&bytes.Buffer{}))

	require.NoError(t, n.Notify(context.Background(), sampleEvent(models.TicketEventIssued)))
	require.NoError(t, n.Notify(context.Background(), sampleEvent(models.TicketEventRedeemed)))

	require.Len(t, w.messages, 2)
	assert.Equal(t, "tickets.issued", w.messages[0].Topic)
	assert.Equal(t, "tickets.redeemed", w.messages[1].Topic)

	for _, msg := range w.messages {
		assert.Equal(t, []byte("order-42"), msg.Key)
		require.Len(t, msg.Headers, 1)
		assert.Equal(t, "event_type", msg.Headers[0].Key)
	}

	var decoded models.TicketEvent
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &decoded))
	assert.Equal(t, sampleEvent(models.TicketEventIssued), decoded)
}

func TestNotifyUnknownEventType(t *testing.T) {
	w := &fakeWriter{}
	n := NewNotifierWithWriter(w, testTopics, logger.NewWriterLogger(&bytes.Buffer{}))

	err := n.Notify(context.Background(), sampleEvent("ticket.refunded"))
	assert.Error(t, err)
	assert.Empty(t, w.messages)
}

func TestNotifyWrapsWriterError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	n := NewNotifierWithWriter(w, testTopics, logger.NewWriterLogger(&bytes.Buffer{}))

	err := n.Notify(context.Background(), sampleEvent(models.TicketEventIssued))
	require.Error(t, err)
	assert.ErrorIs(t, err, w.err)
	assert.Contains(t, err.Error(), "tickets.issued")
}

func TestCloseClosesWriter(t *testing.T) {
	w := &fakeWriter{}
	n := NewNotifierWithWriter(w, testTopics, logger.NewWriterLogger(&bytes.Buffer{}))
	require.NoError(t, n.Close())
	assert.True(t, w.closed)
}

func TestEnsureTopicsExistRequiresBrokers(t *testing.T) {
	err := EnsureTopicsExist(nil, []string{"tickets.issued"}, logger.NewWriterLogger(&bytes.Buffer{}))
	assert.Error(t, err)
}
