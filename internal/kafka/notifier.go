package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-ticket-gate/internal/logger"
	"ms-ticket-gate/internal/models"
)

// MessageWriter is the subset of *kafka.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Topics struct {
	Issued   string
	Redeemed string
}

// Notifier publishes ticket events, keyed by order id so that every event for
// one order lands on the same partition.
type Notifier struct {
	Writer MessageWriter
	Topics Topics
	logger *logger.Logger
}

func NewNotifier(brokers []string, topics Topics, log *logger.Logger) *Notifier {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return NewNotifierWithWriter(writer, topics, log)
}

func NewNotifierWithWriter(w MessageWriter, topics Topics, log *logger.Logger) *Notifier {
	return &Notifier{Writer: w, Topics: topics, logger: log}
}

func (n *Notifier) topicFor(t models.TicketEventType) (string, error) {
	switch t {
	case models.TicketEventIssued:
		return n.Topics.Issued, nil
	case models.TicketEventRedeemed:
		return n.Topics.Redeemed, nil
	default:
		return "", fmt.Errorf("no topic for event type %q", t)
	}
}

// Notify streams the event to its topic.
func (n *Notifier) Notify(ctx context.Context, event models.TicketEvent) error {
	topic, err := n.topicFor(event.Type)
	if err != nil {
		return err
	}

	msgBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}

	err = n.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(event.OrderID),
		Value: msgBytes,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	n.logger.LogKafka("PUBLISH", topic, fmt.Sprintf("%s for order %s", event.Type, event.OrderID))
	return nil
}

func (n *Notifier) Close() error {
	return n.Writer.Close()
}
