package kafka

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"

	"ms-ticket-gate/internal/logger"
)

// EnsureTopicsExist creates the given topics through the cluster controller.
// Topics that already exist are left alone.
func EnsureTopicsExist(brokers []string, topics []string, log *logger.Logger) error {
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}

	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to find kafka controller: %w", err)
	}
	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	var errs []error
	for _, topic := range topics {
		err := controllerConn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
		switch {
		case errors.Is(err, kafka.TopicAlreadyExists):
			log.LogKafka("TOPIC", topic, "already exists")
		case err != nil:
			log.Error("KAFKA", fmt.Sprintf("failed to create topic %s: %v", topic, err))
			errs = append(errs, err)
		default:
			log.LogKafka("TOPIC", topic, "created")
		}
	}
	return errors.Join(errs...)
}
