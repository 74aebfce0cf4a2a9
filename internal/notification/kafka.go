package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"
)

// KafkaNotifier publishes notifications as JSON records. Records are keyed by
// owner so that changes to one owner stay ordered within a partition.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier builds a notifier writing to topic on the given brokers.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}
}

// Send encodes and writes the message.
func (n *KafkaNotifier) Send(ctx context.Context, message Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	key := message.OwnerKind + ":" + strconv.FormatInt(message.OwnerID, 10)
	if err := n.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: data}); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close flushes pending writes and releases the writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
