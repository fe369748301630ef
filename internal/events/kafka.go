package events

import (
	"context"
	"encoding/json"
	"fmt"

	kafkaGo "github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the forwarder uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkaGo.Message) error
	Close() error
}

// KafkaForwarder relays events to a Kafka topic so downstream consumers
// (referral payouts, analytics) can react to purchases.
type KafkaForwarder struct {
	writer messageWriter
}

// NewKafkaForwarder creates a forwarder writing to topic on brokers.
func NewKafkaForwarder(brokers []string, topic string) *KafkaForwarder {
	return &KafkaForwarder{
		writer: &kafkaGo.Writer{
			Addr:                   kafkaGo.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafkaGo.Hash{},
			AllowAutoTopicCreation: true,
		},
	}
}

// Handle implements Handler.
func (f *KafkaForwarder) Handle(ctx context.Context, event Event) error {
	msg, err := buildMessage(event)
	if err != nil {
		return err
	}
	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

// Register subscribes the forwarder to every purchase-related event.
func (f *KafkaForwarder) Register(m *Manager) {
	m.Subscribe(EventPurchaseRecorded, f.Handle)
	m.Subscribe(EventReferralCredited, f.Handle)
}

func (f *KafkaForwarder) Close() error {
	return f.writer.Close()
}

// buildMessage keys messages by purchase id so every event for a purchase
// lands on the same partition.
func buildMessage(event Event) (kafkaGo.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return kafkaGo.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	var key string
	switch data := event.Data.(type) {
	case PurchaseRecordedData:
		key = data.Purchase.ID
	case ReferralCreditedData:
		key = data.PurchaseID
	default:
		key = event.ID
	}

	return kafkaGo.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafkaGo.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}, nil
}
