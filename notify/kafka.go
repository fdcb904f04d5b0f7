package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/warp/leave-engine/leave"
)

// MessageWriter is the part of *kafka.Writer that Kafka uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter returns a writer for topic. Messages are keyed by
// request id so one request's events stay ordered within a partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// Kafka publishes events as JSON.
type Kafka struct {
	writer MessageWriter
}

func NewKafka(writer MessageWriter) *Kafka {
	return &Kafka{writer: writer}
}

func (k *Kafka) Notify(ctx context.Context, ev leave.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Request.ID),
		Value: payload,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "requester_id", Value: []byte(ev.Request.RequesterID)},
		},
	})
}
