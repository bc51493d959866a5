package publish

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/obsidianstack/reachability/server/internal/results"
)

// messageWriter is the subset of *kafka.Writer used by Kafka.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes records to a topic keyed by device ID.
type Kafka struct {
	w messageWriter
}

// NewKafka returns a Kafka publisher. The writer connects lazily on the
// first write.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

// Publish writes r as JSON with the device ID as the message key.
func (p *Kafka) Publish(ctx context.Context, r results.Record) error {
	data, err := encode(r)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(r.DeviceID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "period", Value: []byte(r.Period)},
			{Key: "policy", Value: []byte(r.Policy)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish: kafka write %q: %w", r.DeviceID, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Kafka) Close() error {
	return p.w.Close()
}
