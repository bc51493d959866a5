package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/obsidianstack/reachability/server/internal/config"
	"github.com/obsidianstack/reachability/server/internal/results"
)

// Publisher sends availability records to a downstream consumer.
type Publisher interface {
	Publish(ctx context.Context, r results.Record) error
	Close() error
}

// New builds the Publisher selected by cfg.Backend.
func New(cfg config.PublishConfig) (Publisher, error) {
	switch cfg.Backend {
	case "", "none":
		return Nop{}, nil
	case "nats":
		p, err := DialNATS(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "kafka":
		return NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic), nil
	default:
		return nil, fmt.Errorf("publish: unsupported backend %q", cfg.Backend)
	}
}

// Nop discards every record.
type Nop struct{}

func (Nop) Publish(context.Context, results.Record) error { return nil }
func (Nop) Close() error { return nil }

func encode(r results.Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("publish: marshal record: %w", err)
	}
	return data, nil
}
