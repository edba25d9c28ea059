// Package broker publishes booking events to Kafka.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/event-ticketing/internal/model"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Record header names.
const (
	HeaderMessageID = "message_id"
	HeaderEventType = "event_type"
)

// Config holds the producer settings.
type Config struct {
	Brokers  []string
	ClientID string
}

// KafkaPublisher produces outbox messages synchronously.
type KafkaPublisher struct {
	client *kgo.Client
	log    *zap.Logger
}

// NewKafkaPublisher connects to the seed brokers and verifies the connection.
func NewKafkaPublisher(ctx context.Context, cfg Config, log *zap.Logger) (*KafkaPublisher, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5 * time.Millisecond),
		kgo.RecordPartitioner(kgo.StickyKeyPartitioner(nil)),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Kafka: %w", err)
	}

	log.Info("Connected to Kafka", zap.Strings("brokers", cfg.Brokers))
	return &KafkaPublisher{client: client, log: log.Named("kafka")}, nil
}

// Publish produces msg and waits for the broker acknowledgement.
func (p *KafkaPublisher) Publish(ctx context.Context, msg *model.OutboxMessage) error {
	if err := p.client.ProduceSync(ctx, newRecord(msg)).FirstErr(); err != nil {
		return fmt.Errorf("produce %s to %s: %w", msg.ID, msg.Topic, err)
	}
	p.log.Debug("Published booking event",
		zap.String("message_id", msg.ID.String()),
		zap.String("event_type", string(msg.EventType)),
		zap.String("topic", msg.Topic),
	)
	return nil
}

// Close flushes buffered records and closes the client.
func (p *KafkaPublisher) Close() {
	p.client.Close()
}

func newRecord(msg *model.OutboxMessage) *kgo.Record {
	return &kgo.Record{
		Topic: msg.Topic,
		Key:   []byte(msg.PartitionKey),
		Value: msg.Payload,
		Headers: []kgo.RecordHeader{
			{Key: HeaderMessageID, Value: []byte(msg.ID.String())},
			{Key: HeaderEventType, Value: []byte(msg.EventType)},
		},
		Timestamp: msg.CreatedAt,
	}
}
