// internal/events/kafka.go
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"netbill-service/internal/domain/event"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// NewSaramaConfig returns producer settings for durable, ordered delivery per key.
func NewSaramaConfig(cfg KafkaConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Retry.Max = 3
	sc.Producer.Compression = sarama.CompressionSnappy
	sc.Producer.Idempotent = false
	sc.Net.DialTimeout = 5 * time.Second
	return sc
}

// Kafka publishes events as JSON keyed by username, so one subscriber's events stay ordered.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

func NewKafka(cfg KafkaConfig, logger *zap.Logger) (*Kafka, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaWithProducer(producer, cfg.Topic, logger), nil
}

func NewKafkaWithProducer(producer sarama.SyncProducer, topic string, logger *zap.Logger) *Kafka {
	return &Kafka{producer: producer, topic: topic, logger: logger}
}

// Publish waits for the broker ack or for ctx, whichever comes first.
func (k *Kafka) Publish(ctx context.Context, ev event.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := ev.Username
	if key == "" {
		key = string(ev.Type)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(ev.Type)},
		},
		Timestamp: ev.OccurredAt,
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Type, err)
	}

	// SendMessage cannot be cancelled. When ctx ends first the send carries on
	// in the background and only its failure is logged.
	type sent struct {
		partition int32
		offset    int64
		err       error
	}
	done := make(chan sent, 1)
	go func() {
		partition, offset, err := k.producer.SendMessage(msg)
		done <- sent{partition: partition, offset: offset, err: err}
	}()

	var res sent
	select {
	case res = <-done:
	case <-ctx.Done():
		go func() {
			if res := <-done; res.err != nil {
				k.logger.Warn("abandoned event publish failed",
					zap.String("type", string(ev.Type)),
					zap.String("username", ev.Username),
					zap.Error(res.err),
				)
			}
		}()
		return fmt.Errorf("failed to publish %s: %w", ev.Type, ctx.Err())
	}
	if res.err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Type, res.err)
	}

	k.logger.Debug("event published",
		zap.String("type", string(ev.Type)),
		zap.String("username", ev.Username),
		zap.Int32("partition", res.partition),
		zap.Int64("offset", res.offset),
	)
	return nil
}

func (k *Kafka) Close() error {
	return k.producer.Close()
}
