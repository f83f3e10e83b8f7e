// Package kafka publishes entity change notifications for downstream consumers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/litup/indexer/internal/indexer"
	"github.com/litup/indexer/pkg/config"
	"github.com/litup/indexer/pkg/logging"
)

// EntityChange is the message written for every entity a block touched.
type EntityChange struct {
	Entity      string `json:"entity"`
	ID          string `json:"id"`
	BlockNumber uint64 `json:"block_number"`
}

// Publisher sends entity changes with a sync producer
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewPublisher connects to the configured brokers. Returns nil, nil when
// no brokers are configured.
func NewPublisher(cfg *config.KafkaConfig) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 3
	saramaCfg.ClientID = cfg.ClientID

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer failed: %w", err)
	}

	p := NewPublisherWithProducer(producer, cfg.Topic)
	p.logger.Info("Kafka publisher started",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic))
	return p, nil
}

// NewPublisherWithProducer wraps an existing producer
func NewPublisherWithProducer(producer sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{
		producer: producer,
		topic:    topic,
		logger:   logging.WithComponent("kafka-publisher"),
	}
}

// PublishChanges sends one message per change, keyed by entity id so that
// changes to the same entity stay ordered within a partition.
func (p *Publisher) PublishChanges(ctx context.Context, blockNum uint64, changes []indexer.Change) error {
	if p == nil || len(changes) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(changes))
	for _, ch := range changes {
		data, err := json.Marshal(EntityChange{
			Entity:      ch.Entity,
			ID:          ch.ID,
			BlockNumber: blockNum,
		})
		if err != nil {
			return err
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(ch.ID),
			Value: sarama.ByteEncoder(data),
		})
	}

	if err := p.producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("send %d entity changes for block %d: %w", len(msgs), blockNum, err)
	}

	p.logger.Debug("Entity changes published",
		zap.Uint64("block", blockNum),
		zap.Int("messages", len(msgs)))
	return nil
}

// Close closes the producer
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.producer.Close()
}
