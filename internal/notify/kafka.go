package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/sitewatch/sitewatch/internal/alerts"
	"github.com/sitewatch/sitewatch/internal/logger"
)

// KafkaProducer publishes alerts to a Kafka topic, keyed by camera ID so a
// camera's alerts stay ordered within a partition.
type KafkaProducer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *logger.Logger
}

// NewKafkaProducer connects a synchronous producer to the brokers.
func NewKafkaProducer(brokers []string, topic string, log *logger.Logger) (*KafkaProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &KafkaProducer{
		producer: producer,
		topic:    topic,
		logger:   log,
	}, nil
}

// BroadcastAlert publishes one alert to the topic.
func (p *KafkaProducer) BroadcastAlert(ctx context.Context, alert *alerts.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(alert.CameraID),
		Value: sarama.ByteEncoder(payload),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send alert to kafka: %w", err)
	}

	p.logger.Debug(
		"Alert published to kafka",
		"topic", p.topic,
		"partition", partition,
		"offset", offset,
		"alert_id", alert.ID,
	)
	return nil
}

// Name identifies the producer in broadcast logs.
func (p *KafkaProducer) Name() string { return "kafka" }

// Close shuts down the underlying producer.
func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}
