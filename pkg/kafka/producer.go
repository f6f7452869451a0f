package kafka

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/ritahq/automation-mock/config"
)

// Producer wraps a Kafka producer
type Producer struct {
	producer *kafka.Producer
	config   config.KafkaConfig
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	configMap := &kafka.ConfigMap{
		"bootstrap.servers": strings.Join(cfg.Brokers, ","),
		"client.id":         cfg.ClientID,
		"acks":              "all",
		// One in-flight request so broker-side ordering matches publish order.
		"max.in.flight.requests.per.connection": 1,
	}

	if cfg.Username != "" && cfg.Password != "" {
		saslMechanism := strings.ToUpper(cfg.SASLMechanism)

		configMap.SetKey("sasl.mechanism", saslMechanism)
		configMap.SetKey("sasl.username", cfg.Username)
		configMap.SetKey("sasl.password", cfg.Password)

		if cfg.SSL {
			configMap.SetKey("security.protocol", "SASL_SSL")
		} else {
			configMap.SetKey("security.protocol", "SASL_PLAINTEXT")
		}
	}

	producer, err := kafka.NewProducer(configMap)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	go func() {
		for e := range producer.Events() {
			switch ev := e.(type) {
			case *kafka.Message:
				if ev.TopicPartition.Error != nil {
					log.Printf("kafka delivery failed: %v", ev.TopicPartition.Error)
				}
			}
		}
	}()

	return &Producer{
		producer: producer,
		config:   cfg,
	}, nil
}

// Produce sends a message to a Kafka topic (async)
func (p *Producer) Produce(topic string, key, value []byte) error {
	message := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   key,
		Value: value,
	}

	return p.producer.Produce(message, nil)
}

// ProduceSync sends a message and waits for delivery confirmation
func (p *Producer) ProduceSync(topic string, key, value []byte) error {
	deliveryChan := make(chan kafka.Event, 1)

	message := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   key,
		Value: value,
	}

	if err := p.producer.Produce(message, deliveryChan); err != nil {
		return err
	}

	e := <-deliveryChan
	m := e.(*kafka.Message)

	if m.TopicPartition.Error != nil {
		return fmt.Errorf("delivery failed: %w", m.TopicPartition.Error)
	}

	return nil
}

// PublishJSON marshals data to JSON and publishes it synchronously. The
// conversation/entity key keeps related messages on one partition.
func (p *Producer) PublishJSON(topic string, key string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	var k []byte
	if key != "" {
		k = []byte(key)
	}

	return p.ProduceSync(topic, k, jsonData)
}

// Ping reports whether the producer is usable.
func (p *Producer) Ping() error {
	if p.producer == nil {
		return fmt.Errorf("kafka producer is not initialized")
	}
	return nil
}

// Flush waits for all messages to be delivered
func (p *Producer) Flush(timeoutMs int) {
	p.producer.Flush(timeoutMs)
}

// Close closes the Kafka producer
func (p *Producer) Close() {
	if p.producer != nil {
		p.producer.Flush(5000)
		p.producer.Close()
	}
}
