package mq

import (
	"fmt"

	"github.com/IBM/sarama"

	"flirtmarket/internal/config"
)

// Producer publishes keyed messages. The key keeps one account's events on
// one partition.
type Producer struct {
	producer sarama.SyncProducer
}

func NewProducer(cfg *config.KafkaConfig) (*Producer, error) {
	kc := sarama.NewConfig()
	kc.Producer.RequiredAcks = sarama.WaitForAll
	kc.Producer.Retry.Max = 3
	kc.Producer.Return.Successes = true
	kc.Producer.Idempotent = true
	kc.Net.MaxOpenRequests = 1
	kc.Version = sarama.V2_1_0_0

	p, err := sarama.NewSyncProducer(cfg.Brokers, kc)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return &Producer{producer: p}, nil
}

// WrapProducer adapts an existing sarama producer, e.g. sarama/mocks in tests.
func WrapProducer(p sarama.SyncProducer) *Producer {
	return &Producer{producer: p}
}

func (p *Producer) Send(topic, key, value string) error {
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	})
	return err
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
