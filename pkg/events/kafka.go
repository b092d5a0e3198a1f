package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink writes events to a Kafka topic, keyed by asset or account.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (k *KafkaSink) Name() string { return "kafka:" + k.writer.Topic }

func (k *KafkaSink) Publish(ctx context.Context, e Event) error {
	msg, err := kafkaMessage(e)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, msg)
}

func kafkaMessage(e Event) (kafka.Message, error) {
	value, err := e.Encode()
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   e.PartitionKey(),
		Value: value,
		Time:  time.UnixMilli(e.Time),
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(e.Kind)},
		},
	}, nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
