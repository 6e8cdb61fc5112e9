package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"course_market/internal/pkg/config"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// InitProducer 创建同步生产者
func InitProducer(cfg config.KafkaConfig, log *zap.Logger) (sarama.SyncProducer, error) {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	log.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Brokers))
	return producer, nil
}

// KafkaSink 以收件人 ID 为 key 发布事件，同一用户的事件落在同一分区
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	log      *zap.Logger
}

func NewKafkaSink(producer sarama.SyncProducer, topic string, log *zap.Logger) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic, log: log}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Send(ctx context.Context, event Event) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(uint64(event.RecipientID), 10)),
		Value: sarama.ByteEncoder(eventJSON),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}

	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	s.log.Debug("Notification event published",
		zap.String("topic", s.topic),
		zap.String("event_type", event.Type),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}
