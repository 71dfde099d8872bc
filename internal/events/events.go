// Package events публикует события жизненного цикла заказов во внешнюю шину.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/bagstore/internal/model"
)

// Type описывает тип события.
type Type string

const (
	TypeOrderCreated       Type = "order.created.v1"
	TypeOrderStatusChanged Type = "order.status_changed.v1"
)

// Event описывает событие по заказу.
type Event struct {
	EventID     string            `json:"eventId"`
	Type        Type              `json:"eventType"`
	OccurredAt  time.Time         `json:"occurredAt"`
	OrderID     int64             `json:"orderId"`
	UserID      int64             `json:"userId,omitempty"`
	OrderNumber string            `json:"orderNumber,omitempty"`
	From        model.OrderStatus `json:"from,omitempty"`
	To          model.OrderStatus `json:"to"`
}

// OrderCreated строит событие создания заказа.
func OrderCreated(o model.Order) Event {
	return Event{
		EventID:     uuid.NewString(),
		Type:        TypeOrderCreated,
		OccurredAt:  o.CreatedAt,
		OrderID:     o.ID,
		UserID:      o.UserID,
		OrderNumber: o.Number,
		To:          o.Status,
	}
}

// StatusChanged строит событие смены статуса.
func StatusChanged(t model.Transition, at time.Time) Event {
	return Event{
		EventID:    uuid.NewString(),
		Type:       TypeOrderStatusChanged,
		OccurredAt: at,
		OrderID:    t.OrderID,
		UserID:     t.UserID,
		From:       t.From,
		To:         t.To,
	}
}

// Publisher отправляет события.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher отбрасывает события. Используется, когда брокер не настроен.
type NopPublisher struct{}

// Publish ничего не делает.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close ничего не делает.
func (NopPublisher) Close() error { return nil }

// KafkaPublisher публикует события в Kafka. Ключом сообщения служит идентификатор заказа,
// поэтому события одного заказа попадают в одну партицию и сохраняют порядок.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewKafkaPublisher создаёт публикатор с идемпотентным продьюсером.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return NewKafkaPublisherFromProducer(producer, topic, logger), nil
}

// NewKafkaPublisherFromProducer оборачивает готовый продьюсер.
func NewKafkaPublisherFromProducer(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// Publish отправляет событие и ждёт подтверждения брокера.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(e.OrderID, 10)),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(e.Type)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	p.logger.Debug("order event published",
		zap.String("event_id", e.EventID),
		zap.String("event_type", string(e.Type)),
		zap.Int64("order_id", e.OrderID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))

	return nil
}

// Close закрывает продьюсер.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
