package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/bagstore/internal/model"
)

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)

	var got Event
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "orders" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "42" {
			return errors.New("unexpected key " + string(key))
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		return json.Unmarshal(value, &got)
	})

	p := NewKafkaPublisherFromProducer(producer, "orders", zap.NewNop())
	defer p.Close()

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := StatusChanged(model.Transition{OrderID: 42, From: model.OrderStatusProcessing, To: model.OrderStatusShipped}, at)

	require.NoError(t, p.Publish(context.Background(), e))
	assert.Equal(t, e.EventID, got.EventID)
	assert.Equal(t, TypeOrderStatusChanged, got.Type)
	assert.Equal(t, model.OrderStatusShipped, got.To)
}

func TestKafkaPublisher_PublishError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewKafkaPublisherFromProducer(producer, "orders", zap.NewNop())
	defer p.Close()

	err := p.Publish(context.Background(), OrderCreated(model.Order{ID: 1, Status: model.OrderStatusProcessing}))
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestEventIDsAreUnique(t *testing.T) {
	o := model.Order{ID: 1, UserID: 2, Number: "ORD-1", Status: model.OrderStatusProcessing}
	assert.NotEqual(t, OrderCreated(o).EventID, OrderCreated(o).EventID)
}
