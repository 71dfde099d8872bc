package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/bagstore/internal/events"
	"github.com/mmeshcher/bagstore/internal/model"
)

// sideEffectTimeout ограничивает время одного побочного действия.
const sideEffectTimeout = 5 * time.Second

// bestEffort выполняет fn вне жизненного цикла запроса. Ошибка только логируется:
// основная операция к этому моменту уже зафиксирована.
func (s *Service) bestEffort(ctx context.Context, name string, fn func(ctx context.Context) error, fields ...zap.Field) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		s.logger.Warn("side effect failed",
			append([]zap.Field{zap.String("effect", name), zap.Error(err)}, fields...)...)
	}
}

func (s *Service) afterOrderCreated(ctx context.Context, o model.Order) {
	orderField := zap.Int64("order_id", o.ID)

	s.bestEffort(ctx, "award_points", func(ctx context.Context) error {
		return s.repo.AwardPoints(ctx, o.UserID, model.PointsOrderPlaced)
	}, orderField)

	s.bestEffort(ctx, "activity", func(ctx context.Context) error {
		return s.repo.AppendActivity(ctx, model.Activity{
			UserID:        o.UserID,
			Type:          model.ActivityOrderPlaced,
			Description:   fmt.Sprintf("Placed order %s", o.Number),
			PointsAwarded: model.PointsOrderPlaced,
			CreatedAt:     o.CreatedAt,
		})
	}, orderField)

	s.bestEffort(ctx, "notification", func(ctx context.Context) error {
		return s.notify(ctx, model.Notification{
			UserID:    o.UserID,
			Type:      model.NotificationOrderStatus,
			Title:     "Order placed",
			Message:   fmt.Sprintf("Your order %s has been placed and is being processed.", o.Number),
			RelatedID: &o.ID,
			CreatedAt: o.CreatedAt,
		})
	}, orderField)

	s.bestEffort(ctx, "publish", func(ctx context.Context) error {
		return s.publisher.Publish(ctx, events.OrderCreated(o))
	}, orderField)
}

func (s *Service) afterTransition(ctx context.Context, t model.Transition, at time.Time) {
	s.bestEffort(ctx, "publish", func(ctx context.Context) error {
		return s.publisher.Publish(ctx, events.StatusChanged(t, at))
	}, zap.Int64("order_id", t.OrderID), zap.String("to", string(t.To)))
}

// notify сохраняет уведомление, если пользователь не отключил уведомления этого типа.
func (s *Service) notify(ctx context.Context, n model.Notification) error {
	enabled, err := s.repo.IsNotificationEnabled(ctx, n.UserID, n.Type)
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}
	_, err = s.repo.CreateNotification(ctx, n)
	return err
}
