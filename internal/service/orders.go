package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/bagstore/internal/lifecycle"
	"github.com/mmeshcher/bagstore/internal/model"
	"github.com/mmeshcher/bagstore/internal/repository"
	"github.com/mmeshcher/bagstore/internal/validation"
)

// transitionBatchSize ограничивает число кандидатов, читаемых одним запросом.
const transitionBatchSize = 500

// CreateOrderCommand содержит данные оформления заказа.
type CreateOrderCommand struct {
	UserID         int64
	OrderNumber    string
	Items          []model.OrderItem
	Subtotal       decimal.Decimal
	Shipping       decimal.Decimal
	Total          decimal.Decimal
	PaymentMethod  string
	CourierService string
	CustomerEmail  string
	CustomerPhone  string
}

// CreateOrderResult содержит идентификаторы созданного заказа.
type CreateOrderResult struct {
	OrderID     int64
	OrderNumber string
}

func (c CreateOrderCommand) validate() error {
	if err := validation.OrderNumber("orderId", c.OrderNumber); err != nil {
		return err
	}
	if err := validation.OrderItems(c.Items); err != nil {
		return err
	}
	if err := validation.Totals(c.Subtotal, c.Shipping, c.Total); err != nil {
		return err
	}
	if err := validation.Required("payment", c.PaymentMethod); err != nil {
		return err
	}
	return validation.Required("courier", c.CourierService)
}

// CreateOrder сохраняет заказ в статусе processing. Начисление баллов, запись активности,
// уведомление и событие выполняются после фиксации и не влияют на результат.
func (s *Service) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*CreateOrderResult, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	now := s.clock()
	order := model.Order{
		UserID:          cmd.UserID,
		Number:          cmd.OrderNumber,
		Status:          model.OrderStatusProcessing,
		Subtotal:        cmd.Subtotal,
		Shipping:        cmd.Shipping,
		Total:           cmd.Total,
		PaymentMethod:   cmd.PaymentMethod,
		CourierService:  cmd.CourierService,
		CustomerEmail:   cmd.CustomerEmail,
		CustomerPhone:   cmd.CustomerPhone,
		CreatedAt:       now,
		StatusUpdatedAt: now,
		Items:           make([]model.OrderItem, 0, len(cmd.Items)),
	}
	for _, it := range cmd.Items {
		it.LineTotal = validation.LineTotal(it.Price, it.Quantity)
		it.Status = model.OrderStatusProcessing
		order.Items = append(order.Items, it)
	}

	id, err := s.repo.CreateOrder(ctx, &order)
	if err != nil {
		if errors.Is(err, repository.ErrOrderExists) {
			return nil, fmt.Errorf("%w: %s", ErrOrderExists, cmd.OrderNumber)
		}
		return nil, fmt.Errorf("create order: %w", err)
	}
	order.ID = id

	s.logger.Info("order created",
		zap.Int64("order_id", id),
		zap.String("order_number", order.Number),
		zap.Int64("user_id", order.UserID),
		zap.Int("items", len(order.Items)))

	s.afterOrderCreated(ctx, order)

	return &CreateOrderResult{
		OrderID:     id,
		OrderNumber: order.Number,
	}, nil
}

// CancelOrder отменяет заказ пользователя, если он ещё в статусе processing.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID int64) error {
	order, err := s.repo.FindOrder(ctx, userID, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("find order: %w", err)
	}

	if order.Status != model.OrderStatusProcessing {
		return fmt.Errorf("%w: status is %s", ErrAlreadyFinalized, order.Status)
	}

	t := model.Transition{
		OrderID: orderID,
		UserID:  userID,
		From:    model.OrderStatusProcessing,
		To:      model.OrderStatusCancelled,
	}

	applied, err := s.ApplyTransition(ctx, t)
	if err != nil {
		return err
	}
	if !applied {
		// Параллельный запрос изменил статус между чтением и обновлением.
		return fmt.Errorf("%w: status changed concurrently", ErrAlreadyFinalized)
	}

	s.logger.Info("order cancelled", zap.Int64("order_id", orderID), zap.Int64("user_id", userID))
	return nil
}

// ApplyTransition атомарно применяет переход. Возвращает false, если заказ уже
// не находится в статусе t.From: повторное применение считается выполненным.
func (s *Service) ApplyTransition(ctx context.Context, t model.Transition) (bool, error) {
	if !lifecycle.CanTransition(t.From, t.To) {
		return false, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.From, t.To)
	}

	now := s.clock()
	applied, err := s.repo.TransitionOrder(ctx, t, now)
	if err != nil {
		return false, fmt.Errorf("apply transition for order %d: %w", t.OrderID, err)
	}
	if !applied {
		s.logger.Debug("transition already applied",
			zap.Int64("order_id", t.OrderID),
			zap.String("from", string(t.From)),
			zap.String("to", string(t.To)))
		return false, nil
	}

	s.afterTransition(ctx, t, now)
	return true, nil
}

// EligibleTransitions возвращает переходы, которые пора выполнить к моменту now.
// Хранилище при этом не изменяется.
func (s *Service) EligibleTransitions(ctx context.Context, now time.Time) ([]model.Transition, error) {
	transitions, _, err := s.eligibleBatch(ctx, now)
	return transitions, err
}

// eligibleBatch читает одну пачку кандидатов. full сообщает, что пачка заполнена
// и за ней могут быть ещё заказы.
func (s *Service) eligibleBatch(ctx context.Context, now time.Time) ([]model.Transition, bool, error) {
	candidates, err := s.repo.ListTransitionCandidates(ctx,
		now.Add(-s.policy.ShipAfter),
		now.Add(-s.policy.DeliverAfter),
		s.batchSize,
	)
	if err != nil {
		return nil, false, fmt.Errorf("list transition candidates: %w", err)
	}
	return lifecycle.Eligible(candidates, now, s.policy), len(candidates) >= s.batchSize, nil
}

// AdvanceStatuses выполняет все созревшие к началу вызова переходы, читая кандидатов
// пачками. Переходы, уже применённые другим воркером, не учитываются в результате.
// При ошибке хранилища проход прерывается; применённые переходы остаются в силе,
// оставшиеся заказы будут обработаны при следующем вызове.
func (s *Service) AdvanceStatuses(ctx context.Context) (model.AdvanceResult, error) {
	var res model.AdvanceResult

	now := s.clock()
	for {
		transitions, full, err := s.eligibleBatch(ctx, now)
		if err != nil {
			return res, err
		}

		applied := 0
		for _, t := range transitions {
			ok, err := s.ApplyTransition(ctx, t)
			if err != nil {
				return res, err
			}
			if !ok {
				continue
			}
			applied++
			switch t.To {
			case model.OrderStatusShipped:
				res.Shipped++
			case model.OrderStatusDelivered:
				res.Delivered++
			}
		}

		// Пачка без единого применённого перехода вернулась бы снова теми же строками.
		if !full || applied == 0 {
			break
		}
	}

	if res.Shipped > 0 || res.Delivered > 0 {
		s.logger.Info("order statuses advanced",
			zap.Int("shipped", res.Shipped),
			zap.Int("delivered", res.Delivered))
	}

	return res, nil
}

// ListOrders возвращает заказы пользователя.
func (s *Service) ListOrders(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.ListOrders(ctx, userID)
}

// StartStatusAdvance периодически продвигает статусы заказов до отмены контекста.
// При нулевом интервале сразу возвращает управление: продвижение выполняет внешний планировщик.
func (s *Service) StartStatusAdvance(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.AdvanceStatuses(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("advance order statuses", zap.Error(err))
			}
		}
	}
}
