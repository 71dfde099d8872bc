// Package lifecycle реализует правила смены статусов заказа.
//
// Функции пакета не обращаются к хранилищу и не меняют переданные заказы,
// поэтому их можно вызывать сколько угодно раз и из нескольких воркеров.
package lifecycle

import (
	"time"

	"github.com/mmeshcher/bagstore/internal/model"
)

// Пороговые задержки по умолчанию.
const (
	DefaultShipAfter    = 90 * time.Second
	DefaultDeliverAfter = 90 * time.Second
)

// Policy задаёт задержки автоматических переходов.
type Policy struct {
	ShipAfter    time.Duration
	DeliverAfter time.Duration
}

// DefaultPolicy возвращает политику с порогами по умолчанию.
func DefaultPolicy() Policy {
	return Policy{
		ShipAfter:    DefaultShipAfter,
		DeliverAfter: DefaultDeliverAfter,
	}
}

var allowed = map[model.OrderStatus][]model.OrderStatus{
	model.OrderStatusProcessing: {model.OrderStatusShipped, model.OrderStatusCancelled},
	model.OrderStatusShipped:    {model.OrderStatusDelivered},
}

// CanTransition сообщает, допустим ли переход from -> to.
func CanTransition(from, to model.OrderStatus) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Next возвращает статус, в который заказ должен перейти к моменту now.
func Next(o model.Order, now time.Time, p Policy) (model.OrderStatus, bool) {
	if o.Status.IsTerminal() {
		return "", false
	}
	switch o.Status {
	case model.OrderStatusProcessing:
		if !now.Before(o.CreatedAt.Add(p.ShipAfter)) {
			return model.OrderStatusShipped, true
		}
	case model.OrderStatusShipped:
		if o.ShippedAt != nil && !now.Before(o.ShippedAt.Add(p.DeliverAfter)) {
			return model.OrderStatusDelivered, true
		}
	}
	return "", false
}

// Eligible отбирает заказы, готовые к автоматическому переходу.
func Eligible(orders []model.Order, now time.Time, p Policy) []model.Transition {
	var res []model.Transition
	for _, o := range orders {
		to, ok := Next(o, now, p)
		if !ok {
			continue
		}
		res = append(res, model.Transition{
			OrderID: o.ID,
			UserID:  o.UserID,
			From:    o.Status,
			To:      to,
		})
	}
	return res
}
