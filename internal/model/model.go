// Package model содержит доменные сущности сервиса заказов магазина сумок.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает этап жизненного цикла заказа.
type OrderStatus string

const (
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// IsTerminal сообщает, что из статуса нет допустимых переходов.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// IsValid проверяет, что статус входит в известный набор.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Order описывает заказ пользователя вместе с позициями.
type Order struct {
	ID              int64
	UserID          int64
	Number          string
	Status          OrderStatus
	Subtotal        decimal.Decimal
	Shipping        decimal.Decimal
	Total           decimal.Decimal
	PaymentMethod   string
	CourierService  string
	CustomerEmail   string
	CustomerPhone   string
	Items           []OrderItem
	CreatedAt       time.Time
	StatusUpdatedAt time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
}

// OrderItem описывает позицию заказа. Статус позиции повторяет статус заказа.
type OrderItem struct {
	ID        int64           `json:"-"`
	OrderID   int64           `json:"-"`
	Name      string          `json:"name"`
	Image     string          `json:"image,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Size      string          `json:"size,omitempty"`
	Color     string          `json:"color,omitempty"`
	LineTotal decimal.Decimal `json:"line_total"`
	Status    OrderStatus     `json:"-"`
}

// Transition описывает переход заказа из одного статуса в другой.
type Transition struct {
	OrderID int64
	// UserID ограничивает переход заказами пользователя; ноль означает любой заказ.
	UserID int64
	From   OrderStatus
	To     OrderStatus
}

// ReceiptSnapshot содержит итоги заказа на момент формирования чека.
type ReceiptSnapshot struct {
	Subtotal        decimal.Decimal
	Shipping        decimal.Decimal
	Total           decimal.Decimal
	PaymentMethod   string
	CourierService  string
	ShippingAddress json.RawMessage
}

// Receipt описывает неизменяемый чек по заказу.
type Receipt struct {
	ID          int64
	UserID      int64
	OrderNumber string
	OrderID     *int64
	Snapshot    ReceiptSnapshot
	CreatedAt   time.Time
}

// NotificationType описывает категорию уведомления.
type NotificationType string

const (
	NotificationOrderStatus  NotificationType = "order_status"
	NotificationCartReminder NotificationType = "cart_reminder"
)

// Notification описывает уведомление пользователя.
type Notification struct {
	ID        int64
	UserID    int64
	Type      NotificationType
	Title     string
	Message   string
	RelatedID *int64
	IsRead    bool
	CreatedAt time.Time
}

// ActivityType описывает тип записи в журнале активности.
type ActivityType string

const (
	ActivityOrderPlaced ActivityType = "order_placed"
	ActivityReview      ActivityType = "review"
)

// Баллы, начисляемые за действия пользователя.
const (
	PointsOrderPlaced = 100
	PointsReview      = 50
)

// Activity описывает запись журнала начисления баллов.
type Activity struct {
	ID            int64
	UserID        int64
	Type          ActivityType
	Description   string
	PointsAwarded int64
	CreatedAt     time.Time
}

// Review описывает отзыв пользователя о товаре.
type Review struct {
	ID        int64
	UserID    int64
	ItemName  string
	Rating    int
	Comment   string
	CreatedAt time.Time
}

// AdvanceResult содержит число заказов, переведённых в каждый статус за один проход.
type AdvanceResult struct {
	Shipped   int `json:"shipped"`
	Delivered int `json:"delivered"`
}
