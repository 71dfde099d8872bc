// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/bagstore/internal/model"
)

const (
	maxOrderNumberLen = 64
	// moneyPlaces соответствует масштабу колонок NUMERIC(12,2).
	moneyPlaces = 2
)

// ErrInvalid возвращается (через FieldError) при некорректных входных данных.
var ErrInvalid = errors.New("validation failed")

// FieldError описывает ошибку валидации конкретного поля.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return ErrInvalid
}

func fieldError(field, reason string) error {
	return &FieldError{Field: field, Reason: reason}
}

// IsValidOrderNumber проверяет внешний номер заказа: непустой, не длиннее 64 символов,
// только латиница, цифры, дефис и подчёркивание.
func IsValidOrderNumber(number string) bool {
	if number == "" || len(number) > maxOrderNumberLen {
		return false
	}
	for _, ch := range number {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
		default:
			return false
		}
	}
	return true
}

// OrderNumber проверяет номер заказа и возвращает FieldError для указанного поля.
func OrderNumber(field, number string) error {
	if strings.TrimSpace(number) == "" {
		return fieldError(field, "is required")
	}
	if !IsValidOrderNumber(number) {
		return fieldError(field, "has invalid format")
	}
	return nil
}

// Required проверяет наличие строкового значения.
func Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fieldError(field, "is required")
	}
	return nil
}

// NonNegative проверяет, что денежная сумма не отрицательна и не содержит
// больше двух знаков после запятой.
func NonNegative(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return fieldError(field, "must not be negative")
	}
	if !v.Equal(v.Round(moneyPlaces)) {
		return fieldError(field, "must have at most 2 decimal places")
	}
	return nil
}

// LineTotal вычисляет стоимость позиции.
func LineTotal(price decimal.Decimal, quantity int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
}

// Totals проверяет инвариант total == subtotal + shipping.
func Totals(subtotal, shipping, total decimal.Decimal) error {
	if err := NonNegative("subtotal", subtotal); err != nil {
		return err
	}
	if err := NonNegative("shipping", shipping); err != nil {
		return err
	}
	if err := NonNegative("total", total); err != nil {
		return err
	}
	if !subtotal.Add(shipping).Equal(total) {
		return fieldError("total", fmt.Sprintf("must equal subtotal + shipping (%s)", subtotal.Add(shipping).StringFixed(2)))
	}
	return nil
}

// OrderItems проверяет позиции заказа.
func OrderItems(items []model.OrderItem) error {
	if len(items) == 0 {
		return fieldError("items", "must not be empty")
	}
	for i, it := range items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(it.Name) == "" {
			return fieldError(field+".name", "is required")
		}
		if it.Quantity <= 0 {
			return fieldError(field+".quantity", "must be positive")
		}
		if err := NonNegative(field+".price", it.Price); err != nil {
			return err
		}
	}
	return nil
}

// Rating проверяет оценку отзыва.
func Rating(rating int) error {
	if rating < 1 || rating > 5 {
		return fieldError("rating", "must be between 1 and 5")
	}
	return nil
}
