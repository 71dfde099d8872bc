package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/bagstore/internal/model"
	"github.com/mmeshcher/bagstore/internal/repository"
	"github.com/mmeshcher/bagstore/internal/validation"
)

// ReceiptResult содержит идентификатор чека и признак повторного запроса.
type ReceiptResult struct {
	ReceiptID      int64
	AlreadyExisted bool
}

// CaptureReceipt сохраняет чек не более одного раза на пару (пользователь, номер заказа).
// Повторный вызов возвращает ранее сохранённый чек без изменений.
func (s *Service) CaptureReceipt(ctx context.Context, userID int64, orderNumber string, snap model.ReceiptSnapshot) (*ReceiptResult, error) {
	if err := validation.OrderNumber("orderId", orderNumber); err != nil {
		return nil, err
	}
	if err := validation.Totals(snap.Subtotal, snap.Shipping, snap.Total); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindReceipt(ctx, userID, orderNumber)
	switch {
	case err == nil:
		return &ReceiptResult{ReceiptID: existing.ID, AlreadyExisted: true}, nil
	case !errors.Is(err, repository.ErrReceiptNotFound):
		return nil, fmt.Errorf("find receipt: %w", err)
	}

	// Заказ мог быть удалён: чек сохраняется и без ссылки на него.
	orderID, err := s.repo.FindOrderIDByNumber(ctx, userID, orderNumber)
	if err != nil {
		return nil, fmt.Errorf("find order for receipt: %w", err)
	}

	saved, existed, err := s.repo.InsertReceipt(ctx, &model.Receipt{
		UserID:      userID,
		OrderNumber: orderNumber,
		OrderID:     orderID,
		Snapshot:    snap,
		CreatedAt:   s.clock(),
	})
	if err != nil {
		return nil, fmt.Errorf("insert receipt: %w", err)
	}

	if !existed {
		s.logger.Info("receipt captured",
			zap.Int64("receipt_id", saved.ID),
			zap.String("order_number", orderNumber),
			zap.Bool("order_linked", orderID != nil))
	}

	return &ReceiptResult{ReceiptID: saved.ID, AlreadyExisted: existed}, nil
}
