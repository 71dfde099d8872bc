package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/bagstore/internal/model"
)

const receiptColumns = `id, user_id, order_number, order_id, subtotal::text, shipping::text, total::text,
	payment_method, courier_service, shipping_address, created_at`

// FindReceipt возвращает чек пользователя по номеру заказа.
func (r *PostgresRepository) FindReceipt(ctx context.Context, userID int64, orderNumber string) (*model.Receipt, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE user_id = $1 AND order_number = $2`,
		userID, orderNumber,
	)

	rc, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReceiptNotFound
		}
		return nil, fmt.Errorf("select receipt: %w", err)
	}
	return rc, nil
}

// InsertReceipt сохраняет чек, если для пары (пользователь, номер заказа) его ещё нет.
// Возвращает сохранённый чек и признак того, что он уже существовал.
func (r *PostgresRepository) InsertReceipt(ctx context.Context, rc *model.Receipt) (*model.Receipt, bool, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO receipts (user_id, order_number, order_id, subtotal, shipping, total,
			payment_method, courier_service, shipping_address, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (user_id, order_number) DO NOTHING
		 RETURNING id`,
		rc.UserID, rc.OrderNumber, rc.OrderID,
		amount(rc.Snapshot.Subtotal), amount(rc.Snapshot.Shipping), amount(rc.Snapshot.Total),
		rc.Snapshot.PaymentMethod, rc.Snapshot.CourierService, nullableJSON(rc.Snapshot.ShippingAddress),
		rc.CreatedAt,
	).Scan(&id)
	if err == nil {
		saved := *rc
		saved.ID = id
		return &saved, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert receipt: %w", err)
	}

	// Конкурентный запрос успел сохранить чек раньше.
	existing, err := r.FindReceipt(ctx, rc.UserID, rc.OrderNumber)
	if err != nil {
		return nil, false, err
	}
	return existing, true, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func scanReceipt(row pgx.Row) (*model.Receipt, error) {
	var (
		rc                        model.Receipt
		subtotal, shipping, total string
		address                   []byte
	)

	err := row.Scan(&rc.ID, &rc.UserID, &rc.OrderNumber, &rc.OrderID, &subtotal, &shipping, &total,
		&rc.Snapshot.PaymentMethod, &rc.Snapshot.CourierService, &address, &rc.CreatedAt)
	if err != nil {
		return nil, err
	}

	if rc.Snapshot.Subtotal, err = parseAmount(subtotal); err != nil {
		return nil, err
	}
	if rc.Snapshot.Shipping, err = parseAmount(shipping); err != nil {
		return nil, err
	}
	if rc.Snapshot.Total, err = parseAmount(total); err != nil {
		return nil, err
	}
	rc.Snapshot.ShippingAddress = address

	return &rc, nil
}
