package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/bagstore/internal/model"
)

const orderColumns = `id, user_id, order_number, status, subtotal::text, shipping::text, total::text,
	payment_method, courier_service, customer_email, customer_phone,
	created_at, status_updated_at, shipped_at, delivered_at`

// CreateOrder сохраняет заказ и его позиции в одной транзакции.
// Копия позиций дополнительно сохраняется в items_json для восстановления.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) (int64, error) {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return 0, fmt.Errorf("marshal items: %w", err)
	}

	var id int64
	err = r.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO orders (user_id, order_number, status, subtotal, shipping, total,
				payment_method, courier_service, customer_email, customer_phone, items_json,
				created_at, status_updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
			 RETURNING id`,
			o.UserID, o.Number, string(o.Status),
			amount(o.Subtotal), amount(o.Shipping), amount(o.Total),
			o.PaymentMethod, o.CourierService, o.CustomerEmail, o.CustomerPhone, itemsJSON,
			o.CreatedAt,
		).Scan(&id)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrOrderExists, o.Number)
			}
			return fmt.Errorf("insert order: %w", err)
		}

		batch := &pgx.Batch{}
		for _, it := range o.Items {
			batch.Queue(
				`INSERT INTO order_items (order_id, item_name, item_image, item_price, quantity, size, color, line_total, status)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				id, it.Name, it.Image, amount(it.Price), it.Quantity, it.Size, it.Color, amount(it.LineTotal), string(o.Status),
			)
		}

		br := tx.SendBatch(ctx, batch)
		for range o.Items {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("close batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return id, nil
}

// FindOrder возвращает заказ пользователя вместе с позициями.
func (r *PostgresRepository) FindOrder(ctx context.Context, userID, orderID int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 AND user_id = $2`,
		orderID, userID,
	)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	items, err := r.itemsByOrder(ctx, []int64{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]

	return o, nil
}

// FindOrderIDByNumber возвращает идентификатор заказа пользователя по внешнему номеру.
func (r *PostgresRepository) FindOrderIDByNumber(ctx context.Context, userID int64, number string) (*int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM orders WHERE user_id = $1 AND order_number = $2`,
		userID, number,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select order id: %w", err)
	}
	return &id, nil
}

// ListOrders возвращает заказы пользователя вместе с позициями, новые первыми.
func (r *PostgresRepository) ListOrders(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	rows.Close()

	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	items, err := r.itemsByOrder(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}

	return orders, nil
}

// ListTransitionCandidates возвращает заказы, которые могут быть готовы к автоматическому переходу.
// Метод только читает данные; окончательное решение принимает пакет lifecycle.
func (r *PostgresRepository) ListTransitionCandidates(ctx context.Context, shipCutoff, deliverCutoff time.Time, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE (status = $1 AND created_at <= $2)
		    OR (status = $3 AND shipped_at IS NOT NULL AND shipped_at <= $4)
		 ORDER BY id
		 LIMIT $5`,
		string(model.OrderStatusProcessing), shipCutoff,
		string(model.OrderStatusShipped), deliverCutoff,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select transition candidates: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// TransitionOrder атомарно переводит заказ из t.From в t.To и каскадно обновляет позиции.
// Обновление выполняется как compare-and-swap по текущему статусу; если статус уже другой,
// метод возвращает false без ошибки.
func (r *PostgresRepository) TransitionOrder(ctx context.Context, t model.Transition, now time.Time) (bool, error) {
	var applied bool
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		applied = false

		tag, err := tx.Exec(ctx,
			`UPDATE orders
			 SET status = $3,
			     status_updated_at = $4,
			     shipped_at = CASE WHEN $3 = 'shipped' THEN $4 ELSE shipped_at END,
			     delivered_at = CASE WHEN $3 = 'delivered' THEN $4 ELSE delivered_at END
			 WHERE id = $1 AND status = $2 AND ($5::bigint = 0 OR user_id = $5)`,
			t.OrderID, string(t.From), string(t.To), now, t.UserID,
		)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		if _, err := tx.Exec(ctx,
			`UPDATE order_items SET status = $2 WHERE order_id = $1`,
			t.OrderID, string(t.To),
		); err != nil {
			return fmt.Errorf("update order items: %w", err)
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return applied, nil
}

// itemsByOrder загружает позиции нескольких заказов одним запросом и группирует их по заказу.
func (r *PostgresRepository) itemsByOrder(ctx context.Context, orderIDs []int64) (map[int64][]model.OrderItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, item_name, item_image, item_price::text, quantity, size, color, line_total::text, status
		 FROM order_items
		 WHERE order_id = ANY($1)
		 ORDER BY order_id, id`,
		orderIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	items := make(map[int64][]model.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			it        model.OrderItem
			price     string
			lineTotal string
			status    string
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.Name, &it.Image, &price, &it.Quantity,
			&it.Size, &it.Color, &lineTotal, &status); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if it.Price, err = parseAmount(price); err != nil {
			return nil, err
		}
		if it.LineTotal, err = parseAmount(lineTotal); err != nil {
			return nil, err
		}
		it.Status = model.OrderStatus(status)
		items[it.OrderID] = append(items[it.OrderID], it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o                         model.Order
		status                    string
		subtotal, shipping, total string
	)

	err := row.Scan(&o.ID, &o.UserID, &o.Number, &status, &subtotal, &shipping, &total,
		&o.PaymentMethod, &o.CourierService, &o.CustomerEmail, &o.CustomerPhone,
		&o.CreatedAt, &o.StatusUpdatedAt, &o.ShippedAt, &o.DeliveredAt)
	if err != nil {
		return nil, err
	}

	o.Status = model.OrderStatus(status)
	if !o.Status.IsValid() {
		return nil, fmt.Errorf("unknown order status %q", status)
	}
	if o.Subtotal, err = parseAmount(subtotal); err != nil {
		return nil, err
	}
	if o.Shipping, err = parseAmount(shipping); err != nil {
		return nil, err
	}
	if o.Total, err = parseAmount(total); err != nil {
		return nil, err
	}

	return &o, nil
}
