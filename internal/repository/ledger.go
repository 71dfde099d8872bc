package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/bagstore/internal/model"
)

// AwardPoints начисляет пользователю баллы.
func (r *PostgresRepository) AwardPoints(ctx context.Context, userID int64, points int64) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO user_points (user_id, points) VALUES ($1, $2)
			 ON CONFLICT (user_id) DO UPDATE SET points = user_points.points + EXCLUDED.points`,
			userID, points,
		)
		if err != nil {
			return fmt.Errorf("award points: %w", err)
		}
		return nil
	})
}

// GetPoints возвращает текущий баланс баллов пользователя.
func (r *PostgresRepository) GetPoints(ctx context.Context, userID int64) (int64, error) {
	var points int64
	err := r.pool.QueryRow(ctx,
		`SELECT points FROM user_points WHERE user_id = $1`,
		userID,
	).Scan(&points)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("select points: %w", err)
	}
	return points, nil
}

// AppendActivity добавляет запись в журнал активности пользователя.
func (r *PostgresRepository) AppendActivity(ctx context.Context, a model.Activity) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_activity (user_id, activity_type, description, points_awarded, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.UserID, string(a.Type), a.Description, a.PointsAwarded, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ListActivity возвращает журнал активности пользователя, новые записи первыми.
func (r *PostgresRepository) ListActivity(ctx context.Context, userID int64, limit int) ([]model.Activity, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, activity_type, description, points_awarded, created_at
		 FROM user_activity
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select activity: %w", err)
	}
	defer rows.Close()

	var res []model.Activity
	for rows.Next() {
		var (
			a   model.Activity
			typ string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &typ, &a.Description, &a.PointsAwarded, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Type = model.ActivityType(typ)
		res = append(res, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// IsNotificationEnabled сообщает, разрешены ли пользователю уведомления данного типа.
// Отсутствие настройки означает, что уведомления включены.
func (r *PostgresRepository) IsNotificationEnabled(ctx context.Context, userID int64, typ model.NotificationType) (bool, error) {
	var enabled bool
	err := r.pool.QueryRow(ctx,
		`SELECT enabled FROM notification_preferences WHERE user_id = $1 AND notification_type = $2`,
		userID, string(typ),
	).Scan(&enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return true, nil
		}
		return false, fmt.Errorf("select notification preference: %w", err)
	}
	return enabled, nil
}

// CreateNotification сохраняет уведомление.
func (r *PostgresRepository) CreateNotification(ctx context.Context, n model.Notification) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO notifications (user_id, notification_type, title, message, related_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		n.UserID, string(n.Type), n.Title, n.Message, n.RelatedID, n.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert notification: %w", err)
	}
	return id, nil
}

// ListNotifications возвращает уведомления пользователя, новые первыми.
func (r *PostgresRepository) ListNotifications(ctx context.Context, userID int64, limit int) ([]model.Notification, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, notification_type, title, message, related_id, is_read, created_at
		 FROM notifications
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select notifications: %w", err)
	}
	defer rows.Close()

	var res []model.Notification
	for rows.Next() {
		var (
			n   model.Notification
			typ string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &n.RelatedID, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Type = model.NotificationType(typ)
		res = append(res, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateReview сохраняет отзыв пользователя.
func (r *PostgresRepository) CreateReview(ctx context.Context, rv model.Review) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO reviews (user_id, item_name, rating, comment, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		rv.UserID, rv.ItemName, rv.Rating, rv.Comment, rv.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert review: %w", err)
	}
	return id, nil
}
