package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/bagstore/internal/model"
	"github.com/mmeshcher/bagstore/internal/validation"
)

const (
	activityLimit     = 20
	notificationLimit = 50
)

// PointsSummary содержит баланс баллов и последние записи активности.
type PointsSummary struct {
	Points   int64
	Activity []model.Activity
}

// GetPoints возвращает баланс баллов пользователя и историю начислений.
func (s *Service) GetPoints(ctx context.Context, userID int64) (*PointsSummary, error) {
	points, err := s.repo.GetPoints(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get points: %w", err)
	}

	activity, err := s.repo.ListActivity(ctx, userID, activityLimit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}

	return &PointsSummary{Points: points, Activity: activity}, nil
}

// ListNotifications возвращает последние уведомления пользователя.
func (s *Service) ListNotifications(ctx context.Context, userID int64) ([]model.Notification, error) {
	return s.repo.ListNotifications(ctx, userID, notificationLimit)
}

// CreateReview сохраняет отзыв и начисляет баллы за него.
func (s *Service) CreateReview(ctx context.Context, rv model.Review) (int64, error) {
	if err := validation.Required("item_name", rv.ItemName); err != nil {
		return 0, err
	}
	if err := validation.Rating(rv.Rating); err != nil {
		return 0, err
	}

	rv.CreatedAt = s.clock()
	id, err := s.repo.CreateReview(ctx, rv)
	if err != nil {
		return 0, fmt.Errorf("create review: %w", err)
	}

	reviewField := zap.Int64("review_id", id)
	s.bestEffort(ctx, "award_points", func(ctx context.Context) error {
		return s.repo.AwardPoints(ctx, rv.UserID, model.PointsReview)
	}, reviewField)
	s.bestEffort(ctx, "activity", func(ctx context.Context) error {
		return s.repo.AppendActivity(ctx, model.Activity{
			UserID:        rv.UserID,
			Type:          model.ActivityReview,
			Description:   fmt.Sprintf("Reviewed %s", rv.ItemName),
			PointsAwarded: model.PointsReview,
			CreatedAt:     rv.CreatedAt,
		})
	}, reviewField)

	return id, nil
}
