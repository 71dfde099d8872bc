// Package service реализует бизнес-логику жизненного цикла заказов.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/bagstore/internal/events"
	"github.com/mmeshcher/bagstore/internal/lifecycle"
	"github.com/mmeshcher/bagstore/internal/model"
	"github.com/mmeshcher/bagstore/internal/repository"
	"github.com/mmeshcher/bagstore/internal/validation"
)

var (
	// ErrValidation возвращается при некорректных входных данных.
	ErrValidation = validation.ErrInvalid
	// ErrNotFound возвращается, если заказ не найден или принадлежит другому пользователю.
	ErrNotFound = errors.New("order not found")
	// ErrAlreadyFinalized возвращается при попытке отменить заказ не в статусе processing.
	ErrAlreadyFinalized = errors.New("order already finalized")
	// ErrOrderExists возвращается при повторном создании заказа с тем же номером.
	ErrOrderExists = repository.ErrOrderExists
	// ErrIllegalTransition возвращается при запросе перехода, не разрешённого жизненным циклом.
	ErrIllegalTransition = errors.New("illegal status transition")
)

// OrderStore описывает хранилище заказов и чеков.
type OrderStore interface {
	CreateOrder(ctx context.Context, o *model.Order) (int64, error)
	FindOrder(ctx context.Context, userID, orderID int64) (*model.Order, error)
	FindOrderIDByNumber(ctx context.Context, userID int64, number string) (*int64, error)
	ListOrders(ctx context.Context, userID int64) ([]model.Order, error)
	ListTransitionCandidates(ctx context.Context, shipCutoff, deliverCutoff time.Time, limit int) ([]model.Order, error)
	TransitionOrder(ctx context.Context, t model.Transition, now time.Time) (bool, error)
	FindReceipt(ctx context.Context, userID int64, orderNumber string) (*model.Receipt, error)
	InsertReceipt(ctx context.Context, rc *model.Receipt) (*model.Receipt, bool, error)
}

// Ledger описывает журнал баллов и активности пользователя.
type Ledger interface {
	AwardPoints(ctx context.Context, userID int64, points int64) error
	GetPoints(ctx context.Context, userID int64) (int64, error)
	AppendActivity(ctx context.Context, a model.Activity) error
	ListActivity(ctx context.Context, userID int64, limit int) ([]model.Activity, error)
	CreateReview(ctx context.Context, rv model.Review) (int64, error)
}

// NotificationStore описывает настройки и хранилище уведомлений.
type NotificationStore interface {
	IsNotificationEnabled(ctx context.Context, userID int64, typ model.NotificationType) (bool, error)
	CreateNotification(ctx context.Context, n model.Notification) (int64, error)
	ListNotifications(ctx context.Context, userID int64, limit int) ([]model.Notification, error)
}

// Repository объединяет все хранилища, используемые сервисом.
type Repository interface {
	OrderStore
	Ledger
	NotificationStore
	Close() error
}

// Service содержит бизнес-логику сервиса заказов.
type Service struct {
	repo      Repository
	publisher events.Publisher
	logger    *zap.Logger
	policy    lifecycle.Policy
	batchSize int
	now       func() time.Time
}

// NewService создаёт сервис с указанным хранилищем, публикатором событий и порогами переходов.
func NewService(repo Repository, publisher events.Publisher, logger *zap.Logger, policy lifecycle.Policy) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		policy:    policy,
		batchSize: transitionBatchSize,
		now:       time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	var errs []error
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	if s.repo != nil {
		errs = append(errs, s.repo.Close())
	}
	return errors.Join(errs...)
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}
