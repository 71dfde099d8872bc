package poller

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/bagstore/internal/model"
)

// Advancer вызывает продвижение статусов заказов.
type Advancer interface {
	Advance(ctx context.Context) (*model.AdvanceResult, int, time.Duration, error)
}

// Poller периодически вызывает Advancer до отмены контекста.
type Poller struct {
	client   Advancer
	interval time.Duration
	logger   *zap.Logger
}

// New создаёт планировщик с указанным интервалом опроса.
func New(client Advancer, interval time.Duration, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		client:   client,
		interval: interval,
		logger:   logger,
	}
}

// Run выполняет опрос до отмены контекста. Ошибки логируются: пропущенный
// проход будет выполнен на следующем тике, переходы идемпотентны.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if wait := p.poll(ctx); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
		}
	}
}

// poll выполняет один вызов и возвращает паузу, которую запросил сервер.
func (p *Poller) poll(ctx context.Context) time.Duration {
	res, code, retryAfter, err := p.client.Advance(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("advance order statuses failed", zap.Error(err), zap.Int("status", code))
		}
		return 0
	}

	if code == http.StatusTooManyRequests {
		p.logger.Info("storefront throttled poller", zap.Duration("retry_after", retryAfter))
		return retryAfter
	}

	if res != nil && (res.Shipped > 0 || res.Delivered > 0) {
		p.logger.Info("order statuses advanced",
			zap.Int("shipped", res.Shipped),
			zap.Int("delivered", res.Delivered))
	}
	return 0
}
