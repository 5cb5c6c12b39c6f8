// Package services (scheduler) периодически сбрасывает счётчики
// использования у подписок, чей расчётный месяц истёк.
package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/subscription-manager/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-manager/internal/models"
)

// SubscriptionUsage - срез сервиса подписок, нужный планировщику.
type SubscriptionUsage interface {
	ListDueForUsageReset(ctx context.Context) ([]*models.Subscription, error)
	ResetMonthlyUsage(ctx context.Context, subscriptionID string) (*models.Subscription, error)
}

// SchedulerService запускает регулярный сброс счётчиков использования.
type SchedulerService struct {
	subs SubscriptionUsage
	log  *slog.Logger
}

// NewSchedulerService создает новый экземпляр SchedulerService.
func NewSchedulerService(subs SubscriptionUsage, log *slog.Logger) *SchedulerService {
	return &SchedulerService{
		subs: subs,
		log:  log,
	}
}

// RunUsageReset выполняет сброс сразу и затем по тикеру, пока контекст
// не отменён.
func (s *SchedulerService) RunUsageReset(ctx context.Context, interval time.Duration) {
	s.runUsageReset(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runUsageReset(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *SchedulerService) runUsageReset(ctx context.Context) {
	s.log.Info("starting monthly usage reset pass")
	due, err := s.subs.ListDueForUsageReset(ctx)
	if err != nil {
		s.log.Error("failed to list subscriptions due for reset", sl.Err(err))
		return
	}
	if len(due) == 0 {
		s.log.Info("no subscriptions due for usage reset")
		return
	}
	s.log.Info("found subscriptions due for usage reset", slog.Int("count", len(due)))

	// сбой на одной подписке не прерывает проход, подписка будет
	// подобрана следующим тиком
	for _, sub := range due {
		if _, err := s.subs.ResetMonthlyUsage(ctx, sub.ID); err != nil {
			s.log.Error("failed to reset usage",
				slog.String("subscription_id", sub.ID), sl.Err(err))
		}
	}
}
