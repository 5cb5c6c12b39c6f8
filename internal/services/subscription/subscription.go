// Package services реализует жизненный цикл подписки: создание, смену
// плана, отмену, учёт использования с квотами и переходы статусов по
// событиям биллинга. Статус подписки меняется только здесь.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/subscription-manager/internal/cache"
	"github.com/magabrotheeeer/subscription-manager/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-manager/internal/models"
	"github.com/magabrotheeeer/subscription-manager/internal/storage/repository"
)

// Ошибки уровня сервиса подписок.
var (
	// ErrSubscriptionExists - у учётной записи уже есть подписка в статусе
	// active или trialing.
	ErrSubscriptionExists = errors.New("subscription already exists")
	// ErrSubscriptionNotFound - подписка не найдена.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrQuotaExceeded - лимит отчётов за расчётный период исчерпан.
	ErrQuotaExceeded = errors.New("usage quota exceeded")
	// ErrInvalidTransition - событие требует перехода, недопустимого из
	// текущего статуса подписки.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrUnknownPlan - неизвестный тарифный план.
	ErrUnknownPlan = errors.New("unknown plan")
	// ErrUnknownBillingCycle - неизвестный расчётный цикл.
	ErrUnknownBillingCycle = errors.New("unknown billing cycle")
	// ErrUnknownUsageKind - неизвестный вид использования.
	ErrUnknownUsageKind = errors.New("unknown usage kind")
	// ErrUnknownBillingEvent - неизвестный вид события биллинга.
	ErrUnknownBillingEvent = errors.New("unknown billing event")
)

// cacheTTL - срок жизни подписки в кэше. Счётчики использования в кэше
// могут отставать, авторитетная проверка квоты выполняется условной
// записью в базе, а не по кэшу.
const cacheTTL = 5 * time.Minute

// SubscriptionRepository описывает хранилище подписок.
type SubscriptionRepository interface {
	CreateSubscription(ctx context.Context, sub models.Subscription) (string, error)
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	GetCurrentByAccount(ctx context.Context, accountID string) (*models.Subscription, error)
	GetLatestByAccount(ctx context.Context, accountID string) (*models.Subscription, error)
	UpdatePlan(ctx context.Context, id, plan string, features models.Features) (*models.Subscription, error)
	UpdateStatusFrom(ctx context.Context, id string, from []string, to string,
		canceledAt *time.Time, paymentMethod json.RawMessage) (*models.Subscription, error)
	IncrementUsage(ctx context.Context, id, kind string) (*models.Usage, error)
	ResetUsage(ctx context.Context, id string, resetAt time.Time) (*models.Subscription, error)
	ListDueForUsageReset(ctx context.Context, now time.Time) ([]*models.Subscription, error)
}

// SubscriptionCache описывает кэш действующих подписок.
type SubscriptionCache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// SubscriptionService управляет подписками поверх хранилища и кэша.
type SubscriptionService struct {
	subs  SubscriptionRepository
	cache SubscriptionCache
	log   *slog.Logger

	now func() time.Time
}

// NewSubscriptionService создает сервис подписок. Кэш необязателен:
// при nil сервис работает напрямую с хранилищем.
func NewSubscriptionService(subs SubscriptionRepository, c SubscriptionCache, log *slog.Logger) *SubscriptionService {
	return &SubscriptionService{
		subs:  subs,
		cache: c,
		log:   log,
		now:   time.Now,
	}
}

// WithClock подменяет источник времени. Используется в тестах.
func (s *SubscriptionService) WithClock(now func() time.Time) *SubscriptionService {
	s.now = now
	return s
}

// Create создает подписку для учётной записи. Расчётный период
// начинается сейчас и длится 30 дней (monthly) либо 365 дней (yearly),
// счётчики использования обнулены, снимок возможностей берётся из
// таблицы планов.
func (s *SubscriptionService) Create(ctx context.Context, accountID, plan, billingCycle string) (*models.Subscription, error) {
	const op = "services.subscription.Create"

	features, ok := PlanFeatures(plan)
	if !ok {
		return nil, fmt.Errorf("%s: %w: %q", op, ErrUnknownPlan, plan)
	}

	now := s.now()
	var periodEnd time.Time
	switch billingCycle {
	case models.CycleMonthly:
		periodEnd = now.Add(30 * 24 * time.Hour)
	case models.CycleYearly:
		periodEnd = now.Add(365 * 24 * time.Hour)
	default:
		return nil, fmt.Errorf("%s: %w: %q", op, ErrUnknownBillingCycle, billingCycle)
	}

	sub := models.Subscription{
		AccountID:          accountID,
		Plan:               plan,
		Status:             models.StatusActive,
		BillingCycle:       billingCycle,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   periodEnd,
		Features:           features,
		Usage:              models.Usage{LastResetDate: now},
	}

	id, err := s.subs.CreateSubscription(ctx, sub)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%s: %w", op, ErrSubscriptionExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sub.ID = id
	sub.CreatedAt = now

	s.invalidate(ctx, accountID)
	s.log.Info("subscription created",
		slog.String("op", op),
		sl.AccountID(accountID),
		slog.String("plan", plan))
	return &sub, nil
}

// GetByAccount возвращает действующую (active или trialing) подписку
// учётной записи, сначала заглядывая в кэш.
func (s *SubscriptionService) GetByAccount(ctx context.Context, accountID string) (*models.Subscription, error) {
	const op = "services.subscription.GetByAccount"

	if s.cache != nil {
		var cached models.Subscription
		found, err := s.cache.Get(ctx, cache.SubscriptionKey(accountID), &cached)
		if err != nil {
			s.log.Warn("cache lookup failed", slog.String("op", op), sl.Err(err))
		}
		if found {
			return &cached, nil
		}
	}

	sub, err := s.subs.GetCurrentByAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrSubscriptionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cache.SubscriptionKey(accountID), sub, cacheTTL); err != nil {
			s.log.Warn("cache store failed", slog.String("op", op), sl.Err(err))
		}
	}
	return sub, nil
}

// Get возвращает подписку по её идентификатору.
func (s *SubscriptionService) Get(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	const op = "services.subscription.Get"

	sub, err := s.subs.GetSubscription(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrSubscriptionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// ChangePlan меняет тарифный план и пересчитывает снимок возможностей.
// Счётчики использования и границы периода сохраняются. Если новый план
// совпадает с текущим, запись не меняется.
func (s *SubscriptionService) ChangePlan(ctx context.Context, subscriptionID, newPlan string) (*models.Subscription, error) {
	const op = "services.subscription.ChangePlan"

	features, ok := PlanFeatures(newPlan)
	if !ok {
		return nil, fmt.Errorf("%s: %w: %q", op, ErrUnknownPlan, newPlan)
	}

	sub, err := s.subs.GetSubscription(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrSubscriptionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if sub.Plan == newPlan {
		return sub, nil
	}

	updated, err := s.subs.UpdatePlan(ctx, subscriptionID, newPlan, features)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.invalidate(ctx, updated.AccountID)
	s.log.Info("plan changed",
		slog.String("op", op),
		sl.AccountID(updated.AccountID),
		slog.String("old_plan", sub.Plan),
		slog.String("new_plan", newPlan))
	return updated, nil
}

// Cancel переводит подписку в cancelled и фиксирует момент отмены.
// Запись сохраняется для истории; освободившееся место позволяет
// создать новую подписку. Повторная отмена - ErrInvalidTransition.
func (s *SubscriptionService) Cancel(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	const op = "services.subscription.Cancel"

	canceledAt := s.now()
	updated, err := s.subs.UpdateStatusFrom(ctx, subscriptionID,
		[]string{models.StatusActive, models.StatusTrialing, models.StatusPastDue},
		models.StatusCanceled, &canceledAt, nil)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Либо подписки нет, либо она уже покинула отменяемый статус.
			if _, getErr := s.subs.GetSubscription(ctx, subscriptionID); getErr != nil {
				return nil, fmt.Errorf("%s: %w", op, ErrSubscriptionNotFound)
			}
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidTransition)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.invalidate(ctx, updated.AccountID)
	s.log.Info("subscription cancelled",
		slog.String("op", op),
		sl.AccountID(updated.AccountID))
	return updated, nil
}

// RecordUsage учитывает единицу использования. Для kind=report запись
// условная: база отклоняет инкремент при исчерпанной квоте, и метод
// возвращает ErrQuotaExceeded. Два конкурентных вызова не могут оба
// пройти границу квоты.
//
// Кэш при этом не инвалидируется: счётчики в кэше могут отставать не
// дольше cacheTTL, а решение о квоте всегда принимает база.
func (s *SubscriptionService) RecordUsage(ctx context.Context, subscriptionID, kind string) (*models.Usage, error) {
	const op = "services.subscription.RecordUsage"

	switch kind {
	case models.UsageReport, models.UsageAPICall, models.UsageDownload:
	default:
		return nil, fmt.Errorf("%s: %w: %q", op, ErrUnknownUsageKind, kind)
	}

	usage, err := s.subs.IncrementUsage(ctx, subscriptionID, kind)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrQuotaReached):
			return nil, fmt.Errorf("%s: %w", op, ErrQuotaExceeded)
		case errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("%s: %w", op, ErrSubscriptionNotFound)
		default:
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return usage, nil
}

// ResetMonthlyUsage обнуляет счётчики использования и продвигает дату
// последнего сброса. Запускается планировщиком раз в расчётный период.
func (s *SubscriptionService) ResetMonthlyUsage(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	const op = "services.subscription.ResetMonthlyUsage"

	updated, err := s.subs.ResetUsage(ctx, subscriptionID, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrSubscriptionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.invalidate(ctx, updated.AccountID)
	return updated, nil
}

// ListDueForUsageReset возвращает подписки, которым пора сбросить
// счётчики использования.
func (s *SubscriptionService) ListDueForUsageReset(ctx context.Context) ([]*models.Subscription, error) {
	const op = "services.subscription.ListDueForUsageReset"

	subs, err := s.subs.ListDueForUsageReset(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return subs, nil
}

// Допустимые переходы статуса по видам событий биллинга. Из cancelled
// переходов нет: запись терминальна, повторная подписка - новая запись.
var billingTransitions = map[string]struct {
	from []string
	to   string
}{
	models.BillingPaymentCaptured:  {from: []string{models.StatusTrialing, models.StatusPastDue}, to: models.StatusActive},
	models.BillingPaymentFailed:    {from: []string{models.StatusActive}, to: models.StatusPastDue},
	models.BillingGraceExpired:     {from: []string{models.StatusPastDue}, to: models.StatusCanceled},
	models.BillingCancellationDone: {from: []string{models.StatusActive, models.StatusTrialing}, to: models.StatusCanceled},
}

// ApplyBillingEvent применяет проверенное платёжным контуром событие к
// последней подписке учётной записи. Переход выполняется через
// compare-and-swap по статусу: событие, пришедшее после конкурентного
// перехода, получает ErrInvalidTransition, а не затирает статус.
func (s *SubscriptionService) ApplyBillingEvent(ctx context.Context, event models.BillingEvent) (*models.Subscription, error) {
	const op = "services.subscription.ApplyBillingEvent"

	transition, ok := billingTransitions[event.Kind]
	if !ok {
		return nil, fmt.Errorf("%s: %w: %q", op, ErrUnknownBillingEvent, event.Kind)
	}

	sub, err := s.subs.GetLatestByAccount(ctx, event.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrSubscriptionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var canceledAt *time.Time
	if transition.to == models.StatusCanceled {
		now := s.now()
		canceledAt = &now
	}

	updated, err := s.subs.UpdateStatusFrom(ctx, sub.ID,
		transition.from, transition.to, canceledAt, event.PaymentMethod)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w: %s from %s", op, ErrInvalidTransition, event.Kind, sub.Status)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Событие об оплате может нести смену плана, выбранную на стороне
	// платёжного провайдера.
	if event.Kind == models.BillingPaymentCaptured && event.Plan != "" && event.Plan != updated.Plan {
		features, ok := PlanFeatures(event.Plan)
		if !ok {
			return nil, fmt.Errorf("%s: %w: %q", op, ErrUnknownPlan, event.Plan)
		}
		updated, err = s.subs.UpdatePlan(ctx, updated.ID, event.Plan, features)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	s.invalidate(ctx, updated.AccountID)
	s.log.Info("billing event applied",
		slog.String("op", op),
		sl.AccountID(updated.AccountID),
		slog.String("kind", event.Kind),
		slog.String("status", updated.Status))
	return updated, nil
}

func (s *SubscriptionService) invalidate(ctx context.Context, accountID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, cache.SubscriptionKey(accountID)); err != nil {
		s.log.Warn("cache invalidate failed", sl.AccountID(accountID), sl.Err(err))
	}
}
