package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/subscription-manager/internal/models"
)

// ErrQuotaReached - условная запись не прошла: лимит отчётов за период
// исчерпан. Решение принимает база в том же запросе, что и инкремент,
// поэтому два конкурентных вызова не могут оба пройти границу квоты.
var ErrQuotaReached = errors.New("usage quota reached")

const subscriptionColumns = `id, account_id, plan, status, billing_cycle,
	current_period_start, current_period_end, trial_end,
	cancel_at_period_end, canceled_at,
	max_reports, historical_data, premium_reports, api_access,
	advanced_analytics, priority_support, export_formats,
	reports_viewed, api_calls_used, download_count, last_reset_date,
	payment_method, created_at`

// CreateSubscription сохраняет новую подписку и возвращает её ID.
// Частичный уникальный индекс по (account_id, status in active/trialing)
// даёт ErrDuplicate, если у учётной записи уже есть действующая подписка.
func (s *Storage) CreateSubscription(ctx context.Context, sub models.Subscription) (string, error) {
	const op = "repository.CreateSubscription"
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	formats, err := json.Marshal(sub.Features.ExportFormats)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	var newID string
	query := `INSERT INTO subscriptions (account_id, plan, status, billing_cycle,
			      current_period_start, current_period_end, trial_end,
			      max_reports, historical_data, premium_reports, api_access,
			      advanced_analytics, priority_support, export_formats,
			      last_reset_date, payment_method)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			  RETURNING id;`
	if err := s.DB.QueryRowContext(ctx, query,
		sub.AccountID, sub.Plan, sub.Status, sub.BillingCycle,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialEnd,
		sub.Features.MaxReportsPerMonth, sub.Features.HistoricalData,
		sub.Features.PremiumReports, sub.Features.APIAccess,
		sub.Features.AdvancedAnalytics, sub.Features.PrioritySupport,
		formats,
		sub.Usage.LastResetDate, nullableJSON(sub.PaymentMethod)).Scan(&newID); err != nil {
		return "", mapError(op, err)
	}
	return newID, nil
}

// GetSubscription возвращает подписку по ID.
func (s *Storage) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	const op = "repository.GetSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE id = $1`
	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(op, err)
	}
	return sub, nil
}

// GetCurrentByAccount возвращает действующую (active или trialing)
// подписку учётной записи.
func (s *Storage) GetCurrentByAccount(ctx context.Context, accountID string) (*models.Subscription, error) {
	const op = "repository.GetCurrentByAccount"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE account_id = $1 AND status IN ('active', 'trialing')
			  LIMIT 1`
	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, query, accountID))
	if err != nil {
		return nil, mapError(op, err)
	}
	return sub, nil
}

// GetLatestByAccount возвращает последнюю по времени создания подписку
// учётной записи независимо от статуса. События биллинга приходят и по
// подпискам в past_due, которые уже не считаются действующими.
func (s *Storage) GetLatestByAccount(ctx context.Context, accountID string) (*models.Subscription, error) {
	const op = "repository.GetLatestByAccount"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE account_id = $1
			  ORDER BY created_at DESC
			  LIMIT 1`
	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, query, accountID))
	if err != nil {
		return nil, mapError(op, err)
	}
	return sub, nil
}

// UpdatePlan меняет тарифный план вместе со свежим снимком возможностей.
// Счётчики использования и границы периода не трогает.
func (s *Storage) UpdatePlan(ctx context.Context, id, plan string, features models.Features) (*models.Subscription, error) {
	const op = "repository.UpdatePlan"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	formats, err := json.Marshal(features.ExportFormats)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	query := `UPDATE subscriptions
			  SET plan = $2,
			      max_reports = $3,
			      historical_data = $4,
			      premium_reports = $5,
			      api_access = $6,
			      advanced_analytics = $7,
			      priority_support = $8,
			      export_formats = $9
			  WHERE id = $1
			  RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, query, id, plan,
		features.MaxReportsPerMonth, features.HistoricalData, features.PremiumReports,
		features.APIAccess, features.AdvancedAnalytics, features.PrioritySupport,
		formats))
	if err != nil {
		return nil, mapError(op, err)
	}
	return sub, nil
}

// UpdateStatusFrom условно переводит подписку из одного из ожидаемых
// статусов в новый (compare-and-swap по полю status). Возвращает
// обновлённую запись либо ErrNotFound, если подписка отсутствует или
// уже покинула ожидаемый статус.
func (s *Storage) UpdateStatusFrom(ctx context.Context, id string, from []string, to string, canceledAt *time.Time, paymentMethod json.RawMessage) (*models.Subscription, error) {
	const op = "repository.UpdateStatusFrom"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET status = $2,
			      canceled_at = COALESCE($3, canceled_at),
			      payment_method = COALESCE($4, payment_method)
			  WHERE id = $1 AND status = ANY($5)
			  RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, query,
		id, to, canceledAt, nullableJSON(paymentMethod), from))
	if err != nil {
		return nil, mapError(op, err)
	}
	return sub, nil
}

// IncrementUsage атомарно увеличивает счётчик использования.
//
// Для kind=report инкремент условный: база отклоняет его, когда лимит
// отчётов исчерпан (сентинел -1 означает безлимит), и метод возвращает
// ErrQuotaReached. Повтор после обрыва соединения не задваивает
// инкремент сверх лимита - условие привязано к текущему значению.
func (s *Storage) IncrementUsage(ctx context.Context, id, kind string) (*models.Usage, error) {
	const op = "repository.IncrementUsage"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var query string
	switch kind {
	case models.UsageReport:
		query = `UPDATE subscriptions
				 SET reports_viewed = reports_viewed + 1
				 WHERE id = $1 AND (max_reports = -1 OR reports_viewed < max_reports)
				 RETURNING reports_viewed, api_calls_used, download_count, last_reset_date`
	case models.UsageAPICall:
		query = `UPDATE subscriptions
				 SET api_calls_used = api_calls_used + 1
				 WHERE id = $1
				 RETURNING reports_viewed, api_calls_used, download_count, last_reset_date`
	case models.UsageDownload:
		query = `UPDATE subscriptions
				 SET download_count = download_count + 1
				 WHERE id = $1
				 RETURNING reports_viewed, api_calls_used, download_count, last_reset_date`
	default:
		return nil, fmt.Errorf("%s: unknown usage kind %q", op, kind)
	}

	usage := &models.Usage{}
	err := s.DB.QueryRowContext(ctx, query, id).
		Scan(&usage.ReportsViewed, &usage.APICallsUsed, &usage.DownloadCount, &usage.LastResetDate)
	if err == nil {
		return usage, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, mapError(op, err)
	}

	// Условная запись не прошла: выясняем, нет записи или исчерпана квота.
	var exists bool
	if err := s.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM subscriptions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, mapError(op, err)
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil, fmt.Errorf("%s: %w", op, ErrQuotaReached)
}

// ResetUsage обнуляет все счётчики использования и продвигает
// last_reset_date одним запросом.
func (s *Storage) ResetUsage(ctx context.Context, id string, resetAt time.Time) (*models.Subscription, error) {
	const op = "repository.ResetUsage"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET reports_viewed = 0,
			      api_calls_used = 0,
			      download_count = 0,
			      last_reset_date = $2
			  WHERE id = $1
			  RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, query, id, resetAt))
	if err != nil {
		return nil, mapError(op, err)
	}
	return sub, nil
}

// ListDueForUsageReset возвращает действующие подписки, у которых со
// времени последнего сброса счётчиков прошло не меньше месяца.
func (s *Storage) ListDueForUsageReset(ctx context.Context, now time.Time) ([]*models.Subscription, error) {
	const op = "repository.ListDueForUsageReset"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE status IN ('active', 'trialing')
			    AND last_reset_date <= $1 - INTERVAL '30 days'`
	rows, err := s.DB.QueryContext(ctx, query, now)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscriptionRows(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		result = append(result, sub)
	}
	if err = rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row *sql.Row) (*models.Subscription, error) {
	return scanSubscriptionFrom(row)
}

func scanSubscriptionRows(rows *sql.Rows) (*models.Subscription, error) {
	return scanSubscriptionFrom(rows)
}

func scanSubscriptionFrom(row rowScanner) (*models.Subscription, error) {
	sub := &models.Subscription{}
	var trialEnd, canceledAt sql.NullTime
	var paymentMethod, exportFormats []byte

	if err := row.Scan(&sub.ID, &sub.AccountID, &sub.Plan, &sub.Status, &sub.BillingCycle,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &trialEnd,
		&sub.CancelAtPeriodEnd, &canceledAt,
		&sub.Features.MaxReportsPerMonth, &sub.Features.HistoricalData,
		&sub.Features.PremiumReports, &sub.Features.APIAccess,
		&sub.Features.AdvancedAnalytics, &sub.Features.PrioritySupport,
		&exportFormats,
		&sub.Usage.ReportsViewed, &sub.Usage.APICallsUsed, &sub.Usage.DownloadCount,
		&sub.Usage.LastResetDate,
		&paymentMethod, &sub.CreatedAt); err != nil {
		return nil, err
	}

	if trialEnd.Valid {
		sub.TrialEnd = &trialEnd.Time
	}
	if canceledAt.Valid {
		sub.CanceledAt = &canceledAt.Time
	}
	if len(paymentMethod) > 0 {
		sub.PaymentMethod = json.RawMessage(paymentMethod)
	}
	if len(exportFormats) > 0 {
		if err := json.Unmarshal(exportFormats, &sub.Features.ExportFormats); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
