// Package models содержит доменные структуры подписки: тарифный план,
// статус, границы расчётного периода, снимок возможностей плана и
// счётчики использования за период.
package models

import (
	"encoding/json"
	"time"
)

// Тарифные планы.
const (
	PlanFree       = "free"
	PlanBasic      = "basic"
	PlanPremium    = "premium"
	PlanEnterprise = "enterprise"
)

// Статусы подписки.
const (
	StatusActive   = "active"
	StatusTrialing = "trialing"
	StatusPastDue  = "past_due"
	StatusCanceled = "cancelled"
	StatusInactive = "inactive"
)

// Расчётные циклы.
const (
	CycleMonthly = "monthly"
	CycleYearly  = "yearly"
)

// UnlimitedReports - сентинел «без ограничений» для MaxReportsPerMonth.
const UnlimitedReports = -1

// Features - снимок возможностей тарифного плана. Поля производны от
// плана и пересчитываются при каждой его смене, по отдельности не
// редактируются.
type Features struct {
	MaxReportsPerMonth int      `json:"max_reports_per_month"` // -1 означает без ограничений
	HistoricalData     bool     `json:"historical_data"`
	PremiumReports     bool     `json:"premium_reports"`
	APIAccess          bool     `json:"api_access"`
	AdvancedAnalytics  bool     `json:"advanced_analytics"`
	PrioritySupport    bool     `json:"priority_support"`
	ExportFormats      []string `json:"export_formats"`
}

// Usage - счётчики использования за текущий расчётный период.
// Счётчики монотонны внутри периода и обнуляются атомарно вместе
// с продвижением LastResetDate.
type Usage struct {
	ReportsViewed int       `json:"reports_viewed"`
	APICallsUsed  int       `json:"api_calls_used"`
	DownloadCount int       `json:"download_count"`
	LastResetDate time.Time `json:"last_reset_date"`
}

// Виды учитываемого использования.
const (
	UsageReport   = "report"
	UsageAPICall  = "api"
	UsageDownload = "download"
)

// Subscription представляет подписку учётной записи.
//
// На учётную запись приходится не более одной подписки в статусе
// active или trialing. Запись не удаляется после отмены - история
// сохраняется, повторная подписка создаёт новую запись.
type Subscription struct {
	ID                 string          // Уникальный идентификатор (uuid)
	AccountID          string          // Владелец подписки
	Plan               string          // Тарифный план
	Status             string          // Текущий статус
	BillingCycle       string          // monthly или yearly
	CurrentPeriodStart time.Time       // Начало расчётного периода
	CurrentPeriodEnd   time.Time       // Конец расчётного периода, всегда позже начала
	TrialEnd           *time.Time      // Конец пробного периода, nil если его нет
	CancelAtPeriodEnd  bool            // Отменить по окончании периода
	CanceledAt         *time.Time      // Момент отмены
	Features           Features        // Снимок возможностей плана
	Usage              Usage           // Счётчики за период
	PaymentMethod      json.RawMessage // Сводка платёжного метода, хранится как получена
	CreatedAt          time.Time       // Время создания записи
}

// BillingEvent - уже проверенное платёжным контуром событие биллинга.
// Подпись вебхука и протокол провайдера валидируются снаружи, сюда
// попадает только решение «подписка должна перейти в статус X».
type BillingEvent struct {
	AccountID     string          `json:"account_id" validate:"required,uuid"`
	Kind          string          `json:"kind" validate:"required"`
	Plan          string          `json:"plan,omitempty"`
	Amount        int64           `json:"amount,omitempty"`
	Currency      string          `json:"currency,omitempty"`
	PaymentMethod json.RawMessage `json:"payment_method,omitempty"`
}

// Виды событий биллинга.
const (
	BillingPaymentCaptured  = "payment_captured"  // trialing|past_due -> active
	BillingPaymentFailed    = "payment_failed"    // active -> past_due
	BillingGraceExpired     = "grace_expired"     // past_due -> cancelled
	BillingCancellationDone = "cancellation_done" // active|trialing -> cancelled
)
