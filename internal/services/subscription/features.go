package services

import (
	"time"

	"github.com/magabrotheeeer/subscription-manager/internal/models"
)

// Таблица возможностей тарифных планов. Снимок пересчитывается при
// каждой смене плана, флаги по отдельности не выставляются.
var planFeatures = map[string]models.Features{
	models.PlanFree: {
		MaxReportsPerMonth: 3,
		ExportFormats:      []string{"pdf"},
	},
	models.PlanBasic: {
		MaxReportsPerMonth: 20,
		HistoricalData:     true,
		ExportFormats:      []string{"pdf", "excel"},
	},
	models.PlanPremium: {
		MaxReportsPerMonth: 100,
		HistoricalData:     true,
		PremiumReports:     true,
		APIAccess:          true,
		AdvancedAnalytics:  true,
		PrioritySupport:    true,
		ExportFormats:      []string{"pdf", "excel", "csv"},
	},
	models.PlanEnterprise: {
		MaxReportsPerMonth: models.UnlimitedReports,
		HistoricalData:     true,
		PremiumReports:     true,
		APIAccess:          true,
		AdvancedAnalytics:  true,
		PrioritySupport:    true,
		ExportFormats:      []string{"pdf", "excel", "csv"},
	},
}

// PlanFeatures возвращает снимок возможностей тарифного плана.
// Чистая функция; второй результат false - план неизвестен.
func PlanFeatures(plan string) (models.Features, bool) {
	f, ok := planFeatures[plan]
	if !ok {
		return models.Features{}, false
	}
	// копия среза, чтобы снимок нельзя было испортить через результат
	formats := make([]string, len(f.ExportFormats))
	copy(formats, f.ExportFormats)
	f.ExportFormats = formats
	return f, true
}

// IsActive сообщает, действует ли подписка на момент now:
// статус active и расчётный период ещё не закончился.
func IsActive(sub *models.Subscription, now time.Time) bool {
	return sub.Status == models.StatusActive && now.Before(sub.CurrentPeriodEnd)
}

// IsInTrial сообщает, находится ли подписка в пробном периоде:
// статус trialing и срок пробного периода ещё не истёк.
func IsInTrial(sub *models.Subscription, now time.Time) bool {
	return sub.Status == models.StatusTrialing &&
		sub.TrialEnd != nil && now.Before(*sub.TrialEnd)
}

// CanAccessReport проверяет по снимку возможностей, доступен ли ещё
// просмотр отчёта в текущем периоде. Чистая проверка без записи,
// фактическое списание квоты выполняет RecordUsage.
func CanAccessReport(sub *models.Subscription) bool {
	if sub.Features.MaxReportsPerMonth == models.UnlimitedReports {
		return true
	}
	return sub.Usage.ReportsViewed < sub.Features.MaxReportsPerMonth
}
