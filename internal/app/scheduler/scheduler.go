// Package scheduler собирает приложение планового обнуления счётчиков
// использования: подключение к базе и периодический проход по
// подпискам с истёкшим расчётным месяцем.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/subscription-manager/internal/config"
	schedulerservice "github.com/magabrotheeeer/subscription-manager/internal/services/scheduler"
	subservice "github.com/magabrotheeeer/subscription-manager/internal/services/subscription"
	"github.com/magabrotheeeer/subscription-manager/internal/storage/repository"
)

// Интервал между проходами обнуления. Сам сброс идемпотентен:
// условная запись продвигает last_reset_date только один раз.
const resetInterval = time.Hour

// App представляет приложение планировщика.
type App struct {
	schedulerService *schedulerservice.SchedulerService
	db               *repository.Storage
	logger           *slog.Logger
}

func waitForDB(db *repository.Storage) error {
	for range 10 {
		if err := db.DB.Ping(); err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries")
}

// New создает новый экземпляр приложения планировщика.
func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}

	if err := waitForDB(db); err != nil {
		_ = db.DB.Close()
		return nil, err
	}

	subscriptionService := subservice.NewSubscriptionService(db, nil, logger)
	schedulerService := schedulerservice.NewSchedulerService(subscriptionService, logger)

	return &App{
		schedulerService: schedulerService,
		db:               db,
		logger:           logger,
	}, nil
}

// Run запускает планировщик до отмены контекста.
func (a *App) Run(ctx context.Context) error {
	a.schedulerService.RunUsageReset(ctx, resetInterval)

	a.logger.Info("shutting down scheduler service")
	if err := a.db.DB.Close(); err != nil {
		a.logger.Error("failed to close storage", slog.Any("err", err))
	}
	return nil
}
