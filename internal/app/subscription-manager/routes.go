// Package subscriptionmanager предоставляет маршруты для основного приложения.
package subscriptionmanager

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/subscription-manager/internal/config"
	"github.com/magabrotheeeer/subscription-manager/internal/http/handlers/auth/login"
	"github.com/magabrotheeeer/subscription-manager/internal/http/handlers/auth/refresh"
	"github.com/magabrotheeeer/subscription-manager/internal/http/handlers/auth/register"
	"github.com/magabrotheeeer/subscription-manager/internal/http/handlers/auth/resetconfirm"
	"github.com/magabrotheeeer/subscription-manager/internal/http/handlers/auth/resetrequest"
	"github.com/magabrotheeeer/subscription-manager/internal/http/handlers/auth/verifyemail"
	"github.com/magabrotheeeer/subscription-manager/internal/http/handlers/billing/events"
	"github.com/magabrotheeeer/subscription-manager/internal/http/handlers/health"
	"github.com/magabrotheeeer/subscription-manager/internal/http/handlers/subscription/cancel"
	"github.com/magabrotheeeer/subscription-manager/internal/http/handlers/subscription/changeplan"
	"github.com/magabrotheeeer/subscription-manager/internal/http/handlers/subscription/create"
	"github.com/magabrotheeeer/subscription-manager/internal/http/handlers/subscription/read"
	"github.com/magabrotheeeer/subscription-manager/internal/http/handlers/subscription/usage"
	"github.com/magabrotheeeer/subscription-manager/internal/http/middlewarectx"
	authservice "github.com/magabrotheeeer/subscription-manager/internal/services/auth"
	subservice "github.com/magabrotheeeer/subscription-manager/internal/services/subscription"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config,
	authService *authservice.AuthService, subscriptionService *subservice.SubscriptionService) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
		middlewarectx.MetricsMiddleware(),
	)

	// Конечные точки с перебором учётных данных и токенов дросселируются
	authLimiter := rate.NewLimiter(rate.Limit(5), 10)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки
		r.Post("/refresh", refresh.New(logger, authService).ServeHTTP)
		r.Post("/email/verify", verifyemail.New(logger, authService).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimitMiddleware(logger, authLimiter))
			r.Post("/register", register.New(logger, authService).ServeHTTP)
			r.Post("/login", login.New(logger, authService).ServeHTTP)
			r.Post("/password/reset", resetrequest.New(logger, authService).ServeHTTP)
			r.Post("/password/reset/confirm", resetconfirm.New(logger, authService).ServeHTTP)
		})

		// События от платёжного контура, подпись проверена до нас
		r.Post("/billing/events", events.New(logger, subscriptionService).ServeHTTP)

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.AuthMiddleware(authService, logger, cfg.RequireVerifiedEmail))
			r.Post("/subscriptions", create.New(logger, subscriptionService).ServeHTTP)
			r.Get("/subscriptions/current", read.New(logger, subscriptionService).ServeHTTP)
			r.Put("/subscriptions/{id}/plan", changeplan.New(logger, subscriptionService).ServeHTTP)
			r.Delete("/subscriptions/{id}", cancel.New(logger, subscriptionService).ServeHTTP)
			r.Post("/subscriptions/usage", usage.New(logger, subscriptionService).ServeHTTP)
		})
	})

	r.Get("/health", health.New(logger).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
