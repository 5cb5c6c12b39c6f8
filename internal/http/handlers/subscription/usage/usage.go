// Package usage реализует HTTP-обработчик учёта использования:
// просмотр отчёта, вызов API, скачивание.
//
// Решение о квоте принимает база условной записью, поэтому конкурентные
// запросы не могут вдвоём пройти границу лимита.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/subscription-manager/internal/http/middlewarectx"
	"github.com/magabrotheeeer/subscription-manager/internal/http/response"
	"github.com/magabrotheeeer/subscription-manager/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-manager/internal/models"
	subscription "github.com/magabrotheeeer/subscription-manager/internal/services/subscription"
)

// Request — структура входных данных учёта использования.
type Request struct {
	Kind string `json:"kind" validate:"required,oneof=report api download"`
}

// Service описывает интерфейс учёта использования.
type Service interface {
	GetByAccount(ctx context.Context, accountID string) (*models.Subscription, error)
	RecordUsage(ctx context.Context, subscriptionID, kind string) (*models.Usage, error)
}

// Handler обрабатывает HTTP-запросы учёта использования.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Учесть использование
// @Description Списывает единицу использования с действующей подписки текущего пользователя.
// @Tags Subscriptions
// @Accept  json
// @Produce  json
// @Param request body Request true "Вид использования"
// @Success 200 {object} map[string]any "Обновлённые счётчики"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 404 {object} response.ErrorResponse "Действующей подписки нет"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 429 {object} response.ErrorResponse "Квота отчётов исчерпана"
// @Security BearerAuth
// @Router /subscriptions/usage [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.usage"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	identity, ok := middlewarectx.IdentityFromContext(r.Context())
	if !ok {
		log.Error("identity not found in context")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	sub, err := h.service.GetByAccount(r.Context(), identity.ID)
	if err != nil {
		if errors.Is(err, subscription.ErrSubscriptionNotFound) {
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("no current subscription"))
			return
		}
		log.Error("failed to read subscription", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not record usage"))
		return
	}

	usage, err := h.service.RecordUsage(r.Context(), sub.ID, req.Kind)
	if err != nil {
		switch {
		case errors.Is(err, subscription.ErrQuotaExceeded):
			log.Error("usage quota exceeded", sl.AccountID(identity.ID))
			w.WriteHeader(http.StatusTooManyRequests)
			render.JSON(w, r, response.Error("monthly report quota exceeded"))
		case errors.Is(err, subscription.ErrSubscriptionNotFound):
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("no current subscription"))
		default:
			log.Error("failed to record usage", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not record usage"))
		}
		return
	}

	render.JSON(w, r, response.OKWithData(usage))
}
