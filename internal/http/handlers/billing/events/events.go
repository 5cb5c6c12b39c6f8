// Package events реализует HTTP-обработчик событий биллинга.
//
// Сюда попадают уже проверенные платёжным контуром события: подпись
// вебхука и протокол провайдера валидируются до этого обработчика.
// Событие переводит последнюю подписку учётной записи по машине
// статусов; недопустимый переход отклоняется конфликтом.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/subscription-manager/internal/http/response"
	"github.com/magabrotheeeer/subscription-manager/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-manager/internal/models"
	subscription "github.com/magabrotheeeer/subscription-manager/internal/services/subscription"
)

// Service описывает интерфейс применения события биллинга.
type Service interface {
	ApplyBillingEvent(ctx context.Context, event models.BillingEvent) (*models.Subscription, error)
}

// Handler обрабатывает HTTP-запросы с событиями биллинга.
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
// @Summary Событие биллинга
// @Description Применяет проверенное событие платёжного контура к подписке учётной записи.
// @Tags Billing
// @Accept  json
// @Produce  json
// @Param request body models.BillingEvent true "Событие биллинга"
// @Success 200 {object} map[string]any "Обновлённая подписка"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 404 {object} response.ErrorResponse "Подписка не найдена"
// @Failure 409 {object} response.ErrorResponse "Недопустимый переход статуса"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации или неизвестное событие"
// @Router /billing/events [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.events"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var event models.BillingEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(event); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	sub, err := h.service.ApplyBillingEvent(r.Context(), event)
	if err != nil {
		switch {
		case errors.Is(err, subscription.ErrUnknownBillingEvent):
			log.Error("unknown billing event kind", slog.String("kind", event.Kind))
			w.WriteHeader(http.StatusUnprocessableEntity)
			render.JSON(w, r, response.Error("unknown billing event kind"))
		case errors.Is(err, subscription.ErrInvalidTransition):
			log.Error("invalid status transition", sl.Err(err))
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error("invalid status transition"))
		case errors.Is(err, subscription.ErrSubscriptionNotFound):
			log.Error("subscription not found", sl.AccountID(event.AccountID))
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("subscription not found"))
		default:
			log.Error("failed to apply billing event", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not apply billing event"))
		}
		return
	}

	log.Info("billing event applied",
		slog.String("kind", event.Kind), slog.String("status", sub.Status))
	render.JSON(w, r, response.OKWithData(sub))
}
