// Package changeplan реализует HTTP-обработчик смены тарифного плана.
//
// Смена плана пересчитывает снимок возможностей, но сохраняет счётчики
// использования и границы расчётного периода. Менять чужую подписку
// может только администратор.
package changeplan

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/subscription-manager/internal/http/middlewarectx"
	"github.com/magabrotheeeer/subscription-manager/internal/http/response"
	"github.com/magabrotheeeer/subscription-manager/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-manager/internal/models"
	subscription "github.com/magabrotheeeer/subscription-manager/internal/services/subscription"
)

// Request — структура входных данных смены плана.
type Request struct {
	Plan string `json:"plan" validate:"required,oneof=free basic premium enterprise"`
}

// Service описывает интерфейс смены тарифного плана.
type Service interface {
	Get(ctx context.Context, subscriptionID string) (*models.Subscription, error)
	ChangePlan(ctx context.Context, subscriptionID, newPlan string) (*models.Subscription, error)
}

// Handler обрабатывает HTTP-запросы смены плана.
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
// @Summary Сменить тарифный план
// @Description Меняет план подписки и пересчитывает снимок возможностей. Счётчики использования и период сохраняются.
// @Tags Subscriptions
// @Accept  json
// @Produce  json
// @Param id path string true "ID подписки"
// @Param request body Request true "Новый план"
// @Success 200 {object} map[string]any "Обновлённая подписка"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 403 {object} response.ErrorResponse "Доступ к чужой подписке запрещён"
// @Failure 404 {object} response.ErrorResponse "Подписка не найдена"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Security BearerAuth
// @Router /subscriptions/{id}/plan [put]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.changeplan"
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

	subscriptionID := chi.URLParam(r, "id")
	sub, err := h.service.Get(r.Context(), subscriptionID)
	if err != nil {
		if errors.Is(err, subscription.ErrSubscriptionNotFound) {
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("subscription not found"))
			return
		}
		log.Error("failed to read subscription", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not change plan"))
		return
	}

	if identity.Role != models.RoleAdmin && sub.AccountID != identity.ID {
		log.Error("access to foreign subscription denied", sl.AccountID(identity.ID))
		w.WriteHeader(http.StatusForbidden)
		render.JSON(w, r, response.Error("access denied"))
		return
	}

	updated, err := h.service.ChangePlan(r.Context(), subscriptionID, req.Plan)
	if err != nil {
		log.Error("failed to change plan", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not change plan"))
		return
	}

	log.Info("plan changed", slog.String("id", subscriptionID), slog.String("plan", req.Plan))
	render.JSON(w, r, response.OKWithData(updated))
}
