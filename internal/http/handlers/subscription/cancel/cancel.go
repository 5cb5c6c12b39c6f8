// Package cancel реализует HTTP-обработчик отмены подписки.
//
// Отмена терминальна для записи: история сохраняется, возобновление -
// это создание новой подписки. Чужую подписку может отменить только
// администратор.
package cancel

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/subscription-manager/internal/http/middlewarectx"
	"github.com/magabrotheeeer/subscription-manager/internal/http/response"
	"github.com/magabrotheeeer/subscription-manager/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-manager/internal/models"
	subscription "github.com/magabrotheeeer/subscription-manager/internal/services/subscription"
)

// Service описывает интерфейс отмены подписки.
type Service interface {
	Get(ctx context.Context, subscriptionID string) (*models.Subscription, error)
	Cancel(ctx context.Context, subscriptionID string) (*models.Subscription, error)
}

// Handler обрабатывает HTTP-запросы отмены подписки.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Отменить подписку
// @Description Переводит подписку в cancelled и фиксирует момент отмены. Запись сохраняется для истории.
// @Tags Subscriptions
// @Produce  json
// @Param id path string true "ID подписки"
// @Success 200 {object} map[string]any "Отменённая подписка"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 403 {object} response.ErrorResponse "Доступ к чужой подписке запрещён"
// @Failure 404 {object} response.ErrorResponse "Подписка не найдена"
// @Failure 409 {object} response.ErrorResponse "Подписка уже отменена"
// @Security BearerAuth
// @Router /subscriptions/{id} [delete]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.cancel"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

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
		render.JSON(w, r, response.Error("could not cancel subscription"))
		return
	}

	if identity.Role != models.RoleAdmin && sub.AccountID != identity.ID {
		log.Error("access to foreign subscription denied", sl.AccountID(identity.ID))
		w.WriteHeader(http.StatusForbidden)
		render.JSON(w, r, response.Error("access denied"))
		return
	}

	cancelled, err := h.service.Cancel(r.Context(), subscriptionID)
	if err != nil {
		switch {
		case errors.Is(err, subscription.ErrInvalidTransition):
			log.Error("subscription already left a cancellable status")
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error("subscription is already cancelled"))
		case errors.Is(err, subscription.ErrSubscriptionNotFound):
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("subscription not found"))
		default:
			log.Error("failed to cancel subscription", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not cancel subscription"))
		}
		return
	}

	log.Info("subscription cancelled", slog.String("id", subscriptionID))
	render.JSON(w, r, response.OKWithData(cancelled))
}
