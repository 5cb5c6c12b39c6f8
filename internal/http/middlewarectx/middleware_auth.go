// Package middlewarectx содержит HTTP middleware: проверку bearer-токена
// с разрешением личности, ограничение частоты запросов и метрики.
//
// AuthMiddleware проверяет наличие и валидность JWT в заголовке
// Authorization, разрешает его в личность через сервис аутентификации
// и кладёт личность в контекст запроса для обработчиков.
package middlewarectx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/subscription-manager/internal/http/response"
	"github.com/magabrotheeeer/subscription-manager/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-manager/internal/models"
	auth "github.com/magabrotheeeer/subscription-manager/internal/services/auth"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

// IdentityKey — ключ личности вошедшего пользователя в контексте.
const IdentityKey Key = "identity"

// Service описывает интерфейс сервиса для разрешения bearer-токена.
type Service interface {
	Authenticate(ctx context.Context, accessToken string, requireVerified bool) (*models.Identity, error)
	OptionalAuthenticate(ctx context.Context, accessToken string) *models.Identity
}

// IdentityFromContext возвращает личность, положенную AuthMiddleware.
func IdentityFromContext(ctx context.Context) (models.Identity, bool) {
	identity, ok := ctx.Value(IdentityKey).(models.Identity)
	return identity, ok
}

// AuthMiddleware возвращает HTTP middleware, который проверяет JWT в
// заголовке Authorization и кладёт личность в контекст запроса.
//
// requireVerified дополнительно требует подтверждённую почту: гейт
// включается на уровне группы маршрутов, а не жёстко для всех.
func AuthMiddleware(authService Service, log *slog.Logger, requireVerified bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.AuthMiddleware"

			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Error("missing or invalid authorization header")
				w.WriteHeader(http.StatusUnauthorized)
				render.JSON(w, r, response.Error("missing or invalid authorization header"))
				return
			}
			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

			identity, err := authService.Authenticate(r.Context(), tokenStr, requireVerified)
			if err != nil {
				status, msg := authFailureStatus(err)
				log.Error("authentication failed", sl.Err(err))
				w.WriteHeader(status)
				render.JSON(w, r, response.Error(msg))
				return
			}

			ctx := context.WithValue(r.Context(), IdentityKey, *identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuthMiddleware кладёт личность в контекст, если валидный токен
// есть, и пропускает запрос анонимно в остальных случаях.
func OptionalAuthMiddleware(authService Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

			if identity := authService.OptionalAuthenticate(r.Context(), tokenStr); identity != nil {
				r = r.WithContext(context.WithValue(r.Context(), IdentityKey, *identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole пропускает запрос, только если роль личности входит в
// разрешённый набор. Ставится после AuthMiddleware.
func RequireRole(log *slog.Logger, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				w.WriteHeader(http.StatusUnauthorized)
				render.JSON(w, r, response.Error("unauthorized"))
				return
			}
			for _, role := range roles {
				if identity.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			log.Error("access denied by role",
				slog.String("role", identity.Role),
				slog.String("request_id", middleware.GetReqID(r.Context())))
			w.WriteHeader(http.StatusForbidden)
			render.JSON(w, r, response.Error("access denied"))
		})
	}
}

func authFailureStatus(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized, "token expired"
	case errors.Is(err, auth.ErrAccountLocked):
		return http.StatusLocked, "account is temporarily locked"
	case errors.Is(err, auth.ErrEmailNotVerified):
		return http.StatusForbidden, "email is not verified"
	case errors.Is(err, auth.ErrTokenInvalid), errors.Is(err, auth.ErrAccountNotFound):
		return http.StatusUnauthorized, "invalid token"
	default:
		return http.StatusUnauthorized, "invalid or expired token"
	}
}
