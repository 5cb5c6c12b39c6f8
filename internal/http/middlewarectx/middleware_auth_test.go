package middlewarectx_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/subscription-manager/internal/http/middlewarectx"
	"github.com/magabrotheeeer/subscription-manager/internal/models"
	auth "github.com/magabrotheeeer/subscription-manager/internal/services/auth"
)

// Мок для сервиса аутентификации
type AuthServiceMock struct {
	mock.Mock
}

func (m *AuthServiceMock) Authenticate(ctx context.Context, accessToken string, requireVerified bool) (*models.Identity, error) {
	args := m.Called(ctx, accessToken, requireVerified)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Identity), args.Error(1)
}

func (m *AuthServiceMock) OptionalAuthenticate(ctx context.Context, accessToken string) *models.Identity {
	args := m.Called(ctx, accessToken)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*models.Identity)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestAuthMiddleware(t *testing.T) {
	identity := &models.Identity{
		ID:            "acc-1",
		Email:         "test@example.com",
		Role:          models.RoleUser,
		EmailVerified: true,
	}

	tests := []struct {
		name           string
		authHeader     string
		mockIdentity   *models.Identity
		mockErr        error
		wantStatusCode int
		wantCalled     bool
	}{
		{
			name:           "missing Authorization header",
			authHeader:     "",
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "invalid Authorization header prefix",
			authHeader:     "Basic sometoken",
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "invalid token",
			authHeader:     "Bearer token",
			mockErr:        auth.ErrTokenInvalid,
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "expired token",
			authHeader:     "Bearer token",
			mockErr:        auth.ErrTokenExpired,
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "locked account",
			authHeader:     "Bearer token",
			mockErr:        auth.ErrAccountLocked,
			wantStatusCode: http.StatusLocked,
		},
		{
			name:           "unverified email",
			authHeader:     "Bearer token",
			mockErr:        auth.ErrEmailNotVerified,
			wantStatusCode: http.StatusForbidden,
		},
		{
			name:           "valid token",
			authHeader:     "Bearer validtoken",
			mockIdentity:   identity,
			wantStatusCode: http.StatusOK,
			wantCalled:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authMock := new(AuthServiceMock)
			if tt.mockIdentity != nil || tt.mockErr != nil {
				authMock.On("Authenticate", mock.Anything,
					strings.TrimPrefix(tt.authHeader, "Bearer "), true).
					Return(tt.mockIdentity, tt.mockErr).Once()
			}

			handlerCalled := false
			nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
				got, ok := middlewarectx.IdentityFromContext(r.Context())
				assert.True(t, ok)
				assert.Equal(t, *identity, got)
				w.WriteHeader(http.StatusOK)
			})

			mw := middlewarectx.AuthMiddleware(authMock, newNoopLogger(), true)(nextHandler)

			req := httptest.NewRequest(http.MethodGet, "/somepath", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			mw.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatusCode, rec.Code)
			assert.Equal(t, tt.wantCalled, handlerCalled)
			authMock.AssertExpectations(t)
		})
	}
}

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mw := middlewarectx.RequireRole(newNoopLogger(), models.RoleAdmin)(next)

	t.Run("admin passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		ctx := context.WithValue(req.Context(), middlewarectx.IdentityKey,
			models.Identity{ID: "acc-1", Role: models.RoleAdmin})
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, req.WithContext(ctx))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("user is forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		ctx := context.WithValue(req.Context(), middlewarectx.IdentityKey,
			models.Identity{ID: "acc-1", Role: models.RoleUser})
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, req.WithContext(ctx))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing identity is unauthorized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
