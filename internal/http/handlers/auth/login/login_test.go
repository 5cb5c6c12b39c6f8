package login

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/subscription-manager/internal/models"
	auth "github.com/magabrotheeeer/subscription-manager/internal/services/auth"
	"github.com/magabrotheeeer/subscription-manager/internal/storage/repository"
)

type AuthServiceMock struct {
	mock.Mock
}

func (m *AuthServiceMock) Login(ctx context.Context, email, rawPassword string) (*auth.TokenPair, error) {
	args := m.Called(ctx, email, rawPassword)
	pair, _ := args.Get(0).(*auth.TokenPair)
	return pair, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestLoginHandler_ServeHTTP(t *testing.T) {
	authMock := new(AuthServiceMock)
	logger := newNoopLogger()

	handler := New(logger, authMock)

	pair := &auth.TokenPair{
		AccessToken:  "tok",
		RefreshToken: "ref",
		Identity: models.Identity{
			ID:            "acc-1",
			Email:         "user@example.com",
			Role:          models.RoleUser,
			EmailVerified: true,
		},
	}

	tests := []struct {
		name           string
		requestBody    interface{}
		mockResp       *auth.TokenPair
		mockErr        error
		wantStatusCode int
		wantData       map[string]any
		wantError      string
		wantStatus     string
	}{
		{
			name:           "valid login",
			requestBody:    Request{Email: "user@example.com", Password: "Password1!"},
			mockResp:       pair,
			mockErr:        nil,
			wantStatusCode: http.StatusOK,
			wantData: map[string]any{
				"token":         "tok",
				"refresh_token": "ref",
			},
			wantError:  "",
			wantStatus: "OK",
		},
		{
			name:           "invalid json body",
			requestBody:    "not a json",
			wantStatusCode: http.StatusBadRequest,
			wantData:       nil,
			wantError:      "invalid request body",
			wantStatus:     "Error",
		},
		{
			name:           "validation error - missing password",
			requestBody:    Request{Email: "user@example.com"},
			wantStatusCode: http.StatusUnprocessableEntity,
			wantData:       nil,
			wantError:      "field Password is a required field",
			wantStatus:     "Error",
		},
		{
			name:           "invalid credentials",
			requestBody:    Request{Email: "user@example.com", Password: "Password1!"},
			mockResp:       nil,
			mockErr:        auth.ErrInvalidCredentials,
			wantStatusCode: http.StatusUnauthorized,
			wantData:       nil,
			wantError:      "invalid credentials",
			wantStatus:     "Error",
		},
		{
			name:           "account locked",
			requestBody:    Request{Email: "user@example.com", Password: "Password1!"},
			mockResp:       nil,
			mockErr:        auth.ErrAccountLocked,
			wantStatusCode: http.StatusLocked,
			wantData:       nil,
			wantError:      "account is temporarily locked",
			wantStatus:     "Error",
		},
		{
			name:           "storage unavailable",
			requestBody:    Request{Email: "user@example.com", Password: "Password1!"},
			mockResp:       nil,
			mockErr:        repository.ErrUnavailable,
			wantStatusCode: http.StatusServiceUnavailable,
			wantData:       nil,
			wantError:      "service temporarily unavailable",
			wantStatus:     "Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authMock.ExpectedCalls = nil
			authMock.Calls = nil

			if tt.mockResp != nil || tt.mockErr != nil {
				req := tt.requestBody.(Request)
				authMock.On("Login", mock.Anything, req.Email, req.Password).
					Return(tt.mockResp, tt.mockErr).Once()
			}

			var bodyBytes []byte
			var err error
			switch v := tt.requestBody.(type) {
			case string:
				bodyBytes = []byte(v)
			default:
				bodyBytes, err = json.Marshal(tt.requestBody)
				if err != nil {
					t.Fatal(err)
				}
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/login", bytes.NewReader(bodyBytes))
			req = req.WithContext(context.WithValue(req.Context(), middleware.RequestIDKey, "reqid123"))

			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatusCode, rec.Code)

			var got map[string]any
			err = json.NewDecoder(rec.Body).Decode(&got)
			assert.NoError(t, err)

			assert.Equal(t, tt.wantStatus, got["status"])

			if tt.wantError != "" {
				errStr, ok := got["error"].(string)
				assert.True(t, ok)
				assert.Equal(t, tt.wantError, errStr)
			} else {
				assert.Nil(t, got["error"])
			}

			if tt.wantData != nil {
				data, ok := got["data"].(map[string]any)
				assert.True(t, ok)
				for k, v := range tt.wantData {
					assert.Equal(t, v, data[k])
				}
			} else {
				assert.Nil(t, got["data"])
			}

			if tt.mockResp != nil || tt.mockErr != nil {
				authMock.AssertExpectations(t)
			}
		})
	}
}
