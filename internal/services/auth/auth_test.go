package services_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/magabrotheeeer/subscription-manager/internal/config"
	jwtlib "github.com/magabrotheeeer/subscription-manager/internal/lib/jwt"
	"github.com/magabrotheeeer/subscription-manager/internal/lib/password"
	"github.com/magabrotheeeer/subscription-manager/internal/models"
	services "github.com/magabrotheeeer/subscription-manager/internal/services/auth"
	"github.com/magabrotheeeer/subscription-manager/internal/storage/repository"
)

// Мок для AccountRepository
type AccountRepoMock struct {
	mock.Mock
}

func (m *AccountRepoMock) CreateAccount(ctx context.Context, account models.Account) (string, error) {
	args := m.Called(ctx, account)
	return args.String(0), args.Error(1)
}

func (m *AccountRepoMock) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *AccountRepoMock) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *AccountRepoMock) RegisterFailedAttempt(ctx context.Context, id string, now time.Time, maxAttempts int, lockUntil time.Time) (int, *time.Time, error) {
	args := m.Called(ctx, id, now, maxAttempts, lockUntil)
	var locked *time.Time
	if args.Get(1) != nil {
		locked = args.Get(1).(*time.Time)
	}
	return args.Int(0), locked, args.Error(2)
}

func (m *AccountRepoMock) ResetLoginAttempts(ctx context.Context, id string, lastLogin time.Time) error {
	args := m.Called(ctx, id, lastLogin)
	return args.Error(0)
}

func (m *AccountRepoMock) SetPasswordResetToken(ctx context.Context, id, tokenHash string, expires time.Time) error {
	args := m.Called(ctx, id, tokenHash, expires)
	return args.Error(0)
}

func (m *AccountRepoMock) ConsumePasswordResetToken(ctx context.Context, tokenHash, newPasswordHash string, now time.Time) (bool, error) {
	args := m.Called(ctx, tokenHash, newPasswordHash, now)
	return args.Bool(0), args.Error(1)
}

func (m *AccountRepoMock) ConsumeEmailVerificationToken(ctx context.Context, token string, now time.Time) (bool, error) {
	args := m.Called(ctx, token, now)
	return args.Bool(0), args.Error(1)
}

// Мок для jwt.Maker
type JwtMakerMock struct {
	mock.Mock
}

func (m *JwtMakerMock) GenerateToken(accountID, email, role string) (string, error) {
	args := m.Called(accountID, email, role)
	return args.String(0), args.Error(1)
}

func (m *JwtMakerMock) GenerateRefreshToken(accountID string) (string, error) {
	args := m.Called(accountID)
	return args.String(0), args.Error(1)
}

func (m *JwtMakerMock) ParseToken(tokenStr string) (*jwtlib.AccessClaims, error) {
	args := m.Called(tokenStr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jwtlib.AccessClaims), args.Error(1)
}

func (m *JwtMakerMock) ParseRefreshToken(tokenStr string) (*jwtlib.RefreshClaims, error) {
	args := m.Called(tokenStr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jwtlib.RefreshClaims), args.Error(1)
}

func testAuthConfig() config.Auth {
	return config.Auth{
		BcryptCost:           bcrypt.MinCost, // дешёвый хэш для быстрых тестов
		MaxLoginAttempts:     5,
		LockDuration:         2 * time.Hour,
		ResetTokenTTL:        10 * time.Minute,
		VerificationTokenTTL: 24 * time.Hour,
		RequireVerifiedEmail: true,
	}
}

func newTestService(repo *AccountRepoMock, maker *JwtMakerMock, now time.Time) *services.AuthService {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := services.NewAuthService(repo, maker, nil, log, testAuthConfig())
	svc.WithClock(func() time.Time { return now })
	return svc
}

func TestAuthService_Register(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		email      string
		password   string
		setupMocks func(r *AccountRepoMock)
		wantErr    error
	}{
		{
			name:     "successful registration",
			email:    "Test@Example.com",
			password: "Aa1!aaaa",
			setupMocks: func(r *AccountRepoMock) {
				r.On("CreateAccount", mock.Anything, mock.MatchedBy(func(a models.Account) bool {
					return a.Email == "test@example.com" && // почта нормализуется
						a.PasswordHash != "" &&
						a.Role == models.RoleUser &&
						!a.EmailVerified &&
						a.EmailVerificationToken != nil &&
						a.EmailVerificationExp != nil &&
						a.EmailVerificationExp.Equal(now.Add(24*time.Hour))
				})).Return("acc-1", nil).Once()
			},
		},
		{
			name:     "email already taken",
			email:    "taken@example.com",
			password: "Aa1!aaaa",
			setupMocks: func(r *AccountRepoMock) {
				r.On("CreateAccount", mock.Anything, mock.Anything).
					Return("", repository.ErrDuplicate).Once()
			},
			wantErr: services.ErrEmailTaken,
		},
		{
			name:       "weak password rejected without touching storage",
			email:      "weak@example.com",
			password:   "password",
			setupMocks: func(_ *AccountRepoMock) {},
			wantErr:    services.ErrWeakPassword,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(AccountRepoMock)
			svc := newTestService(repo, new(JwtMakerMock), now)
			tt.setupMocks(repo)

			account, err := svc.Register(context.Background(), tt.email, tt.password)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "acc-1", account.ID)
			}
			repo.AssertExpectations(t)
		})
	}
}

func TestAuthService_Login(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rawPassword := "Aa1!aaaa"
	hashed, err := password.GetHash(rawPassword, bcrypt.MinCost)
	require.NoError(t, err)

	makeAccount := func() *models.Account {
		return &models.Account{
			ID:            "acc-1",
			Email:         "test@example.com",
			PasswordHash:  hashed,
			Role:          models.RoleUser,
			EmailVerified: true,
		}
	}

	t.Run("successful login issues token pair and resets attempts", func(t *testing.T) {
		repo := new(AccountRepoMock)
		maker := new(JwtMakerMock)
		svc := newTestService(repo, maker, now)

		repo.On("GetAccountByEmail", mock.Anything, "test@example.com").Return(makeAccount(), nil).Once()
		repo.On("ResetLoginAttempts", mock.Anything, "acc-1", now).Return(nil).Once()
		maker.On("GenerateToken", "acc-1", "test@example.com", models.RoleUser).Return("access-token", nil).Once()
		maker.On("GenerateRefreshToken", "acc-1").Return("refresh-token", nil).Once()

		pair, err := svc.Login(context.Background(), "Test@Example.com", rawPassword)
		require.NoError(t, err)
		assert.Equal(t, "access-token", pair.AccessToken)
		assert.Equal(t, "refresh-token", pair.RefreshToken)
		assert.Equal(t, "acc-1", pair.Identity.ID)

		repo.AssertExpectations(t)
		maker.AssertExpectations(t)
	})

	t.Run("unknown email and wrong password are indistinguishable", func(t *testing.T) {
		repo := new(AccountRepoMock)
		svc := newTestService(repo, new(JwtMakerMock), now)

		repo.On("GetAccountByEmail", mock.Anything, "ghost@example.com").
			Return(nil, repository.ErrNotFound).Once()
		_, errUnknown := svc.Login(context.Background(), "ghost@example.com", "whatever1!A")

		repo.On("GetAccountByEmail", mock.Anything, "test@example.com").Return(makeAccount(), nil).Once()
		repo.On("RegisterFailedAttempt", mock.Anything, "acc-1", now, 5, now.Add(2*time.Hour)).
			Return(1, nil, nil).Once()
		_, errWrong := svc.Login(context.Background(), "test@example.com", "wrongpass1!A")

		assert.ErrorIs(t, errUnknown, services.ErrInvalidCredentials)
		assert.ErrorIs(t, errWrong, services.ErrInvalidCredentials)
		assert.Equal(t, errUnknown.Error(), errWrong.Error())
		repo.AssertExpectations(t)
	})

	t.Run("failed attempt passes lock deadline to storage", func(t *testing.T) {
		repo := new(AccountRepoMock)
		svc := newTestService(repo, new(JwtMakerMock), now)

		lockedUntil := now.Add(2 * time.Hour)
		repo.On("GetAccountByEmail", mock.Anything, "test@example.com").Return(makeAccount(), nil).Once()
		// пятая неудача: хранилище сообщает, что блокировка выставлена
		repo.On("RegisterFailedAttempt", mock.Anything, "acc-1", now, 5, lockedUntil).
			Return(5, &lockedUntil, nil).Once()

		_, err := svc.Login(context.Background(), "test@example.com", "wrongpass1!A")
		assert.ErrorIs(t, err, services.ErrInvalidCredentials)
		repo.AssertExpectations(t)
	})

	t.Run("locked account rejected before password comparison", func(t *testing.T) {
		repo := new(AccountRepoMock)
		svc := newTestService(repo, new(JwtMakerMock), now)

		account := makeAccount()
		lockedUntil := now.Add(30 * time.Minute)
		account.FailedLoginAttempts = 5
		account.LockedUntil = &lockedUntil
		repo.On("GetAccountByEmail", mock.Anything, "test@example.com").Return(account, nil).Once()

		// даже с верным паролем вход отклоняется, RegisterFailedAttempt не вызывается
		_, err := svc.Login(context.Background(), "test@example.com", rawPassword)
		assert.ErrorIs(t, err, services.ErrAccountLocked)
		repo.AssertExpectations(t)
	})

	t.Run("expired lock is ignored and successful login resets attempts", func(t *testing.T) {
		repo := new(AccountRepoMock)
		maker := new(JwtMakerMock)
		svc := newTestService(repo, maker, now)

		account := makeAccount()
		expired := now.Add(-time.Minute)
		account.FailedLoginAttempts = 5
		account.LockedUntil = &expired
		repo.On("GetAccountByEmail", mock.Anything, "test@example.com").Return(account, nil).Once()
		repo.On("ResetLoginAttempts", mock.Anything, "acc-1", now).Return(nil).Once()
		maker.On("GenerateToken", "acc-1", "test@example.com", models.RoleUser).Return("access-token", nil).Once()
		maker.On("GenerateRefreshToken", "acc-1").Return("refresh-token", nil).Once()

		_, err := svc.Login(context.Background(), "test@example.com", rawPassword)
		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})
}

func TestAuthService_RefreshTokens(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	account := &models.Account{
		ID:            "acc-1",
		Email:         "test@example.com",
		Role:          models.RoleUser,
		EmailVerified: true,
	}

	t.Run("valid refresh token yields a new pair", func(t *testing.T) {
		repo := new(AccountRepoMock)
		maker := new(JwtMakerMock)
		svc := newTestService(repo, maker, now)

		maker.On("ParseRefreshToken", "refresh-token").Return(&jwtlib.RefreshClaims{
			AccountID: "acc-1",
			TokenType: jwtlib.RefreshTokenType,
		}, nil).Once()
		repo.On("GetAccount", mock.Anything, "acc-1").Return(account, nil).Once()
		maker.On("GenerateToken", "acc-1", "test@example.com", models.RoleUser).Return("new-access", nil).Once()
		maker.On("GenerateRefreshToken", "acc-1").Return("new-refresh", nil).Once()

		pair, err := svc.RefreshTokens(context.Background(), "refresh-token")
		require.NoError(t, err)
		assert.Equal(t, "new-access", pair.AccessToken)
		maker.AssertExpectations(t)
	})

	t.Run("invalid refresh token", func(t *testing.T) {
		repo := new(AccountRepoMock)
		maker := new(JwtMakerMock)
		svc := newTestService(repo, maker, now)

		maker.On("ParseRefreshToken", "bogus").Return(nil, jwtlib.ErrTokenInvalid).Once()

		_, err := svc.RefreshTokens(context.Background(), "bogus")
		assert.ErrorIs(t, err, services.ErrTokenInvalid)
	})
}

func TestAuthService_Authenticate(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	claims := &jwtlib.AccessClaims{
		AccountID: "acc-1",
		Email:     "test@example.com",
		Role:      models.RoleUser,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
		},
	}

	tests := []struct {
		name            string
		requireVerified bool
		setupMocks      func(r *AccountRepoMock, j *JwtMakerMock)
		wantErr         error
	}{
		{
			name: "valid token resolves identity",
			setupMocks: func(r *AccountRepoMock, j *JwtMakerMock) {
				j.On("ParseToken", "token").Return(claims, nil).Once()
				r.On("GetAccount", mock.Anything, "acc-1").Return(&models.Account{
					ID: "acc-1", Email: "test@example.com", Role: models.RoleUser, EmailVerified: true,
				}, nil).Once()
			},
		},
		{
			name: "invalid token",
			setupMocks: func(_ *AccountRepoMock, j *JwtMakerMock) {
				j.On("ParseToken", "token").Return(nil, jwtlib.ErrTokenInvalid).Once()
			},
			wantErr: services.ErrTokenInvalid,
		},
		{
			name: "expired token",
			setupMocks: func(_ *AccountRepoMock, j *JwtMakerMock) {
				j.On("ParseToken", "token").Return(nil, jwtlib.ErrTokenExpired).Once()
			},
			wantErr: services.ErrTokenExpired,
		},
		{
			name: "valid token but account is gone",
			setupMocks: func(r *AccountRepoMock, j *JwtMakerMock) {
				j.On("ParseToken", "token").Return(claims, nil).Once()
				r.On("GetAccount", mock.Anything, "acc-1").Return(nil, repository.ErrNotFound).Once()
			},
			wantErr: services.ErrAccountNotFound,
		},
		{
			name:            "unverified email on protected resource",
			requireVerified: true,
			setupMocks: func(r *AccountRepoMock, j *JwtMakerMock) {
				j.On("ParseToken", "token").Return(claims, nil).Once()
				r.On("GetAccount", mock.Anything, "acc-1").Return(&models.Account{
					ID: "acc-1", Email: "test@example.com", Role: models.RoleUser, EmailVerified: false,
				}, nil).Once()
			},
			wantErr: services.ErrEmailNotVerified,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(AccountRepoMock)
			maker := new(JwtMakerMock)
			svc := newTestService(repo, maker, now)
			tt.setupMocks(repo, maker)

			identity, err := svc.Authenticate(context.Background(), "token", tt.requireVerified)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "acc-1", identity.ID)
				assert.Equal(t, models.RoleUser, identity.Role)
			}
			repo.AssertExpectations(t)
			maker.AssertExpectations(t)
		})
	}
}

func TestAuthService_VerifyEmailThenLogin(t *testing.T) {
	// Сценарий: до подтверждения почты защищённый ресурс отвечает
	// EmailNotVerified, после verifyEmail вход проходит.
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := new(AccountRepoMock)
	maker := new(JwtMakerMock)
	svc := newTestService(repo, maker, now)

	claims := &jwtlib.AccessClaims{AccountID: "acc-1", Email: "a@x.com", Role: models.RoleUser}
	unverified := &models.Account{ID: "acc-1", Email: "a@x.com", Role: models.RoleUser, EmailVerified: false}
	verified := &models.Account{ID: "acc-1", Email: "a@x.com", Role: models.RoleUser, EmailVerified: true}

	maker.On("ParseToken", "token").Return(claims, nil).Twice()
	repo.On("GetAccount", mock.Anything, "acc-1").Return(unverified, nil).Once()

	_, err := svc.Authenticate(context.Background(), "token", true)
	assert.ErrorIs(t, err, services.ErrEmailNotVerified)

	repo.On("ConsumeEmailVerificationToken", mock.Anything, "raw-token", now).Return(true, nil).Once()
	require.NoError(t, svc.VerifyEmail(context.Background(), "raw-token"))

	repo.On("GetAccount", mock.Anything, "acc-1").Return(verified, nil).Once()
	identity, err := svc.Authenticate(context.Background(), "token", true)
	require.NoError(t, err)
	assert.True(t, identity.EmailVerified)

	repo.AssertExpectations(t)
}

func TestAuthService_PasswordReset(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("request for unknown email succeeds silently", func(t *testing.T) {
		repo := new(AccountRepoMock)
		svc := newTestService(repo, new(JwtMakerMock), now)

		repo.On("GetAccountByEmail", mock.Anything, "ghost@example.com").
			Return(nil, repository.ErrNotFound).Once()

		assert.NoError(t, svc.RequestPasswordReset(context.Background(), "ghost@example.com"))
		repo.AssertExpectations(t)
	})

	t.Run("request stores hash with ttl, not the raw secret", func(t *testing.T) {
		repo := new(AccountRepoMock)
		svc := newTestService(repo, new(JwtMakerMock), now)

		repo.On("GetAccountByEmail", mock.Anything, "test@example.com").
			Return(&models.Account{ID: "acc-1", Email: "test@example.com"}, nil).Once()
		repo.On("SetPasswordResetToken", mock.Anything, "acc-1",
			mock.MatchedBy(func(hash string) bool {
				return len(hash) == 64 // sha256 в hex, не сырые 32 байта секрета
			}), now.Add(10*time.Minute)).Return(nil).Once()

		assert.NoError(t, svc.RequestPasswordReset(context.Background(), "test@example.com"))
		repo.AssertExpectations(t)
	})

	t.Run("used or expired token is invalid", func(t *testing.T) {
		repo := new(AccountRepoMock)
		svc := newTestService(repo, new(JwtMakerMock), now)

		repo.On("ConsumePasswordResetToken", mock.Anything, mock.Anything, mock.Anything, now).
			Return(false, nil).Once()

		err := svc.ResetPassword(context.Background(), "already-used", "Aa1!aaaa")
		assert.ErrorIs(t, err, services.ErrTokenInvalid)
	})

	t.Run("weak new password rejected before consuming token", func(t *testing.T) {
		repo := new(AccountRepoMock)
		svc := newTestService(repo, new(JwtMakerMock), now)

		err := svc.ResetPassword(context.Background(), "raw-token", "short")
		assert.ErrorIs(t, err, services.ErrWeakPassword)
		repo.AssertExpectations(t)
	})
}

func TestAuthService_VerifyEmail_SingleUse(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := new(AccountRepoMock)
	svc := newTestService(repo, new(JwtMakerMock), now)

	repo.On("ConsumeEmailVerificationToken", mock.Anything, "raw-token", now).Return(true, nil).Once()
	repo.On("ConsumeEmailVerificationToken", mock.Anything, "raw-token", now).Return(false, nil).Once()

	require.NoError(t, svc.VerifyEmail(context.Background(), "raw-token"))
	assert.ErrorIs(t, svc.VerifyEmail(context.Background(), "raw-token"), services.ErrTokenInvalid)
	repo.AssertExpectations(t)
}

func TestAuthService_Authorize(t *testing.T) {
	svc := newTestService(new(AccountRepoMock), new(JwtMakerMock), time.Now())

	user := models.Identity{ID: "acc-1", Role: models.RoleUser}
	admin := models.Identity{ID: "acc-2", Role: models.RoleAdmin}

	assert.NoError(t, svc.Authorize(user, models.RoleUser, models.RolePremium))
	assert.ErrorIs(t, svc.Authorize(user, models.RoleAdmin), services.ErrForbidden)

	assert.NoError(t, svc.CheckOwnership(user, "acc-1"))
	assert.ErrorIs(t, svc.CheckOwnership(user, "acc-9"), services.ErrForbidden)
	// администратор проходит проверку владения для любого ресурса
	assert.NoError(t, svc.CheckOwnership(admin, "acc-9"))
}
