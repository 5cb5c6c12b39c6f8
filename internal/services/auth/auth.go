// Package services содержит логику бизнес-уровня для работы с учётными
// записями: регистрация, вход с защитой от перебора пароля, выпуск и
// проверка пары JWT, подтверждение почты, сброс пароля и проверки
// авторизации поверх уже установленной личности.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/subscription-manager/internal/config"
	jwtlib "github.com/magabrotheeeer/subscription-manager/internal/lib/jwt"
	"github.com/magabrotheeeer/subscription-manager/internal/lib/onetime"
	"github.com/magabrotheeeer/subscription-manager/internal/lib/password"
	"github.com/magabrotheeeer/subscription-manager/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-manager/internal/models"
	"github.com/magabrotheeeer/subscription-manager/internal/storage/repository"
)

// Типизированные ошибки аутентификации и авторизации.
var (
	// ErrEmailTaken - почта уже зарегистрирована.
	ErrEmailTaken = errors.New("email already registered")
	// ErrWeakPassword - пароль не проходит политику сложности.
	ErrWeakPassword = errors.New("password does not meet the policy")
	// ErrInvalidCredentials - неверные учётные данные. Неизвестная почта
	// и неверный пароль намеренно неразличимы снаружи.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked - учётная запись временно заблокирована после
	// серии неудачных входов.
	ErrAccountLocked = errors.New("account is temporarily locked")
	// ErrEmailNotVerified - почта не подтверждена, защищённый ресурс
	// требует подтверждения.
	ErrEmailNotVerified = errors.New("email is not verified")
	// ErrAccountNotFound - токен валиден, но учётной записи уже нет.
	ErrAccountNotFound = errors.New("account not found")
	// ErrForbidden - личность установлена, но операция ей не разрешена.
	ErrForbidden = errors.New("operation is not allowed")

	// ErrTokenInvalid и ErrTokenExpired - общие для JWT и одноразовых
	// токенов ошибки, чтобы вызывающий делал единые errors.Is проверки.
	ErrTokenInvalid = jwtlib.ErrTokenInvalid
	ErrTokenExpired = jwtlib.ErrTokenExpired
)

// AccountRepository описывает контракт хранилища учётных записей.
// Методы, меняющие счётчики и блокировку, обязаны быть атомарными
// условными записями (см. репозиторий).
type AccountRepository interface {
	// CreateAccount сохраняет новую учётную запись и возвращает её ID.
	CreateAccount(ctx context.Context, account models.Account) (string, error)
	// GetAccountByEmail возвращает учётную запись по почте.
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	// GetAccount возвращает учётную запись по ID.
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	// RegisterFailedAttempt атомарно учитывает неудачный вход и
	// возвращает новое состояние счётчика и блокировки.
	RegisterFailedAttempt(ctx context.Context, id string, now time.Time, maxAttempts int, lockUntil time.Time) (int, *time.Time, error)
	// ResetLoginAttempts сбрасывает счётчик, снимает блокировку и
	// фиксирует время успешного входа.
	ResetLoginAttempts(ctx context.Context, id string, lastLogin time.Time) error
	// SetPasswordResetToken сохраняет хэш токена сброса и срок действия.
	SetPasswordResetToken(ctx context.Context, id, tokenHash string, expires time.Time) error
	// ConsumePasswordResetToken одноразово применяет токен сброса.
	ConsumePasswordResetToken(ctx context.Context, tokenHash, newPasswordHash string, now time.Time) (bool, error)
	// ConsumeEmailVerificationToken одноразово применяет токен
	// подтверждения почты.
	ConsumeEmailVerificationToken(ctx context.Context, token string, now time.Time) (bool, error)
}

// Notifier публикует почтовые уведомления. Доставка выполняется
// отдельным сервисом, движок не ждёт её результата.
type Notifier interface {
	Publish(msg models.EmailMessage) error
}

// TokenPair - выпущенная пара токенов вместе с личностью владельца.
type TokenPair struct {
	AccessToken  string          `json:"token"`
	RefreshToken string          `json:"refresh_token"`
	Identity     models.Identity `json:"identity"`
}

// AuthService отвечает за регистрацию, вход, выпуск и проверку токенов.
type AuthService struct {
	accounts AccountRepository
	jwtMaker jwtlib.Maker
	notifier Notifier
	log      *slog.Logger
	cfg      config.Auth
	now      func() time.Time
}

// NewAuthService создает новый экземпляр AuthService.
func NewAuthService(accounts AccountRepository, jwtMaker jwtlib.Maker, notifier Notifier, log *slog.Logger, cfg config.Auth) *AuthService {
	return &AuthService{
		accounts: accounts,
		jwtMaker: jwtMaker,
		notifier: notifier,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock подменяет источник времени (используется в тестах).
func (s *AuthService) WithClock(now func() time.Time) {
	s.now = now
}

// Register создает новую учётную запись с ролью "user", хэшированным
// паролем и одноразовым токеном подтверждения почты. Подписку не
// создаёт - это отдельный явный вызов SubscriptionService.
func (s *AuthService) Register(ctx context.Context, email, rawPassword string) (*models.Account, error) {
	if violations := password.ValidatePolicy(rawPassword); len(violations) > 0 {
		msgs := make([]string, 0, len(violations))
		for _, v := range violations {
			msgs = append(msgs, v.Error())
		}
		return nil, fmt.Errorf("%w: %s", ErrWeakPassword, strings.Join(msgs, ", "))
	}

	hashed, err := password.GetHash(rawPassword, s.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	verificationToken, err := onetime.NewSecret()
	if err != nil {
		return nil, err
	}
	verificationExp := s.now().Add(s.cfg.VerificationTokenTTL)

	account := models.Account{
		Email:                  normalizeEmail(email),
		PasswordHash:           hashed,
		Role:                   models.RoleUser, // дефолтная роль при регистрации
		EmailVerified:          false,
		EmailVerificationToken: &verificationToken,
		EmailVerificationExp:   &verificationExp,
	}

	id, err := s.accounts.CreateAccount(ctx, account)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	account.ID = id

	s.publishAsync(models.EmailMessage{
		To:      account.Email,
		Subject: "Подтверждение почты",
		Body:    "Ваш код подтверждения: " + verificationToken,
	})

	return &account, nil
}

// Login проверяет учётные данные, ведёт счётчик неудачных попыток и
// выпускает пару токенов.
//
// Машина состояний блокировки: пока locked_until в будущем, вход
// отклоняется до сравнения пароля; истёкшая блокировка не отменяет
// учёт текущей неудачной попытки (счётчик начинается с единицы заново).
// Неверный пароль при достижении лимита попыток выставляет блокировку
// атомарно на стороне хранилища.
func (s *AuthService) Login(ctx context.Context, email, rawPassword string) (*TokenPair, error) {
	account, err := s.accounts.GetAccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// тот же ответ, что и при неверном пароле
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	now := s.now()
	if account.IsLockedAt(now) {
		return nil, ErrAccountLocked
	}

	if err := password.CompareHash(account.PasswordHash, rawPassword); err != nil {
		attempts, lockedUntil, regErr := s.accounts.RegisterFailedAttempt(
			ctx, account.ID, now, s.cfg.MaxLoginAttempts, now.Add(s.cfg.LockDuration))
		if regErr != nil {
			return nil, regErr
		}
		if lockedUntil != nil {
			s.log.Warn("account locked after repeated failures",
				sl.AccountID(account.ID), slog.Int("attempts", attempts))
		}
		return nil, ErrInvalidCredentials
	}

	if err := s.accounts.ResetLoginAttempts(ctx, account.ID, now); err != nil {
		return nil, err
	}

	return s.issuePair(account)
}

// RefreshTokens обменивает валидный refresh-токен на новую пару.
func (s *AuthService) RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.jwtMaker.ParseRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetAccount(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if account.IsLockedAt(s.now()) {
		return nil, ErrAccountLocked
	}

	return s.issuePair(account)
}

// Authenticate разрешает bearer-токен в личность. Через эту проверку
// проходит каждый защищённый запрос.
//
// requireVerified включает требование подтверждённой почты: гейт
// настраивается на уровне защищаемого ресурса, а не жёстко для всех.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string, requireVerified bool) (*models.Identity, error) {
	claims, err := s.jwtMaker.ParseToken(accessToken)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetAccount(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// валидный токен без учётной записи отклоняется явно
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	if account.IsLockedAt(s.now()) {
		return nil, ErrAccountLocked
	}
	if requireVerified && !account.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	identity := account.Identity()
	return &identity, nil
}

// OptionalAuthenticate выполняет то же разрешение личности, но глотает
// любые сбои и возвращает nil - для ресурсов, которые отвечают
// по-разному анонимам и вошедшим без жёсткого отказа.
func (s *AuthService) OptionalAuthenticate(ctx context.Context, accessToken string) *models.Identity {
	if accessToken == "" {
		return nil
	}
	identity, err := s.Authenticate(ctx, accessToken, false)
	if err != nil {
		return nil
	}
	return identity
}

// RequestPasswordReset инициирует сброс пароля. Ответ одинаков для
// существующей и несуществующей почты, чтобы исключить перечисление
// учётных записей. В хранилище попадает только хэш секрета.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	account, err := s.accounts.GetAccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}

	secret, err := onetime.NewSecret()
	if err != nil {
		return err
	}
	expires := s.now().Add(s.cfg.ResetTokenTTL)
	if err := s.accounts.SetPasswordResetToken(ctx, account.ID, onetime.Hash(secret), expires); err != nil {
		return err
	}

	s.publishAsync(models.EmailMessage{
		To:      account.Email,
		Subject: "Сброс пароля",
		Body:    "Ваш код для сброса пароля: " + secret,
	})
	return nil
}

// ResetPassword завершает сброс по одноразовому токену: заменяет
// пароль, гасит токен и снимает действующую блокировку входа.
func (s *AuthService) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if violations := password.ValidatePolicy(newPassword); len(violations) > 0 {
		msgs := make([]string, 0, len(violations))
		for _, v := range violations {
			msgs = append(msgs, v.Error())
		}
		return fmt.Errorf("%w: %s", ErrWeakPassword, strings.Join(msgs, ", "))
	}

	newHash, err := password.GetHash(newPassword, s.cfg.BcryptCost)
	if err != nil {
		return err
	}

	ok, err := s.accounts.ConsumePasswordResetToken(ctx, onetime.Hash(rawToken), newHash, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrTokenInvalid
	}
	return nil
}

// VerifyEmail подтверждает почту по одноразовому токену.
// Повторное применение того же токена отклоняется.
func (s *AuthService) VerifyEmail(ctx context.Context, rawToken string) error {
	ok, err := s.accounts.ConsumeEmailVerificationToken(ctx, rawToken, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrTokenInvalid
	}
	return nil
}

// Authorize проверяет, что роль личности входит в разрешённый набор.
// Это авторизация поверх уже установленной личности, не аутентификация.
func (s *AuthService) Authorize(identity models.Identity, allowedRoles ...string) error {
	for _, role := range allowedRoles {
		if identity.Role == role {
			return nil
		}
	}
	return ErrForbidden
}

// CheckOwnership разрешает доступ владельцу ресурса и администратору.
func (s *AuthService) CheckOwnership(identity models.Identity, resourceOwnerID string) error {
	if identity.Role == models.RoleAdmin || identity.ID == resourceOwnerID {
		return nil
	}
	return ErrForbidden
}

func (s *AuthService) issuePair(account *models.Account) (*TokenPair, error) {
	accessToken, err := s.jwtMaker.GenerateToken(account.ID, account.Email, account.Role)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.jwtMaker.GenerateRefreshToken(account.ID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Identity:     account.Identity(),
	}, nil
}

// publishAsync отправляет уведомление не дожидаясь результата доставки.
func (s *AuthService) publishAsync(msg models.EmailMessage) {
	if s.notifier == nil {
		return
	}
	go func() {
		if err := s.notifier.Publish(msg); err != nil {
			s.log.Warn("failed to publish email notification", sl.Err(err))
		}
	}()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
