package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Ошибки работы с токенами.
var (
	// ErrTokenInvalid - токен малформирован, подписан не тем секретом
	// или не несёт обязательный дискриминатор типа.
	ErrTokenInvalid = errors.New("token is invalid")
	// ErrTokenExpired - срок действия токена истёк.
	ErrTokenExpired = errors.New("token has expired")
	// ErrMissingSecret - секрет подписи не задан, движок отказывается
	// работать без него.
	ErrMissingSecret = errors.New("signing secret is not configured")
	// ErrIdenticalSecrets - секреты access и refresh совпадают.
	ErrIdenticalSecrets = errors.New("access and refresh secrets must differ")
)

// Maker описывает интерфейс для генерации и парсинга пары JWT токенов.
type Maker interface {
	// GenerateToken создаёт access-токен с id, почтой и ролью учётной записи.
	GenerateToken(accountID, email, role string) (string, error)
	// GenerateRefreshToken создаёт refresh-токен с id учётной записи.
	GenerateRefreshToken(accountID string) (string, error)
	// ParseToken проверяет access-токен и возвращает его claims.
	ParseToken(tokenStr string) (*AccessClaims, error)
	// ParseRefreshToken проверяет refresh-токен и его дискриминатор типа.
	ParseRefreshToken(tokenStr string) (*RefreshClaims, error)
}

// MakerImpl реализует интерфейс Maker на двух секретных ключах
// и временах жизни токенов (TTL).
type MakerImpl struct {
	accessSecret  string        // Секрет подписи access-токенов
	refreshSecret string        // Секрет подписи refresh-токенов
	accessTTL     time.Duration // Время жизни access-токена
	refreshTTL    time.Duration // Время жизни refresh-токена
}

// NewMaker создаёт новый экземпляр MakerImpl. Оба секрета обязаны быть
// заданы и различаться, иначе конструктор возвращает ошибку —
// небезопасный режим работы исключён.
func NewMaker(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) (*MakerImpl, error) {
	const op = "jwt.NewMaker"
	if accessSecret == "" || refreshSecret == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingSecret)
	}
	if accessSecret == refreshSecret {
		return nil, fmt.Errorf("%s: %w", op, ErrIdenticalSecrets)
	}
	return &MakerImpl{
		accessSecret:  accessSecret,
		refreshSecret: refreshSecret,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}, nil
}

// GenerateToken создает access-токен, подписанный access-секретом.
// Время жизни токена определяется полем accessTTL.
func (j *MakerImpl) GenerateToken(accountID, email, role string) (string, error) {
	claims := AccessClaims{
		AccountID: accountID,
		Email:     email,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(j.accessTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.accessSecret))
}

// GenerateRefreshToken создает refresh-токен с дискриминатором типа,
// подписанный refresh-секретом.
func (j *MakerImpl) GenerateRefreshToken(accountID string) (string, error) {
	claims := RefreshClaims{
		AccountID: accountID,
		TokenType: RefreshTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(j.refreshTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.refreshSecret))
}

// ParseToken парсит access-токен, проверяет его подпись и срок действия,
// возвращает AccessClaims, если токен корректен.
func (j *MakerImpl) ParseToken(tokenStr string) (*AccessClaims, error) {
	const op = "jwt.ParseToken"
	token, err := jwt.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(j.accessSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}
		return nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.AccountID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}
	return claims, nil
}

// ParseRefreshToken парсит refresh-токен, проверяет подпись refresh-секретом
// и требует дискриминатор типа "refresh". Access-токен, предъявленный
// вместо refresh-токена, отклоняется как невалидный.
func (j *MakerImpl) ParseRefreshToken(tokenStr string) (*RefreshClaims, error) {
	const op = "jwt.ParseRefreshToken"
	token, err := jwt.ParseWithClaims(tokenStr, &RefreshClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(j.refreshSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}
		return nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}
	claims, ok := token.Claims.(*RefreshClaims)
	if !ok || !token.Valid || claims.AccountID == "" || claims.TokenType != RefreshTokenType {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}
	return claims, nil
}
