// Package jwt реализует генерацию и парсинг пары JWT токенов:
// короткоживущего access-токена и долгоживущего refresh-токена.
//
// Токены подписываются разными секретами, поэтому утечка refresh-секрета
// не позволяет подделать access-токены и наоборот. Refresh-токен несёт
// дискриминатор типа, access-токен, предъявленный вместо refresh,
// отклоняется как невалидный.
package jwt

import (
	"github.com/golang-jwt/jwt/v5"
)

// RefreshTokenType - значение дискриминатора типа в refresh-токене.
const RefreshTokenType = "refresh"

// AccessClaims описывает полезную нагрузку access-токена:
// идентификатор учётной записи, почту и роль.
type AccessClaims struct {
	AccountID            string `json:"uid"`
	Email                string `json:"email"`
	Role                 string `json:"role"`
	jwt.RegisteredClaims        // Встроенные стандартные claims JWT (ExpiresAt, IssuedAt и пр.)
}

// RefreshClaims описывает полезную нагрузку refresh-токена.
// TokenType обязан равняться RefreshTokenType, иначе токен отклоняется.
type RefreshClaims struct {
	AccountID string `json:"uid"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}
