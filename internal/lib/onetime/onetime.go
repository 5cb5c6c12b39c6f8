// Package onetime генерирует одноразовые секреты для подтверждения
// почты и сброса пароля.
//
// Секрет сброса пароля хранится в базе только в виде SHA-256 хэша:
// компрометация хранилища не позволяет воспользоваться токеном.
package onetime

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const secretLen = 32

// NewSecret возвращает криптографически случайный секрет в hex-кодировке.
func NewSecret() (string, error) {
	const op = "onetime.NewSecret"
	buf := make([]byte, secretLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return hex.EncodeToString(buf), nil
}

// Hash возвращает SHA-256 хэш секрета в hex-кодировке.
// Детерминирован: по нему выполняется поиск при сбросе пароля.
func Hash(rawSecret string) string {
	sum := sha256.Sum256([]byte(rawSecret))
	return hex.EncodeToString(sum[:])
}
