// Package models содержит доменную модель учётной записи пользователя:
// данные для входа, состояние блокировки после неудачных попыток,
// одноразовые токены подтверждения почты и сброса пароля.
// Структуры используются в бизнес-логике и при работе с хранилищем.
package models

import "time"

// Роли учётных записей.
const (
	RoleUser    = "user"
	RoleAdmin   = "admin"
	RolePremium = "premium"
)

// Account представляет учётную запись пользователя системы.
//
// PasswordHash всегда непустой. Поле LockedUntil установлено только
// при активной блокировке; при её снятии FailedLoginAttempts
// сбрасывается в ноль. Email уникален без учёта регистра.
type Account struct {
	ID                     string     // Уникальный идентификатор (uuid)
	Email                  string     // Электронная почта (уникальная, хранится в нижнем регистре)
	PasswordHash           string     // bcrypt-хэш пароля
	Role                   string     // Роль: user, admin или premium
	EmailVerified          bool       // Подтверждена ли почта
	EmailVerificationToken *string    // Одноразовый токен подтверждения почты
	EmailVerificationExp   *time.Time // Срок действия токена подтверждения
	PasswordResetTokenHash *string    // SHA-256 хэш одноразового токена сброса пароля
	PasswordResetExp       *time.Time // Срок действия токена сброса
	FailedLoginAttempts    int        // Счётчик подряд идущих неудачных входов
	LockedUntil            *time.Time // Момент окончания блокировки, nil — не заблокирован
	LastLogin              *time.Time // Время последнего успешного входа
	CreatedAt              time.Time  // Время регистрации
}

// Identity - представление аутентифицированного пользователя,
// единственная форма, которая передаётся транспортному слою.
type Identity struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"email_verified"`
}

// Identity возвращает транспортное представление учётной записи без
// чувствительных полей.
func (a *Account) Identity() Identity {
	return Identity{
		ID:            a.ID,
		Email:         a.Email,
		Role:          a.Role,
		EmailVerified: a.EmailVerified,
	}
}

// IsLockedAt сообщает, действует ли блокировка на момент now.
func (a *Account) IsLockedAt(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}
