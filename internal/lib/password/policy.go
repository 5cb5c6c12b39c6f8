package password

import (
	"errors"
	"unicode"
)

// MinLength - минимальная длина пароля.
const MinLength = 8

// Ошибки парольной политики. Каждое нарушение возвращается отдельной
// ошибкой, чтобы транспортный слой мог собрать человекочитаемый список.
var (
	ErrTooShort  = errors.New("password must be at least 8 characters long")
	ErrNoLower   = errors.New("password must contain a lowercase letter")
	ErrNoUpper   = errors.New("password must contain an uppercase letter")
	ErrNoDigit   = errors.New("password must contain a digit")
	ErrNoSpecial = errors.New("password must contain a special character")
)

// ValidatePolicy проверяет пароль на соответствие политике:
// не короче MinLength символов, содержит строчную и заглавную буквы,
// цифру и спецсимвол. Возвращает все найденные нарушения.
func ValidatePolicy(rawPassword string) []error {
	var violations []error
	if len(rawPassword) < MinLength {
		violations = append(violations, ErrTooShort)
	}

	var hasLower, hasUpper, hasDigit, hasSpecial bool
	for _, r := range rawPassword {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}
	if !hasLower {
		violations = append(violations, ErrNoLower)
	}
	if !hasUpper {
		violations = append(violations, ErrNoUpper)
	}
	if !hasDigit {
		violations = append(violations, ErrNoDigit)
	}
	if !hasSpecial {
		violations = append(violations, ErrNoSpecial)
	}
	return violations
}
