package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/magabrotheeeer/subscription-manager/internal/models"
)

const accountColumns = `id, email, password_hash, role, email_verified,
	email_verification_token, email_verification_expires,
	password_reset_token_hash, password_reset_expires,
	failed_login_attempts, locked_until, last_login, created_at`

// CreateAccount сохраняет новую учётную запись и возвращает её ID.
// При занятой почте возвращает ErrDuplicate.
func (s *Storage) CreateAccount(ctx context.Context, account models.Account) (string, error) {
	const op = "repository.CreateAccount"
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var newID string
	query := `INSERT INTO accounts (email, password_hash, role, email_verified,
			      email_verification_token, email_verification_expires)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  RETURNING id;`
	if err := s.DB.QueryRowContext(ctx, query,
		account.Email, account.PasswordHash, account.Role, account.EmailVerified,
		account.EmailVerificationToken, account.EmailVerificationExp).Scan(&newID); err != nil {
		return "", mapError(op, err)
	}
	return newID, nil
}

// GetAccountByEmail возвращает учётную запись по почте (без учёта регистра).
func (s *Storage) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	const op = "repository.GetAccountByEmail"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + accountColumns + `
			  FROM accounts
			  WHERE email = LOWER($1)`
	row := s.DB.QueryRowContext(ctx, query, email)
	account, err := scanAccount(row)
	if err != nil {
		return nil, mapError(op, err)
	}
	return account, nil
}

// GetAccount возвращает учётную запись по ID.
func (s *Storage) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	const op = "repository.GetAccount"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + accountColumns + `
			  FROM accounts
			  WHERE id = $1`
	row := s.DB.QueryRowContext(ctx, query, id)
	account, err := scanAccount(row)
	if err != nil {
		return nil, mapError(op, err)
	}
	return account, nil
}

// RegisterFailedAttempt атомарно учитывает неудачную попытку входа.
//
// Если прежняя блокировка уже истекла, счётчик начинается заново с
// единицы и блокировка снимается. Иначе счётчик увеличивается, и при
// достижении maxAttempts выставляется locked_until = lockUntil.
// Решение о блокировке принимает сама база: одновременные неудачные
// попытки не теряют инкременты.
func (s *Storage) RegisterFailedAttempt(ctx context.Context, id string, now time.Time, maxAttempts int, lockUntil time.Time) (int, *time.Time, error) {
	const op = "repository.RegisterFailedAttempt"
	select {
	case <-ctx.Done():
		return 0, nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE accounts
			  SET failed_login_attempts = CASE
			          WHEN locked_until IS NOT NULL AND locked_until <= $2 THEN 1
			          ELSE failed_login_attempts + 1
			      END,
			      locked_until = CASE
			          WHEN locked_until IS NOT NULL AND locked_until <= $2 THEN NULL
			          WHEN failed_login_attempts + 1 >= $3 THEN $4
			          ELSE locked_until
			      END
			  WHERE id = $1
			  RETURNING failed_login_attempts, locked_until`
	var attempts int
	var lockedUntil sql.NullTime
	if err := s.DB.QueryRowContext(ctx, query, id, now, maxAttempts, lockUntil).
		Scan(&attempts, &lockedUntil); err != nil {
		return 0, nil, mapError(op, err)
	}
	if lockedUntil.Valid {
		return attempts, &lockedUntil.Time, nil
	}
	return attempts, nil, nil
}

// ResetLoginAttempts сбрасывает счётчик неудачных входов, снимает
// блокировку и фиксирует время успешного входа.
func (s *Storage) ResetLoginAttempts(ctx context.Context, id string, lastLogin time.Time) error {
	const op = "repository.ResetLoginAttempts"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE accounts
			  SET failed_login_attempts = 0,
			      locked_until = NULL,
			      last_login = $2
			  WHERE id = $1`
	if _, err := s.DB.ExecContext(ctx, query, id, lastLogin); err != nil {
		return mapError(op, err)
	}
	return nil
}

// SetPasswordResetToken сохраняет хэш одноразового токена сброса пароля
// и срок его действия. Сам токен в базу не попадает.
func (s *Storage) SetPasswordResetToken(ctx context.Context, id, tokenHash string, expires time.Time) error {
	const op = "repository.SetPasswordResetToken"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE accounts
			  SET password_reset_token_hash = $2,
			      password_reset_expires = $3
			  WHERE id = $1`
	if _, err := s.DB.ExecContext(ctx, query, id, tokenHash, expires); err != nil {
		return mapError(op, err)
	}
	return nil
}

// ConsumePasswordResetToken одним запросом находит учётную запись по
// хэшу непросроченного токена сброса, заменяет пароль, гасит токен и
// снимает блокировку со сбросом счётчика. Возвращает false, если
// подходящей записи нет - токен неверен, просрочен или уже использован.
func (s *Storage) ConsumePasswordResetToken(ctx context.Context, tokenHash, newPasswordHash string, now time.Time) (bool, error) {
	const op = "repository.ConsumePasswordResetToken"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE accounts
			  SET password_hash = $2,
			      password_reset_token_hash = NULL,
			      password_reset_expires = NULL,
			      failed_login_attempts = 0,
			      locked_until = NULL
			  WHERE password_reset_token_hash = $1
			    AND password_reset_expires > $3`
	res, err := s.DB.ExecContext(ctx, query, tokenHash, newPasswordHash, now)
	if err != nil {
		return false, mapError(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return affected == 1, nil
}

// ConsumeEmailVerificationToken одним запросом подтверждает почту по
// непросроченному одноразовому токену и гасит его. Возвращает false,
// если токен неверен, просрочен или уже использован.
func (s *Storage) ConsumeEmailVerificationToken(ctx context.Context, token string, now time.Time) (bool, error) {
	const op = "repository.ConsumeEmailVerificationToken"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE accounts
			  SET email_verified = TRUE,
			      email_verification_token = NULL,
			      email_verification_expires = NULL
			  WHERE email_verification_token = $1
			    AND email_verification_expires > $2`
	res, err := s.DB.ExecContext(ctx, query, token, now)
	if err != nil {
		return false, mapError(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return affected == 1, nil
}

func scanAccount(row *sql.Row) (*models.Account, error) {
	a := &models.Account{}
	var verificationToken, resetTokenHash sql.NullString
	var verificationExp, resetExp, lockedUntil, lastLogin sql.NullTime

	if err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Role, &a.EmailVerified,
		&verificationToken, &verificationExp,
		&resetTokenHash, &resetExp,
		&a.FailedLoginAttempts, &lockedUntil, &lastLogin, &a.CreatedAt); err != nil {
		return nil, err
	}

	if verificationToken.Valid {
		a.EmailVerificationToken = &verificationToken.String
	}
	if verificationExp.Valid {
		a.EmailVerificationExp = &verificationExp.Time
	}
	if resetTokenHash.Valid {
		a.PasswordResetTokenHash = &resetTokenHash.String
	}
	if resetExp.Valid {
		a.PasswordResetExp = &resetExp.Time
	}
	if lockedUntil.Valid {
		a.LockedUntil = &lockedUntil.Time
	}
	if lastLogin.Valid {
		a.LastLogin = &lastLogin.Time
	}
	return a, nil
}
