// Package repository реализует хранилище данных на основе PostgreSQL
// для учётных записей и подписок. Все изменяемые поля (счётчики
// неудачных входов, блокировка, счётчики использования, статус
// подписки) обновляются условными одиночными запросами, поэтому
// конкурентные вызовы линеаризуемы на уровне базы.
package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Ошибки уровня хранилища. Сервисы сопоставляют их со своей
// таксономией, не заглядывая в детали SQL.
var (
	// ErrNotFound - запись с такими ключами отсутствует.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate - нарушение уникальности (почта или активная подписка).
	ErrDuplicate = errors.New("record already exists")
	// ErrUnavailable - временная недоступность базы, повтор безопасен:
	// условные записи привязаны к ожидаемому предыдущему состоянию.
	ErrUnavailable = errors.New("storage is unavailable")
)

// Storage инкапсулирует соединение с базой данных PostgreSQL
// и реализует методы работы с учётными записями и подписками.
type Storage struct {
	DB *sql.DB
}

// New создаёт подключение к PostgreSQL.
func New(storageConnectionString string) (*Storage, error) {
	const op = "repository.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{DB: db}, nil
}

// mapError переводит ошибку драйвера в ошибку уровня хранилища,
// сохраняя исходную причину в цепочке.
func mapError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}

	if errors.Is(err, driver.ErrBadConn) || pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%s: %v: %w", op, err, ErrUnavailable)
	}

	return fmt.Errorf("%s: %w", op, err)
}
