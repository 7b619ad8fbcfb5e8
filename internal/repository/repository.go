// Пакет repository — доступ к таблицам PostgreSQL.
// Репозитории работают через интерфейс DBTX, что позволяет
// подставлять pgxpool.Pool, транзакцию или mock в тестах.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound — запись не найдена.
var ErrNotFound = errors.New("запись не найдена")

// DBTX — интерфейс подключения к БД (pgxpool.Pool или pgx.Tx).
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
