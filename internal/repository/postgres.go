package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/senyabanana/coop-offers/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Имена уникальных индексов из migrations/000001_init.up.sql.
const (
	openBidConstraint      = "negotiations_open_bid_uniq"
	orderPerDealConstraint = "orders_negotiation_id_key"
)

// DBTX - общее подмножество pgxpool.Pool и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore - реализация Store для базы данных.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   DBTX
}

// NewPostgresStore создаёт новый экземпляр PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

func (s *PostgresStore) Offers() OfferRepository {
	return NewPostgresOfferRepository(s.db)
}

func (s *PostgresStore) Negotiations() NegotiationRepository {
	return NewPostgresNegotiationRepository(s.db)
}

func (s *PostgresStore) Orders() OrderRepository {
	return NewPostgresOrderRepository(s.db)
}

// WithTx выполняет fn в транзакции. Вложенный вызов переиспользует текущую транзакцию.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if _, nested := s.db.(pgx.Tx); nested {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PostgresStore{pool: s.pool, db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
}

// notFoundOr превращает pgx.ErrNoRows в models.ErrNotFound.
func notFoundOr(err error, entity, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", models.ErrNotFound, entity, id)
	}
	return err
}

// casMiss различает "строки нет" и "строка есть, но условие не выполнилось".
func casMiss(ctx context.Context, db DBTX, table, entity, id string) error {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)`, table)
	if err := db.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s %s", models.ErrNotFound, entity, id)
	}
	return fmt.Errorf("%w: %s %s", models.ErrConflict, entity, id)
}

func statusArray[S ~string](statuses []S) any {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	return pq.Array(values)
}
