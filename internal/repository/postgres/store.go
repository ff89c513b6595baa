package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/mamadbah2/buildmart/internal/domain/models"
)

// Postgres error codes the store translates into domain errors.
const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrCheckViolation      = "23514"
)

// Store implements every marketplace persistence port on top of Postgres.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, url string, maxOpenConns int, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns / 2)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return New(db, logger), nil
}

// New wraps an existing connection pool.
func New(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", mapError(err))
	}
	return nil
}

// mapError converts driver errors into the domain sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s", models.ErrConflict, pqErr.Constraint)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: referenced record does not exist (%s)", models.ErrValidation, pqErr.Constraint)
		case pgErrCheckViolation:
			return fmt.Errorf("%w: %s", models.ErrValidation, pqErr.Constraint)
		}
	}
	return err
}

// requireAffected returns errOnZero when the statement touched no rows.
func requireAffected(res sql.Result, errOnZero error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return errOnZero
	}
	return nil
}

func statusTimestampColumn(to models.OrderStatus) string {
	switch to {
	case models.OrderConfirmed:
		return "confirmed_at"
	case models.OrderCompleted:
		return "completed_at"
	}
	return ""
}
