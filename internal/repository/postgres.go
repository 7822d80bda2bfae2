// Package repository содержит реализацию доступа к данным в PostgreSQL и Redis.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/freelance-dashboard/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrTransactionNotFound возвращается, если транзакция не найдена у пользователя.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrTransactionExists возвращается при повторной вставке транзакции с тем же идентификатором.
	ErrTransactionExists = errors.New("transaction already exists")
)

var retryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

// PostgresRepository предоставляет доступ к журналу транзакций в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil || !isRetryable(err) || i == len(retryDelays) {
			return err
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет доступность БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// ListTransactions возвращает транзакции пользователя за интервал [from, to), новые первыми.
func (r *PostgresRepository) ListTransactions(ctx context.Context, userID string, from, to time.Time) ([]model.Transaction, error) {
	var res []model.Transaction

	err := withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT id::text, date, label, amount::text, kind, category, vat_rate::text, status, created_at
			 FROM transactions
			 WHERE user_id = $1 AND date >= $2 AND date < $3
			 ORDER BY date DESC, created_at DESC`,
			userID, from, to,
		)
		if err != nil {
			return fmt.Errorf("select transactions: %w", err)
		}

		txs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Transaction, error) {
			return scanTransaction(row, userID)
		})
		if err != nil {
			return fmt.Errorf("scan transactions: %w", err)
		}

		res = txs
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// RecentTransactions возвращает не более limit последних транзакций пользователя.
func (r *PostgresRepository) RecentTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	var res []model.Transaction

	err := withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT id::text, date, label, amount::text, kind, category, vat_rate::text, status, created_at
			 FROM transactions
			 WHERE user_id = $1
			 ORDER BY date DESC, created_at DESC
			 LIMIT $2`,
			userID, limit,
		)
		if err != nil {
			return fmt.Errorf("select recent transactions: %w", err)
		}

		txs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Transaction, error) {
			return scanTransaction(row, userID)
		})
		if err != nil {
			return fmt.Errorf("scan transactions: %w", err)
		}

		res = txs
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

func scanTransaction(row pgx.Row, userID string) (model.Transaction, error) {
	var (
		tx       model.Transaction
		amount   string
		vatRate  string
		kind     string
		status   string
		occurred time.Time
	)

	if err := row.Scan(&tx.ID, &occurred, &tx.Label, &amount, &kind, &tx.Category, &vatRate, &status, &tx.CreatedAt); err != nil {
		return tx, err
	}

	a, err := decimal.NewFromString(amount)
	if err != nil {
		return tx, fmt.Errorf("parse amount: %w", err)
	}
	v, err := decimal.NewFromString(vatRate)
	if err != nil {
		return tx, fmt.Errorf("parse vat rate: %w", err)
	}

	tx.UserID = userID
	tx.Date = occurred
	tx.Amount = a
	tx.VATRate = v
	tx.Kind = model.TransactionKind(kind)
	tx.Status = model.TransactionStatus(status)
	return tx, nil
}

// AddTransaction сохраняет новую транзакцию.
func (r *PostgresRepository) AddTransaction(ctx context.Context, tx model.Transaction) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO transactions (id, user_id, date, label, amount, kind, category, vat_rate, status)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8::numeric, $9)`,
		tx.ID, tx.UserID, tx.Date, tx.Label, tx.Amount.String(), string(tx.Kind), tx.Category, tx.VATRate.String(), string(tx.Status),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrTransactionExists, tx.ID)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// DeleteTransaction удаляет транзакцию пользователя.
func (r *PostgresRepository) DeleteTransaction(ctx context.Context, userID, id string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM transactions WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.InvalidTextRepresentation {
			return ErrTransactionNotFound
		}
		return fmt.Errorf("delete transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// GetSettings возвращает параметры пользователя или значения по умолчанию, если они не сохранены.
func (r *PostgresRepository) GetSettings(ctx context.Context, userID string) (model.Settings, error) {
	s := model.Settings{
		UserID:          userID,
		DeclarationType: model.DeclarationMonthly,
	}

	var declType string
	err := withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT declaration_type, updated_at FROM user_settings WHERE user_id = $1`,
			userID,
		).Scan(&declType, &s.UpdatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s, nil
		}
		return s, fmt.Errorf("get settings: %w", err)
	}

	s.DeclarationType = model.DeclarationType(declType)
	return s, nil
}

// UpsertSettings сохраняет параметры пользователя.
func (r *PostgresRepository) UpsertSettings(ctx context.Context, s model.Settings) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_settings (user_id, declaration_type, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET declaration_type = EXCLUDED.declaration_type, updated_at = NOW()`,
		s.UserID, string(s.DeclarationType),
	)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}
