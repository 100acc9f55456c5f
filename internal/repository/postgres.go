// Package repository содержит реализацию хранилища ваучеров в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/mmeshcher/rewards-engine/internal/apperr"
	"github.com/mmeshcher/rewards-engine/internal/model"
	"github.com/mmeshcher/rewards-engine/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// lockTimeout ограничивает ожидание блокировки строки; превышение
// классифицируется как ErrStoreUnavailable.
const lockTimeout = "3s"

const voucherColumns = `voucher_id, code, description, discount, category, quantity,
	probability, image, expiry_date, is_active, created_at, updated_at`

const allocationColumns = `id, user_id, voucher_id, quantity, is_used, label, assigned_at, used_at`

// querier покрывает общее подмножество pgxpool.Pool и pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// PostgresRepository предоставляет доступ к каталогу и реестру владения в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ store.Store = (*PostgresRepository)(nil)

// NewPostgresRepository создаёт пул соединений, дожидается доступности БД
// и применяет миграции.
func NewPostgresRepository(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	cfg.ConnConfig.RuntimeParams["lock_timeout"] = lockTimeout

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresRepository{pool: pool, logger: logger}

	if err := r.waitForDB(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// waitForDB повторяет ping, пока БД отвечает ошибками соединения.
func (r *PostgresRepository) waitForDB(ctx context.Context) error {
	b := retry.WithMaxRetries(4, retry.NewFibonacci(time.Second))

	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := r.pool.Ping(ctx)
		if err == nil {
			return nil
		}
		if isConnectionError(err) {
			r.logger.Warn("database not ready, retrying", zap.Error(err))
			return retry.RetryableError(err)
		}
		return err
	})
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

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет соединение с БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return classify("ping", r.pool.Ping(ctx))
}

// InTx выполняет fn в транзакции READ COMMITTED. Блокировки строк берутся
// явно через методы Tx.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return classify("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classify("commit tx", err)
	}

	return nil
}

// ListVouchers возвращает ваучеры категории в порядке создания; пустая категория означает все.
func (r *PostgresRepository) ListVouchers(ctx context.Context, category string) ([]model.Voucher, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+voucherColumns+`
		 FROM vouchers
		 WHERE $1::text = '' OR lower(trim(category)) = lower(trim($1::text))
		 ORDER BY created_at, voucher_id`,
		category,
	)
	if err != nil {
		return nil, classify("select vouchers", err)
	}
	defer rows.Close()

	var res []model.Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, classify("scan voucher", err)
		}
		res = append(res, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, classify("rows error", err)
	}

	return res, nil
}

// GetVoucher ищет ваучер по идентификатору или коду.
func (r *PostgresRepository) GetVoucher(ctx context.Context, idOrCode string) (*model.Voucher, error) {
	return findVoucher(ctx, r.pool, idOrCode)
}

// CountAllocationsInCategory считает записи владения пользователя в категории.
func (r *PostgresRepository) CountAllocationsInCategory(ctx context.Context, userID int64, category string) (int, error) {
	return countAllocations(ctx, r.pool, userID, category)
}

// ListOwned возвращает ваучеры пользователя с историей использования, новые первыми.
func (r *PostgresRepository) ListOwned(ctx context.Context, userID int64) ([]model.OwnedVoucher, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.user_id, a.voucher_id, a.quantity, a.is_used, a.label, a.assigned_at, a.used_at,
		        v.voucher_id, v.code, v.description, v.discount, v.category, v.quantity,
		        v.probability, v.image, v.expiry_date, v.is_active, v.created_at, v.updated_at
		 FROM allocations a
		 JOIN vouchers v ON v.voucher_id = a.voucher_id
		 WHERE a.user_id = $1
		 ORDER BY a.assigned_at DESC, a.id DESC`,
		userID,
	)
	if err != nil {
		return nil, classify("select owned", err)
	}
	defer rows.Close()

	var res []model.OwnedVoucher
	index := make(map[int64]int)
	for rows.Next() {
		var (
			a model.Allocation
			v model.Voucher
		)
		err := rows.Scan(
			&a.ID, &a.UserID, &a.VoucherID, &a.Quantity, &a.IsUsed, &a.Label, &a.AssignedAt, &a.UsedAt,
			&v.ID, &v.Code, &v.Description, &v.Discount, &v.Category, &v.Quantity,
			&v.Probability, &v.Image, &v.ExpiryDate, &v.IsActive, &v.CreatedAt, &v.UpdatedAt,
		)
		if err != nil {
			return nil, classify("scan owned", err)
		}
		index[a.ID] = len(res)
		res = append(res, model.OwnedVoucher{Voucher: v, Allocation: a})
	}
	if err := rows.Err(); err != nil {
		return nil, classify("rows error", err)
	}
	if len(res) == 0 {
		return res, nil
	}

	usages, err := r.pool.Query(ctx,
		`SELECT u.allocation_id, u.used_at
		 FROM allocation_usages u
		 JOIN allocations a ON a.id = u.allocation_id
		 WHERE a.user_id = $1
		 ORDER BY u.used_at, u.id`,
		userID,
	)
	if err != nil {
		return nil, classify("select usages", err)
	}
	defer usages.Close()

	for usages.Next() {
		var (
			allocationID int64
			usedAt       time.Time
		)
		if err := usages.Scan(&allocationID, &usedAt); err != nil {
			return nil, classify("scan usage", err)
		}
		if i, ok := index[allocationID]; ok {
			res[i].Usages = append(res[i].Usages, usedAt)
		}
	}
	if err := usages.Err(); err != nil {
		return nil, classify("rows error", err)
	}

	return res, nil
}

// WheelSegments возвращает число секторов колеса или значение по умолчанию.
func (r *PostgresRepository) WheelSegments(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT num_segments FROM wheel_config WHERE id = 1`).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.DefaultWheelSegments, nil
		}
		return 0, classify("select wheel config", err)
	}
	return n, nil
}

// DeactivateExpired выключает активные ваучеры, срок которых истёк к now.
func (r *PostgresRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE vouchers SET is_active = FALSE, updated_at = now()
		 WHERE is_active AND expiry_date IS NOT NULL AND expiry_date <= $1`,
		now,
	)
	if err != nil {
		return 0, classify("deactivate expired", err)
	}
	return tag.RowsAffected(), nil
}

func scanVoucher(row scanner) (*model.Voucher, error) {
	var v model.Voucher
	err := row.Scan(
		&v.ID, &v.Code, &v.Description, &v.Discount, &v.Category, &v.Quantity,
		&v.Probability, &v.Image, &v.ExpiryDate, &v.IsActive, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func scanAllocation(row scanner) (*model.Allocation, error) {
	var a model.Allocation
	err := row.Scan(&a.ID, &a.UserID, &a.VoucherID, &a.Quantity, &a.IsUsed, &a.Label, &a.AssignedAt, &a.UsedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func findVoucher(ctx context.Context, q querier, idOrCode string) (*model.Voucher, error) {
	v, err := scanVoucher(q.QueryRow(ctx,
		`SELECT `+voucherColumns+`
		 FROM vouchers
		 WHERE voucher_id = $1 OR upper(code) = upper($1)
		 ORDER BY (voucher_id = $1) DESC
		 LIMIT 1`,
		idOrCode,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrVoucherNotFound
		}
		return nil, classify("select voucher", err)
	}
	return v, nil
}

func countAllocations(ctx context.Context, q querier, userID int64, category string) (int, error) {
	var n int
	err := q.QueryRow(ctx,
		`SELECT count(*)
		 FROM allocations a
		 JOIN vouchers v ON v.voucher_id = a.voucher_id
		 WHERE a.user_id = $1 AND lower(trim(v.category)) = lower(trim($2))`,
		userID, category,
	).Scan(&n)
	if err != nil {
		return 0, classify("count allocations", err)
	}
	return n, nil
}
