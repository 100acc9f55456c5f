package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/rewards-engine/internal/apperr"
	"github.com/mmeshcher/rewards-engine/internal/model"
	"github.com/mmeshcher/rewards-engine/internal/store"
)

// pgTx реализует store.Tx поверх открытой транзакции pgx.
type pgTx struct {
	tx pgx.Tx
}

var _ store.Tx = (*pgTx)(nil)

// LockUser блокирует строку пользователя. Идентификатор приходит уже
// разрешённым из реестра пользователей, поэтому отсутствующая строка создаётся.
func (t *pgTx) LockUser(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return apperr.ErrUserNotFound
	}

	tag, err := t.tx.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, userID)
	if err != nil {
		return classify("insert user", err)
	}
	if tag.RowsAffected() > 0 {
		// Явно заданный id не двигает последовательность: сдвигаем её,
		// чтобы EnsureUserByPhone не получил занятый идентификатор.
		_, err = t.tx.Exec(ctx,
			`SELECT setval(pg_get_serial_sequence('users', 'id'), GREATEST($1::bigint, (SELECT COALESCE(max(id), 1) FROM users)))`,
			userID,
		)
		if err != nil {
			return classify("advance user sequence", err)
		}
	}

	var dummy int
	err = t.tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&dummy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.ErrUserNotFound
		}
		return classify("lock user for update", err)
	}
	return nil
}

func (t *pgTx) EnsureUserByPhone(ctx context.Context, phone, displayName string) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO users (phone, display_name) VALUES ($1, $2)
		 ON CONFLICT (phone) DO UPDATE
		 SET display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE users.display_name END
		 RETURNING id`,
		phone, displayName,
	).Scan(&id)
	if err != nil {
		return 0, classify("upsert user", err)
	}
	return id, nil
}

func (t *pgTx) LockVoucher(ctx context.Context, voucherID string) (*model.Voucher, error) {
	v, err := scanVoucher(t.tx.QueryRow(ctx,
		`SELECT `+voucherColumns+` FROM vouchers WHERE voucher_id = $1 FOR UPDATE`,
		voucherID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrVoucherNotFound
		}
		return nil, classify("lock voucher for update", err)
	}
	return v, nil
}

func (t *pgTx) DecrementStock(ctx context.Context, voucherID string, amount int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE vouchers SET quantity = quantity - $2, updated_at = now()
		 WHERE voucher_id = $1 AND quantity >= $2`,
		voucherID, amount,
	)
	if err != nil {
		return classify("decrement stock", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrOutOfStock
	}
	return nil
}

func (t *pgTx) CountAllocationsInCategory(ctx context.Context, userID int64, category string) (int, error) {
	return countAllocations(ctx, t.tx, userID, category)
}

func (t *pgTx) FindAllocation(ctx context.Context, userID int64, voucherID string) (*model.Allocation, error) {
	a, err := scanAllocation(t.tx.QueryRow(ctx,
		`SELECT `+allocationColumns+`
		 FROM allocations
		 WHERE user_id = $1 AND voucher_id = $2
		 ORDER BY id DESC
		 LIMIT 1`,
		userID, voucherID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classify("select allocation", err)
	}
	return a, nil
}

func (t *pgTx) InsertAllocation(ctx context.Context, a model.Allocation) (*model.Allocation, error) {
	res, err := scanAllocation(t.tx.QueryRow(ctx,
		`INSERT INTO allocations (user_id, voucher_id, quantity, is_used, label, assigned_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+allocationColumns,
		a.UserID, a.VoucherID, a.Quantity, a.IsUsed, a.Label, a.AssignedAt,
	))
	if err != nil {
		if pgErr, ok := isForeignKeyViolation(err); ok {
			if strings.Contains(pgErr.ConstraintName, "user_id") {
				return nil, apperr.ErrUserNotFound
			}
			return nil, apperr.ErrVoucherNotFound
		}
		return nil, classify("insert allocation", err)
	}
	return res, nil
}

func (t *pgTx) IncreaseAllocation(ctx context.Context, allocationID, amount int64, label string) (*model.Allocation, error) {
	a, err := scanAllocation(t.tx.QueryRow(ctx,
		`UPDATE allocations
		 SET quantity = quantity + $2,
		     is_used = FALSE,
		     label = CASE WHEN $3::text <> '' THEN $3::text ELSE label END
		 WHERE id = $1
		 RETURNING `+allocationColumns,
		allocationID, amount, label,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrRecordNotFound
		}
		return nil, classify("increase allocation", err)
	}
	return a, nil
}

func (t *pgTx) LockAllocation(ctx context.Context, allocationID int64) (*model.Allocation, error) {
	a, err := scanAllocation(t.tx.QueryRow(ctx,
		`SELECT `+allocationColumns+` FROM allocations WHERE id = $1 FOR UPDATE`,
		allocationID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrRecordNotFound
		}
		return nil, classify("lock allocation for update", err)
	}
	return a, nil
}

func (t *pgTx) ConsumeUnit(ctx context.Context, allocationID int64, at time.Time) (*model.Allocation, *model.UsageEvent, error) {
	a, err := scanAllocation(t.tx.QueryRow(ctx,
		`UPDATE allocations
		 SET quantity = quantity - 1,
		     is_used = (quantity - 1 = 0),
		     used_at = $2
		 WHERE id = $1 AND quantity > 0
		 RETURNING `+allocationColumns,
		allocationID, at,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, apperr.ErrNothingToConsume
		}
		return nil, nil, classify("consume unit", err)
	}

	ev := model.UsageEvent{AllocationID: allocationID, UsedAt: at}
	err = t.tx.QueryRow(ctx,
		`INSERT INTO allocation_usages (allocation_id, used_at) VALUES ($1, $2) RETURNING id`,
		allocationID, at,
	).Scan(&ev.ID)
	if err != nil {
		return nil, nil, classify("insert usage", err)
	}

	return a, &ev, nil
}

func (t *pgTx) ResetUsage(ctx context.Context, allocationID int64) (*model.Allocation, error) {
	a, err := scanAllocation(t.tx.QueryRow(ctx,
		`UPDATE allocations SET is_used = FALSE, used_at = NULL
		 WHERE id = $1
		 RETURNING `+allocationColumns,
		allocationID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrRecordNotFound
		}
		return nil, classify("reset usage", err)
	}
	return a, nil
}

func (t *pgTx) LockCategory(ctx context.Context, category string) error {
	_, err := t.tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext(lower(trim($1::text))))`,
		category,
	)
	return classify("lock category", err)
}

func (t *pgTx) SumActiveWeights(ctx context.Context, category, excludeVoucherID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(probability), 0)
		 FROM vouchers
		 WHERE is_active
		   AND probability > 0
		   AND lower(trim(category)) = lower(trim($1))
		   AND voucher_id <> $2`,
		category, excludeVoucherID,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, classify("sum weights", err)
	}
	return sum, nil
}

func (t *pgTx) FindVoucher(ctx context.Context, idOrCode string) (*model.Voucher, error) {
	return findVoucher(ctx, t.tx, idOrCode)
}

func (t *pgTx) InsertVoucher(ctx context.Context, v model.Voucher) (*model.Voucher, error) {
	res, err := scanVoucher(t.tx.QueryRow(ctx,
		`INSERT INTO vouchers (voucher_id, code, description, discount, category, quantity,
		                       probability, image, expiry_date, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (code) DO NOTHING
		 RETURNING `+voucherColumns,
		v.ID, v.Code, v.Description, v.Discount, v.Category, v.Quantity,
		v.Probability, v.Image, v.ExpiryDate, v.IsActive,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrCodeTaken
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrVoucherExists, v.ID)
		}
		return nil, classify("insert voucher", err)
	}
	return res, nil
}

func (t *pgTx) UpdateVoucher(ctx context.Context, v model.Voucher) (*model.Voucher, error) {
	res, err := scanVoucher(t.tx.QueryRow(ctx,
		`UPDATE vouchers
		 SET description = $2, discount = $3, category = $4, quantity = $5,
		     probability = $6, image = $7, expiry_date = $8, is_active = $9,
		     updated_at = now()
		 WHERE voucher_id = $1
		 RETURNING `+voucherColumns,
		v.ID, v.Description, v.Discount, v.Category, v.Quantity,
		v.Probability, v.Image, v.ExpiryDate, v.IsActive,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrVoucherNotFound
		}
		return nil, classify("update voucher", err)
	}
	return res, nil
}

func (t *pgTx) DeleteVoucher(ctx context.Context, voucherID string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM vouchers WHERE voucher_id = $1`, voucherID)
	if err != nil {
		return classify("delete voucher", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrVoucherNotFound
	}
	return nil
}

func (t *pgTx) SetWheelSegments(ctx context.Context, n int) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO wheel_config (id, num_segments) VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE SET num_segments = EXCLUDED.num_segments, updated_at = now()`,
		n,
	)
	return classify("save wheel config", err)
}
