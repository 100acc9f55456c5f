package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/rewards-engine/internal/apperr"
	"github.com/mmeshcher/rewards-engine/internal/model"
	"github.com/mmeshcher/rewards-engine/internal/selector"
	"github.com/mmeshcher/rewards-engine/internal/store"
	"github.com/mmeshcher/rewards-engine/internal/validation"
)

// SpinResult описывает выигрыш одного вращения.
type SpinResult struct {
	Voucher    model.Voucher
	Allocation model.Allocation
	Draw       decimal.Decimal
	Total      decimal.Decimal
}

// Spin выбирает ваучер колеса по весам и выдаёт пользователю одну единицу.
// Каждый успешный вызов занимает одно вращение из лимита.
func (s *Service) Spin(ctx context.Context, userID int64, category string) (res *SpinResult, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe("spin", start, err) }()

	if category == "" {
		category = s.policy.WeightedCategory
	}
	if !s.policy.Weighted(category) {
		return nil, apperr.Invalid("category %q is not a wheel category", category)
	}

	candidates, err := s.Eligible(ctx, category, userID)
	if err != nil {
		return nil, err
	}

	items := make([]selector.Item[model.Voucher], 0, len(candidates))
	for _, v := range candidates {
		items = append(items, selector.Item[model.Voucher]{Value: v, Weight: v.Weight()})
	}

	total := selector.Total(items, s.policy.Mode)
	draw := selector.Draw(total, s.random)

	winner, err := selector.Pick(items, s.policy.Mode, draw)
	if err != nil {
		if errors.Is(err, selector.ErrNoEligibleItems) {
			return nil, apperr.ErrNoEligibleVouchers
		}
		return nil, fmt.Errorf("pick voucher: %w", err)
	}

	now := s.now()
	res = &SpinResult{Draw: draw, Total: total}

	err = s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}

		// Повторный подсчёт под блокировкой пользователя: параллельные
		// вращения одного пользователя не превысят лимит.
		used, err := tx.CountAllocationsInCategory(ctx, userID, category)
		if err != nil {
			return fmt.Errorf("count spins: %w", err)
		}
		if used >= s.policy.SpinLimit {
			return apperr.ErrSpinLimitReached
		}

		v, err := tx.LockVoucher(ctx, winner.ID)
		if err != nil {
			return err
		}
		if err := allocatable(*v, now, 1); err != nil {
			return err
		}
		if err := tx.DecrementStock(ctx, v.ID, 1); err != nil {
			return err
		}

		a, err := tx.InsertAllocation(ctx, model.Allocation{
			UserID:     userID,
			VoucherID:  v.ID,
			Quantity:   1,
			AssignedAt: now,
		})
		if err != nil {
			return fmt.Errorf("insert allocation: %w", err)
		}

		v.Quantity--
		res.Voucher = *v
		res.Allocation = *a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Allocated("spin", 1)
	s.logger.Info("voucher won",
		zap.Int64("userID", userID),
		zap.String("voucherID", res.Voucher.ID),
		zap.String("draw", draw.String()),
		zap.String("total", total.String()),
	)

	return res, nil
}

// Claim выдаёт пользователю одну единицу ваучера из обычного пула.
// Каждый ваучер можно получить не более одного раза.
func (s *Service) Claim(ctx context.Context, userID int64, voucherID string) (res *model.Allocation, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe("claim", start, err) }()

	if voucherID == "" {
		return nil, apperr.Invalid("voucher id is required")
	}

	now := s.now()

	err = s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}

		v, err := tx.LockVoucher(ctx, voucherID)
		if err != nil {
			return err
		}
		if s.policy.Weighted(v.Category) {
			return apperr.Invalid("voucher %s can only be won on the wheel", v.ID)
		}

		existing, err := tx.FindAllocation(ctx, userID, v.ID)
		if err != nil {
			return fmt.Errorf("find allocation: %w", err)
		}
		if existing != nil {
			return apperr.ErrAlreadyOwned
		}

		if err := allocatable(*v, now, 1); err != nil {
			return err
		}
		if err := tx.DecrementStock(ctx, v.ID, 1); err != nil {
			return err
		}

		res, err = tx.InsertAllocation(ctx, model.Allocation{
			UserID:     userID,
			VoucherID:  v.ID,
			Quantity:   1,
			AssignedAt: now,
		})
		if err != nil {
			return fmt.Errorf("insert allocation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Allocated("claim", 1)
	s.logger.Info("voucher claimed", zap.Int64("userID", userID), zap.String("voucherID", voucherID))

	return res, nil
}

// AssignInput содержит параметры административной выдачи.
type AssignInput struct {
	Contact   string
	VoucherID string
	Quantity  int64
	Label     string
}

// AssignResult содержит результат административной выдачи.
type AssignResult struct {
	UserID     int64
	Allocation model.Allocation
	// Accumulated равно true, если единицы добавлены к существующей записи.
	Accumulated bool
}

// Assign выдаёт Quantity единиц ваучера пользователю, найденному или
// созданному по телефону. При нехватке остатка ничего не списывается.
func (s *Service) Assign(ctx context.Context, in AssignInput) (res *AssignResult, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe("assign", start, err) }()

	if in.Quantity < 1 {
		return nil, apperr.Invalid("quantity must be positive, got %d", in.Quantity)
	}
	if in.VoucherID == "" {
		return nil, apperr.Invalid("voucher id is required")
	}
	phone, ok := validation.NormalizePhone(in.Contact)
	if !ok {
		return nil, apperr.Invalid("malformed contact %q", in.Contact)
	}

	now := s.now()
	res = &AssignResult{}

	err = s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		userID, err := tx.EnsureUserByPhone(ctx, phone, in.Label)
		if err != nil {
			return fmt.Errorf("resolve user: %w", err)
		}
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}

		v, err := tx.LockVoucher(ctx, in.VoucherID)
		if err != nil {
			return err
		}
		if v.Quantity < in.Quantity {
			return fmt.Errorf("%w: %d requested, %d left", apperr.ErrOutOfStock, in.Quantity, v.Quantity)
		}
		if err := tx.DecrementStock(ctx, v.ID, in.Quantity); err != nil {
			return err
		}

		existing, err := tx.FindAllocation(ctx, userID, v.ID)
		if err != nil {
			return fmt.Errorf("find allocation: %w", err)
		}

		var a *model.Allocation
		if existing != nil {
			a, err = tx.IncreaseAllocation(ctx, existing.ID, in.Quantity, in.Label)
			res.Accumulated = true
		} else {
			a, err = tx.InsertAllocation(ctx, model.Allocation{
				UserID:     userID,
				VoucherID:  v.ID,
				Quantity:   in.Quantity,
				Label:      in.Label,
				AssignedAt: now,
			})
		}
		if err != nil {
			return fmt.Errorf("write allocation: %w", err)
		}

		res.UserID = userID
		res.Allocation = *a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Allocated("assign", in.Quantity)
	s.logger.Info("voucher assigned",
		zap.Int64("userID", res.UserID),
		zap.String("voucherID", in.VoucherID),
		zap.Int64("quantity", in.Quantity),
		zap.Bool("accumulated", res.Accumulated),
	)

	return res, nil
}
