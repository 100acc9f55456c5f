package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/rewards-engine/internal/apperr"
	"github.com/mmeshcher/rewards-engine/internal/model"
	"github.com/mmeshcher/rewards-engine/internal/store"
)

// Consume погашает одну единицу записи владения и добавляет событие использования.
func (s *Service) Consume(ctx context.Context, allocationID int64) (a *model.Allocation, ev *model.UsageEvent, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe("consume", start, err) }()

	now := s.now()

	err = s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cur, err := tx.LockAllocation(ctx, allocationID)
		if err != nil {
			return err
		}
		if cur.Quantity <= 0 {
			return apperr.ErrNothingToConsume
		}

		a, ev, err = tx.ConsumeUnit(ctx, allocationID, now)
		if err != nil {
			return fmt.Errorf("consume unit: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.metrics.Consumed()
	s.logger.Info("voucher unit consumed",
		zap.Int64("allocationID", allocationID),
		zap.Int64("remaining", a.Quantity),
	)

	return a, ev, nil
}

// Unconsume снимает отметку использования. Остаток и история не восстанавливаются.
func (s *Service) Unconsume(ctx context.Context, allocationID int64) (a *model.Allocation, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe("unconsume", start, err) }()

	err = s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.LockAllocation(ctx, allocationID); err != nil {
			return err
		}
		a, err = tx.ResetUsage(ctx, allocationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListOwned возвращает ваучеры пользователя с историей использования. Только чтение.
func (s *Service) ListOwned(ctx context.Context, userID int64) ([]model.OwnedVoucher, error) {
	owned, err := s.repo.ListOwned(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list owned: %w", err)
	}
	return owned, nil
}
