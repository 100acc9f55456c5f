package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mmeshcher/rewards-engine/internal/apperr"
	"github.com/mmeshcher/rewards-engine/internal/model"
)

// eligible проверяет статические условия отбора ваучера на момент now.
func (p Policy) eligible(v model.Voucher, now time.Time) bool {
	if !v.IsActive || v.ExpiredAt(now) {
		return false
	}
	if p.Weighted(v.Category) {
		if !v.Weight().IsPositive() {
			return false
		}
		return !p.GateWeightedOnStock || v.Quantity > 0
	}
	return v.Quantity > 0
}

// allocatable проверяет ваучер, заблокированный в транзакции, перед списанием amount единиц.
func allocatable(v model.Voucher, now time.Time, amount int64) error {
	switch {
	case !v.IsActive:
		return apperr.ErrVoucherInactive
	case v.ExpiredAt(now):
		return apperr.ErrExpired
	case v.Quantity < amount:
		return apperr.ErrOutOfStock
	}
	return nil
}

// Eligible возвращает кандидатов категории в порядке каталога.
// Для userID != 0 в категории колеса сначала проверяется лимит вращений;
// эта проверка предварительная и повторяется внутри транзакции Spin.
// Пустая категория означает категорию колеса.
func (s *Service) Eligible(ctx context.Context, category string, userID int64) ([]model.Voucher, error) {
	now := s.now()
	if category == "" {
		category = s.policy.WeightedCategory
	}

	if userID != 0 && s.policy.Weighted(category) {
		used, err := s.repo.CountAllocationsInCategory(ctx, userID, category)
		if err != nil {
			return nil, fmt.Errorf("count spins: %w", err)
		}
		if used >= s.policy.SpinLimit {
			return nil, apperr.ErrSpinLimitReached
		}
	}

	vouchers, err := s.repo.ListVouchers(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("list vouchers: %w", err)
	}

	res := make([]model.Voucher, 0, len(vouchers))
	for _, v := range vouchers {
		if s.policy.eligible(v, now) {
			res = append(res, v)
		}
	}

	if len(res) == 0 {
		return nil, apperr.ErrNoEligibleVouchers
	}
	return res, nil
}
