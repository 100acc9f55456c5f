package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/rewards-engine/internal/apperr"
	"github.com/mmeshcher/rewards-engine/internal/model"
	"github.com/mmeshcher/rewards-engine/internal/store"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 7
	codeAttempts = 5
)

// VoucherInput содержит данные для создания ваучера.
type VoucherInput struct {
	ID          string
	Description string
	Discount    decimal.Decimal
	Category    string
	Quantity    *int64
	Probability decimal.NullDecimal
	Image       string
	ExpiryDate  *time.Time
	IsActive    *bool
}

// VoucherPatch описывает частичное изменение ваучера; nil-поля не меняются.
type VoucherPatch struct {
	Description *string
	Discount    *decimal.Decimal
	Category    *string
	Quantity    *int64
	Probability *decimal.Decimal
	Image       *string
	ExpiryDate  *time.Time
	IsActive    *bool
}

func generateCode() string {
	b := make([]byte, codeLength)
	for i := range b {
		b[i] = codeAlphabet[rand.IntN(len(codeAlphabet))]
	}
	return string(b)
}

func validateVoucher(v model.Voucher) error {
	switch {
	case strings.TrimSpace(v.ID) == "":
		return apperr.Invalid("voucher id is required")
	case v.Quantity < 0:
		return apperr.Invalid("quantity must not be negative")
	case v.Discount.IsNegative():
		return apperr.Invalid("discount must not be negative")
	case v.Probability.Valid && v.Probability.Decimal.IsNegative():
		return apperr.Invalid("probability must not be negative")
	}
	return nil
}

// checkWeights проверяет, что сумма весов активных ваучеров колеса с учётом
// записываемого не превышает WeightCap. Запись v исключается из суммы.
func (s *Service) checkWeights(ctx context.Context, tx store.Tx, v model.Voucher) error {
	if !s.policy.Weighted(v.Category) || !v.IsActive || !v.Weight().IsPositive() {
		return nil
	}

	if err := tx.LockCategory(ctx, v.Category); err != nil {
		return fmt.Errorf("lock category: %w", err)
	}

	sum, err := tx.SumActiveWeights(ctx, v.Category, v.ID)
	if err != nil {
		return fmt.Errorf("sum weights: %w", err)
	}

	if total := sum.Add(v.Weight()); total.GreaterThan(s.policy.WeightCap) {
		return fmt.Errorf("%w: %s > %s", apperr.ErrWeightSumExceeded, total, s.policy.WeightCap)
	}
	return nil
}

// CreateVoucher добавляет ваучер в каталог и генерирует ему уникальный код.
func (s *Service) CreateVoucher(ctx context.Context, in VoucherInput) (res *model.Voucher, err error) {
	v := model.Voucher{
		ID:          strings.TrimSpace(in.ID),
		Description: in.Description,
		Discount:    in.Discount,
		Category:    strings.TrimSpace(in.Category),
		Quantity:    1,
		Probability: in.Probability,
		Image:       in.Image,
		ExpiryDate:  in.ExpiryDate,
		IsActive:    true,
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if in.Quantity != nil {
		v.Quantity = *in.Quantity
	}
	if in.IsActive != nil {
		v.IsActive = *in.IsActive
	}
	if err := validateVoucher(v); err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := s.checkWeights(ctx, tx, v); err != nil {
			return err
		}

		for i := 0; i < codeAttempts; i++ {
			v.Code = generateCode()
			created, err := tx.InsertVoucher(ctx, v)
			if errors.Is(err, store.ErrCodeTaken) {
				continue
			}
			if err != nil {
				return err
			}
			res = created
			return nil
		}
		return fmt.Errorf("generate voucher code: %w", store.ErrCodeTaken)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("voucher created", zap.String("voucherID", res.ID), zap.String("code", res.Code))
	return res, nil
}

// UpdateVoucher применяет частичное изменение к ваучеру с указанным id или кодом.
func (s *Service) UpdateVoucher(ctx context.Context, idOrCode string, p VoucherPatch) (res *model.Voucher, err error) {
	err = s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		found, err := tx.FindVoucher(ctx, idOrCode)
		if err != nil {
			return err
		}
		cur, err := tx.LockVoucher(ctx, found.ID)
		if err != nil {
			return err
		}

		v := *cur
		if p.Description != nil {
			v.Description = *p.Description
		}
		if p.Discount != nil {
			v.Discount = *p.Discount
		}
		if p.Category != nil {
			v.Category = strings.TrimSpace(*p.Category)
		}
		if p.Quantity != nil {
			v.Quantity = *p.Quantity
		}
		if p.Probability != nil {
			v.Probability = decimal.NewNullDecimal(*p.Probability)
		}
		if p.Image != nil {
			v.Image = *p.Image
		}
		if p.ExpiryDate != nil {
			v.ExpiryDate = p.ExpiryDate
		}
		if p.IsActive != nil {
			v.IsActive = *p.IsActive
		}

		if err := validateVoucher(v); err != nil {
			return err
		}
		if err := s.checkWeights(ctx, tx, v); err != nil {
			return err
		}

		res, err = tx.UpdateVoucher(ctx, v)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("voucher updated", zap.String("voucherID", res.ID))
	return res, nil
}

// DeleteVoucher удаляет ваучер вместе с записями владения.
func (s *Service) DeleteVoucher(ctx context.Context, idOrCode string) error {
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		v, err := tx.FindVoucher(ctx, idOrCode)
		if err != nil {
			return err
		}
		return tx.DeleteVoucher(ctx, v.ID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("voucher deleted", zap.String("voucher", idOrCode))
	return nil
}

// GetVoucher возвращает ваучер по идентификатору или коду.
func (s *Service) GetVoucher(ctx context.Context, idOrCode string) (*model.Voucher, error) {
	return s.repo.GetVoucher(ctx, idOrCode)
}

// ListVouchers возвращает ваучеры категории; пустая категория означает весь каталог.
func (s *Service) ListVouchers(ctx context.Context, category string) ([]model.Voucher, error) {
	return s.repo.ListVouchers(ctx, strings.TrimSpace(category))
}

// WheelSegments возвращает число секторов колеса для интерфейса.
func (s *Service) WheelSegments(ctx context.Context) (int, error) {
	return s.repo.WheelSegments(ctx)
}

// SetWheelSegments сохраняет число секторов колеса.
func (s *Service) SetWheelSegments(ctx context.Context, n int) error {
	if n < 2 {
		return apperr.Invalid("wheel needs at least 2 segments, got %d", n)
	}
	return s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SetWheelSegments(ctx, n)
	})
}

// DeactivateExpired выключает ваучеры с истёкшим сроком действия.
func (s *Service) DeactivateExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeactivateExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("deactivate expired: %w", err)
	}
	s.metrics.Swept(n)
	return n, nil
}
