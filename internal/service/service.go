// Package service реализует движок распределения ваучеров: вращение колеса,
// прямое получение, административную выдачу и погашение единиц.
package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/rewards-engine/internal/apperr"
	"github.com/mmeshcher/rewards-engine/internal/metrics"
	"github.com/mmeshcher/rewards-engine/internal/selector"
	"github.com/mmeshcher/rewards-engine/internal/store"
)

// Policy задаёт правила отбора и выдачи, фиксированные для развёртывания.
type Policy struct {
	// WeightedCategory задаёт категорию колеса, в которой действует взвешенный выбор.
	WeightedCategory string
	// SpinLimit ограничивает число записей владения в категории колеса на пользователя.
	SpinLimit int
	// Mode задаёт способ интерпретации весов.
	Mode selector.Mode
	// GateWeightedOnStock исключает из колеса ваучеры с нулевым остатком.
	GateWeightedOnStock bool
	// WeightCap задаёт предельную сумму весов активных ваучеров категории колеса.
	WeightCap decimal.Decimal
	// TxTimeout ограничивает время одной транзакции выдачи.
	TxTimeout time.Duration
}

// DefaultPolicy возвращает политику по умолчанию.
func DefaultPolicy() Policy {
	return Policy{
		WeightedCategory:    "wheel",
		SpinLimit:           2,
		Mode:                selector.ModePercent,
		GateWeightedOnStock: true,
		WeightCap:           decimal.NewFromInt(100),
		TxTimeout:           5 * time.Second,
	}
}

// Weighted сообщает, относится ли категория к колесу.
func (p Policy) Weighted(category string) bool {
	return strings.EqualFold(strings.TrimSpace(category), strings.TrimSpace(p.WeightedCategory))
}

// Service содержит бизнес-логику распределения ваучеров.
type Service struct {
	repo    store.Store
	policy  Policy
	logger  *zap.Logger
	metrics *metrics.Metrics

	now    func() time.Time
	random func() float64
}

// NewService создаёт сервис поверх переданного хранилища.
func NewService(repo store.Store, policy Policy, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.WeightCap.IsZero() {
		policy.WeightCap = decimal.NewFromInt(100)
	}
	return &Service{
		repo:    repo,
		policy:  policy,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		random:  rand.Float64,
	}
}

// Policy возвращает действующую политику.
func (s *Service) Policy() Policy {
	return s.policy
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return apperr.Unavailable(err)
	}
	return nil
}

// inTx выполняет fn в транзакции с таймаутом политики. Повторов нет:
// ErrStoreUnavailable возвращается вызывающей стороне.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if s.policy.TxTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.policy.TxTimeout)
		defer cancel()
	}

	err := s.repo.InTx(ctx, fn)
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		return apperr.Unavailable(err)
	}
	return err
}
