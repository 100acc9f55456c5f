// Package sweeper периодически выключает ваучеры с истёкшим сроком действия.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Deactivator выключает просроченные ваучеры и возвращает их число.
type Deactivator interface {
	DeactivateExpired(ctx context.Context) (int64, error)
}

// Sweeper запускает очистку по расписанию cron.
type Sweeper struct {
	target   Deactivator
	schedule string
	timeout  time.Duration
	logger   *zap.Logger
}

// New создаёт планировщик. Пустое расписание отключает очистку.
func New(target Deactivator, schedule string, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		target:   target,
		schedule: schedule,
		timeout:  time.Minute,
		logger:   logger,
	}
}

// Run блокируется до отмены ctx. Начатый проход дожидается завершения.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.schedule == "" {
		s.logger.Info("expiry sweep disabled")
		<-ctx.Done()
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("schedule expiry sweep %q: %w", s.schedule, err)
	}

	c.Start()
	s.logger.Info("expiry sweep scheduled", zap.String("schedule", s.schedule))

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("expiry sweep stopped")
	return nil
}

// Sweep выполняет один проход. Ошибки только логируются.
func (s *Sweeper) Sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.target.DeactivateExpired(ctx)
	if err != nil {
		s.logger.Error("expiry sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("expired vouchers deactivated",
			zap.Int64("count", n),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
