// Package store описывает контракт транзакционного хранилища, которого
// требует движок распределения ваучеров. Реализации: repository (PostgreSQL)
// и store/memory (в памяти процесса).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/rewards-engine/internal/model"
)

// ErrCodeTaken сообщает, что сгенерированный код ваучера уже занят.
var ErrCodeTaken = errors.New("voucher code already taken")

// Store описывает хранилище каталога ваучеров и реестра владения.
//
// Методы вне транзакции используются только для чтения; решения о выдаче
// принимаются внутри InTx.
type Store interface {
	Close() error
	Ping(ctx context.Context) error

	// InTx выполняет fn в одной транзакции. Если fn вернула ошибку,
	// все изменения откатываются.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	ListVouchers(ctx context.Context, category string) ([]model.Voucher, error)
	GetVoucher(ctx context.Context, idOrCode string) (*model.Voucher, error)
	CountAllocationsInCategory(ctx context.Context, userID int64, category string) (int, error)
	ListOwned(ctx context.Context, userID int64) ([]model.OwnedVoucher, error)
	WheelSegments(ctx context.Context) (int, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// Tx описывает операции внутри транзакции. Методы Lock* удерживают блокировку
// строки до конца транзакции.
type Tx interface {
	// LockUser блокирует строку пользователя, сериализуя его выдачи.
	LockUser(ctx context.Context, userID int64) error
	// EnsureUserByPhone находит пользователя по телефону или создаёт его.
	// Непустое имя перезаписывает отображаемое имя.
	EnsureUserByPhone(ctx context.Context, phone, displayName string) (int64, error)

	LockVoucher(ctx context.Context, voucherID string) (*model.Voucher, error)
	// DecrementStock уменьшает остаток на amount только при quantity >= amount,
	// иначе возвращает apperr.ErrOutOfStock.
	DecrementStock(ctx context.Context, voucherID string, amount int64) error

	CountAllocationsInCategory(ctx context.Context, userID int64, category string) (int, error)
	// FindAllocation возвращает последнюю запись пары или nil, если её нет.
	FindAllocation(ctx context.Context, userID int64, voucherID string) (*model.Allocation, error)
	InsertAllocation(ctx context.Context, a model.Allocation) (*model.Allocation, error)
	IncreaseAllocation(ctx context.Context, allocationID, amount int64, label string) (*model.Allocation, error)

	LockAllocation(ctx context.Context, allocationID int64) (*model.Allocation, error)
	ConsumeUnit(ctx context.Context, allocationID int64, at time.Time) (*model.Allocation, *model.UsageEvent, error)
	ResetUsage(ctx context.Context, allocationID int64) (*model.Allocation, error)

	// LockCategory сериализует изменения весов внутри категории.
	LockCategory(ctx context.Context, category string) error
	SumActiveWeights(ctx context.Context, category, excludeVoucherID string) (decimal.Decimal, error)
	FindVoucher(ctx context.Context, idOrCode string) (*model.Voucher, error)
	// InsertVoucher возвращает ErrCodeTaken при конфликте кода.
	InsertVoucher(ctx context.Context, v model.Voucher) (*model.Voucher, error)
	UpdateVoucher(ctx context.Context, v model.Voucher) (*model.Voucher, error)
	DeleteVoucher(ctx context.Context, voucherID string) error

	SetWheelSegments(ctx context.Context, n int) error
}
