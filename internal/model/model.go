// Package model содержит доменные сущности сервиса вознаграждений.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// User представляет внутреннего пользователя. Движок распределения
// использует только его идентификатор.
type User struct {
	ID          int64
	Phone       string
	DisplayName string
	CreatedAt   time.Time
}

// Voucher описывает запись каталога ваучеров вместе с текущим остатком.
type Voucher struct {
	ID          string              `json:"voucherId"`
	Code        string              `json:"code"`
	Description string              `json:"description"`
	Discount    decimal.Decimal     `json:"discount"`
	Category    string              `json:"category"`
	Quantity    int64               `json:"quantity"`
	Probability decimal.NullDecimal `json:"probability"`
	Image       string              `json:"image,omitempty"`
	ExpiryDate  *time.Time          `json:"expiryDate,omitempty"`
	IsActive    bool                `json:"isActive"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// Weight возвращает вес ваучера для взвешенного выбора; отсутствующий вес равен нулю.
func (v Voucher) Weight() decimal.Decimal {
	if !v.Probability.Valid {
		return decimal.Zero
	}
	return v.Probability.Decimal
}

// ExpiredAt сообщает, истёк ли срок действия ваучера к моменту now.
func (v Voucher) ExpiredAt(now time.Time) bool {
	return v.ExpiryDate != nil && !v.ExpiryDate.After(now)
}

// InCategory сравнивает категорию без учёта регистра и пробелов по краям.
func (v Voucher) InCategory(category string) bool {
	return strings.EqualFold(strings.TrimSpace(v.Category), strings.TrimSpace(category))
}

// Allocation описывает запись реестра: пользователь владеет Quantity единицами ваучера.
type Allocation struct {
	ID         int64      `json:"allocationId"`
	UserID     int64      `json:"userId"`
	VoucherID  string     `json:"voucherId"`
	Quantity   int64      `json:"quantity"`
	IsUsed     bool       `json:"isUsed"`
	Label      string     `json:"label,omitempty"`
	AssignedAt time.Time  `json:"assignedAt"`
	UsedAt     *time.Time `json:"usedAt,omitempty"`
}

// UsageEvent описывает неизменяемую запись об использовании одной единицы.
type UsageEvent struct {
	ID           int64     `json:"usageId"`
	AllocationID int64     `json:"allocationId"`
	UsedAt       time.Time `json:"usedAt"`
}

// OwnedVoucher объединяет ваучер, запись владения и историю использования.
type OwnedVoucher struct {
	Voucher    Voucher
	Allocation Allocation
	Usages     []time.Time
}

// DefaultWheelSegments используется, пока конфигурация колеса не сохранена.
const DefaultWheelSegments = 8
