// Package apperr определяет типизированные ошибки движка распределения ваучеров.
package apperr

import (
	"errors"
	"fmt"
)

// Kind классифицирует ошибку для вызывающей стороны.
type Kind int

const (
	// KindInternal: дефект или неклассифицированная ошибка.
	KindInternal Kind = iota
	// KindNotFound: ваучер, запись или пользователь отсутствуют.
	KindNotFound
	// KindConflict: ожидаемый отказ бизнес-правила (нет остатка, лимит и т.п.).
	KindConflict
	// KindInvalid: некорректные входные данные.
	KindInvalid
	// KindUnavailable: хранилище недоступно; единственный класс для повтора.
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalid:
		return "invalid"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error описывает ошибку с классом и машинно-читаемым кодом.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

// New создаёт новую типизированную ошибку.
func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

var (
	ErrVoucherNotFound = New(KindNotFound, "voucher_not_found", "voucher not found")
	ErrRecordNotFound  = New(KindNotFound, "record_not_found", "allocation record not found")
	ErrUserNotFound    = New(KindNotFound, "user_not_found", "user not found")

	ErrVoucherExists      = New(KindConflict, "voucher_exists", "voucher id already exists")
	ErrAlreadyOwned       = New(KindConflict, "already_owned", "voucher already owned by user")
	ErrOutOfStock         = New(KindConflict, "out_of_stock", "voucher out of stock")
	ErrExpired            = New(KindConflict, "expired", "voucher expired")
	ErrVoucherInactive    = New(KindConflict, "voucher_inactive", "voucher is not active")
	ErrSpinLimitReached   = New(KindConflict, "spin_limit_reached", "spin limit reached")
	ErrNoEligibleVouchers = New(KindConflict, "no_eligible_vouchers", "no voucher available")
	ErrNothingToConsume   = New(KindConflict, "nothing_to_consume", "no units left to consume")

	ErrWeightSumExceeded = New(KindInvalid, "weight_sum_exceeded", "category weight sum exceeds limit")
	ErrInvalidInput      = New(KindInvalid, "invalid_input", "invalid input")

	ErrStoreUnavailable = New(KindUnavailable, "store_unavailable", "store unavailable")
)

// KindOf возвращает класс ошибки; для nil возвращается KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf возвращает машинно-читаемый код ошибки или "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// Invalid оборачивает ErrInvalidInput с пояснением.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Unavailable оборачивает ошибку хранилища в ErrStoreUnavailable, сохраняя исходную причину.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
