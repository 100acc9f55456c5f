// Package selector реализует взвешенный выбор победителя по заданному числу-жребию.
//
// Элементы раскладываются на полуинтервалы [start, end) в порядке, заданном
// вызывающей стороной. Победителем становится элемент, чей интервал содержит
// жребий r из [0, T). Пакет не выполняет ввода-вывода.
package selector

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNoEligibleItems возвращается, если нет элементов с положительным весом.
var ErrNoEligibleItems = errors.New("no eligible items")

// ErrDrawOutOfRange возвращается, если жребий не попадает в [0, T).
var ErrDrawOutOfRange = errors.New("draw out of range")

// Mode задаёт способ интерпретации весов.
type Mode int

const (
	// ModePercent нормирует веса так, что их сумма T равна 100.
	ModePercent Mode = iota
	// ModeRaw использует веса как есть; T равна их сумме.
	ModeRaw
)

var hundred = decimal.NewFromInt(100)

// ParseMode разбирает имя режима из конфигурации.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "percent":
		return ModePercent, nil
	case "raw":
		return ModeRaw, nil
	default:
		return 0, fmt.Errorf("unknown weight mode %q", s)
	}
}

func (m Mode) String() string {
	if m == ModeRaw {
		return "raw"
	}
	return "percent"
}

// Item связывает значение с весом.
type Item[T any] struct {
	Value  T
	Weight decimal.Decimal
}

// Range задаёт полуинтервал [Start, End), принадлежащий элементу.
type Range[T any] struct {
	Value T
	Start decimal.Decimal
	End   decimal.Decimal
}

// Contains сообщает, попадает ли r в интервал.
func (r Range[T]) Contains(v decimal.Decimal) bool {
	return v.GreaterThanOrEqual(r.Start) && v.LessThan(r.End)
}

func positive[T any](items []Item[T]) ([]Item[T], decimal.Decimal) {
	res := make([]Item[T], 0, len(items))
	sum := decimal.Zero
	for _, it := range items {
		if !it.Weight.IsPositive() {
			continue
		}
		res = append(res, it)
		sum = sum.Add(it.Weight)
	}
	return res, sum
}

// Total возвращает T для набора элементов в заданном режиме.
func Total[T any](items []Item[T], mode Mode) decimal.Decimal {
	_, sum := positive(items)
	if sum.IsZero() {
		return decimal.Zero
	}
	if mode == ModePercent {
		return hundred
	}
	return sum
}

// Ranges строит накопленные интервалы в порядке входного списка.
// Конец последнего интервала всегда равен T, поэтому округление при
// нормировании не оставляет непокрытого хвоста.
func Ranges[T any](items []Item[T], mode Mode) ([]Range[T], decimal.Decimal, error) {
	eligible, sum := positive(items)
	if len(eligible) == 0 || sum.IsZero() {
		return nil, decimal.Zero, ErrNoEligibleItems
	}

	total := sum
	if mode == ModePercent {
		total = hundred
	}

	ranges := make([]Range[T], 0, len(eligible))
	acc := decimal.Zero
	for i, it := range eligible {
		w := it.Weight
		if mode == ModePercent {
			w = w.Mul(hundred).Div(sum)
		}
		end := acc.Add(w)
		if i == len(eligible)-1 {
			end = total
		}
		ranges = append(ranges, Range[T]{Value: it.Value, Start: acc, End: end})
		acc = end
	}

	return ranges, total, nil
}

// Pick возвращает элемент, чей интервал содержит r.
func Pick[T any](items []Item[T], mode Mode, r decimal.Decimal) (T, error) {
	var zero T

	ranges, total, err := Ranges(items, mode)
	if err != nil {
		return zero, err
	}

	if r.IsNegative() || r.GreaterThanOrEqual(total) {
		return zero, fmt.Errorf("%w: %s not in [0, %s)", ErrDrawOutOfRange, r, total)
	}

	for _, rg := range ranges {
		if rg.Contains(r) {
			return rg.Value, nil
		}
	}

	// недостижимо: интервалы покрывают [0, T) без разрывов
	return zero, fmt.Errorf("%w: %s", ErrDrawOutOfRange, r)
}

// Draw возвращает жребий из [0, total), используя источник равномерных чисел из [0, 1).
func Draw(total decimal.Decimal, float64Source func() float64) decimal.Decimal {
	f := float64Source()
	if f < 0 || f >= 1 {
		f = 0
	}
	r := decimal.NewFromFloat(f).Mul(total)
	if r.GreaterThanOrEqual(total) {
		return decimal.Zero
	}
	return r
}
