// Package metrics содержит метрики Prometheus движка распределения ваучеров.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mmeshcher/rewards-engine/internal/apperr"
)

// Metrics объединяет счётчики и гистограммы операций движка.
type Metrics struct {
	OperationTotal    *prometheus.CounterVec   // операции (по операции и результату)
	OperationDuration *prometheus.HistogramVec // длительность операций
	UnitsAllocated    *prometheus.CounterVec   // выданные единицы (по операции)
	UnitsConsumed     prometheus.Counter       // использованные единицы
	ExpiredSwept      prometheus.Counter       // ваучеры, выключенные по сроку
}

// New регистрирует метрики в reg. Для тестов передавайте prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OperationTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rewards_operation_total",
				Help: "Total number of allocation engine operations",
			},
			[]string{"operation", "result"}, // result: ok или код ошибки
		),
		OperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rewards_operation_duration_seconds",
				Help:    "Duration of allocation engine operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		UnitsAllocated: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rewards_units_allocated_total",
				Help: "Total number of voucher units moved from stock to users",
			},
			[]string{"operation"},
		),
		UnitsConsumed: f.NewCounter(
			prometheus.CounterOpts{
				Name: "rewards_units_consumed_total",
				Help: "Total number of consumed voucher units",
			},
		),
		ExpiredSwept: f.NewCounter(
			prometheus.CounterOpts{
				Name: "rewards_expired_vouchers_deactivated_total",
				Help: "Total number of vouchers deactivated by the expiry sweeper",
			},
		),
	}
}

// Observe фиксирует результат и длительность операции.
func (m *Metrics) Observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = apperr.CodeOf(err)
	}
	m.OperationTotal.WithLabelValues(operation, result).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Allocated увеличивает счётчик выданных единиц.
func (m *Metrics) Allocated(operation string, units int64) {
	if m == nil {
		return
	}
	m.UnitsAllocated.WithLabelValues(operation).Add(float64(units))
}

// Consumed увеличивает счётчик использованных единиц.
func (m *Metrics) Consumed() {
	if m == nil {
		return
	}
	m.UnitsConsumed.Inc()
}

// Swept добавляет число выключенных по сроку ваучеров.
func (m *Metrics) Swept(n int64) {
	if m == nil {
		return
	}
	m.ExpiredSwept.Add(float64(n))
}
