package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/rewards-engine/internal/metrics"
	"github.com/mmeshcher/rewards-engine/internal/model"
	"github.com/mmeshcher/rewards-engine/internal/store/memory"
)

var testNow = time.Date(2026, time.October, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()

	st := memory.New()
	svc := NewService(st, DefaultPolicy(), zap.NewNop(), metrics.New(prometheus.NewRegistry()))
	svc.now = func() time.Time { return testNow }
	svc.random = func() float64 { return 0.5 }

	return svc, st
}

func wheelVoucher(id string, weight, quantity int64, order int) model.Voucher {
	return model.Voucher{
		ID:          id,
		Code:        "W" + id,
		Category:    "wheel",
		Quantity:    quantity,
		Probability: decimal.NewNullDecimal(decimal.NewFromInt(weight)),
		IsActive:    true,
		CreatedAt:   testNow.Add(time.Duration(order) * time.Minute),
	}
}

func generalVoucher(id string, quantity int64) model.Voucher {
	return model.Voucher{
		ID:        id,
		Code:      "G" + id,
		Category:  "general",
		Quantity:  quantity,
		IsActive:  true,
		CreatedAt: testNow,
	}
}

func stockOf(t *testing.T, st *memory.Store, id string) int64 {
	t.Helper()

	v, err := st.GetVoucher(context.Background(), id)
	if err != nil {
		t.Fatalf("get voucher %s: %v", id, err)
	}
	return v.Quantity
}
