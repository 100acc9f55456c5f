package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/rewards-engine/internal/apperr"
	"github.com/mmeshcher/rewards-engine/internal/model"
)

func ptr[T any](v T) *T { return &v }

func TestCreateVoucher_Defaults(t *testing.T) {
	svc, _ := newTestService(t)

	v, err := svc.CreateVoucher(context.Background(), VoucherInput{
		Description: "10% off",
		Discount:    decimal.NewFromInt(10),
		Category:    " general ",
	})
	require.NoError(t, err)

	_, err = uuid.Parse(v.ID)
	assert.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[A-Z0-9]{7}$`), v.Code)
	assert.EqualValues(t, 1, v.Quantity)
	assert.True(t, v.IsActive)
	assert.Equal(t, "general", v.Category)

	byCode, err := svc.GetVoucher(context.Background(), v.Code)
	require.NoError(t, err)
	assert.Equal(t, v.ID, byCode.ID)
}

func TestCreateVoucher_DuplicateID(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateVoucher(context.Background(), VoucherInput{ID: "v1", Category: "general"})
	require.NoError(t, err)

	_, err = svc.CreateVoucher(context.Background(), VoucherInput{ID: "v1", Category: "general"})
	assert.ErrorIs(t, err, apperr.ErrVoucherExists)
}

func TestCreateVoucher_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   VoucherInput
	}{
		{name: "negative quantity", in: VoucherInput{Quantity: ptr(int64(-1))}},
		{name: "negative discount", in: VoucherInput{Discount: decimal.NewFromInt(-5)}},
		{name: "negative probability", in: VoucherInput{Probability: decimal.NewNullDecimal(decimal.NewFromInt(-1))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			_, err := svc.CreateVoucher(context.Background(), tt.in)
			assert.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}
}

func TestWeightCap(t *testing.T) {
	weight := func(n int64) decimal.NullDecimal { return decimal.NewNullDecimal(decimal.NewFromInt(n)) }

	t.Run("update over cap is rejected", func(t *testing.T) {
		svc, st := newTestService(t)
		st.AddVoucher(wheelVoucher("a", 60, 5, 0))
		st.AddVoucher(wheelVoucher("b", 40, 5, 1))

		_, err := svc.UpdateVoucher(context.Background(), "b", VoucherPatch{Probability: ptr(decimal.NewFromInt(45))})
		require.ErrorIs(t, err, apperr.ErrWeightSumExceeded)
		assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

		b, err := svc.GetVoucher(context.Background(), "b")
		require.NoError(t, err)
		assert.True(t, b.Weight().Equal(decimal.NewFromInt(40)))
	})

	t.Run("record is excluded from its own sum", func(t *testing.T) {
		svc, st := newTestService(t)
		st.AddVoucher(wheelVoucher("a", 60, 5, 0))
		st.AddVoucher(wheelVoucher("b", 40, 5, 1))

		v, err := svc.UpdateVoucher(context.Background(), "a", VoucherPatch{Probability: ptr(decimal.NewFromInt(55))})
		require.NoError(t, err)
		assert.True(t, v.Weight().Equal(decimal.NewFromInt(55)))
	})

	t.Run("create over cap is rejected", func(t *testing.T) {
		svc, st := newTestService(t)
		st.AddVoucher(wheelVoucher("a", 100, 5, 0))

		_, err := svc.CreateVoucher(context.Background(), VoucherInput{ID: "c", Category: "wheel", Probability: weight(5)})
		assert.ErrorIs(t, err, apperr.ErrWeightSumExceeded)

		vouchers, err := svc.ListVouchers(context.Background(), "wheel")
		require.NoError(t, err)
		assert.Len(t, vouchers, 1)
	})

	t.Run("inactive records do not count", func(t *testing.T) {
		svc, st := newTestService(t)
		st.AddVoucher(wheelVoucher("a", 100, 5, 0))

		_, err := svc.CreateVoucher(context.Background(), VoucherInput{
			ID: "c", Category: "wheel", Probability: weight(50), IsActive: ptr(false),
		})
		require.NoError(t, err)

		_, err = svc.UpdateVoucher(context.Background(), "a", VoucherPatch{IsActive: ptr(false)})
		require.NoError(t, err)

		_, err = svc.UpdateVoucher(context.Background(), "c", VoucherPatch{IsActive: ptr(true)})
		assert.NoError(t, err)
	})

	t.Run("other categories are unchecked", func(t *testing.T) {
		svc, st := newTestService(t)
		st.AddVoucher(wheelVoucher("a", 100, 5, 0))

		_, err := svc.CreateVoucher(context.Background(), VoucherInput{ID: "g", Category: "general", Probability: weight(500)})
		assert.NoError(t, err)
	})
}

func TestUpdateVoucher_KeepsCodeAndCreation(t *testing.T) {
	svc, st := newTestService(t)
	st.AddVoucher(generalVoucher("g1", 3))
	expiry := testNow.Add(48 * time.Hour)

	v, err := svc.UpdateVoucher(context.Background(), "Gg1", VoucherPatch{
		Description: ptr("updated"),
		Quantity:    ptr(int64(9)),
		ExpiryDate:  &expiry,
	})
	require.NoError(t, err)

	assert.Equal(t, "Gg1", v.Code)
	assert.Equal(t, testNow, v.CreatedAt)
	assert.Equal(t, "updated", v.Description)
	assert.EqualValues(t, 9, v.Quantity)
	require.NotNil(t, v.ExpiryDate)
	assert.Equal(t, expiry, *v.ExpiryDate)
}

func TestDeleteVoucher_RemovesAllocations(t *testing.T) {
	svc, st := newTestService(t)
	st.AddVoucher(generalVoucher("g1", 3))
	userID := st.AddUser(model.User{})

	_, err := svc.Claim(context.Background(), userID, "g1")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteVoucher(context.Background(), "g1"))

	_, err = svc.GetVoucher(context.Background(), "g1")
	assert.ErrorIs(t, err, apperr.ErrVoucherNotFound)

	owned, err := svc.ListOwned(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, owned)

	assert.ErrorIs(t, svc.DeleteVoucher(context.Background(), "g1"), apperr.ErrVoucherNotFound)
}

func TestWheelSegments(t *testing.T) {
	svc, _ := newTestService(t)

	n, err := svc.WheelSegments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.DefaultWheelSegments, n)

	assert.ErrorIs(t, svc.SetWheelSegments(context.Background(), 1), apperr.ErrInvalidInput)
	require.NoError(t, svc.SetWheelSegments(context.Background(), 12))

	n, err = svc.WheelSegments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, n)
}

func TestDeactivateExpired(t *testing.T) {
	svc, st := newTestService(t)
	past := testNow.Add(-time.Minute)
	future := testNow.Add(time.Hour)

	expired := generalVoucher("old", 3)
	expired.ExpiryDate = &past
	fresh := generalVoucher("new", 3)
	fresh.ExpiryDate = &future
	st.AddVoucher(expired)
	st.AddVoucher(fresh)

	n, err := svc.DeactivateExpired(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	v, err := svc.GetVoucher(context.Background(), "old")
	require.NoError(t, err)
	assert.False(t, v.IsActive)

	n, err = svc.DeactivateExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEligible_CatalogOrder(t *testing.T) {
	svc, st := newTestService(t)
	st.AddVoucher(wheelVoucher("second", 30, 5, 2))
	st.AddVoucher(wheelVoucher("first", 30, 5, 1))
	st.AddVoucher(wheelVoucher("empty", 30, 0, 0))

	got, err := svc.Eligible(context.Background(), "wheel", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].ID)
	assert.Equal(t, "second", got[1].ID)
}
