package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/rewards-engine/internal/apperr"
)

func TestConsume_DrainsQuantity(t *testing.T) {
	const units = 3

	svc, st := newTestService(t)
	st.AddVoucher(generalVoucher("g1", 10))

	res, err := svc.Assign(context.Background(), AssignInput{Contact: "0901234567", VoucherID: "g1", Quantity: units})
	require.NoError(t, err)
	id := res.Allocation.ID

	for i := 1; i <= units; i++ {
		at := testNow.Add(time.Duration(i) * time.Hour)
		svc.now = func() time.Time { return at }

		a, ev, err := svc.Consume(context.Background(), id)
		require.NoError(t, err, "consume %d", i)

		assert.EqualValues(t, units-i, a.Quantity)
		assert.Equal(t, i == units, a.IsUsed)
		require.NotNil(t, a.UsedAt)
		assert.Equal(t, at, *a.UsedAt)
		assert.Equal(t, at, ev.UsedAt)
		assert.Equal(t, id, ev.AllocationID)
	}

	_, _, err = svc.Consume(context.Background(), id)
	assert.ErrorIs(t, err, apperr.ErrNothingToConsume)

	owned, err := svc.ListOwned(context.Background(), res.UserID)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Len(t, owned[0].Usages, units)
	assert.True(t, owned[0].Allocation.IsUsed)
}

func TestConsume_UnknownRecord(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Consume(context.Background(), 42)
	assert.ErrorIs(t, err, apperr.ErrRecordNotFound)

	_, err = svc.Unconsume(context.Background(), 42)
	assert.ErrorIs(t, err, apperr.ErrRecordNotFound)
}

func TestUnconsume_KeepsQuantityAndHistory(t *testing.T) {
	svc, st := newTestService(t)
	st.AddVoucher(generalVoucher("g1", 10))

	res, err := svc.Assign(context.Background(), AssignInput{Contact: "0901234567", VoucherID: "g1", Quantity: 1})
	require.NoError(t, err)

	_, _, err = svc.Consume(context.Background(), res.Allocation.ID)
	require.NoError(t, err)

	a, err := svc.Unconsume(context.Background(), res.Allocation.ID)
	require.NoError(t, err)
	assert.False(t, a.IsUsed)
	assert.Nil(t, a.UsedAt)
	assert.Zero(t, a.Quantity)

	owned, err := svc.ListOwned(context.Background(), res.UserID)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Len(t, owned[0].Usages, 1)

	// нечего погашать: остаток не восстановлен
	_, _, err = svc.Consume(context.Background(), res.Allocation.ID)
	assert.ErrorIs(t, err, apperr.ErrNothingToConsume)
}

func TestListOwned_ReadOnly(t *testing.T) {
	svc, st := newTestService(t)
	st.AddVoucher(generalVoucher("g1", 10))
	st.AddVoucher(wheelVoucher("w1", 100, 10, 0))

	res, err := svc.Assign(context.Background(), AssignInput{Contact: "0901234567", VoucherID: "g1", Quantity: 2})
	require.NoError(t, err)
	_, err = svc.Spin(context.Background(), res.UserID, "wheel")
	require.NoError(t, err)

	first, err := svc.ListOwned(context.Background(), res.UserID)
	require.NoError(t, err)
	second, err := svc.ListOwned(context.Background(), res.UserID)
	require.NoError(t, err)

	assert.Len(t, first, 2)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 8, stockOf(t, st, "g1"))
	assert.EqualValues(t, 9, stockOf(t, st, "w1"))
}

func TestListOwned_EmptyForStranger(t *testing.T) {
	svc, _ := newTestService(t)

	owned, err := svc.ListOwned(context.Background(), 777)
	require.NoError(t, err)
	assert.Empty(t, owned)
}
