package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/rewards-engine/internal/apperr"
	"github.com/mmeshcher/rewards-engine/internal/model"
	"github.com/mmeshcher/rewards-engine/internal/store"
)

func TestInTx_RollsBackOnError(t *testing.T) {
	s := New()
	userID := s.AddUser(model.User{Phone: "+84900000001"})
	s.AddVoucher(model.Voucher{ID: "v1", Code: "AAA1111", Category: "general", Quantity: 3, IsActive: true})

	boom := errors.New("boom")
	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.DecrementStock(ctx, "v1", 2); err != nil {
			return err
		}
		if _, err := tx.InsertAllocation(ctx, model.Allocation{UserID: userID, VoucherID: "v1", Quantity: 2}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	v, err := s.GetVoucher(context.Background(), "v1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, v.Quantity, "stock must be restored")

	owned, err := s.ListOwned(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, owned, "no orphan ledger rows")
}

func TestDecrementStock_Guard(t *testing.T) {
	s := New()
	s.AddVoucher(model.Voucher{ID: "v1", Quantity: 2})

	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.DecrementStock(ctx, "v1", 3)
	})
	assert.ErrorIs(t, err, apperr.ErrOutOfStock)

	err = s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.DecrementStock(ctx, "v1", 2)
	})
	require.NoError(t, err)

	v, err := s.GetVoucher(context.Background(), "v1")
	require.NoError(t, err)
	assert.Zero(t, v.Quantity)
}

func TestInTx_CanceledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error { return nil })
	assert.ErrorIs(t, err, apperr.ErrStoreUnavailable)
}

func TestSumActiveWeights_ExcludesRecordAndInactive(t *testing.T) {
	s := New()
	s.AddVoucher(model.Voucher{ID: "a", Category: "wheel", IsActive: true, Probability: decimal.NewNullDecimal(decimal.NewFromInt(40))})
	s.AddVoucher(model.Voucher{ID: "b", Category: "Wheel ", IsActive: true, Probability: decimal.NewNullDecimal(decimal.NewFromInt(30))})
	s.AddVoucher(model.Voucher{ID: "c", Category: "wheel", IsActive: false, Probability: decimal.NewNullDecimal(decimal.NewFromInt(50))})

	var sum decimal.Decimal
	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		sum, err = tx.SumActiveWeights(ctx, "wheel", "a")
		return err
	})
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(30)), sum.String())
}

func TestDeactivateExpired(t *testing.T) {
	s := New()
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	s.AddVoucher(model.Voucher{ID: "old", IsActive: true, ExpiryDate: &past})
	s.AddVoucher(model.Voucher{ID: "new", IsActive: true, ExpiryDate: &future})
	s.AddVoucher(model.Voucher{ID: "forever", IsActive: true})

	n, err := s.DeactivateExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	v, err := s.GetVoucher(context.Background(), "old")
	require.NoError(t, err)
	assert.False(t, v.IsActive)
}

func TestLockUser_ProvisionsResolvedID(t *testing.T) {
	s := New()

	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.LockUser(ctx, 50)
	})
	require.NoError(t, err)

	next := s.AddUser(model.User{Phone: "+84900000050"})
	assert.EqualValues(t, 51, next, "generated ids must not collide with provisioned ones")

	err = s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.LockUser(ctx, 0)
	})
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
}
