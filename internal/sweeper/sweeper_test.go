package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeDeactivator struct {
	calls atomic.Int64
	n     int64
	err   error
}

func (f *fakeDeactivator) DeactivateExpired(ctx context.Context) (int64, error) {
	f.calls.Add(1)
	return f.n, f.err
}

func TestSweep_LogsDeactivated(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	target := &fakeDeactivator{n: 3}

	New(target, "@every 1m", zap.New(core)).Sweep(context.Background())

	assert.Equal(t, int64(1), target.calls.Load())
	entries := logs.FilterMessage("expired vouchers deactivated").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(3), entries[0].ContextMap()["count"])
}

func TestSweep_NothingExpiredIsQuiet(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	New(&fakeDeactivator{}, "@every 1m", zap.New(core)).Sweep(context.Background())

	assert.Equal(t, 0, logs.Len())
}

func TestSweep_ErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	target := &fakeDeactivator{err: errors.New("db down")}

	New(target, "@every 1m", zap.New(core)).Sweep(context.Background())

	entries := logs.FilterMessage("expiry sweep failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)
}

func TestSweep_CanceledContextSkips(t *testing.T) {
	target := &fakeDeactivator{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	New(target, "@every 1m", nil).Sweep(ctx)

	assert.Zero(t, target.calls.Load())
}

func TestRun_InvalidSchedule(t *testing.T) {
	err := New(&fakeDeactivator{}, "every now and then", nil).Run(context.Background())
	assert.Error(t, err)
}

func TestRun_FiresAndStops(t *testing.T) {
	target := &fakeDeactivator{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- New(target, "@every 1s", nil).Run(ctx) }()

	require.Eventually(t, func() bool { return target.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_DisabledWaitsForCancel(t *testing.T) {
	target := &fakeDeactivator{}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, New(target, "", nil).Run(ctx))
	assert.Zero(t, target.calls.Load())
}
