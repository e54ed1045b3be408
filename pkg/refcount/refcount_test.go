package refcount_test

import (
	"sync"
	"testing"

	"github.com/paprikadb/paprika/pkg/refcount"
	"github.com/stretchr/testify/require"
)

func TestDisposable_CleanupRunsOnceAtZero(t *testing.T) {
	cleanups := 0

	d := refcount.New(42, func(int) { cleanups++ })

	require.True(t, d.AcquireLease())
	require.True(t, d.AcquireLease())
	require.Equal(t, int32(3), d.Leases())

	d.Release()
	require.Equal(t, 0, cleanups)

	d.Release()
	require.Equal(t, 0, cleanups)

	d.Release()
	require.Equal(t, 1, cleanups)
}

func TestDisposable_AcquireAfterDisposeFails(t *testing.T) {
	d := refcount.New("v", func(string) {})

	d.Release()

	require.False(t, d.AcquireLease())
	require.ErrorIs(t, d.MustAcquireLease(), refcount.ErrDisposed)
}

func TestDisposable_ConcurrentAcquireRelease(t *testing.T) {
	cleanups := 0

	d2 := refcount.New(0, func(int) { cleanups++ })

	const n = 200

	var wg sync.WaitGroup

	for range n {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if d2.AcquireLease() {
				d2.Release()
			}
		}()
	}

	wg.Wait()
	d2.Release()

	require.Equal(t, 1, cleanups)
}
