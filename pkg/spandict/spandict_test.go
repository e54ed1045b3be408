package spandict_test

import (
	"fmt"
	"testing"

	"github.com/paprikadb/paprika/pkg/bufpool"
	"github.com/paprikadb/paprika/pkg/spandict"
	"github.com/stretchr/testify/require"
)

func hashOf(s string) uint64 {
	var h uint64 = 1469598103934665603

	for _, c := range []byte(s) {
		h ^= uint64(c)
		h *= 1099511628211
	}

	return h
}

func newPool(t *testing.T) *bufpool.Pool {
	t.Helper()

	return bufpool.New(bufpool.Options{Capacity: 256, TrackLeaks: true})
}

func TestDict_SetThenGet(t *testing.T) {
	pool := newPool(t)
	d, err := spandict.New(pool, false)
	require.NoError(t, err)
	defer d.Dispose()

	key := []byte("account-1")
	h := hashOf("account-1")

	require.NoError(t, d.Set(key, h, []byte("value-1"), spandict.MetaNormal))

	rec, ok := d.TryGet(key, h)
	require.True(t, ok)
	require.Equal(t, []byte("value-1"), rec.Value)
	require.False(t, rec.Destroyed)
}

func TestDict_Overwrite(t *testing.T) {
	pool := newPool(t)
	d, err := spandict.New(pool, false)
	require.NoError(t, err)
	defer d.Dispose()

	key := []byte("k")
	h := hashOf("k")

	require.NoError(t, d.Set(key, h, []byte("longer-value"), spandict.MetaNormal))
	require.NoError(t, d.Set(key, h, []byte("short"), spandict.MetaNormal))

	rec, ok := d.TryGet(key, h)
	require.True(t, ok)
	require.Equal(t, []byte("short"), rec.Value)
}

func TestDict_Destroy(t *testing.T) {
	pool := newPool(t)
	d, err := spandict.New(pool, false)
	require.NoError(t, err)
	defer d.Dispose()

	key := []byte("k")
	h := hashOf("k")

	require.NoError(t, d.Set(key, h, []byte("v"), spandict.MetaNormal))
	require.True(t, d.Destroy(key, h))

	rec, ok := d.TryGet(key, h)
	require.True(t, ok)
	require.True(t, rec.Destroyed)
}

func TestDict_MissingKey(t *testing.T) {
	pool := newPool(t)
	d, err := spandict.New(pool, false)
	require.NoError(t, err)
	defer d.Dispose()

	_, ok := d.TryGet([]byte("absent"), hashOf("absent"))
	require.False(t, ok)
}

func TestDict_PreserveOldValues_ReferencesStayStable(t *testing.T) {
	pool := newPool(t)
	d, err := spandict.New(pool, true)
	require.NoError(t, err)
	defer d.Dispose()

	key := []byte("k")
	h := hashOf("k")

	require.NoError(t, d.Set(key, h, []byte("v1"), spandict.MetaNormal))

	rec1, ok := d.TryGet(key, h)
	require.True(t, ok)

	require.NoError(t, d.Set(key, h, []byte("v2"), spandict.MetaNormal))

	// rec1.Value must still read v1: preserve_old_values never updates in
	// place, so the earlier record's bytes are untouched (spec.md §8
	// property 6 / scenario S6).
	require.Equal(t, []byte("v1"), rec1.Value)

	rec2, ok := d.TryGet(key, h)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), rec2.Value)
}

func TestDict_Enumerate(t *testing.T) {
	pool := newPool(t)
	d, err := spandict.New(pool, false)
	require.NoError(t, err)
	defer d.Dispose()

	want := map[string]string{}

	for i := range 50 {
		k := fmt.Sprintf("key-%d", i)
		v := fmt.Sprintf("val-%d", i)
		want[k] = v
		require.NoError(t, d.Set([]byte(k), hashOf(k), []byte(v), spandict.MetaNormal))
	}

	got := map[string]string{}
	d.Enumerate(func(key []byte, rec spandict.Record) bool {
		got[string(key)] = string(rec.Value)
		return true
	})

	require.Equal(t, want, got)
}

func TestDict_EnumerateSkipsTombstoned(t *testing.T) {
	pool := newPool(t)
	d, err := spandict.New(pool, false)
	require.NoError(t, err)
	defer d.Dispose()

	key := []byte("k")
	h := hashOf("k")

	require.NoError(t, d.Set(key, h, []byte("short"), spandict.MetaNormal))
	// Force an append-tombstone path with a larger value.
	require.NoError(t, d.Set(key, h, []byte("much-longer-value"), spandict.MetaNormal))

	seen := 0
	d.Enumerate(func(key []byte, rec spandict.Record) bool {
		seen++
		require.Equal(t, []byte("much-longer-value"), rec.Value)

		return true
	})
	require.Equal(t, 1, seen)
}
