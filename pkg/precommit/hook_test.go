package precommit_test

import (
	"sort"
	"testing"

	"github.com/paprikadb/paprika/pkg/precommit"
	"github.com/stretchr/testify/require"
)

type mapView map[string][]byte

func (m mapView) Get(key []byte) ([]byte, bool) {
	v, ok := m[string(key)]
	return v, ok
}

func (m mapView) Set(key []byte, value []byte) { m[string(key)] = value }

// Visit walks keys in sorted order: IdentityHook's digest depends on the
// view's iteration order, and Go map order is randomized.
func (m mapView) Visit(fn func(key, value []byte) bool) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		if !fn([]byte(k), m[k]) {
			return
		}
	}
}

func (m mapView) GetChild(prefix []byte) precommit.View {
	child := mapView{}

	for k, v := range m {
		if len(k) >= len(prefix) && k[:len(prefix)] == string(prefix) {
			child[k] = v
		}
	}

	return child
}

func TestIdentityHook_DeterministicForSameEntries(t *testing.T) {
	v := mapView{"a": []byte("1"), "b": []byte("2")}

	h1, err := precommit.IdentityHook{}.Commit(v)
	require.NoError(t, err)

	h2, err := precommit.IdentityHook{}.Commit(v)
	require.NoError(t, err)

	require.Equal(t, h1, h2)
}

func TestIdentityHook_DiffersForDifferentEntries(t *testing.T) {
	v1 := mapView{"a": []byte("1")}
	v2 := mapView{"a": []byte("2")}

	h1, err := precommit.IdentityHook{}.Commit(v1)
	require.NoError(t, err)

	h2, err := precommit.IdentityHook{}.Commit(v2)
	require.NoError(t, err)

	require.NotEqual(t, h1, h2)
}
