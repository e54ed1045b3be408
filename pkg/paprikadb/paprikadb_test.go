package paprikadb_test

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/paprikadb/paprika/pkg/paprikadb"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T, path string, historyDepth uint16) *paprikadb.DB {
	t.Helper()

	db, err := paprikadb.Open(paprikadb.Options{
		Path:         path,
		HistoryDepth: historyDepth,
		NumPages:     1 << 14,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return db
}

func hash32(seed int64, salt byte) [32]byte {
	r := rand.New(rand.NewSource(seed))

	var h [32]byte

	_, _ = r.Read(h[:])
	h[31] ^= salt

	return h
}

// S1: write 1,000 random 32-byte keys to 32-byte values in a single block
// (modeled as storage cells under one account), commit + finalize + await
// flushed, reopen the store, all 1,000 keys return their exact values.
func TestScenarioS1_BulkWriteSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "paprika.db")

	db := open(t, path, 2)

	account := hash32(1, 0)

	ws, err := db.StartNew(paprikadb.GenesisHash)
	require.NoError(t, err)

	type kv struct{ key, value [32]byte }

	entries := make([]kv, 1000)

	for i := range entries {
		entries[i] = kv{key: hash32(int64(i)+1000, 1), value: hash32(int64(i)+1000, 2)}
		require.NoError(t, ws.SetStorage(account, entries[i].key, entries[i].value))
	}

	hash, err := ws.Commit(1)
	require.NoError(t, err)

	require.NoError(t, db.Finalize(hash))
	<-db.Flushed()
	require.NoError(t, db.Close())

	reopened := open(t, path, 2)

	ro, err := reopened.StartReadOnly(hash)
	require.NoError(t, err)

	for _, e := range entries {
		value, found, err := ro.GetStorage(account, e.key)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, e.value, value)
	}
}

// S2: B1(parent=Genesis), B2(parent=B1) sets account A balance=10.
// Finalizing only B1 must not surface B2's write: a fresh block on B2 still
// sees balance=10 (B2's own write is visible through itself and its
// descendants regardless of finalization), a fresh block on B1 sees no
// account at all.
func TestScenarioS2_OnlyFinalizedAncestorPersists(t *testing.T) {
	db := open(t, "", 2)

	a := hash32(2, 0)

	b1, err := db.StartNew(paprikadb.GenesisHash)
	require.NoError(t, err)

	b1Hash, err := b1.Commit(1)
	require.NoError(t, err)

	b2, err := db.StartNew(b1Hash)
	require.NoError(t, err)

	ten := [32]byte{31: 10}
	require.NoError(t, b2.SetAccount(a, ten, [32]byte{}))

	b2Hash, err := b2.Commit(2)
	require.NoError(t, err)

	require.NoError(t, db.Finalize(b1Hash))
	<-db.Flushed()

	onB2, err := db.StartNew(b2Hash)
	require.NoError(t, err)

	balance, _, found, err := onB2.GetAccount(a)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, ten, balance)

	onB1, err := db.StartNew(b1Hash)
	require.NoError(t, err)

	_, _, found, err = onB1.GetAccount(a)
	require.NoError(t, err)
	require.False(t, found)
}

// S3: destroy_account(A) inside block B on top of a store containing
// A.balance=5; get_account(A) within B returns empty; a sibling block B'
// (same parent, does not destroy) still sees balance=5.
func TestScenarioS3_DestroySiblingIsolation(t *testing.T) {
	db := open(t, "", 2)

	a := hash32(3, 0)

	root, err := db.StartNew(paprikadb.GenesisHash)
	require.NoError(t, err)

	five := [32]byte{31: 5}
	require.NoError(t, root.SetAccount(a, five, [32]byte{}))

	rootHash, err := root.Commit(1)
	require.NoError(t, err)

	b, err := db.StartNew(rootHash)
	require.NoError(t, err)
	require.NoError(t, b.DestroyAccount(a))

	_, _, found, err := b.GetAccount(a)
	require.NoError(t, err)
	require.False(t, found)

	sibling, err := db.StartNew(rootHash)
	require.NoError(t, err)

	balance, _, found, err := sibling.GetAccount(a)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, five, balance)
}

// S5: with history depth 2, three consecutive finalizations without
// opening readers in between leave only the last two roots resolvable by
// hash; the oldest becomes unreachable and BeginReadOnlyBatchOrLatest falls
// back to the store's current root.
func TestScenarioS5_HistoryDepthBoundsReachableRoots(t *testing.T) {
	db := open(t, "", 2)

	parent := paprikadb.GenesisHash

	var hashes [3][32]byte

	for i := range hashes {
		ws, err := db.StartNew(parent)
		require.NoError(t, err)

		hash, err := ws.Commit(uint32(i + 1))
		require.NoError(t, err)

		require.NoError(t, db.Finalize(hash))
		<-db.Flushed()

		hashes[i] = hash
		parent = hash
	}

	rb3, err := db.BeginReadOnlyBatchOrLatest(hashes[2])
	require.NoError(t, err)
	defer rb3.Release()

	rbStale, err := db.BeginReadOnlyBatchOrLatest(hashes[0])
	require.NoError(t, err)
	defer rbStale.Release()

	require.Equal(t, rb3.Counter(), rbStale.Counter())
}
