package blockchain_test

import (
	"testing"

	"github.com/paprikadb/paprika/pkg/blockchain"
	"github.com/paprikadb/paprika/pkg/bufpool"
	"github.com/paprikadb/paprika/pkg/pagestore"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *pagestore.Store {
	t.Helper()

	s, err := pagestore.OpenAnonymous(pagestore.Options{HistoryDepth: 3, NumPages: 512})
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func newChain(t *testing.T) *blockchain.Blockchain {
	t.Helper()

	c := blockchain.New(newStore(t), blockchain.Config{
		Pool:                bufpool.New(bufpool.Options{Capacity: 256}),
		MinFlushDelayMillis: 0,
	})

	t.Cleanup(func() { _ = c.Dispose() })

	return c
}

func account(b byte) [32]byte {
	var h [32]byte
	h[31] = b

	return h
}

func TestBlockchain_RoundTrip_AcrossCommit(t *testing.T) {
	c := newChain(t)

	bs, err := c.StartNew(blockchain.GenesisHash)
	require.NoError(t, err)

	a := account(1)
	require.NoError(t, bs.SetAccount(a, account(42), account(7)))

	balance, nonce, found, err := bs.GetAccount(a)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, account(42), balance)
	require.Equal(t, account(7), nonce)

	hash, err := bs.Commit(1)
	require.NoError(t, err)
	require.True(t, c.HasState(hash))

	child, err := c.StartNew(hash)
	require.NoError(t, err)

	balance, nonce, found, err = child.GetAccount(a)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, account(42), balance)
	require.Equal(t, account(7), nonce)
}

func TestBlockchain_DestroyAccount_ShadowsThisBlockOnly(t *testing.T) {
	c := newChain(t)

	root, err := c.StartNew(blockchain.GenesisHash)
	require.NoError(t, err)

	a := account(2)
	require.NoError(t, root.SetAccount(a, account(5), account(0)))

	rootHash, err := root.Commit(1)
	require.NoError(t, err)

	b, err := c.StartNew(rootHash)
	require.NoError(t, err)

	require.NoError(t, b.DestroyAccount(a))

	_, _, found, err := b.GetAccount(a)
	require.NoError(t, err)
	require.False(t, found)

	sibling, err := c.StartNew(rootHash)
	require.NoError(t, err)

	balance, _, found, err := sibling.GetAccount(a)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, account(5), balance)
}

func TestBlockchain_Finalize_FlushesThenResolvableFromFreshBlock(t *testing.T) {
	c := newChain(t)

	bs, err := c.StartNew(blockchain.GenesisHash)
	require.NoError(t, err)

	a := account(3)
	require.NoError(t, bs.SetAccount(a, account(99), account(1)))

	hash, err := bs.Commit(1)
	require.NoError(t, err)

	require.NoError(t, c.Finalize(hash))

	flushed, ok := <-c.Flushed()
	require.True(t, ok)
	require.Equal(t, uint32(1), flushed)

	require.True(t, c.HasState(hash))

	next, err := c.StartNew(hash)
	require.NoError(t, err)

	balance, _, found, err := next.GetAccount(a)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, account(99), balance)
}

func TestBlockchain_Finalize_DestroyedAccountStaysGoneAfterFlush(t *testing.T) {
	c := newChain(t)

	root, err := c.StartNew(blockchain.GenesisHash)
	require.NoError(t, err)

	a := account(4)
	require.NoError(t, root.SetAccount(a, account(7), account(0)))
	require.NoError(t, root.SetStorage(a, account(1), account(123)))

	rootHash, err := root.Commit(1)
	require.NoError(t, err)
	require.NoError(t, c.Finalize(rootHash))
	<-c.Flushed()

	child, err := c.StartNew(rootHash)
	require.NoError(t, err)
	require.NoError(t, child.DestroyAccount(a))

	childHash, err := child.Commit(2)
	require.NoError(t, err)
	require.NoError(t, c.Finalize(childHash))
	<-c.Flushed()

	grandchild, err := c.StartNew(childHash)
	require.NoError(t, err)

	_, _, found, err := grandchild.GetAccount(a)
	require.NoError(t, err)
	require.False(t, found)

	_, found, err = grandchild.GetStorage(a, account(1))
	require.NoError(t, err)
	require.False(t, found)
}

func TestBlockchain_Finalize_RejectsDescendingBlockNumber(t *testing.T) {
	c := newChain(t)

	first, err := c.StartNew(blockchain.GenesisHash)
	require.NoError(t, err)

	firstHash, err := first.Commit(1)
	require.NoError(t, err)

	second, err := c.StartNew(firstHash)
	require.NoError(t, err)

	secondHash, err := second.Commit(2)
	require.NoError(t, err)

	require.NoError(t, c.Finalize(secondHash))
	<-c.Flushed()

	require.ErrorIs(t, c.Finalize(firstHash), blockchain.ErrStaleFinalize)
}

func TestBlockchain_StartNew_UnknownParentFails(t *testing.T) {
	c := newChain(t)

	_, err := c.StartNew(account(0xFF))
	require.ErrorIs(t, err, blockchain.ErrMissingParent)
}

func TestBlockchain_Reset_DiscardsPendingWrites(t *testing.T) {
	c := newChain(t)

	bs, err := c.StartNew(blockchain.GenesisHash)
	require.NoError(t, err)

	a := account(5)
	require.NoError(t, bs.SetAccount(a, account(1), account(1)))
	require.NoError(t, bs.Reset())

	_, _, found, err := bs.GetAccount(a)
	require.NoError(t, err)
	require.False(t, found)
}
