package pagestore_test

import (
	"path/filepath"
	"testing"

	"github.com/paprikadb/paprika/pkg/pagestore"
	"github.com/stretchr/testify/require"
)

func openAnon(t *testing.T, numPages uint32) *pagestore.Store {
	t.Helper()

	s, err := pagestore.OpenAnonymous(pagestore.Options{HistoryDepth: 3, NumPages: numPages})
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestStore_FreshOpen_HasInitialRoot(t *testing.T) {
	s := openAnon(t, 64)

	rb, err := s.BeginReadOnlyBatch()
	require.NoError(t, err)
	defer rb.Release()

	require.Equal(t, uint64(0), rb.Counter())
	require.True(t, s.HasState(0))
}

func TestStore_BeginNextBatch_WriteAndCommit(t *testing.T) {
	s := openAnon(t, 64)

	b, err := s.BeginNextBatch()
	require.NoError(t, err)

	addr, buf, err := b.GetNewDirtyPage()
	require.NoError(t, err)
	pagestore.Payload(buf)[pagestore.PagePayloadSize-1] = 0xAB // touch tail byte of payload

	got, err := b.GetAddress(buf)
	require.NoError(t, err)
	require.Equal(t, addr, got)

	require.NoError(t, b.Commit(pagestore.FlushDataAndRoot))

	rb, err := s.BeginReadOnlyBatch()
	require.NoError(t, err)
	defer rb.Release()

	require.Equal(t, uint64(1), rb.Counter())

	page, err := rb.GetAt(addr)
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), pagestore.Payload(page)[pagestore.PagePayloadSize-1])
}

func TestStore_OnlyOneWriterAtATime(t *testing.T) {
	s := openAnon(t, 64)

	b, err := s.BeginNextBatch()
	require.NoError(t, err)

	_, err = s.BeginNextBatch()
	require.ErrorIs(t, err, pagestore.ErrWriterActive)

	require.NoError(t, b.Commit(pagestore.FlushDataAndRoot))

	b2, err := s.BeginNextBatch()
	require.NoError(t, err)
	require.NoError(t, b2.Commit(pagestore.DangerNoFlush))
}

func TestStore_GetWritableCopy_SameBatchNoOp(t *testing.T) {
	s := openAnon(t, 64)

	b, err := s.BeginNextBatch()
	require.NoError(t, err)

	addr, buf, err := b.GetNewDirtyPage()
	require.NoError(t, err)

	sameAddr, sameBuf, err := b.GetWritableCopy(addr, buf)
	require.NoError(t, err)
	require.Equal(t, addr, sameAddr)
	require.Same(t, &buf[0], &sameBuf[0])

	require.NoError(t, b.Commit(pagestore.DangerNoFlush))
}

func TestStore_GetWritableCopy_ForeignBatchCopies(t *testing.T) {
	s := openAnon(t, 64)

	b1, err := s.BeginNextBatch()
	require.NoError(t, err)

	addr, buf, err := b1.GetNewDirtyPage()
	require.NoError(t, err)
	pagestore.Payload(buf)[0] = 0x42

	require.NoError(t, b1.Commit(pagestore.DangerNoFlush))

	b2, err := s.BeginNextBatch()
	require.NoError(t, err)

	page, err := b2.GetAt(addr)
	require.NoError(t, err)

	newAddr, newBuf, err := b2.GetWritableCopy(addr, page)
	require.NoError(t, err)
	require.NotEqual(t, addr, newAddr)
	require.Equal(t, byte(0x42), pagestore.Payload(newBuf)[0])

	require.NoError(t, b2.Commit(pagestore.DangerNoFlush))
}

func TestStore_ReadOnlyBatch_OutlivesNewerWriter(t *testing.T) {
	s := openAnon(t, 64)

	rb0, err := s.BeginReadOnlyBatch()
	require.NoError(t, err)

	b, err := s.BeginNextBatch()
	require.NoError(t, err)
	require.NoError(t, b.Commit(pagestore.DangerNoFlush))

	require.True(t, s.HasState(0))
	require.Equal(t, uint64(0), rb0.Counter())

	rb0.Release()
}

func TestStore_CrashRecovery_ReopenSeesLastCommittedRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "paprika.db")

	s, err := pagestore.Open(path, pagestore.Options{HistoryDepth: 3, NumPages: 64})
	require.NoError(t, err)

	b, err := s.BeginNextBatch()
	require.NoError(t, err)

	addr, buf, err := b.GetNewDirtyPage()
	require.NoError(t, err)
	pagestore.Payload(buf)[0] = 0x99

	require.NoError(t, b.Commit(pagestore.FlushDataAndRoot))
	require.NoError(t, s.Close())

	reopened, err := pagestore.Open(path, pagestore.Options{HistoryDepth: 3, NumPages: 64})
	require.NoError(t, err)
	defer reopened.Close()

	rb, err := reopened.BeginReadOnlyBatch()
	require.NoError(t, err)
	defer rb.Release()

	require.Equal(t, uint64(1), rb.Counter())

	page, err := rb.GetAt(addr)
	require.NoError(t, err)
	require.Equal(t, byte(0x99), pagestore.Payload(page)[0])
}

func TestStore_AllocateFailsWhenFull(t *testing.T) {
	s := openAnon(t, 8) // root + 3 metadata + 1 initial root data page = 5 used, 3 free

	b, err := s.BeginNextBatch()
	require.NoError(t, err)

	allocated := 0

	for {
		_, _, err := b.GetNewDirtyPage()
		if err != nil {
			require.ErrorIs(t, err, pagestore.ErrStoreFull)

			break
		}

		allocated++
	}

	require.Greater(t, allocated, 0)
}
