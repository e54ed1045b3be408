package pagestore

import "errors"

// ErrStoreFull is returned from GetNewDirtyPage when no free page is
// available within the store's fixed region. Fatal to the active batch, not
// to the store.
var ErrStoreFull = errors.New("pagestore: store full, no free page available")

// ErrAddressOutOfRange is returned by GetAt/PageAt when addr is beyond the
// store's addressable range.
var ErrAddressOutOfRange = errors.New("pagestore: address out of range")

// ErrIOError wraps an underlying page-manager I/O failure. Fatal to the
// flusher.
var ErrIOError = errors.New("pagestore: io error")

// ErrWriterActive is returned by BeginNextBatch when a writer batch is
// already open; the store permits at most one live writer.
var ErrWriterActive = errors.New("pagestore: writer batch already active")

// ErrUnknownState is returned by BeginReadOnlyBatch when the named root
// counter is not (or no longer) resolvable.
var ErrUnknownState = errors.New("pagestore: unknown state")

// ErrCorrupt is returned by Open when crash-recovery validation fails on
// both the current and fallback metadata slot.
var ErrCorrupt = errors.New("pagestore: corrupt store")
