package pagestore

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// Manager owns a fixed-size, memory-mapped region addressable as contiguous
// 4 KiB pages. It has no notion of batches, metadata, or commit protocol —
// it is the bottom layer described in spec.md §4.1.
type Manager struct {
	fd       int
	data     []byte
	maxPage  uint32
	readOnly bool
}

// OpenManager opens or creates path as a numPages*PageSize memory-mapped
// region. An existing file shorter than that is extended; a longer file is
// left as-is (maxPage reflects the requested size, never the file's).
func OpenManager(path string, numPages uint32) (*Manager, error) {
	size := int64(numPages) * PageSize

	fd, err := syscall.Open(path, syscall.O_RDWR|syscall.O_CREAT, 0o600)
	if err != nil {
		return nil, fmt.Errorf("pagestore: open %s: %w", path, err)
	}

	var stat syscall.Stat_t
	if err := syscall.Fstat(fd, &stat); err != nil {
		_ = syscall.Close(fd)

		return nil, fmt.Errorf("pagestore: stat %s: %w", path, err)
	}

	if stat.Size < size {
		if err := syscall.Ftruncate(fd, size); err != nil {
			_ = syscall.Close(fd)

			return nil, fmt.Errorf("pagestore: truncate %s: %w", path, err)
		}
	}

	data, err := syscall.Mmap(fd, 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		_ = syscall.Close(fd)

		return nil, fmt.Errorf("pagestore: mmap %s: %w", path, err)
	}

	return &Manager{fd: fd, data: data, maxPage: numPages}, nil
}

// openManagerAnonymous creates an unbacked, anonymous mapping of numPages
// pages. Used for tests and DangerNoWrite-style throwaway stores; nothing is
// ever persisted to disk.
func openManagerAnonymous(numPages uint32) (*Manager, error) {
	size := int(numPages) * PageSize

	data, err := syscall.Mmap(-1, 0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED|syscall.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("pagestore: anonymous mmap: %w", err)
	}

	return &Manager{fd: -1, data: data, maxPage: numPages}, nil
}

// MaxPage returns the number of pages addressable in this region.
func (m *Manager) MaxPage() uint32 { return m.maxPage }

// PageAt returns a view into page addr. The returned slice aliases the
// mapping directly; writes through it are visible immediately to every
// other view of the same page.
func (m *Manager) PageAt(addr uint32) ([]byte, error) {
	if addr >= m.maxPage {
		return nil, ErrAddressOutOfRange
	}

	off := int(addr) * PageSize

	return m.data[off : off+PageSize : off+PageSize], nil
}

// FlushData durably persists every page except the root-counter page.
func (m *Manager) FlushData() error {
	if len(m.data) <= PageSize {
		return nil
	}

	if err := unix.Msync(m.data[PageSize:], unix.MS_SYNC); err != nil {
		return fmt.Errorf("pagestore: msync data: %w: %w", err, ErrIOError)
	}

	return nil
}

// FlushRoot durably persists the root-counter page (page 0).
func (m *Manager) FlushRoot() error {
	if err := unix.Msync(m.data[:PageSize], unix.MS_SYNC); err != nil {
		return fmt.Errorf("pagestore: msync root: %w: %w", err, ErrIOError)
	}

	return nil
}

// Close unmaps the region and closes the backing file descriptor, if any.
func (m *Manager) Close() error {
	err := syscall.Munmap(m.data)

	if m.fd >= 0 {
		if cerr := syscall.Close(m.fd); cerr != nil && err == nil {
			err = cerr
		}
	}

	if err != nil {
		return fmt.Errorf("pagestore: close: %w", err)
	}

	return nil
}
