package pagedfile

import (
	"context"
	"fmt"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/doquedb/btree2/src/engineerr"
	"github.com/doquedb/btree2/src/hostiface"
)

// MmapFile is the default, test-exercised hostiface.PhysicalFile
// implementation: one backing file, memory-mapped in full, grown by
// unmap/truncate/remap. Grounded on src/engine/bundle_storage_engine.go
// and src/engine/database_storage_engine.go, whose Mmap/Munmap/Msync
// pattern for heap-record I/O is repurposed here for paged B+ tree I/O.
type MmapFile struct {
	mu       sync.Mutex
	path     string
	pageSize int
	file     *os.File
	data     []byte
	batch    bool

	// shadows holds the pre-modification bytes of every page currently
	// attached under WriteDiscardable, so RecoverPage can restore them
	// (SPEC_FULL.md §5: "Write+Discardable ... dirty changes may be
	// rolled back page-by-page").
	shadows map[hostiface.PageID][]byte
}

var _ hostiface.PhysicalFile = (*MmapFile)(nil)

// mmapPage is the hostiface.Page view MmapFile hands out: a slice into
// the mapping current when it was attached, which a later grow leaves
// mapped.
type mmapPage struct {
	id   hostiface.PageID
	data []byte
}

func (p *mmapPage) ID() hostiface.PageID { return p.id }
func (p *mmapPage) Data() []byte         { return p.data }

// NewMmapFile constructs an unopened MmapFile backed by path, with the
// given fixed page size in bytes.
func NewMmapFile(path string, pageSizeBytes int) *MmapFile {
	return &MmapFile{path: path, pageSize: pageSizeBytes}
}

func (m *MmapFile) Create(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := os.OpenFile(m.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("mmapfile: create %s: %w", m.path, err)
	}
	if err := f.Truncate(int64(m.pageSize)); err != nil {
		f.Close()
		return fmt.Errorf("mmapfile: truncate %s: %w", m.path, err)
	}
	m.file = f
	return m.remapLocked(m.pageSize)
}

func (m *MmapFile) Destroy(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data != nil {
		unix.Munmap(m.data)
		m.data = nil
	}
	if m.file != nil {
		m.file.Close()
		m.file = nil
	}
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("mmapfile: remove %s: %w", m.path, err)
	}
	return nil
}

func (m *MmapFile) Mount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := os.OpenFile(m.path, os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("mmapfile: mount %s: %w", m.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("mmapfile: stat %s: %w", m.path, err)
	}
	m.file = f
	return m.remapLocked(int(info.Size()))
}

func (m *MmapFile) Unmount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data != nil {
		if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
			return fmt.Errorf("mmapfile: sync on unmount: %w", err)
		}
		unix.Munmap(m.data)
		m.data = nil
	}
	if m.file != nil {
		err := m.file.Close()
		m.file = nil
		return err
	}
	return nil
}

func (m *MmapFile) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil
	}
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("mmapfile: msync: %w", err)
	}
	return nil
}

func (m *MmapFile) StartBackup(ctx context.Context, restorable bool) error { return nil }
func (m *MmapFile) EndBackup(ctx context.Context) error                   { return nil }
func (m *MmapFile) Recover(ctx context.Context, timestamp int64) error    { return nil }
func (m *MmapFile) Restore(ctx context.Context, timestamp int64) error    { return nil }

// remapLocked unmaps the current mapping (if any) and remaps newSize
// bytes of m.file, matching the unmap/truncate/remap/msync sequence in
// src/engine/bundle_storage_engine.go's document-delete path.
func (m *MmapFile) remapLocked(newSize int) error {
	if m.data != nil {
		if err := unix.Munmap(m.data); err != nil {
			return fmt.Errorf("mmapfile: unmap for remap: %w", err)
		}
		m.data = nil
	}
	data, err := unix.Mmap(int(m.file.Fd()), 0, newSize, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmapfile: mmap: %w", err)
	}
	m.data = data
	return nil
}

func (m *MmapFile) growLocked(minSize int) error {
	if len(m.data) >= minSize {
		return nil
	}
	newSize := len(m.data)
	if newSize == 0 {
		newSize = m.pageSize
	}
	for newSize < minSize {
		newSize *= 2
	}
	if err := m.file.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("mmapfile: grow truncate: %w", err)
	}
	// Pages handed out earlier slice the current mapping and must stay
	// valid until detached, so it is left mapped (it is never unmapped)
	// instead of being torn down by remapLocked; both mappings are
	// MAP_SHARED views of the same file and see each other's writes.
	m.data = nil
	return m.remapLocked(newSize)
}

func (m *MmapFile) AttachPage(ctx context.Context, id hostiface.PageID, mode hostiface.FixMode) (hostiface.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	off := int(id) * m.pageSize
	if err := m.growLocked(off + m.pageSize); err != nil {
		return nil, err
	}
	page := m.data[off : off+m.pageSize]
	if mode == hostiface.WriteDiscardable {
		if m.shadows == nil {
			m.shadows = make(map[hostiface.PageID][]byte)
		}
		if _, exists := m.shadows[id]; !exists {
			snap := make([]byte, len(page))
			copy(snap, page)
			m.shadows[id] = snap
		}
	}
	return &mmapPage{id: id, data: page}, nil
}

func (m *MmapFile) VerifyPage(ctx context.Context, id hostiface.PageID, mode hostiface.FixMode, progress *hostiface.VerifyProgress) (hostiface.Page, error) {
	return m.AttachPage(ctx, id, mode)
}

func (m *MmapFile) AllocatePage(ctx context.Context, mode hostiface.FixMode) (hostiface.Page, error) {
	m.mu.Lock()
	nextID := hostiface.PageID(len(m.data) / m.pageSize)
	m.mu.Unlock()
	return m.AttachPage(ctx, nextID, mode)
}

func (m *MmapFile) FreePage(p hostiface.Page) error {
	// Space reclamation is the host buffer pool's concern
	// (SPEC_FULL.md §6.1); this reference implementation leaves the
	// slot allocated and zeroes it so a stale read never resurrects
	// old bytes.
	for i := range p.Data() {
		p.Data()[i] = 0
	}
	return nil
}

func (m *MmapFile) RecoverPage(p hostiface.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.shadows[p.ID()]
	if !ok {
		return fmt.Errorf("mmapfile: no shadow for page %d: %w", p.ID(), engineerr.ErrNotSupported)
	}
	copy(p.Data(), snap)
	delete(m.shadows, p.ID())
	return nil
}

// DetachPage commits a dirty page: its shadow (if any) is discarded,
// since the bytes now on disk are the new committed state.
func (m *MmapFile) DetachPage(p hostiface.Page, dirty bool) error {
	if !dirty {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.shadows, p.ID())
	return nil
}

func (m *MmapFile) DetachPageAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shadows = nil
	return nil
}

// RecoverPageAll restores every still-shadowed page, equivalent to
// calling RecoverPage for each dirty Discardable page still open.
func (m *MmapFile) RecoverPageAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, snap := range m.shadows {
		off := int(id) * m.pageSize
		if off+len(snap) <= len(m.data) {
			copy(m.data[off:off+len(snap)], snap)
		}
	}
	m.shadows = nil
	return nil
}

func (m *MmapFile) PageDataSize() int { return m.pageSize }
func (m *MmapFile) SetBatch(batch bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batch = batch
}
