// Package pagedfile adapts the host's PhysicalFile to the engine's
// vocabulary (SPEC_FULL.md §4.1, C1): open/close with a mode, create/
// destroy/mount/unmount/flush/backup/recover pass-through with
// directory cleanup on error, and allocate/attach/free for pages.
package pagedfile

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/doquedb/btree2/src/engineerr"
	"github.com/doquedb/btree2/src/hostiface"
	"github.com/doquedb/btree2/src/walrecord"
)

// Mode mirrors SPEC_FULL.md §4.1's open modes.
type Mode int

const (
	ReadOnly Mode = iota
	Update
	Batch
)

func (m Mode) fixMode() hostiface.FixMode {
	switch m {
	case Update:
		return hostiface.WriteDiscardable
	case Batch:
		return hostiface.WriteBatch
	default:
		return hostiface.ReadOnly
	}
}

// PagedFile wraps a hostiface.PhysicalFile, remembering the mode it was
// opened in so attach/allocate can default their fix mode.
type PagedFile struct {
	inner   hostiface.PhysicalFile
	dirPath string // directory removed on Create failure
	mode    Mode
	opened  bool
	sink    walrecord.Sink
}

// New wraps inner, which must not yet be open. sink, if given, receives
// a Record on every create/destroy/mount/unmount (SPEC_FULL.md §6.3);
// omitting it is equivalent to passing walrecord.NopSink{}.
func New(inner hostiface.PhysicalFile, dirPath string, sink ...walrecord.Sink) *PagedFile {
	pf := &PagedFile{inner: inner, dirPath: dirPath, sink: walrecord.NopSink{}}
	if len(sink) > 0 && sink[0] != nil {
		pf.sink = sink[0]
	}
	return pf
}

func (pf *PagedFile) log(kind walrecord.Kind) error {
	return pf.sink.Append(walrecord.Record{Timestamp: time.Now(), Kind: kind, Name: pf.dirPath})
}

// Open sets the working mode (SPEC_FULL.md §4.1: "Update sets fix mode
// to Write+Discardable ... Batch sets Write without Discardable and
// enables the underlying file's batch mode").
func (pf *PagedFile) Open(mode Mode) {
	pf.mode = mode
	pf.opened = true
	pf.inner.SetBatch(mode == Batch)
}

// Close clears mode and resets batch.
func (pf *PagedFile) Close() {
	pf.opened = false
	pf.inner.SetBatch(false)
}

// Create creates the underlying file; on failure, any directory created
// along the way is removed (SPEC_FULL.md §4.1 failure semantics).
func (pf *PagedFile) Create(ctx context.Context) error {
	if err := pf.inner.Create(ctx); err != nil {
		if pf.dirPath != "" {
			_ = os.RemoveAll(pf.dirPath)
		}
		return fmt.Errorf("pagedfile: create: %w", err)
	}
	if err := pf.log(walrecord.KindCreate); err != nil {
		return fmt.Errorf("pagedfile: log create: %w", err)
	}
	return nil
}

// Destroy removes all physical pages and, if applicable, the
// containing directory (SPEC_FULL.md §3.1 File lifecycle).
func (pf *PagedFile) Destroy(ctx context.Context) error {
	if err := pf.inner.Destroy(ctx); err != nil {
		return fmt.Errorf("pagedfile: destroy: %w", err)
	}
	if pf.dirPath != "" {
		if err := os.RemoveAll(pf.dirPath); err != nil {
			return fmt.Errorf("pagedfile: remove directory: %w", err)
		}
	}
	if err := pf.log(walrecord.KindDrop); err != nil {
		return fmt.Errorf("pagedfile: log destroy: %w", err)
	}
	return nil
}

func (pf *PagedFile) Mount(ctx context.Context) error {
	if err := pf.inner.Mount(ctx); err != nil {
		return fmt.Errorf("pagedfile: mount: %w", err)
	}
	if err := pf.log(walrecord.KindMount); err != nil {
		return fmt.Errorf("pagedfile: log mount: %w", err)
	}
	return nil
}

func (pf *PagedFile) Unmount(ctx context.Context) error {
	if err := pf.inner.Unmount(ctx); err != nil {
		return fmt.Errorf("pagedfile: unmount: %w", err)
	}
	if err := pf.log(walrecord.KindUnmount); err != nil {
		return fmt.Errorf("pagedfile: log unmount: %w", err)
	}
	return nil
}

func (pf *PagedFile) Flush(ctx context.Context) error {
	if err := pf.inner.Flush(ctx); err != nil {
		return fmt.Errorf("pagedfile: flush: %w", err)
	}
	return nil
}

func (pf *PagedFile) StartBackup(ctx context.Context, restorable bool) error {
	return pf.inner.StartBackup(ctx, restorable)
}

func (pf *PagedFile) EndBackup(ctx context.Context) error {
	return pf.inner.EndBackup(ctx)
}

func (pf *PagedFile) Recover(ctx context.Context, timestamp int64) error {
	return pf.inner.Recover(ctx, timestamp)
}

func (pf *PagedFile) Restore(ctx context.Context, timestamp int64) error {
	return pf.inner.Restore(ctx, timestamp)
}

// AllocatePage returns a new physical page fixed at the current mode.
func (pf *PagedFile) AllocatePage(ctx context.Context) (hostiface.Page, error) {
	if err := pf.ensureOpen(); err != nil {
		return nil, err
	}
	p, err := pf.inner.AllocatePage(ctx, pf.mode.fixMode())
	if err != nil {
		return nil, fmt.Errorf("pagedfile: allocate page: %w", err)
	}
	return p, nil
}

// AttachPage returns an in-memory Page for id, choosing mode from the
// current file mode unless overridden (SPEC_FULL.md §4.1). Any error
// detaches nothing since nothing was attached; the caller never holds a
// partially-attached page.
func (pf *PagedFile) AttachPage(ctx context.Context, id hostiface.PageID, override *hostiface.FixMode) (hostiface.Page, error) {
	if err := pf.ensureOpen(); err != nil {
		return nil, err
	}
	mode := pf.mode.fixMode()
	if override != nil {
		mode = *override
	}
	p, err := pf.inner.AttachPage(ctx, id, mode)
	if err != nil {
		return nil, fmt.Errorf("pagedfile: attach page %d: %w", id, err)
	}
	return p, nil
}

// FreePage releases p through the underlying file immediately;
// PageCache defers calling it until its own FlushAll.
func (pf *PagedFile) FreePage(p hostiface.Page) error {
	if err := pf.inner.FreePage(p); err != nil {
		return fmt.Errorf("pagedfile: free page %d: %w", p.ID(), err)
	}
	return nil
}

// DetachPage releases p, writing it back if dirty.
func (pf *PagedFile) DetachPage(p hostiface.Page, dirty bool) error {
	return pf.inner.DetachPage(p, dirty)
}

// VerifyPage re-attaches id under verification, recording any findings
// into progress rather than failing immediately (SPEC_FULL.md §4.4.F).
func (pf *PagedFile) VerifyPage(ctx context.Context, id hostiface.PageID, progress *hostiface.VerifyProgress) (hostiface.Page, error) {
	p, err := pf.inner.VerifyPage(ctx, id, pf.mode.fixMode(), progress)
	if err != nil {
		return nil, fmt.Errorf("pagedfile: verify page %d: %w", id, err)
	}
	return p, nil
}

// PageDataSize is the usable byte size of a page, as reported by the
// host.
func (pf *PagedFile) PageDataSize() int {
	return pf.inner.PageDataSize()
}

// DetachPageAll/RecoverPageAll/RecoverPage delegate to the underlying
// file's methods of the same name.
func (pf *PagedFile) DetachPageAll() error  { return pf.inner.DetachPageAll() }
func (pf *PagedFile) RecoverPageAll() error { return pf.inner.RecoverPageAll() }
func (pf *PagedFile) RecoverPage(p hostiface.Page) error { return pf.inner.RecoverPage(p) }

// ensureOpen is a guard used by callers that must not operate on a
// closed PagedFile; it returns engineerr.ErrBadArgument rather than
// panicking, matching the core's "no internal retries, surfaced error
// kinds only" policy (SPEC_FULL.md §7).
func (pf *PagedFile) ensureOpen() error {
	if !pf.opened {
		return fmt.Errorf("pagedfile: not open: %w", engineerr.ErrBadArgument)
	}
	return nil
}
