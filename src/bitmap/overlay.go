package bitmap

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/doquedb/btree2/src/btreefile"
	"github.com/doquedb/btree2/src/codec"
	"github.com/doquedb/btree2/src/config"
	"github.com/doquedb/btree2/src/engineerr"
	"github.com/doquedb/btree2/src/enginelog"
	"github.com/doquedb/btree2/src/fileid"
	"github.com/doquedb/btree2/src/helpers"
	"github.com/doquedb/btree2/src/hostiface"
	"github.com/doquedb/btree2/src/pagedfile"
	"github.com/doquedb/btree2/src/walrecord"
)

// Overlay is the BitmapOverlay component (SPEC_FULL.md §4.7, C9): a
// btreefile.BtreeFile opened Compressed, whose leaf values are ObjectID
// pointers into a sibling data-page chain of compressed row-id
// bitmaps, plus the HeaderPage NULL/ALL-NULL short-circuit the tree
// already implements directly.
//
// Grounded on src/hash_index's pattern of wrapping its own storage
// engine behind a thin service type (hash_index_service.go), and on
// original_source/sydney/Driver/Bitmap/Bitmap/HeaderPage.h for the
// composite (PageID, AreaID) pointer this package exposes as
// BitmapPointer.
type Overlay struct {
	mu sync.Mutex

	tree *btreefile.BtreeFile
	data *pagedfile.PagedFile

	// appendID caches the data page currently known to have room for
	// one more AppendArea call, avoiding a full chain walk on every
	// insert; Undefined means "allocate a fresh page next time."
	appendID hostiface.PageID

	pageSizeBytes int
	logger        *zap.SugaredLogger
}

// BitmapPointer is the (PageID, AreaID) pair a btreefile leaf value
// decodes to when FileID.Compressed is set.
type BitmapPointer struct {
	PageID hostiface.PageID
	AreaID uint16
}

// Create builds a brand-new overlay rooted at dir: dir/tree.btr holds
// the B+ tree half, dir/data.bmp holds the bitmap data-page chain.
// sink, if given, receives a Record for both halves' create/destroy/
// mount/unmount (SPEC_FULL.md §6.3); omitting it is equivalent to
// passing walrecord.NopSink{}.
func Create(ctx context.Context, dir string, keyTypes []codec.Type, unique bool, hint string, schemaVersion int, cfg *config.EngineConfig, sink ...walrecord.Sink) (*Overlay, error) {
	return open(ctx, dir, keyTypes, unique, hint, schemaVersion, cfg, true, sink...)
}

// Open re-attaches a previously created overlay.
func Open(ctx context.Context, dir string, keyTypes []codec.Type, unique bool, hint string, schemaVersion int, cfg *config.EngineConfig, sink ...walrecord.Sink) (*Overlay, error) {
	return open(ctx, dir, keyTypes, unique, hint, schemaVersion, cfg, false, sink...)
}

func open(ctx context.Context, dir string, keyTypes []codec.Type, unique bool, hint string, schemaVersion int, cfg *config.EngineConfig, create bool, sink ...walrecord.Sink) (*Overlay, error) {
	fid, err := fileid.Create(cfg, fileid.KindBitmap, keyTypes, unique, hint, schemaVersion)
	if err != nil {
		return nil, fmt.Errorf("bitmap: create fileid: %w", err)
	}

	treePath := filepath.Join(dir, "tree.btr")
	var tree *btreefile.BtreeFile
	if create {
		tree, err = btreefile.Create(ctx, treePath, fid, cfg, sink...)
	} else {
		tree, err = btreefile.Open(ctx, treePath, fid, cfg, sink...)
	}
	if err != nil {
		return nil, fmt.Errorf("bitmap: tree half: %w", err)
	}

	pageSizeBytes := fid.PageSizeKiB * 1024
	dataPath := filepath.Join(dir, "data.bmp")
	inner := pagedfile.NewMmapFile(dataPath, pageSizeBytes)
	pf := pagedfile.New(inner, "", sink...)
	pf.Open(pagedfile.Update)

	logger := enginelog.Named("bitmap").With("instance", helpers.GenerateUUID(), "openedAt", helpers.TimeNow())
	if create {
		if err := pf.Create(ctx); err != nil {
			tree.Close(ctx)
			return nil, fmt.Errorf("bitmap: create data file: %w", err)
		}
		logger.Infow("created overlay", "dir", dir, "pageSizeBytes", pageSizeBytes)
	} else {
		if err := pf.Mount(ctx); err != nil {
			tree.Close(ctx)
			return nil, fmt.Errorf("bitmap: mount data file: %w", err)
		}
		logger.Infow("mounted overlay", "dir", dir)
	}

	return &Overlay{
		tree:          tree,
		data:          pf,
		appendID:      hostiface.Undefined,
		pageSizeBytes: pageSizeBytes,
		logger:        logger,
	}, nil
}

// Close flushes and detaches both halves of the overlay.
func (o *Overlay) Close(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.data.DetachPageAll(); err != nil {
		return fmt.Errorf("bitmap: close data file: %w", err)
	}
	o.data.Close()
	return o.tree.Close(ctx)
}

// Destroy removes every physical page of both halves.
func (o *Overlay) Destroy(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.data.Destroy(ctx); err != nil {
		return fmt.Errorf("bitmap: destroy data file: %w", err)
	}
	return o.tree.Destroy(ctx)
}

// allocateArea finds or creates room for a new len(data)-byte area,
// returning its (page, areaID).
func (o *Overlay) allocateArea(ctx context.Context, data []byte) (BitmapPointer, error) {
	if areaSlotSize+len(data) > o.pageSizeBytes-areaHeaderSize {
		return BitmapPointer{}, fmt.Errorf("bitmap: area of %d bytes exceeds page capacity: %w", len(data), engineerr.ErrBadArgument)
	}

	if o.appendID != hostiface.Undefined {
		raw, err := o.data.AttachPage(ctx, o.appendID, nil)
		if err != nil {
			return BitmapPointer{}, fmt.Errorf("bitmap: attach append page: %w", err)
		}
		ap := WrapAreaPage(raw.ID(), raw.Data())
		if ap.FreeSize() >= areaSlotSize+len(data) {
			areaID, err := ap.AppendArea(data)
			if err != nil {
				o.data.DetachPage(raw, false)
				return BitmapPointer{}, err
			}
			if err := o.data.DetachPage(raw, true); err != nil {
				return BitmapPointer{}, err
			}
			return BitmapPointer{PageID: ap.ID, AreaID: areaID}, nil
		}
		if err := o.data.DetachPage(raw, false); err != nil {
			return BitmapPointer{}, err
		}
	}

	raw, err := o.data.AllocatePage(ctx)
	if err != nil {
		return BitmapPointer{}, fmt.Errorf("bitmap: allocate data page: %w", err)
	}
	ap := WrapAreaPage(raw.ID(), raw.Data())
	ap.Init()
	areaID, err := ap.AppendArea(data)
	if err != nil {
		o.data.DetachPage(raw, false)
		return BitmapPointer{}, err
	}
	if err := o.data.DetachPage(raw, true); err != nil {
		return BitmapPointer{}, err
	}
	o.appendID = ap.ID
	return BitmapPointer{PageID: ap.ID, AreaID: areaID}, nil
}

// applyAreaMutation attaches (pageID, areaID)'s current blob, runs
// mutate over it, and writes the result back in place if it fits or
// relocates it into a fresh area otherwise. The returned BitmapPointer
// is wherever the data lives afterward, whether or not it moved; a
// caller comparing it against (pageID, areaID) can tell which case
// happened.
func (o *Overlay) applyAreaMutation(ctx context.Context, pageID hostiface.PageID, areaID uint16, mutate func([]byte) []byte) (BitmapPointer, error) {
	raw, err := o.data.AttachPage(ctx, pageID, nil)
	if err != nil {
		return BitmapPointer{}, fmt.Errorf("bitmap: attach area page: %w", err)
	}
	ap := WrapAreaPage(raw.ID(), raw.Data())
	cur := ap.GetArea(areaID)
	next := mutate(cur)
	if len(next) <= len(cur) || len(next) <= ap.FreeSize() {
		if err := ap.SetArea(areaID, next); err != nil {
			o.data.DetachPage(raw, false)
			return BitmapPointer{}, err
		}
		if err := o.data.DetachPage(raw, true); err != nil {
			return BitmapPointer{}, err
		}
		return BitmapPointer{PageID: pageID, AreaID: areaID}, nil
	}
	if err := o.data.DetachPage(raw, false); err != nil {
		return BitmapPointer{}, err
	}
	return o.allocateArea(ctx, next)
}

// SetBit adds rowID to the bitmap bucket for key, creating the bucket
// if this is the first row, growing the area in place when possible
// and relocating it to a fresh area otherwise.
func (o *Overlay) SetBit(ctx context.Context, key []codec.Value, rowID uint32) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	existingPage, existingArea, ok, err := o.lookup(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		newPtr, err := o.allocateArea(ctx, EncodeRowIDs([]uint32{rowID}))
		if err != nil {
			return err
		}
		return o.tree.Insert(ctx, key, newPtr.PageID, newPtr.AreaID, false)
	}

	newPtr, err := o.applyAreaMutation(ctx, existingPage, existingArea, func(cur []byte) []byte {
		return SetBit(cur, rowID)
	})
	if err != nil {
		return err
	}
	if newPtr.PageID == existingPage && newPtr.AreaID == existingArea {
		return nil
	}
	return o.tree.Update(ctx, key, newPtr.PageID, newPtr.AreaID)
}

// ClearBit removes rowID from key's bitmap bucket. Removing the last
// row leaves an empty (but still tree-resident) area; callers that
// want the key expunged entirely should call Overlay.Expunge once
// Cardinality reports zero.
func (o *Overlay) ClearBit(ctx context.Context, key []codec.Value, rowID uint32) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	page, area, ok, err := o.lookup(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	// Splitting a run can grow the encoding even though a bit was
	// removed, so this needs the same in-place-or-relocate fallback as
	// SetBit rather than assuming shrink-only.
	newPtr, err := o.applyAreaMutation(ctx, page, area, func(cur []byte) []byte {
		return ClearBit(cur, rowID)
	})
	if err != nil {
		return err
	}
	if newPtr.PageID == page && newPtr.AreaID == area {
		return nil
	}
	return o.tree.Update(ctx, key, newPtr.PageID, newPtr.AreaID)
}

// TestBit reports whether rowID is a member of key's bitmap bucket.
func (o *Overlay) TestBit(ctx context.Context, key []codec.Value, rowID uint32) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	page, area, ok, err := o.lookup(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	raw, err := o.data.AttachPage(ctx, page, nil)
	if err != nil {
		return false, fmt.Errorf("bitmap: attach area page: %w", err)
	}
	ap := WrapAreaPage(raw.ID(), raw.Data())
	result := TestBit(ap.GetArea(area), rowID)
	return result, o.data.DetachPage(raw, false)
}

// Rows decodes the full, sorted row-id set for key.
func (o *Overlay) Rows(ctx context.Context, key []codec.Value) ([]uint32, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	page, area, ok, err := o.lookup(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	raw, err := o.data.AttachPage(ctx, page, nil)
	if err != nil {
		return nil, fmt.Errorf("bitmap: attach area page: %w", err)
	}
	ap := WrapAreaPage(raw.ID(), raw.Data())
	ids := DecodeRowIDs(ap.GetArea(area))
	return ids, o.data.DetachPage(raw, false)
}

// lookup resolves key's current (page, area) pointer, if any.
func (o *Overlay) lookup(ctx context.Context, key []codec.Value) (hostiface.PageID, uint16, bool, error) {
	return o.tree.Get(ctx, key)
}

// Expunge removes key's bitmap bucket entirely, clearing its area and
// the tree entry that pointed to it.
func (o *Overlay) Expunge(ctx context.Context, key []codec.Value) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	page, area, ok, err := o.lookup(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bitmap: expunge key not found: %w", engineerr.ErrBadArgument)
	}
	raw, err := o.data.AttachPage(ctx, page, nil)
	if err != nil {
		return fmt.Errorf("bitmap: attach area page: %w", err)
	}
	WrapAreaPage(raw.ID(), raw.Data()).ClearArea(area)
	if err := o.data.DetachPage(raw, true); err != nil {
		return err
	}
	return o.tree.Expunge(ctx, key)
}

// SetNull adds rowID to HeaderPage's NULL or ALL-NULL bucket, bypassing
// the tree (SPEC_FULL.md §4.7). Like SetBit, the bucket's pointer
// addresses a real RLE-encoded bitmap area that is grown in place or
// relocated as rows accumulate, rather than being overwritten with the
// latest rowID.
func (o *Overlay) SetNull(ctx context.Context, rowID uint32, allNull bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	existingPage, existingArea, ok := o.tree.NullPointer(allNull)
	if !ok {
		newPtr, err := o.allocateArea(ctx, EncodeRowIDs([]uint32{rowID}))
		if err != nil {
			return err
		}
		return o.tree.Insert(ctx, nil, newPtr.PageID, newPtr.AreaID, allNull)
	}

	newPtr, err := o.applyAreaMutation(ctx, existingPage, existingArea, func(cur []byte) []byte {
		return SetBit(cur, rowID)
	})
	if err != nil {
		return err
	}
	if newPtr.PageID == existingPage && newPtr.AreaID == existingArea {
		return nil
	}
	return o.tree.Insert(ctx, nil, newPtr.PageID, newPtr.AreaID, allNull)
}

// NullRows decodes the full, sorted row-id set currently recorded in
// HeaderPage's NULL bucket, or its ALL-NULL bucket when allNull is set.
func (o *Overlay) NullRows(ctx context.Context, allNull bool) ([]uint32, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	page, area, ok := o.tree.NullPointer(allNull)
	if !ok {
		return nil, nil
	}
	raw, err := o.data.AttachPage(ctx, page, nil)
	if err != nil {
		return nil, fmt.Errorf("bitmap: attach null area page: %w", err)
	}
	ap := WrapAreaPage(raw.ID(), raw.Data())
	ids := DecodeRowIDs(ap.GetArea(area))
	return ids, o.data.DetachPage(raw, false)
}
