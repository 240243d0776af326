// Package pagecache bounds memory use while preserving correctness
// (SPEC_FULL.md §4.2, C2): a map of currently-cached page handles, a
// free-list of handles awaiting flush, and a clock-style second-chance
// eviction loop over idle, clean handles.
//
// The eviction loop is grounded on src/buffermgr/buffer_manager.go's
// BufferPool.findFreeBuffer (clockHand walking a bounded set, a
// Referenced/UsageCount pair giving each handle a second chance before
// eviction), generalized from a fixed-size slice of buffers to a map
// keyed by PageID the way SPEC_FULL.md's "currentCacheCount" contract
// requires.
package pagecache

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/doquedb/btree2/src/codec"
	"github.com/doquedb/btree2/src/engineerr"
	"github.com/doquedb/btree2/src/enginelog"
	"github.com/doquedb/btree2/src/hostiface"
	"github.com/doquedb/btree2/src/page"
	"github.com/doquedb/btree2/src/pagedfile"
)

// Handle is the transient "Cached Page Handle" of SPEC_FULL.md §3.5:
// a reference to a Page, a dirty flag, a pin counter, and a
// free-on-unfix flag. While pin > 0 the underlying buffer address is
// stable.
type Handle struct {
	id       hostiface.PageID
	raw      hostiface.Page
	view     *page.Page
	pin      int
	dirty    bool
	freeOnUnfix bool
	// referenced implements the clock algorithm's second-chance bit:
	// set on every attach hit, cleared the first time the clock hand
	// passes over an idle handle without evicting it.
	referenced bool
}

// Page returns the typed Page view, already loaded by Attach or
// VerifyAttach (or initialized by AttachNew).
func (h *Handle) Page() *page.Page { return h.view }

// ID returns the page id this handle refers to.
func (h *Handle) ID() hostiface.PageID { return h.id }

// MarkDirty flags the handle dirty; PageCache keeps dirty handles
// cached regardless of pin/idle state until a flush.
func (h *Handle) MarkDirty() { h.dirty = true }

// PageCache is private to one BtreeFile and never shared
// (SPEC_FULL.md §5).
type PageCache struct {
	pf   *pagedfile.PagedFile
	cmp  *codec.Compare
	pageSize int

	// leafValueWidth/nodeValueWidth let one cache serve both page
	// kinds: node entries always carry a 4-byte child PageID; leaf
	// entries carry a 4-byte row id, or 6 bytes (PageID+AreaID) in the
	// bitmap-overlay variant (SPEC_FULL.md §3.2).
	leafValueWidth int
	nodeValueWidth int

	cacheCount        int
	currentCacheCount int

	handles map[hostiface.PageID]*Handle
	freed   []*Handle // freePage'd, awaiting flush

	logger *zap.SugaredLogger
}

// New constructs a PageCache bounded to cacheCount idle-clean handles.
func New(pf *pagedfile.PagedFile, cmp *codec.Compare, leafValueWidth, pageSize, cacheCount int) *PageCache {
	return &PageCache{
		pf:             pf,
		cmp:            cmp,
		leafValueWidth: leafValueWidth,
		nodeValueWidth: 4,
		pageSize:       pageSize,
		cacheCount:     cacheCount,
		handles:        make(map[hostiface.PageID]*Handle),
		logger:         enginelog.Named("pagecache"),
	}
}

// Attach implements SPEC_FULL.md §4.2 attach(id, mode): map hit bumps
// the handle's reference bit and pin, un-idling it if it was idle;
// miss asks PagedFile.AttachPage.
func (c *PageCache) Attach(ctx context.Context, id hostiface.PageID, override *hostiface.FixMode) (*Handle, error) {
	if h, ok := c.handles[id]; ok {
		if h.pin == 0 {
			c.currentCacheCount--
		}
		h.pin++
		h.referenced = true
		return h, nil
	}

	raw, err := c.pf.AttachPage(ctx, id, override)
	if err != nil {
		return nil, fmt.Errorf("pagecache: attach %d: %w", id, err)
	}
	vw := c.nodeValueWidth
	if page.PeekIsLeaf(raw.Data()) {
		vw = c.leafValueWidth
	}
	view := page.Wrap(id, raw.Data(), c.cmp, vw)
	if err := view.Load(); err != nil {
		return nil, fmt.Errorf("pagecache: load %d: %w", id, err)
	}
	h := &Handle{id: id, raw: raw, view: view, pin: 1, referenced: true}
	c.handles[id] = h
	return h, nil
}

// VerifyAttach is Attach's counterpart for BtreeFile.Verify
// (SPEC_FULL.md §6.1 verifyPage(transaction, pageId, fixMode,
// progress)): a cache hit behaves exactly like Attach, since the
// resident page is already loaded and shared with every other pinner;
// a miss goes through PhysicalFile.VerifyPage instead of AttachPage so
// progress reaches the host interface as specced.
func (c *PageCache) VerifyAttach(ctx context.Context, id hostiface.PageID, progress *hostiface.VerifyProgress) (*Handle, error) {
	if h, ok := c.handles[id]; ok {
		if h.pin == 0 {
			c.currentCacheCount--
		}
		h.pin++
		h.referenced = true
		return h, nil
	}

	raw, err := c.pf.VerifyPage(ctx, id, progress)
	if err != nil {
		return nil, fmt.Errorf("pagecache: verify attach %d: %w", id, err)
	}
	vw := c.nodeValueWidth
	if page.PeekIsLeaf(raw.Data()) {
		vw = c.leafValueWidth
	}
	view := page.Wrap(id, raw.Data(), c.cmp, vw)
	if err := view.Load(); err != nil {
		return nil, fmt.Errorf("pagecache: load %d: %w", id, err)
	}
	h := &Handle{id: id, raw: raw, view: view, pin: 1, referenced: true}
	c.handles[id] = h
	return h, nil
}

// AttachNew allocates a fresh page and wraps it as a pinned handle,
// used by split/expand when a new page must be created.
func (c *PageCache) AttachNew(ctx context.Context, isLeaf bool) (*Handle, error) {
	raw, err := c.pf.AllocatePage(ctx)
	if err != nil {
		return nil, fmt.Errorf("pagecache: allocate: %w", err)
	}
	vw := c.nodeValueWidth
	if isLeaf {
		vw = c.leafValueWidth
	}
	view := page.Wrap(raw.ID(), raw.Data(), c.cmp, vw)
	view.Init(isLeaf)
	h := &Handle{id: raw.ID(), raw: raw, view: view, pin: 1, dirty: true, referenced: true}
	c.handles[raw.ID()] = h
	return h, nil
}

// Detach implements SPEC_FULL.md §4.2 detach(handle): if dirty, keep
// in map; otherwise mark idle and, while currentCacheCount exceeds
// cacheCount, evict the least-recently-used idle clean handle via a
// clock sweep.
func (c *PageCache) Detach(h *Handle, dirty bool) error {
	if dirty {
		h.dirty = true
	}
	if h.pin > 0 {
		h.pin--
	}
	if h.pin > 0 {
		return nil
	}
	if h.dirty {
		return nil
	}
	c.currentCacheCount++
	return c.evictUntilBounded()
}

// evictUntilBounded runs the clock sweep described in
// SPEC_FULL.md §4.2: walk the map, decrementing (clearing) each idle
// clean handle's reference bit and evicting the first one found
// already cleared, until currentCacheCount is back at or below
// cacheCount.
func (c *PageCache) evictUntilBounded() error {
	for c.currentCacheCount > c.cacheCount {
		victim := c.findEvictionVictim()
		if victim == nil {
			// Nothing evictable (everything pinned or dirty); the
			// cache is allowed to exceed cacheCount transiently.
			return nil
		}
		if err := c.pf.DetachPage(victim.raw, false); err != nil {
			return fmt.Errorf("pagecache: evict %d: %w", victim.id, err)
		}
		delete(c.handles, victim.id)
		c.currentCacheCount--
	}
	return nil
}

func (c *PageCache) findEvictionVictim() *Handle {
	// A second full pass guarantees progress: the first pass clears
	// reference bits, the second evicts anything still clear.
	for pass := 0; pass < 2; pass++ {
		for id, h := range c.handles {
			if h.pin > 0 || h.dirty {
				continue
			}
			if h.referenced {
				h.referenced = false
				continue
			}
			_ = id
			return h
		}
	}
	return nil
}

// FreePage schedules h for release at the next flush
// (SPEC_FULL.md §4.2).
func (c *PageCache) FreePage(h *Handle) {
	h.freeOnUnfix = true
	delete(c.handles, h.id)
	if h.pin == 0 && !h.dirty {
		c.currentCacheCount--
	}
	c.freed = append(c.freed, h)
}

// FlushAll implements SPEC_FULL.md §4.2 flushAll: for every freed
// handle call PhysicalFile.FreePage then recycle; for every dirty
// handle, detach with Dirty; clear the map; call
// PhysicalFile.DetachPageAll. A failure on one page does not stop the
// sweep over the rest; every error encountered is combined and
// returned together so a single bad page can't strand the others
// un-flushed.
func (c *PageCache) FlushAll() error {
	var errs error
	for _, h := range c.freed {
		if err := c.pf.FreePage(h.raw); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("pagecache: flush free %d: %w", h.id, err))
		}
	}
	c.freed = nil

	for _, h := range c.handles {
		if h.dirty {
			if err := c.pf.DetachPage(h.raw, true); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("pagecache: flush dirty %d: %w", h.id, err))
			}
		}
	}
	c.handles = make(map[hostiface.PageID]*Handle)
	c.currentCacheCount = 0
	if err := c.pf.DetachPageAll(); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// RecoverAll implements SPEC_FULL.md §4.2 recoverAll: discards dirty
// changes when the fix mode includes Discardable, otherwise falls
// through to FlushAll.
func (c *PageCache) RecoverAll(discardable bool) error {
	if !discardable {
		return c.FlushAll()
	}
	for _, h := range c.handles {
		if h.dirty {
			if err := c.pf.RecoverPage(h.raw); err != nil {
				return fmt.Errorf("pagecache: recover %d: %w", h.id, err)
			}
		}
	}
	c.freed = nil
	c.handles = make(map[hostiface.PageID]*Handle)
	c.currentCacheCount = 0
	return c.pf.RecoverPageAll()
}

// AssertQuiescent checks the SPEC_FULL.md §4.2 invariant that at
// quiescence every handle in the map has pin=0; used by tests, not by
// production code paths (pin>0 is only reachable mid-operation).
func (c *PageCache) AssertQuiescent() error {
	for id, h := range c.handles {
		if h.pin != 0 {
			return fmt.Errorf("pagecache: page %d still pinned (%d): %w", id, h.pin, engineerr.ErrBadArgument)
		}
	}
	return nil
}
