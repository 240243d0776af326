package pagecache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/doquedb/btree2/src/codec"
	"github.com/doquedb/btree2/src/hostiface"
	"github.com/doquedb/btree2/src/pagedfile"
)

func newTestCache(t *testing.T, cacheCount int) (*PageCache, func()) {
	t.Helper()
	dir := t.TempDir()
	inner := pagedfile.NewMmapFile(filepath.Join(dir, "data.btr"), 1024)
	pf := pagedfile.New(inner, dir)
	pf.Open(pagedfile.Update)
	if err := pf.Create(context.Background()); err != nil {
		t.Fatal(err)
	}
	cmp := codec.NewCompare([]codec.Type{codec.UInt}, true)
	pc := New(pf, cmp, 4, 1024, cacheCount)
	return pc, func() {
		pf.Close()
		os.RemoveAll(dir)
	}
}

func TestAttachNewAndDetachQuiescent(t *testing.T) {
	pc, cleanup := newTestCache(t, 4)
	defer cleanup()

	h, err := pc.AttachNew(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if !h.Page().IsLeaf() {
		t.Fatal("expected leaf page")
	}
	if err := pc.Detach(h, true); err != nil {
		t.Fatal(err)
	}
	if err := pc.AssertQuiescent(); err != nil {
		t.Fatal(err)
	}
}

func TestAttachCacheHitReusesHandle(t *testing.T) {
	pc, cleanup := newTestCache(t, 4)
	defer cleanup()

	h1, err := pc.AttachNew(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	id := h1.ID()
	if err := pc.Detach(h1, true); err != nil {
		t.Fatal(err)
	}

	h2, err := pc.Attach(context.Background(), id, nil)
	if err != nil {
		t.Fatal(err)
	}
	if h2.ID() != id {
		t.Fatalf("ID = %d, want %d", h2.ID(), id)
	}
	if err := pc.Detach(h2, false); err != nil {
		t.Fatal(err)
	}
}

func TestEvictionBoundsCacheCount(t *testing.T) {
	pc, cleanup := newTestCache(t, 1)
	defer cleanup()

	var ids []hostiface.PageID
	for i := 0; i < 3; i++ {
		h, err := pc.AttachNew(context.Background(), false)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, h.ID())
		if err := pc.Detach(h, false); err != nil {
			t.Fatal(err)
		}
	}
	// Freshly allocated pages are dirty and stay cached until a flush;
	// flush them so the re-attached handles below are clean and idle.
	if err := pc.FlushAll(); err != nil {
		t.Fatal(err)
	}
	for _, id := range ids {
		h, err := pc.Attach(context.Background(), id, nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := pc.Detach(h, false); err != nil {
			t.Fatal(err)
		}
	}
	if len(pc.handles) > pc.cacheCount+1 {
		t.Fatalf("cache holds %d handles, expected close to bound %d", len(pc.handles), pc.cacheCount)
	}
}

func TestVerifyAttachCacheMissUsesVerifyPage(t *testing.T) {
	pc, cleanup := newTestCache(t, 4)
	defer cleanup()

	h1, err := pc.AttachNew(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	id := h1.ID()
	if err := pc.Detach(h1, true); err != nil {
		t.Fatal(err)
	}
	// Flushing empties the cache, so VerifyAttach below misses.
	if err := pc.FlushAll(); err != nil {
		t.Fatal(err)
	}

	progress := &hostiface.VerifyProgress{Continue: true}
	h2, err := pc.VerifyAttach(context.Background(), id, progress)
	if err != nil {
		t.Fatal(err)
	}
	if h2.ID() != id {
		t.Fatalf("ID = %d, want %d", h2.ID(), id)
	}
	if err := pc.Detach(h2, false); err != nil {
		t.Fatal(err)
	}
}

func TestVerifyAttachCacheHitReusesHandle(t *testing.T) {
	pc, cleanup := newTestCache(t, 4)
	defer cleanup()

	h1, err := pc.AttachNew(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	id := h1.ID()

	progress := &hostiface.VerifyProgress{Continue: true}
	h2, err := pc.VerifyAttach(context.Background(), id, progress)
	if err != nil {
		t.Fatal(err)
	}
	if h2 != h1 {
		t.Fatal("expected same handle on cache hit")
	}
	if err := pc.Detach(h1, false); err != nil {
		t.Fatal(err)
	}
	if err := pc.Detach(h2, false); err != nil {
		t.Fatal(err)
	}
}

func TestFlushAllClearsDirty(t *testing.T) {
	pc, cleanup := newTestCache(t, 4)
	defer cleanup()

	h, err := pc.AttachNew(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if err := pc.Detach(h, true); err != nil {
		t.Fatal(err)
	}
	if err := pc.FlushAll(); err != nil {
		t.Fatal(err)
	}
	if len(pc.handles) != 0 {
		t.Fatalf("expected empty handle map after FlushAll, got %d", len(pc.handles))
	}
}
