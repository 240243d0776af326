package page

import (
	"encoding/binary"
	"testing"

	"github.com/doquedb/btree2/src/codec"
	"github.com/doquedb/btree2/src/hostiface"
)

func makeEntry(key uint32, value uint32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf, key)
	binary.LittleEndian.PutUint32(buf[4:], value)
	return buf
}

func newTestLeaf(t *testing.T, size int) *Page {
	t.Helper()
	cmp := codec.NewCompare([]codec.Type{codec.UInt}, true)
	buf := make([]byte, size)
	p := Wrap(hostiface.PageID(1), buf, cmp, 4)
	p.Init(true)
	return p
}

func TestInsertAndLoadRoundTrip(t *testing.T) {
	p := newTestLeaf(t, 256)

	for _, k := range []uint32{5, 1, 3} {
		i, err := p.LowerBound(makeEntry(k, 0)[:4])
		if err != nil {
			t.Fatal(err)
		}
		if err := p.InsertAt(i, makeEntry(k, k*10)); err != nil {
			t.Fatal(err)
		}
	}

	if p.EntryCount() != 3 {
		t.Fatalf("EntryCount = %d, want 3", p.EntryCount())
	}

	// Re-load from the raw buffer, as BtreeFile would after a cache miss.
	p2 := Wrap(p.ID, p.Buf(), p.cmp, 4)
	if err := p2.Load(); err != nil {
		t.Fatal(err)
	}
	if p2.EntryCount() != 3 {
		t.Fatalf("reloaded EntryCount = %d, want 3", p2.EntryCount())
	}

	wantKeys := []uint32{1, 3, 5}
	for i, want := range wantKeys {
		got := binary.LittleEndian.Uint32(p2.KeyAt(i))
		if got != want {
			t.Fatalf("KeyAt(%d) = %d, want %d", i, got, want)
		}
	}
}

func TestEraseAt(t *testing.T) {
	p := newTestLeaf(t, 256)
	for _, k := range []uint32{1, 2, 3} {
		if err := p.InsertAt(p.EntryCount(), makeEntry(k, k)); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.EraseAt(1); err != nil {
		t.Fatal(err)
	}
	if p.EntryCount() != 2 {
		t.Fatalf("EntryCount = %d, want 2", p.EntryCount())
	}
	if got := binary.LittleEndian.Uint32(p.KeyAt(1)); got != 3 {
		t.Fatalf("KeyAt(1) = %d, want 3", got)
	}
}

func TestIsRootAndLeafBit(t *testing.T) {
	p := newTestLeaf(t, 256)
	if !p.IsRoot() {
		t.Fatal("fresh page with undefined siblings should be root")
	}
	if !p.IsLeaf() {
		t.Fatal("expected leaf bit set")
	}
	p.SetNext(hostiface.PageID(9))
	if p.IsRoot() {
		t.Fatal("page with a next sibling should not be root")
	}
}

func TestHeaderPageRoundTrip(t *testing.T) {
	buf := make([]byte, HeaderWireSize)
	h := WrapHeader(buf)
	h.Initialize()

	if !h.IsEmpty() {
		t.Fatal("fresh header should be empty")
	}

	h.SetRootID(7)
	h.SetLeftLeafID(7)
	h.SetRightLeafID(7)
	h.SetTreeHeight(1)
	h.IncrementCount(1)
	h.Touch()

	if h.RootID() != 7 || h.LeftLeafID() != 7 || h.RightLeafID() != 7 {
		t.Fatal("sibling ids did not round trip")
	}
	if h.TreeHeight() != 1 {
		t.Fatal("tree height did not round trip")
	}
	if h.TotalEntryCount() != 1 {
		t.Fatal("entry count did not round trip")
	}
	if h.LastModified().IsZero() {
		t.Fatal("expected Touch to set a non-zero timestamp")
	}

	h.SetNullID(codec.ObjectIDValue{PageID: 3, AreaID: 2})
	if got := h.NullID(); got.PageID != 3 || got.AreaID != 2 {
		t.Fatalf("NullID round trip = %+v", got)
	}
}
