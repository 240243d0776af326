package bitmap

import (
	"context"
	"testing"

	"github.com/doquedb/btree2/src/codec"
	"github.com/doquedb/btree2/src/config"
)

func newTestOverlay(t *testing.T) *Overlay {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.BasicPageSize = 1
	cfg.MaxPageSize = 1
	ov, err := Create(context.Background(), dir, []codec.Type{codec.UInt}, false, "", 1, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ov.Close(context.Background()) })
	return ov
}

func bitKey(v uint32) []codec.Value {
	return []codec.Value{{Type: codec.UInt, U32: v}}
}

func TestSetTestClearBit(t *testing.T) {
	ov := newTestOverlay(t)
	ctx := context.Background()

	if err := ov.SetBit(ctx, bitKey(1), 100); err != nil {
		t.Fatal(err)
	}
	if err := ov.SetBit(ctx, bitKey(1), 105); err != nil {
		t.Fatal(err)
	}
	if err := ov.SetBit(ctx, bitKey(1), 101); err != nil {
		t.Fatal(err)
	}

	for _, rid := range []uint32{100, 101, 105} {
		ok, err := ov.TestBit(ctx, bitKey(1), rid)
		if err != nil || !ok {
			t.Fatalf("expected %d set, ok=%v err=%v", rid, ok, err)
		}
	}
	if ok, err := ov.TestBit(ctx, bitKey(1), 999); err != nil || ok {
		t.Fatalf("expected 999 unset, ok=%v err=%v", ok, err)
	}

	if err := ov.ClearBit(ctx, bitKey(1), 101); err != nil {
		t.Fatal(err)
	}
	if ok, err := ov.TestBit(ctx, bitKey(1), 101); err != nil || ok {
		t.Fatalf("expected 101 cleared, ok=%v err=%v", ok, err)
	}

	rows, err := ov.Rows(ctx, bitKey(1))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0] != 100 || rows[1] != 105 {
		t.Fatalf("rows = %v, want [100 105]", rows)
	}
}

func TestManyBucketsGrowAcrossPages(t *testing.T) {
	ov := newTestOverlay(t)
	ctx := context.Background()

	const buckets = 200
	for k := uint32(0); k < buckets; k++ {
		for r := uint32(0); r < 5; r++ {
			if err := ov.SetBit(ctx, bitKey(k), k*1000+r); err != nil {
				t.Fatalf("bucket %d row %d: %v", k, r, err)
			}
		}
	}
	for k := uint32(0); k < buckets; k++ {
		rows, err := ov.Rows(ctx, bitKey(k))
		if err != nil {
			t.Fatalf("bucket %d: %v", k, err)
		}
		if len(rows) != 5 {
			t.Fatalf("bucket %d: got %d rows, want 5", k, len(rows))
		}
	}
}

func TestDenseBitmapGrowsInPlace(t *testing.T) {
	ov := newTestOverlay(t)
	ctx := context.Background()

	const n = 2000
	for r := uint32(0); r < n; r++ {
		if err := ov.SetBit(ctx, bitKey(7), r); err != nil {
			t.Fatalf("row %d: %v", r, err)
		}
	}
	rows, err := ov.Rows(ctx, bitKey(7))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != n {
		t.Fatalf("got %d rows, want %d", len(rows), n)
	}
}

func TestExpungeBucket(t *testing.T) {
	ov := newTestOverlay(t)
	ctx := context.Background()

	if err := ov.SetBit(ctx, bitKey(3), 1); err != nil {
		t.Fatal(err)
	}
	if err := ov.Expunge(ctx, bitKey(3)); err != nil {
		t.Fatal(err)
	}
	if ok, err := ov.TestBit(ctx, bitKey(3), 1); err != nil || ok {
		t.Fatalf("expected bucket gone, ok=%v err=%v", ok, err)
	}
}

func TestNullBucketBypassesTree(t *testing.T) {
	ov := newTestOverlay(t)
	ctx := context.Background()

	if err := ov.SetNull(ctx, 42, false); err != nil {
		t.Fatal(err)
	}
	if err := ov.SetNull(ctx, 7, false); err != nil {
		t.Fatal(err)
	}
	if err := ov.SetNull(ctx, 43, true); err != nil {
		t.Fatal(err)
	}

	rows, err := ov.NullRows(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0] != 7 || rows[1] != 42 {
		t.Fatalf("null bucket rows = %v, want [7 42]", rows)
	}

	allRows, err := ov.NullRows(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(allRows) != 1 || allRows[0] != 43 {
		t.Fatalf("all-null bucket rows = %v, want [43]", allRows)
	}

	pid, area, ok := ov.tree.NullPointer(false)
	if !ok {
		t.Fatal("expected null bucket pointer to be set")
	}
	allPid, allArea, ok := ov.tree.NullPointer(true)
	if !ok || (allPid == pid && allArea == area) {
		t.Fatalf("expected distinct all-null bucket pointer, got %d/%d (null bucket %d/%d)", allPid, allArea, pid, area)
	}
}

func TestNullBucketAccumulatesManyRows(t *testing.T) {
	ov := newTestOverlay(t)
	ctx := context.Background()

	const n = 500
	for r := uint32(0); r < n; r++ {
		if err := ov.SetNull(ctx, r, false); err != nil {
			t.Fatalf("row %d: %v", r, err)
		}
	}
	rows, err := ov.NullRows(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != n {
		t.Fatalf("got %d null rows, want %d", len(rows), n)
	}
}
