package btreefile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/doquedb/btree2/src/codec"
	"github.com/doquedb/btree2/src/config"
	"github.com/doquedb/btree2/src/engineerr"
	"github.com/doquedb/btree2/src/fileid"
	"github.com/doquedb/btree2/src/hostiface"
)

func newTestFile(t *testing.T) *BtreeFile {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.BasicPageSize = 1 // 1 KiB pages, to force splits quickly in tests
	cfg.MaxPageSize = 1
	fid, err := fileid.Create(cfg, fileid.KindBtree, []codec.Type{codec.UInt}, true, "", 1)
	if err != nil {
		t.Fatal(err)
	}
	bt, err := Create(context.Background(), filepath.Join(dir, "t.btr"), fid, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { bt.Close(context.Background()) })
	return bt
}

func uintKey(v uint32) []codec.Value {
	return []codec.Value{{Type: codec.UInt, U32: v}}
}

func TestInsertGetRoundTrip(t *testing.T) {
	bt := newTestFile(t)
	ctx := context.Background()

	if err := bt.Insert(ctx, uintKey(42), hostiface.PageID(100), 0, false); err != nil {
		t.Fatal(err)
	}

	got, area, ok, err := bt.Get(ctx, uintKey(42))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if got != 100 || area != 0 {
		t.Fatalf("got %d/%d, want 100/0", got, area)
	}

	if _, _, ok, err := bt.Get(ctx, uintKey(99)); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestInsertManyCausesSplit(t *testing.T) {
	bt := newTestFile(t)
	ctx := context.Background()

	const n = 500
	for i := uint32(0); i < n; i++ {
		if err := bt.Insert(ctx, uintKey(i), hostiface.PageID(i+1), 0, false); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if bt.header.TreeHeight() < 2 {
		t.Fatalf("expected tree height >= 2 after %d inserts, got %d", n, bt.header.TreeHeight())
	}
	for i := uint32(0); i < n; i++ {
		got, _, ok, err := bt.Get(ctx, uintKey(i))
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if !ok || got != hostiface.PageID(i+1) {
			t.Fatalf("get %d: got %d/%v, want %d/true", i, got, ok, i+1)
		}
	}
}

func TestUniquenessViolation(t *testing.T) {
	bt := newTestFile(t)
	ctx := context.Background()
	if err := bt.Insert(ctx, uintKey(7), 1, 0, false); err != nil {
		t.Fatal(err)
	}
	if err := bt.Insert(ctx, uintKey(7), 2, 0, false); err == nil {
		t.Fatal("expected uniqueness violation")
	}
}

func TestUpdateInPlace(t *testing.T) {
	bt := newTestFile(t)
	ctx := context.Background()
	if err := bt.Insert(ctx, uintKey(7), 1, 0, false); err != nil {
		t.Fatal(err)
	}
	if err := bt.Update(ctx, uintKey(7), 9, 0); err != nil {
		t.Fatal(err)
	}
	got, _, ok, err := bt.Get(ctx, uintKey(7))
	if err != nil || !ok || got != 9 {
		t.Fatalf("got %d/%v, want 9/true (err=%v)", got, ok, err)
	}
}

func TestExpungeEveryOtherKey(t *testing.T) {
	bt := newTestFile(t)
	ctx := context.Background()

	const n = 200
	for i := uint32(0); i < n; i++ {
		if err := bt.Insert(ctx, uintKey(i), hostiface.PageID(i), 0, false); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	for i := uint32(0); i < n; i += 2 {
		if err := bt.Expunge(ctx, uintKey(i)); err != nil {
			t.Fatalf("expunge %d: %v", i, err)
		}
	}
	for i := uint32(0); i < n; i++ {
		_, _, ok, err := bt.Get(ctx, uintKey(i))
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		want := i%2 != 0
		if ok != want {
			t.Fatalf("get %d: ok=%v, want %v", i, ok, want)
		}
	}
}

func TestExpungeAllEmptiesTree(t *testing.T) {
	bt := newTestFile(t)
	ctx := context.Background()
	for i := uint32(0); i < 20; i++ {
		if err := bt.Insert(ctx, uintKey(i), hostiface.PageID(i), 0, false); err != nil {
			t.Fatal(err)
		}
	}
	for i := uint32(0); i < 20; i++ {
		if err := bt.Expunge(ctx, uintKey(i)); err != nil {
			t.Fatalf("expunge %d: %v", i, err)
		}
	}
	if !bt.header.IsEmpty() {
		t.Fatal("expected empty tree after expunging every entry")
	}
}

func TestCursorRangeScan(t *testing.T) {
	bt := newTestFile(t)
	ctx := context.Background()

	const n = 300
	for i := uint32(0); i < n; i++ {
		if err := bt.Insert(ctx, uintKey(i), hostiface.PageID(i), 0, false); err != nil {
			t.Fatal(err)
		}
	}

	cur, err := bt.NewCursor(ctx, uintKey(100), uintKey(110), true, false)
	if err != nil {
		t.Fatal(err)
	}
	defer cur.Close()

	var got []uint32
	for {
		key, _, _, ok, err := cur.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		got = append(got, key[0].U32)
	}
	if len(got) != 10 {
		t.Fatalf("scanned %d entries, want 10 (100..109)", len(got))
	}
	for i, v := range got {
		if v != uint32(100+i) {
			t.Fatalf("got[%d] = %d, want %d", i, v, 100+i)
		}
	}
}

func TestCursorOpenLowerBound(t *testing.T) {
	bt := newTestFile(t)
	ctx := context.Background()
	for i := uint32(0); i < 50; i++ {
		if err := bt.Insert(ctx, uintKey(i), hostiface.PageID(i), 0, false); err != nil {
			t.Fatal(err)
		}
	}
	cur, err := bt.NewCursor(ctx, nil, nil, true, true)
	if err != nil {
		t.Fatal(err)
	}
	defer cur.Close()
	count := 0
	for {
		_, _, _, ok, err := cur.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != 50 {
		t.Fatalf("scanned %d, want 50", count)
	}
}

func TestNullBuckets(t *testing.T) {
	bt := newTestFile(t)
	ctx := context.Background()

	if err := bt.Insert(ctx, nil, hostiface.PageID(77), 3, false); err != nil {
		t.Fatal(err)
	}
	if err := bt.Insert(ctx, nil, hostiface.PageID(88), 4, true); err != nil {
		t.Fatal(err)
	}

	nullCur := bt.NewNullCursor(false)
	_, pid, area, ok, err := nullCur.Next(ctx)
	if err != nil || !ok || pid != 77 || area != 3 {
		t.Fatalf("null cursor: pid=%d area=%d ok=%v err=%v", pid, area, ok, err)
	}

	allCur := bt.NewNullCursor(true)
	_, pid, area, ok, err = allCur.Next(ctx)
	if err != nil || !ok || pid != 88 || area != 4 {
		t.Fatalf("all-null cursor: pid=%d area=%d ok=%v err=%v", pid, area, ok, err)
	}
}

func TestVerifyCleanTree(t *testing.T) {
	bt := newTestFile(t)
	ctx := context.Background()
	for i := uint32(0); i < 400; i++ {
		if err := bt.Insert(ctx, uintKey(i), hostiface.PageID(i), 0, false); err != nil {
			t.Fatal(err)
		}
	}
	var progress hostiface.VerifyProgress
	if err := bt.Verify(ctx, &progress, nil); err != nil {
		t.Fatal(err)
	}
	if len(progress.Findings) != 0 {
		t.Fatalf("unexpected findings: %v", progress.Findings)
	}
}

func TestVerifyRaisesAbortedWhenNotContinuing(t *testing.T) {
	bt := newTestFile(t)
	ctx := context.Background()
	for i := uint32(0); i < 500; i++ {
		if err := bt.Insert(ctx, uintKey(i), hostiface.PageID(i), 0, false); err != nil {
			t.Fatal(err)
		}
	}
	if bt.header.TreeHeight() < 2 {
		t.Fatalf("expected tree height >= 2, got %d", bt.header.TreeHeight())
	}
	// Point leftLeafId at the root (an internal node, not a leaf),
	// forging the "not a leaf" finding verifyLeafShape looks for.
	bt.header.SetLeftLeafID(bt.header.RootID())

	progress := &hostiface.VerifyProgress{Continue: false}
	err := bt.Verify(ctx, progress, nil)
	if len(progress.Findings) == 0 {
		t.Fatal("expected at least one finding")
	}
	if !errors.Is(err, engineerr.ErrVerifyAborted) {
		t.Fatalf("expected ErrVerifyAborted, got %v", err)
	}
}

func TestVerifySuppressesAbortedWhenContinuing(t *testing.T) {
	bt := newTestFile(t)
	ctx := context.Background()
	for i := uint32(0); i < 500; i++ {
		if err := bt.Insert(ctx, uintKey(i), hostiface.PageID(i), 0, false); err != nil {
			t.Fatal(err)
		}
	}
	if bt.header.TreeHeight() < 2 {
		t.Fatalf("expected tree height >= 2, got %d", bt.header.TreeHeight())
	}
	bt.header.SetLeftLeafID(bt.header.RootID())

	progress := &hostiface.VerifyProgress{Continue: true}
	if err := bt.Verify(ctx, progress, nil); err != nil {
		t.Fatalf("expected no error with Continue=true, got %v", err)
	}
	if len(progress.Findings) == 0 {
		t.Fatal("expected at least one finding")
	}
}
