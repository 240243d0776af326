package fileid

import (
	"errors"
	"testing"

	"github.com/doquedb/btree2/src/codec"
	"github.com/doquedb/btree2/src/config"
	"github.com/doquedb/btree2/src/engineerr"
)

func TestCreateBasic(t *testing.T) {
	cfg := config.Default()
	fid, err := Create(cfg, KindBtree, []codec.Type{codec.UInt}, true, "", 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if fid.KeySize != 1 {
		t.Fatalf("KeySize = %d, want 1", fid.KeySize)
	}
	if fid.TupleMax != 1250*4 {
		t.Fatalf("TupleMax = %d, want %d", fid.TupleMax, 1250*4)
	}
	if fid.PageSizeKiB < cfg.BasicPageSize {
		t.Fatalf("PageSizeKiB = %d, smaller than basic %d", fid.PageSizeKiB, cfg.BasicPageSize)
	}
}

func TestCreateBitmapMaxSize(t *testing.T) {
	cfg := config.Default()
	types := make([]codec.Type, 251)
	for i := range types {
		types[i] = codec.UInt
	}
	_, err := Create(cfg, KindBitmap, types, false, "", 1)
	if !errors.Is(err, engineerr.ErrBadArgument) {
		t.Fatalf("expected ErrBadArgument, got %v", err)
	}
}

func TestCreateRejectsCluster(t *testing.T) {
	cfg := config.Default()
	_, err := Create(cfg, KindBtree, []codec.Type{codec.UInt}, true, "cluster=true", 1)
	if !errors.Is(err, engineerr.ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
}

func TestTokenizeHintRespectsParens(t *testing.T) {
	tokens := tokenizeHint("normalized, normalizingMethod=unicode(nfc,extra), other")
	if len(tokens) != 3 {
		t.Fatalf("got %d tokens: %v", len(tokens), tokens)
	}
}

func TestCreateNormalized(t *testing.T) {
	cfg := config.Default()
	fid, err := Create(cfg, KindBtree, []codec.Type{codec.CharString}, false, "normalized, normalizingMethod=unicode", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !fid.Normalized || fid.NormalizingMethod != "unicode" {
		t.Fatalf("got normalized=%v method=%q", fid.Normalized, fid.NormalizingMethod)
	}
}
