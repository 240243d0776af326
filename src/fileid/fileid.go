// Package fileid parses and materializes the per-file metadata blob
// that identifies a B+ tree file (SPEC_FULL.md §3.1, C7): leaf key
// types, key size, tuple max size, page size, normalization, compressed
// flag, schema version, and the free-form hint string it was derived
// from.
//
// The hint-string tokenizer and page-size doubling heuristic are new
// code grounded in spirit on src/settings/settings.go's layered
// default-then-override Arguments pattern and on
// original_source/.../Btree2/FileID.cpp for the doubling/rounding
// sequence (SPEC_FULL.md §4.6).
package fileid

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/doquedb/btree2/src/codec"
	"github.com/doquedb/btree2/src/config"
	"github.com/doquedb/btree2/src/engineerr"
	"github.com/doquedb/btree2/src/helpers"
)

// Kind distinguishes a general-purpose ordered index from the B+-tree
// half of a bitmap index; MAX_SIZE differs between them
// (SPEC_FULL.md §4.6 step 4).
type Kind int

const (
	KindBtree Kind = iota
	KindBitmap
)

// maxSizeWords caps total key size per Kind, in 4-byte words
// (SPEC_FULL.md: "MAX_SIZE is 250 for bitmap, 1250 for B+tree").
func (k Kind) maxSizeWords() int {
	if k == KindBitmap {
		return 250
	}
	return 1250
}

// FileID is the validated, materialized metadata for one B+ tree file.
type FileID struct {
	Kind Kind

	KeyTypes []codec.Type
	KeySize  int // words
	TupleMax int // bytes; maxSizeWords*4

	PageSizeKiB int

	Normalized        bool
	NormalizingMethod string

	Compressed bool // bitmap-overlay variant (SPEC_FULL.md §4.7)
	Unique     bool

	SchemaVersion int

	Hint string
}

// assumedTupleCount and a conservative per-entry size estimate drive the
// page-size doubling heuristic in Create (SPEC_FULL.md §4.6 step 3);
// these mirror the fill-factor constants the teacher's bulk builder used
// (src/btree_index/btree_builder.go's BTreeFillFactor).
const assumedTupleCount = 64

// Create parses hint and builds a validated FileID, following the
// sequence in SPEC_FULL.md §4.6:
//  1. tokenize hint on commas respecting parens/quotes
//  2. set normalization flag/method from hint
//  3. choose page size by doubling from cfg.BasicPageSize, or take the
//     hint's "pagesize" override when given; either way the result is
//     capped at cfg.MaxPageSize and rounded down to a supported size
//  4. infer key column count/size, reject overflow of MAX_SIZE
//  5. pin a schema version
func Create(cfg *config.EngineConfig, kind Kind, keyTypes []codec.Type, unique bool, hint string, schemaVersion int) (*FileID, error) {
	tokens := tokenizeHint(hint)

	normalized := false
	normalizingMethod := ""
	compressed := kind == KindBitmap
	pageSizeOverrideKiB := 0
	for _, tok := range tokens {
		k, v, _ := strings.Cut(tok, "=")
		k = strings.TrimSpace(strings.ToLower(k))
		v = helpers.StripQuotes(v)
		switch k {
		case "normalized":
			normalized = v == "" || v == "true"
		case "normalizingmethod":
			normalizingMethod = v
		case "compressed":
			compressed = v == "" || v == "true"
		case "pagesize":
			n, err := parseIntHint(v)
			if err != nil {
				return nil, fmt.Errorf("fileid: pagesize hint: %w", engineerr.ErrBadArgument)
			}
			pageSizeOverrideKiB = n
		case "cluster":
			// SPEC_FULL.md §9 Open Question 1: clustered indices are
			// rejected outright rather than silently accepted.
			return nil, fmt.Errorf("fileid: cluster hint: %w", engineerr.ErrNotSupported)
		}
	}
	if normalized && normalizingMethod == "" {
		normalizingMethod = "default"
	}

	keySize := 0
	for _, t := range keyTypes {
		n := codec.FixedWords(t)
		if n == 0 {
			// Variable-length columns contribute their prefix word;
			// actual per-entry width is checked against TupleMax at
			// insert time, not here.
			n = 1
		}
		keySize += n
	}

	maxWords := kind.maxSizeWords()
	if keySize > maxWords {
		return nil, fmt.Errorf("fileid: key size %d words exceeds MAX_SIZE %d: %w", keySize, maxWords, engineerr.ErrBadArgument)
	}

	tupleSize := maxWords * 4

	pageSize := cfg.BasicPageSize
	if pageSizeOverrideKiB > 0 {
		pageSize = pageSizeOverrideKiB
	} else {
		for pageSize*1024 < assumedTupleCount*tupleSize && pageSize < cfg.MaxPageSize {
			pageSize *= 2
		}
	}
	if pageSize > cfg.MaxPageSize {
		pageSize = cfg.MaxPageSize
	}
	pageSize = roundDownToSupportedSize(pageSize)

	return &FileID{
		Kind:              kind,
		KeyTypes:          keyTypes,
		KeySize:           keySize,
		TupleMax:          tupleSize,
		PageSizeKiB:       pageSize,
		Normalized:        normalized,
		NormalizingMethod: normalizingMethod,
		Compressed:        compressed,
		Unique:            unique,
		SchemaVersion:     schemaVersion,
		Hint:              hint,
	}, nil
}

// supportedPageSizesKiB are the power-of-two sizes the version manager
// is assumed to support (SPEC_FULL.md §4.6 step 3: "round down to a
// power supported by the version manager").
var supportedPageSizesKiB = []int{1, 2, 4, 8, 16, 32, 64}

func roundDownToSupportedSize(kib int) int {
	best := supportedPageSizesKiB[0]
	for _, s := range supportedPageSizesKiB {
		if s <= kib {
			best = s
		}
	}
	return best
}

// tokenizeHint splits on commas while respecting parentheses and
// quotes, e.g. "normalized, normalizingMethod=unicode(nfc), sort=(a,b)"
// splits into three tokens, not four.
func tokenizeHint(hint string) []string {
	var tokens []string
	depth := 0
	var inQuote rune
	start := 0
	for i, r := range hint {
		switch {
		case inQuote != 0:
			if r == inQuote {
				inQuote = 0
			}
		case r == '\'' || r == '"':
			inQuote = r
		case r == '(':
			depth++
		case r == ')':
			if depth > 0 {
				depth--
			}
		case r == ',' && depth == 0:
			tokens = append(tokens, hint[start:i])
			start = i + 1
		}
	}
	if start < len(hint) {
		tokens = append(tokens, hint[start:])
	}
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseIntHint parses the value half of an integer-valued hint token,
// e.g. the "64" in "pagesize=64".
func parseIntHint(v string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(v))
}
