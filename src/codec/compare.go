package codec

import (
	"bytes"
	"strings"
)

// CompareValues returns -1, 0, or 1 comparing a and b, which must share
// a Type. NULL is never passed here: NULL rows are stored only in
// HeaderPage side buckets (SPEC_FULL.md §4.5).
func CompareValues(a, b Value) int {
	switch a.Type {
	case Int:
		return compareInt64(int64(a.I32), int64(b.I32))
	case UInt:
		return compareUint64(uint64(a.U32), uint64(b.U32))
	case Int64:
		return compareInt64(a.I64, b.I64)
	case Double:
		switch {
		case a.F64 < b.F64:
			return -1
		case a.F64 > b.F64:
			return 1
		default:
			return 0
		}
	case Decimal:
		return compareDecimal(a.Dec, b.Dec)
	case CharString, UnicodeString:
		return strings.Compare(strings.TrimRight(a.Str, " "), strings.TrimRight(b.Str, " "))
	case NoPadCharString, NoPadUnicodeString:
		return strings.Compare(a.Str, b.Str)
	case DateTime:
		switch {
		case a.T.Before(b.T):
			return -1
		case a.T.After(b.T):
			return 1
		default:
			return 0
		}
	case LanguageSet:
		return bytes.Compare([]byte(strings.Join(sortLanguages(a.Lng), ",")), []byte(strings.Join(sortLanguages(b.Lng), ",")))
	case ObjectID:
		if a.Obj.PageID != b.Obj.PageID {
			return compareUint64(uint64(a.Obj.PageID), uint64(b.Obj.PageID))
		}
		return compareUint64(uint64(a.Obj.AreaID), uint64(b.Obj.AreaID))
	default:
		return 0
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareDecimal(a, b DecimalValue) int {
	// Normalize to the finer (larger) scale before comparing unscaled magnitudes.
	av, bv := a.Unscaled, b.Unscaled
	switch {
	case a.Scale == b.Scale:
		// fallthrough to direct compare below
	case a.Scale < b.Scale:
		for i := uint8(0); i < b.Scale-a.Scale; i++ {
			av *= 10
		}
	default:
		for i := uint8(0); i < a.Scale-b.Scale; i++ {
			bv *= 10
		}
	}
	return compareInt64(av, bv)
}

// Like implements the LIKE primitive for string types only: pattern may
// contain '%' (any run, including empty) and '_' (exactly one rune).
// escape, if non-zero, treats the following pattern rune as literal.
func Like(pattern, text Value, escape rune) (bool, error) {
	if !isStringType(pattern.Type) || pattern.Type != text.Type {
		return false, errUnknownType(pattern.Type)
	}
	return likeMatch([]rune(pattern.Str), []rune(text.Str), escape), nil
}

func isStringType(t Type) bool {
	switch t {
	case CharString, NoPadCharString, UnicodeString, NoPadUnicodeString:
		return true
	default:
		return false
	}
}

func likeMatch(pattern, text []rune, escape rune) bool {
	return likeMatchAt(pattern, text, escape)
}

func likeMatchAt(pattern, text []rune, escape rune) bool {
	if len(pattern) == 0 {
		return len(text) == 0
	}
	p := pattern[0]
	if escape != 0 && p == escape && len(pattern) > 1 {
		if len(text) == 0 || text[0] != pattern[1] {
			return false
		}
		return likeMatchAt(pattern[2:], text[1:], escape)
	}
	switch p {
	case '%':
		if likeMatchAt(pattern[1:], text, escape) {
			return true
		}
		for i := 0; i < len(text); i++ {
			if likeMatchAt(pattern[1:], text[i+1:], escape) {
				return true
			}
		}
		return false
	case '_':
		if len(text) == 0 {
			return false
		}
		return likeMatchAt(pattern[1:], text[1:], escape)
	default:
		if len(text) == 0 || text[0] != p {
			return false
		}
		return likeMatchAt(pattern[1:], text[1:], escape)
	}
}

// Compare assembles a composite-key comparator over a file's declared
// leaf key type list (SPEC_FULL.md §4.5: "Compare assembly ... walks
// type-by-type, advancing two cursors ... returning the first nonzero
// per-type result"). IsUnique records whether equality under this
// comparator is a uniqueness violation at the BtreeFile layer; Compare
// itself is otherwise stateless.
type Compare struct {
	Types    []Type
	IsUnique bool
}

// NewCompare builds a Compare over the given composite key type list.
func NewCompare(types []Type, unique bool) *Compare {
	return &Compare{Types: types, IsUnique: unique}
}

// CompareEntries walks both entry buffers column by column, returning
// the first nonzero per-column result, or 0 if every column compared
// equal.
func (c *Compare) CompareEntries(a, b []byte) (int, error) {
	ao, bo := 0, 0
	for _, t := range c.Types {
		av, an, err := Deserialize(a[ao:], t)
		if err != nil {
			return 0, err
		}
		bv, bn, err := Deserialize(b[bo:], t)
		if err != nil {
			return 0, err
		}
		if r := CompareValues(av, bv); r != 0 {
			return r, nil
		}
		ao += an
		bo += bn
	}
	return 0, nil
}

// KeyWidth returns the total byte length of the composite key encoded
// at the start of buf.
func (c *Compare) KeyWidth(buf []byte) (int, error) {
	off := 0
	for _, t := range c.Types {
		n, err := SizeAt(buf[off:], t)
		if err != nil {
			return 0, err
		}
		off += n
	}
	return off, nil
}
