// Package codec packs and unpacks typed B+ tree entries into unpadded
// byte buffers (SPEC_FULL.md §4.5, C5) and selects per-type
// comparators (C6). It is the Go-native generalization of the teacher's
// single-field encodeFieldValue switch (src/btree_index/btree_service.go)
// to the full composite-key, fixed-and-variable-length column list this
// spec requires.
package codec

import (
	"fmt"
	"time"

	"github.com/doquedb/btree2/src/hostiface"
)

// Type re-exports hostiface.DataType under the name this package's
// operations use; the two are the same enumeration, kept distinct only
// so callers reading codec code don't need to import hostiface for the
// tag itself.
type Type = hostiface.DataType

const (
	Int              = hostiface.TypeInt
	UInt             = hostiface.TypeUInt
	Int64            = hostiface.TypeInt64
	Double           = hostiface.TypeDouble
	Decimal          = hostiface.TypeDecimal
	CharString       = hostiface.TypeCharString
	NoPadCharString  = hostiface.TypeNoPadCharString
	UnicodeString    = hostiface.TypeUnicodeString
	NoPadUnicodeString = hostiface.TypeNoPadUnicodeString
	DateTime         = hostiface.TypeDateTime
	LanguageSet      = hostiface.TypeLanguageSet
	ObjectID         = hostiface.TypeObjectID
)

// wordSize is the unit fixed-size lengths and key-size accounting are
// expressed in (SPEC_FULL.md §3.1: "key size (units of 4 bytes)").
const wordSize = 4

// ObjectIDValue is the bitmap-overlay leaf value: a (pageId, areaId)
// pair addressing a compressed-bitmap area (SPEC_FULL.md §3 supplement).
type ObjectIDValue struct {
	PageID uint32
	AreaID uint16
}

// DecimalValue is a fixed-precision decimal stored as an unscaled int64
// plus a scale.
type DecimalValue struct {
	Unscaled int64
	Scale    uint8
}

// Value is one typed column value. Exactly one of the type-specific
// fields is meaningful, selected by Type.
type Value struct {
	Type Type

	I32 int32
	U32 uint32
	I64 int64
	F64 float64
	Dec DecimalValue
	Str string // CharString/NoPadCharString/UnicodeString/NoPadUnicodeString
	T   time.Time
	Lng []string // LanguageSet: e.g. ["en", "ja"]
	Obj ObjectIDValue
}

// IsVariable reports whether t is encoded with a length prefix rather
// than a fixed word count.
func IsVariable(t Type) bool {
	switch t {
	case CharString, NoPadCharString, UnicodeString, NoPadUnicodeString, LanguageSet:
		return true
	default:
		return false
	}
}

// FixedWords returns the fixed word count for t, or 0 if t is variable
// (SPEC_FULL.md §4.5: "Fixed types declare a constant word count
// returned by sizeOf(NULL)").
func FixedWords(t Type) int {
	switch t {
	case Int, UInt:
		return 1
	case Int64, Double, DateTime:
		return 2
	case Decimal:
		return 3
	case ObjectID:
		return 2
	default:
		return 0
	}
}

// errUnknownType builds the error returned by operations given a Type
// outside the supported set.
func errUnknownType(t Type) error {
	return fmt.Errorf("codec: unrecognized type %d", t)
}
