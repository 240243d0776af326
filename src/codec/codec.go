package codec

import (
	"encoding/binary"
	"fmt"
)

// SizeOf returns the number of bytes v occupies once serialized,
// including any length prefix. Fixed types return FixedWords(t)*4
// without inspecting v (SPEC_FULL.md §4.5: "Fixed types declare a
// constant word count returned by sizeOf(NULL)").
func SizeOf(v Value) (int, error) {
	if n := FixedWords(v.Type); n > 0 {
		return n * wordSize, nil
	}
	switch v.Type {
	case CharString, NoPadCharString, UnicodeString, NoPadUnicodeString:
		return 2 + len(v.Str), nil
	case LanguageSet:
		return 2 + 2*len(v.Lng), nil
	default:
		return 0, errUnknownType(v.Type)
	}
}

// SizeAt reads enough of buf to compute the byte length of the entry
// encoded there without fully decoding it, used by Page.load to walk a
// page in O(n) (SPEC_FULL.md §4.3).
func SizeAt(buf []byte, t Type) (int, error) {
	if n := FixedWords(t); n > 0 {
		return n * wordSize, nil
	}
	switch t {
	case CharString, NoPadCharString, UnicodeString, NoPadUnicodeString, LanguageSet:
		if len(buf) < 2 {
			return 0, fmt.Errorf("codec: truncated length prefix")
		}
		n := int(binary.LittleEndian.Uint16(buf))
		return 2 + n, nil
	default:
		return 0, errUnknownType(t)
	}
}

// Serialize writes v into buf (which must be at least SizeOf(v) bytes)
// and returns the number of bytes written.
func Serialize(buf []byte, v Value) (int, error) {
	switch v.Type {
	case Int:
		binary.LittleEndian.PutUint32(buf, uint32(v.I32))
		return 4, nil
	case UInt:
		binary.LittleEndian.PutUint32(buf, v.U32)
		return 4, nil
	case Int64:
		binary.LittleEndian.PutUint64(buf, uint64(v.I64))
		return 8, nil
	case Double:
		binary.LittleEndian.PutUint64(buf, doubleBits(v.F64))
		return 8, nil
	case Decimal:
		binary.LittleEndian.PutUint64(buf, uint64(v.Dec.Unscaled))
		buf[8] = v.Dec.Scale
		buf[9], buf[10], buf[11] = 0, 0, 0
		return 12, nil
	case DateTime:
		binary.LittleEndian.PutUint64(buf, uint64(v.T.UnixNano()))
		return 8, nil
	case ObjectID:
		binary.LittleEndian.PutUint32(buf, v.Obj.PageID)
		binary.LittleEndian.PutUint16(buf[4:], v.Obj.AreaID)
		buf[6], buf[7] = 0, 0
		return 8, nil
	case CharString, NoPadCharString, UnicodeString, NoPadUnicodeString:
		binary.LittleEndian.PutUint16(buf, uint16(len(v.Str)))
		copy(buf[2:], v.Str)
		return 2 + len(v.Str), nil
	case LanguageSet:
		binary.LittleEndian.PutUint16(buf, uint16(2*len(v.Lng)))
		off := 2
		for _, lang := range v.Lng {
			binary.LittleEndian.PutUint16(buf[off:], languageCode(lang))
			off += 2
		}
		return off, nil
	default:
		return 0, errUnknownType(v.Type)
	}
}

// Deserialize reads one value of type t out of buf, returning the value
// and the number of bytes consumed.
func Deserialize(buf []byte, t Type) (Value, int, error) {
	switch t {
	case Int:
		return Value{Type: t, I32: int32(binary.LittleEndian.Uint32(buf))}, 4, nil
	case UInt:
		return Value{Type: t, U32: binary.LittleEndian.Uint32(buf)}, 4, nil
	case Int64:
		return Value{Type: t, I64: int64(binary.LittleEndian.Uint64(buf))}, 8, nil
	case Double:
		return Value{Type: t, F64: doubleFromBits(binary.LittleEndian.Uint64(buf))}, 8, nil
	case Decimal:
		return Value{Type: t, Dec: DecimalValue{Unscaled: int64(binary.LittleEndian.Uint64(buf)), Scale: buf[8]}}, 12, nil
	case DateTime:
		return Value{Type: t, T: timeFromUnixNano(int64(binary.LittleEndian.Uint64(buf)))}, 8, nil
	case ObjectID:
		return Value{Type: t, Obj: ObjectIDValue{PageID: binary.LittleEndian.Uint32(buf), AreaID: binary.LittleEndian.Uint16(buf[4:])}}, 8, nil
	case CharString, NoPadCharString, UnicodeString, NoPadUnicodeString:
		n := int(binary.LittleEndian.Uint16(buf))
		return Value{Type: t, Str: string(buf[2 : 2+n])}, 2 + n, nil
	case LanguageSet:
		n := int(binary.LittleEndian.Uint16(buf)) / 2
		langs := make([]string, n)
		off := 2
		for i := 0; i < n; i++ {
			langs[i] = languageName(binary.LittleEndian.Uint16(buf[off:]))
			off += 2
		}
		return Value{Type: t, Lng: langs}, off, nil
	default:
		return Value{}, 0, errUnknownType(t)
	}
}
