package btreefile

import (
	"encoding/binary"

	"github.com/doquedb/btree2/src/codec"
	"github.com/doquedb/btree2/src/hostiface"
)

// encodeKey serializes a composite key's columns back to back, in the
// order declared by the file's Compare (SPEC_FULL.md §4.5).
func encodeKey(cmp *codec.Compare, key []codec.Value) ([]byte, error) {
	total := 0
	for _, v := range key {
		n, err := codec.SizeOf(v)
		if err != nil {
			return nil, err
		}
		total += n
	}
	buf := make([]byte, total)
	off := 0
	for _, v := range key {
		n, err := codec.Serialize(buf[off:], v)
		if err != nil {
			return nil, err
		}
		off += n
	}
	return buf, nil
}

// decodeKey reconstructs the composite key columns starting at buf,
// returning the values and the byte width consumed.
func decodeKey(cmp *codec.Compare, buf []byte) ([]codec.Value, int, error) {
	out := make([]codec.Value, len(cmp.Types))
	off := 0
	for i, t := range cmp.Types {
		v, n, err := codec.Deserialize(buf[off:], t)
		if err != nil {
			return nil, 0, err
		}
		out[i] = v
		off += n
	}
	return out, off, nil
}

// encodeRowValue packs a row id leaf value (the common, non-bitmap
// case): 4 bytes, little-endian.
func encodeRowValue(rowID uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, rowID)
	return buf
}

func decodeRowValue(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf)
}

// encodeObjectValue packs a bitmap-overlay leaf value: PageID (4 bytes)
// + AreaID (2 bytes), unpadded (SPEC_FULL.md §3 supplement).
func encodeObjectValue(v codec.ObjectIDValue) []byte {
	buf := make([]byte, 6)
	binary.LittleEndian.PutUint32(buf, v.PageID)
	binary.LittleEndian.PutUint16(buf[4:], v.AreaID)
	return buf
}

func decodeObjectValue(buf []byte) codec.ObjectIDValue {
	return codec.ObjectIDValue{
		PageID: binary.LittleEndian.Uint32(buf),
		AreaID: binary.LittleEndian.Uint16(buf[4:]),
	}
}

// encodeChildValue packs a node entry's trailing child pointer.
func encodeChildValue(id hostiface.PageID) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(id))
	return buf
}

// buildLeafEntry concatenates an encoded key with its leaf value field.
func buildLeafEntry(keyBuf, valueBuf []byte) []byte {
	out := make([]byte, len(keyBuf)+len(valueBuf))
	copy(out, keyBuf)
	copy(out[len(keyBuf):], valueBuf)
	return out
}

// buildNodeEntry concatenates a separator key with a child pointer.
func buildNodeEntry(keyBuf []byte, child hostiface.PageID) []byte {
	return buildLeafEntry(keyBuf, encodeChildValue(child))
}
