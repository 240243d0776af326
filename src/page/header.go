package page

import (
	"encoding/binary"
	"time"

	"github.com/doquedb/btree2/src/codec"
	"github.com/doquedb/btree2/src/hostiface"
)

// HeaderPage is the singleton page 0 (SPEC_FULL.md §3.4, C4): root,
// leftLeaf, rightLeaf ids, entry count, tree height, the null-bucket
// entry ids, and a last-modified timestamp.
//
// Wire layout (all little-endian, fixed-size, no slot vector):
//
//	 0: rootId           uint32
//	 4: leftLeafId        uint32
//	 8: rightLeafId       uint32
//	12: totalEntryCount   uint64
//	20: treeHeight        uint32
//	24: maxRowId          uint32
//	28: nullID.PageID     uint32
//	32: nullID.AreaID     uint16
//	34: allNullID.PageID  uint32
//	38: allNullID.AreaID  uint16
//	40: lastModifiedUnixNano uint64
const HeaderWireSize = 48

// HeaderPage wraps page 0's raw buffer with typed accessors. It tracks
// no dirty state: BtreeFile keeps page 0 attached for the file's
// lifetime and detaches it dirty on Close. HeaderPage itself has no
// notion of pinning.
type HeaderPage struct {
	buf []byte
}

// WrapHeader constructs a HeaderPage view over buf, which must be at
// least HeaderWireSize bytes.
func WrapHeader(buf []byte) *HeaderPage {
	return &HeaderPage{buf: buf}
}

// Initialize zeroes every field (SPEC_FULL.md §3.4: "created with
// initialize() zeroing all fields").
func (h *HeaderPage) Initialize() {
	for i := range h.buf[:HeaderWireSize] {
		h.buf[i] = 0
	}
}

func (h *HeaderPage) RootID() hostiface.PageID {
	return hostiface.PageID(binary.LittleEndian.Uint32(h.buf[0:]))
}

func (h *HeaderPage) SetRootID(id hostiface.PageID) {
	binary.LittleEndian.PutUint32(h.buf[0:], uint32(id))
}

func (h *HeaderPage) LeftLeafID() hostiface.PageID {
	return hostiface.PageID(binary.LittleEndian.Uint32(h.buf[4:]))
}

func (h *HeaderPage) SetLeftLeafID(id hostiface.PageID) {
	binary.LittleEndian.PutUint32(h.buf[4:], uint32(id))
}

func (h *HeaderPage) RightLeafID() hostiface.PageID {
	return hostiface.PageID(binary.LittleEndian.Uint32(h.buf[8:]))
}

func (h *HeaderPage) SetRightLeafID(id hostiface.PageID) {
	binary.LittleEndian.PutUint32(h.buf[8:], uint32(id))
}

func (h *HeaderPage) TotalEntryCount() uint64 {
	return binary.LittleEndian.Uint64(h.buf[12:])
}

func (h *HeaderPage) SetTotalEntryCount(n uint64) {
	binary.LittleEndian.PutUint64(h.buf[12:], n)
}

func (h *HeaderPage) IncrementCount(delta int64) {
	h.SetTotalEntryCount(uint64(int64(h.TotalEntryCount()) + delta))
}

func (h *HeaderPage) TreeHeight() int {
	return int(binary.LittleEndian.Uint32(h.buf[20:]))
}

func (h *HeaderPage) SetTreeHeight(height int) {
	binary.LittleEndian.PutUint32(h.buf[20:], uint32(height))
}

func (h *HeaderPage) MaxRowID() uint32 {
	return binary.LittleEndian.Uint32(h.buf[24:])
}

// SetMaxRowID only ever moves the stored value upward, mirroring the
// original's max-only update (original_source HeaderPage.h setMaxRowID).
func (h *HeaderPage) SetMaxRowID(id uint32) {
	if id > h.MaxRowID() {
		binary.LittleEndian.PutUint32(h.buf[24:], id)
	}
}

// NullID/AllNullID are the bitmap-variant NULL and ALL-NULL bucket
// pointers, each a composite (PageID, AreaID) pair
// (SPEC_FULL.md §3 supplement, grounded on
// original_source/.../Bitmap/HeaderPage.h).
func (h *HeaderPage) NullID() codec.ObjectIDValue {
	return codec.ObjectIDValue{
		PageID: binary.LittleEndian.Uint32(h.buf[28:]),
		AreaID: binary.LittleEndian.Uint16(h.buf[32:]),
	}
}

func (h *HeaderPage) SetNullID(v codec.ObjectIDValue) {
	binary.LittleEndian.PutUint32(h.buf[28:], v.PageID)
	binary.LittleEndian.PutUint16(h.buf[32:], v.AreaID)
}

func (h *HeaderPage) ClearNullID() {
	h.SetNullID(codec.ObjectIDValue{})
}

func (h *HeaderPage) AllNullID() codec.ObjectIDValue {
	return codec.ObjectIDValue{
		PageID: binary.LittleEndian.Uint32(h.buf[34:]),
		AreaID: binary.LittleEndian.Uint16(h.buf[38:]),
	}
}

func (h *HeaderPage) SetAllNullID(v codec.ObjectIDValue) {
	binary.LittleEndian.PutUint32(h.buf[34:], v.PageID)
	binary.LittleEndian.PutUint16(h.buf[38:], v.AreaID)
}

func (h *HeaderPage) ClearAllNullID() {
	h.SetAllNullID(codec.ObjectIDValue{})
}

// LastModified/SetLastModified resolve SPEC_FULL.md §9 Open Question 2:
// the timestamp field is written on every structural mutation rather
// than left zero.
func (h *HeaderPage) LastModified() time.Time {
	ns := binary.LittleEndian.Uint64(h.buf[40:])
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(ns)).UTC()
}

func (h *HeaderPage) Touch() {
	binary.LittleEndian.PutUint64(h.buf[40:], uint64(time.Now().UTC().UnixNano()))
}

// IsEmpty reports whether the tree has no root (SPEC_FULL.md §3.1:
// "once any entry exists, HeaderPage.rootId != Undefined").
func (h *HeaderPage) IsEmpty() bool {
	return h.RootID() == hostiface.Undefined
}
