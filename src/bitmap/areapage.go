package bitmap

import (
	"encoding/binary"
	"fmt"

	"github.com/doquedb/btree2/src/engineerr"
	"github.com/doquedb/btree2/src/hostiface"
)

// areaHeaderSize: 2-byte area count, 2 bytes reserved, 4-byte next
// page id — the bitmap-file analogue of page.Page's header, minus the
// leaf bit and prev pointer the B+ tree side needs but a flat chain of
// data pages does not.
const areaHeaderSize = 8

// areaSlotSize: 2-byte offset, 2-byte length, one per allocated area.
const areaSlotSize = 4

// AreaPage is a slotted page holding the compressed-bitmap byte blobs
// addressed by (PageID, AreaID) from a btreefile leaf value. Slots grow
// forward from the header; payload grows backward from the end of the
// buffer, mirroring the classic slotted-page layout used throughout
// the pack's storage engines (adapted here to variable-length area
// blobs rather than fixed tuples).
type AreaPage struct {
	ID  hostiface.PageID
	buf []byte
}

// WrapAreaPage constructs a view over buf for id. Call Init on a fresh
// page before use.
func WrapAreaPage(id hostiface.PageID, buf []byte) *AreaPage {
	return &AreaPage{ID: id, buf: buf}
}

// Init zeroes a freshly allocated area page.
func (p *AreaPage) Init() {
	for i := range p.buf[:areaHeaderSize] {
		p.buf[i] = 0
	}
	binary.LittleEndian.PutUint32(p.buf[4:], uint32(hostiface.Undefined))
}

// AreaCount reports the number of allocated slots, including any whose
// area was since cleared (slots are never compacted, only overwritten).
func (p *AreaPage) AreaCount() int {
	return int(binary.LittleEndian.Uint16(p.buf))
}

func (p *AreaPage) setAreaCount(n int) {
	binary.LittleEndian.PutUint16(p.buf, uint16(n))
}

// Next returns the next page in the bitmap file's data-page chain.
func (p *AreaPage) Next() hostiface.PageID {
	return hostiface.PageID(binary.LittleEndian.Uint32(p.buf[4:]))
}

func (p *AreaPage) SetNext(id hostiface.PageID) {
	binary.LittleEndian.PutUint32(p.buf[4:], uint32(id))
}

func (p *AreaPage) slotOffset(areaID uint16) int {
	return areaHeaderSize + int(areaID)*areaSlotSize
}

// payloadStart is the lowest offset still in use by a stored area
// blob; it is recomputed by scanning slots rather than tracked
// incrementally, since areas are added far less often than read.
func (p *AreaPage) payloadStart() int {
	start := len(p.buf)
	for i := 0; i < p.AreaCount(); i++ {
		s := p.slotOffset(uint16(i))
		off := int(binary.LittleEndian.Uint16(p.buf[s:]))
		ln := int(binary.LittleEndian.Uint16(p.buf[s+2:]))
		if ln == 0 {
			continue
		}
		if off < start {
			start = off
		}
	}
	return start
}

// FreeSize reports the bytes available for one more area's slot plus
// payload.
func (p *AreaPage) FreeSize() int {
	slotsEnd := p.slotOffset(uint16(p.AreaCount()))
	free := p.payloadStart() - slotsEnd
	if free < 0 {
		return 0
	}
	return free
}

// GetArea returns the stored blob for areaID, or nil if the slot is
// empty (cleared but not reused).
func (p *AreaPage) GetArea(areaID uint16) []byte {
	if int(areaID) >= p.AreaCount() {
		return nil
	}
	s := p.slotOffset(areaID)
	off := int(binary.LittleEndian.Uint16(p.buf[s:]))
	ln := int(binary.LittleEndian.Uint16(p.buf[s+2:]))
	if ln == 0 {
		return nil
	}
	return p.buf[off : off+ln]
}

// AppendArea allocates a new slot and writes data into fresh payload
// space, returning the new area's id.
func (p *AreaPage) AppendArea(data []byte) (uint16, error) {
	if areaSlotSize+len(data) > p.FreeSize() {
		return 0, fmt.Errorf("bitmap: area page %d has no room for %d-byte area: %w", p.ID, len(data), engineerr.ErrBadArgument)
	}
	areaID := uint16(p.AreaCount())
	off := p.payloadStart() - len(data)
	copy(p.buf[off:], data)
	s := p.slotOffset(areaID)
	binary.LittleEndian.PutUint16(p.buf[s:], uint16(off))
	binary.LittleEndian.PutUint16(p.buf[s+2:], uint16(len(data)))
	p.setAreaCount(p.AreaCount() + 1)
	return areaID, nil
}

// SetArea overwrites areaID's blob. If data fits in the slot's current
// allocation it is rewritten in place; otherwise it is relocated into
// fresh payload space at the cost of orphaning the old bytes (nothing
// reclaims orphaned bytes or an emptied page).
func (p *AreaPage) SetArea(areaID uint16, data []byte) error {
	if int(areaID) >= p.AreaCount() {
		return fmt.Errorf("bitmap: area %d not allocated on page %d: %w", areaID, p.ID, engineerr.ErrBadArgument)
	}
	s := p.slotOffset(areaID)
	off := int(binary.LittleEndian.Uint16(p.buf[s:]))
	ln := int(binary.LittleEndian.Uint16(p.buf[s+2:]))
	if len(data) <= ln {
		copy(p.buf[off:], data)
		binary.LittleEndian.PutUint16(p.buf[s+2:], uint16(len(data)))
		return nil
	}
	if len(data) > p.FreeSize() {
		return fmt.Errorf("bitmap: area page %d has no room to grow area %d to %d bytes: %w", p.ID, areaID, len(data), engineerr.ErrBadArgument)
	}
	newOff := p.payloadStart() - len(data)
	copy(p.buf[newOff:], data)
	binary.LittleEndian.PutUint16(p.buf[s:], uint16(newOff))
	binary.LittleEndian.PutUint16(p.buf[s+2:], uint16(len(data)))
	return nil
}

// ClearArea zeroes areaID's length. The page is never compacted: the
// cleared payload bytes become reusable only when no live area's
// payload lies below them, since payloadStart ignores zero-length
// slots (AppendArea never reuses a cleared slot directly, to keep area
// ids stable for any in-flight readers).
func (p *AreaPage) ClearArea(areaID uint16) {
	if int(areaID) >= p.AreaCount() {
		return
	}
	s := p.slotOffset(areaID)
	binary.LittleEndian.PutUint16(p.buf[s+2:], 0)
}

// Empty reports whether every allocated slot has been cleared.
func (p *AreaPage) Empty() bool {
	for i := 0; i < p.AreaCount(); i++ {
		s := p.slotOffset(uint16(i))
		if binary.LittleEndian.Uint16(p.buf[s+2:]) != 0 {
			return false
		}
	}
	return true
}
