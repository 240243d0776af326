// Package page implements the typed, in-place buffer view over one
// physical page (SPEC_FULL.md §3.3, §4.3, C3): header, slot vector,
// and the split/merge/redistribute primitives BtreeFile's structural
// algorithms are built on.
package page

import (
	"encoding/binary"
	"fmt"

	"github.com/doquedb/btree2/src/codec"
	"github.com/doquedb/btree2/src/engineerr"
	"github.com/doquedb/btree2/src/hostiface"
)

// headerSize is the fixed header width: entryCount|leafBit (4 bytes),
// prevPageID (4 bytes), nextPageID (4 bytes) — SPEC_FULL.md §3.3/§6.
const headerSize = 12

const leafBit = uint32(1) << 31

// Kind distinguishes the page roles named in SPEC_FULL.md §3.3. Data,
// Dir and Top exist for the bitmap companion file; the core B+ tree
// only ever allocates Node and Leaf pages plus the singleton Header.
type Kind int

const (
	KindNode Kind = iota
	KindLeaf
	KindHeader
	KindBitmapData
	KindBitmapDir
	KindBitmapTop
)

// Page is a typed view over a fixed-size buffer. Callers obtain one via
// Wrap and must call Load before reading entries.
type Page struct {
	ID    hostiface.PageID
	buf   []byte
	cmp   *codec.Compare
	vw    int // value width in bytes: 4 for row-id leaves/node children, 6 for bitmap ObjectID leaves
	slots []int
}

// Wrap constructs a Page view over buf for the given id. buf is shared,
// not copied: mutations through Page are visible to whoever owns buf
// once the page is unfixed dirty.
func Wrap(id hostiface.PageID, buf []byte, cmp *codec.Compare, valueWidth int) *Page {
	return &Page{ID: id, buf: buf, cmp: cmp, vw: valueWidth}
}

// Init zeroes the header of a freshly allocated page and marks its
// leaf bit.
func (p *Page) Init(isLeaf bool) {
	for i := range p.buf[:headerSize] {
		p.buf[i] = 0
	}
	if isLeaf {
		binary.LittleEndian.PutUint32(p.buf, leafBit)
	}
	binary.LittleEndian.PutUint32(p.buf[4:], uint32(hostiface.Undefined))
	binary.LittleEndian.PutUint32(p.buf[8:], uint32(hostiface.Undefined))
	p.slots = []int{headerSize}
}

func (p *Page) rawCount() uint32 {
	return binary.LittleEndian.Uint32(p.buf) &^ leafBit
}

// PeekIsLeaf reads the leaf bit directly out of a raw page buffer,
// before a Page view has been constructed. PageCache uses this to pick
// the right value width (node child pointers are always 4 bytes; leaf
// values are 4 bytes, or 6 in the bitmap-overlay variant) prior to
// calling Wrap.
func PeekIsLeaf(buf []byte) bool {
	return binary.LittleEndian.Uint32(buf)&leafBit != 0
}

// IsLeaf reports the page's leaf bit.
func (p *Page) IsLeaf() bool {
	return binary.LittleEndian.Uint32(p.buf)&leafBit != 0
}

func (p *Page) setCount(n uint32) {
	v := n
	if p.IsLeaf() {
		v |= leafBit
	}
	binary.LittleEndian.PutUint32(p.buf, v)
}

// Prev/Next are the sibling pointers (SPEC_FULL.md §3.3).
func (p *Page) Prev() hostiface.PageID {
	return hostiface.PageID(binary.LittleEndian.Uint32(p.buf[4:]))
}

func (p *Page) Next() hostiface.PageID {
	return hostiface.PageID(binary.LittleEndian.Uint32(p.buf[8:]))
}

func (p *Page) SetPrev(id hostiface.PageID) {
	binary.LittleEndian.PutUint32(p.buf[4:], uint32(id))
}

func (p *Page) SetNext(id hostiface.PageID) {
	binary.LittleEndian.PutUint32(p.buf[8:], uint32(id))
}

// IsRoot reports whether this page is the root: both sibling pointers
// undefined (SPEC_FULL.md §4.3 "A page is the root iff both sibling
// pointers are Undefined").
func (p *Page) IsRoot() bool {
	return p.Prev() == hostiface.Undefined && p.Next() == hostiface.Undefined
}

// EntryCount returns the number of entries currently on the page.
func (p *Page) EntryCount() int {
	return len(p.slots) - 1
}

// keyWidth returns the byte length of the key-only portion of an
// entry starting at buf offset off (the composite key, per Compare's
// type list), without the trailing child/value field.
func (p *Page) keyWidth(off int) (int, error) {
	return p.cmp.KeyWidth(p.buf[off:])
}

// Load walks the buffer from the header, using Codec sizing to
// reconstruct the slot vector (SPEC_FULL.md §4.3 "load(count)"). count
// is the entry count recorded in the header.
func (p *Page) Load() error {
	count := int(p.rawCount())
	slots := make([]int, 0, count+1)
	off := headerSize
	for i := 0; i < count; i++ {
		slots = append(slots, off)
		kw, err := p.keyWidth(off)
		if err != nil {
			return fmt.Errorf("page: load entry %d: %w", i, err)
		}
		off += kw + p.vw
	}
	slots = append(slots, off) // sentinel: end() = begin() + n
	p.slots = slots
	return nil
}

// begin/end name the slot-vector bounds the way SPEC_FULL.md's
// algorithms refer to them.
func (p *Page) begin() int { return 0 }
func (p *Page) end() int   { return len(p.slots) - 1 }

// UsedSize returns end()-begin() in bytes: the space occupied by the
// entry region, not counting the header.
func (p *Page) UsedSize() int {
	if len(p.slots) == 0 {
		return 0
	}
	return p.slots[len(p.slots)-1] - headerSize
}

// FreeSize returns getFreeSize = pageSize - headerWords - usedSize
// (SPEC_FULL.md §4.3), given the page's total byte capacity.
func (p *Page) FreeSize(pageSizeBytes int) int {
	return pageSizeBytes - headerSize - p.UsedSize()
}

// EntryAt returns the raw bytes of the i'th entry (key followed by
// child/value), where 0 <= i < EntryCount().
func (p *Page) EntryAt(i int) []byte {
	return p.buf[p.slots[i]:p.slots[i+1]]
}

// KeyAt returns just the key portion of the i'th entry.
func (p *Page) KeyAt(i int) []byte {
	e := p.EntryAt(i)
	return e[:len(e)-p.vw]
}

// ValueAt returns just the trailing value/child field of the i'th
// entry.
func (p *Page) ValueAt(i int) []byte {
	e := p.EntryAt(i)
	return e[len(e)-p.vw:]
}

// ChildAt decodes the i'th entry's trailing field as a child PageID
// (node pages only).
func (p *Page) ChildAt(i int) hostiface.PageID {
	return hostiface.PageID(binary.LittleEndian.Uint32(p.ValueAt(i)))
}

// ValueWidth exposes vw so callers constructing sibling pages can match
// it.
func (p *Page) ValueWidth() int { return p.vw }

// Buf exposes the raw backing buffer, e.g. for serializing to disk.
func (p *Page) Buf() []byte { return p.buf }

// Compare exposes the composite-key comparator this page was wrapped
// with.
func (p *Page) Compare() *codec.Compare { return p.cmp }

// FindEntry performs a linear scan for key, used by small pages and by
// tests; BtreeFile's descent uses a binary search variant
// (lowerBound/upperBound) over the same slot vector.
func (p *Page) FindEntry(key []byte) (int, bool, error) {
	for i := 0; i < p.EntryCount(); i++ {
		r, err := p.cmp.CompareEntries(p.KeyAt(i), key)
		if err != nil {
			return 0, false, err
		}
		if r == 0 {
			return i, true, nil
		}
		if r > 0 {
			return i, false, nil
		}
	}
	return p.EntryCount(), false, nil
}

// LowerBound returns the first slot index i such that KeyAt(i) >= key
// (or EntryCount() if none).
func (p *Page) LowerBound(key []byte) (int, error) {
	lo, hi := 0, p.EntryCount()
	for lo < hi {
		mid := (lo + hi) / 2
		r, err := p.cmp.CompareEntries(p.KeyAt(mid), key)
		if err != nil {
			return 0, err
		}
		if r < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// UpperBound returns the first slot index i such that KeyAt(i) > key
// (or EntryCount() if none).
func (p *Page) UpperBound(key []byte) (int, error) {
	lo, hi := 0, p.EntryCount()
	for lo < hi {
		mid := (lo + hi) / 2
		r, err := p.cmp.CompareEntries(p.KeyAt(mid), key)
		if err != nil {
			return 0, err
		}
		if r <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// InsertAt implements SPEC_FULL.md §4.3 insertAt: memmove the suffix
// forward, memcpy the new entry, patch slots, insert a new slot vector
// entry, increment count. The caller is responsible for the
// "first-key separator rewrite in parent" half of that algorithm
// (§4.3: "If iter=begin() and this is not the root..."), since that
// crosses into the parent page this Page has no reference to.
func (p *Page) InsertAt(i int, entry []byte) error {
	off := p.slots[i]
	n := len(entry)
	tail := p.buf[off:p.slots[len(p.slots)-1]]
	if off+n+len(tail) > len(p.buf) {
		return fmt.Errorf("page: insert overflows buffer: %w", engineerr.ErrBadArgument)
	}
	// memmove suffix forward by n bytes
	copy(p.buf[off+n:], tail)
	// memcpy new entry into the gap
	copy(p.buf[off:off+n], entry)

	newSlots := make([]int, 0, len(p.slots)+1)
	newSlots = append(newSlots, p.slots[:i]...)
	newSlots = append(newSlots, off)
	for _, s := range p.slots[i:] {
		newSlots = append(newSlots, s+n)
	}
	p.slots = newSlots
	p.setCount(uint32(p.EntryCount()))
	return nil
}

// EraseAt implements SPEC_FULL.md §4.3 eraseAt: the symmetric removal.
// The caller decides what "count becomes 0 and this is the root" means
// for HeaderPage (BtreeFile owns that decision since Page has no
// HeaderPage reference).
func (p *Page) EraseAt(i int) error {
	if i < 0 || i >= p.EntryCount() {
		return fmt.Errorf("page: erase index %d out of range: %w", i, engineerr.ErrBadArgument)
	}
	off := p.slots[i]
	n := p.slots[i+1] - off
	tail := p.buf[p.slots[i+1]:p.slots[len(p.slots)-1]]
	copy(p.buf[off:], tail)

	newSlots := make([]int, 0, len(p.slots)-1)
	newSlots = append(newSlots, p.slots[:i]...)
	for _, s := range p.slots[i+1:] {
		newSlots = append(newSlots, s-n)
	}
	p.slots = newSlots
	p.setCount(uint32(p.EntryCount()))
	return nil
}

// Entries returns copies of every entry's raw bytes, used by
// split/redistribute/concatenate to collect, re-sort, and redistribute
// a page's contents.
func (p *Page) Entries() [][]byte {
	out := make([][]byte, p.EntryCount())
	for i := range out {
		e := p.EntryAt(i)
		cp := make([]byte, len(e))
		copy(cp, e)
		out[i] = cp
	}
	return out
}

// Clear resets the page to zero entries, keeping its header flags and
// sibling pointers intact.
func (p *Page) Clear() {
	p.slots = []int{headerSize}
	p.setCount(0)
}

// AppendAll inserts every entry in entries at the end of the page, in
// order. Used after Clear to repopulate a page during
// split/redistribute/concatenate.
func (p *Page) AppendAll(entries [][]byte) error {
	for _, e := range entries {
		if err := p.InsertAt(p.EntryCount(), e); err != nil {
			return err
		}
	}
	return nil
}

// SplitPoint returns the number of leading entries of a flattened entry
// list (as produced by Entries, possibly concatenated across two pages)
// whose combined size first reaches target, or len(entries) if it never
// does; used by split/redistribute.
func SplitPoint(entries [][]byte, target int) int {
	used := 0
	for i, e := range entries {
		used += len(e)
		if used >= target {
			return i + 1
		}
	}
	return len(entries)
}
