package btreefile

import (
	"context"
	"fmt"

	"github.com/doquedb/btree2/src/codec"
	"github.com/doquedb/btree2/src/hostiface"
	"github.com/doquedb/btree2/src/pagecache"
)

// Cursor implements SPEC_FULL.md §4.4.E: a leaf-chain walk bounded by a
// decoded lower/upper predicate, plus the IS NULL / ALL NULL
// short-circuit that never touches the tree at all.
type Cursor struct {
	b *BtreeFile

	lowerKey       []byte
	upperKey       []byte
	lowerInclusive bool
	upperInclusive bool

	h   *pagecache.Handle
	pos int

	started bool
	done    bool

	nullQuery    bool
	allNullQuery bool
	nullEmitted  bool

	// otherPredicate is a hook for match conditions this package does
	// not itself evaluate (e.g. LIKE, multi-column range refinement);
	// SPEC_FULL.md §9 Open Question 3 leaves hasAllTuples-style
	// specialization out, so this defaults to "always matches".
	otherPredicate func(key []codec.Value) bool
}

// NewCursor implements preSearch: it resolves an open lower bound to the
// leftmost leaf directly from HeaderPage rather than descending, and
// otherwise descends to the first entry satisfying lower.
func (b *BtreeFile) NewCursor(ctx context.Context, lower, upper []codec.Value, lowerInclusive, upperInclusive bool) (*Cursor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := &Cursor{b: b, lowerInclusive: lowerInclusive, upperInclusive: upperInclusive}

	if upper != nil {
		buf, err := encodeKey(b.cmp, upper)
		if err != nil {
			return nil, err
		}
		c.upperKey = buf
	}

	if b.header.IsEmpty() {
		c.done = true
		return c, nil
	}

	if lower == nil {
		h, err := b.cache.Attach(ctx, b.header.LeftLeafID(), nil)
		if err != nil {
			return nil, fmt.Errorf("btreefile: attach leftmost leaf: %w", err)
		}
		c.h = h
		c.pos = 0
		c.started = true
		return c, nil
	}

	buf, err := encodeKey(b.cmp, lower)
	if err != nil {
		return nil, err
	}
	c.lowerKey = buf

	path, err := b.descend(ctx, buf, descentForRead)
	if err != nil {
		return nil, fmt.Errorf("btreefile: cursor descend: %w", err)
	}
	leaf := path.leaf()
	for _, n := range path.nodes[:len(path.nodes)-1] {
		if err := b.cache.Detach(n.h, false); err != nil {
			return nil, err
		}
	}

	i, err := leaf.view.LowerBound(buf)
	if err != nil {
		b.cache.Detach(leaf.h, false)
		return nil, err
	}
	if !lowerInclusive && i < leaf.view.EntryCount() {
		if eq, err := b.cmp.CompareEntries(leaf.view.KeyAt(i), buf); err == nil && eq == 0 {
			i++
		}
	}
	c.h = leaf.h
	c.pos = i
	c.started = true
	return c, nil
}

// NewNullCursor bypasses the tree entirely and emits HeaderPage's NULL
// or ALL-NULL bucket pointer once, per SPEC_FULL.md §4.4.E step "If IS
// NULL predicate is pending, emit nullId once."
func (b *BtreeFile) NewNullCursor(allNull bool) *Cursor {
	return &Cursor{b: b, nullQuery: !allNull, allNullQuery: allNull}
}

// Next implements SPEC_FULL.md §4.4.E next(outValue[, outKey]). It
// re-acquires the file's coarse latch (SPEC_FULL.md §5) for the
// duration of one step, rather than holding it for the cursor's whole
// lifetime, so a long-lived cursor does not starve other operations.
func (c *Cursor) Next(ctx context.Context) ([]codec.Value, hostiface.PageID, uint16, bool, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	if c.nullQuery || c.allNullQuery {
		if c.nullEmitted {
			return nil, hostiface.Undefined, 0, false, nil
		}
		c.nullEmitted = true
		var obj codec.ObjectIDValue
		if c.allNullQuery {
			obj = c.b.header.AllNullID()
		} else {
			obj = c.b.header.NullID()
		}
		if obj.PageID == 0 && obj.AreaID == 0 {
			return nil, hostiface.Undefined, 0, false, nil
		}
		return nil, hostiface.PageID(obj.PageID), obj.AreaID, true, nil
	}

	if c.done {
		return nil, hostiface.Undefined, 0, false, nil
	}

	for {
		view := c.h.Page()
		if c.pos >= view.EntryCount() {
			next := view.Next()
			if err := c.b.cache.Detach(c.h, false); err != nil {
				return nil, 0, 0, false, err
			}
			if next == hostiface.Undefined {
				c.h = nil
				c.done = true
				return nil, hostiface.Undefined, 0, false, nil
			}
			h, err := c.b.cache.Attach(ctx, next, nil)
			if err != nil {
				return nil, 0, 0, false, err
			}
			c.h = h
			c.pos = 0
			continue
		}

		keyBuf := view.KeyAt(c.pos)
		if c.upperKey != nil {
			cmp, err := c.b.cmp.CompareEntries(keyBuf, c.upperKey)
			if err != nil {
				return nil, 0, 0, false, err
			}
			if cmp > 0 || (cmp == 0 && !c.upperInclusive) {
				c.done = true
				c.b.cache.Detach(c.h, false)
				c.h = nil
				return nil, hostiface.Undefined, 0, false, nil
			}
		}

		keyVals, _, err := decodeKey(c.b.cmp, keyBuf)
		if err != nil {
			return nil, 0, 0, false, err
		}
		if c.otherPredicate != nil && !c.otherPredicate(keyVals) {
			c.pos++
			continue
		}

		valBuf := view.ValueAt(c.pos)
		c.pos++

		if c.b.fid.Compressed {
			obj := decodeObjectValue(valBuf)
			return keyVals, hostiface.PageID(obj.PageID), obj.AreaID, true, nil
		}
		return keyVals, hostiface.PageID(decodeRowValue(valBuf)), 0, true, nil
	}
}

// Close releases the cursor's pinned leaf, if any.
func (c *Cursor) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.h == nil {
		return nil
	}
	err := c.b.cache.Detach(c.h, false)
	c.h = nil
	return err
}
