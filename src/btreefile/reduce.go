package btreefile

import (
	"context"
	"fmt"

	"github.com/doquedb/btree2/src/hostiface"
	"github.com/doquedb/btree2/src/page"
	"github.com/doquedb/btree2/src/pagecache"
)

// pageHeaderReserve mirrors page's internal header size without
// exporting it; only the half-full threshold below needs it.
const pageHeaderReserve = 12

// reduceIfNeeded implements SPEC_FULL.md §4.4.D: after Expunge removes
// an entry, check every level on the path from leaf to root for
// underflow (used-size below half the page), concatenating with or
// redistributing from a sibling, then apply the root-specific shrink
// policies.
func (b *BtreeFile) reduceIfNeeded(ctx context.Context, path *searchPath) error {
	for level := len(path.nodes) - 1; level > 0; level-- {
		n := path.nodes[level]
		if n.view.UsedSize()*2 >= b.pageSizeBytes()-pageHeaderReserve {
			break // no underflow at this level; nothing above can be affected
		}
		changed, err := b.reduceAtLevel(ctx, path, level)
		if err != nil {
			return err
		}
		if !changed {
			break
		}
		// reduceAtLevel always detaches or frees path.nodes[level]'s
		// handle as part of the merge/redistribute it performs; mark it
		// consumed so releasePath does not touch it a second time.
		path.nodes[level].h = nil
	}
	return b.shrinkRootIfNeeded(ctx, path)
}

// reduceAtLevel merges or redistributes the page at level with a
// sibling, preferring the previous sibling (SPEC_FULL.md §4.4.D step 1).
func (b *BtreeFile) reduceAtLevel(ctx context.Context, path *searchPath, level int) (bool, error) {
	n := path.nodes[level]
	parent := path.nodes[level-1]

	if n.view.Prev() != hostiface.Undefined {
		prevH, err := b.cache.Attach(ctx, n.view.Prev(), nil)
		if err != nil {
			return false, fmt.Errorf("btreefile: attach prev sibling: %w", err)
		}
		return true, b.mergeOrRedistribute(ctx, path, level, prevH, n.h, parent, parent.idx-1, parent.idx)
	}
	if n.view.Next() != hostiface.Undefined {
		nextH, err := b.cache.Attach(ctx, n.view.Next(), nil)
		if err != nil {
			return false, fmt.Errorf("btreefile: attach next sibling: %w", err)
		}
		return true, b.mergeOrRedistribute(ctx, path, level, n.h, nextH, parent, parent.idx, parent.idx+1)
	}
	// Only child at this level with neither sibling: nothing to merge
	// into; the root-shrink pass handles a lone child under the root.
	return false, nil
}

// mergeOrRedistribute merges leftH/rightH (adjacent siblings, at
// leftIdx/rightIdx in parent) when their combined used-size fits one
// page, else redistributes entries between them and rewrites the
// parent separator (SPEC_FULL.md §4.4.D steps 2-3).
func (b *BtreeFile) mergeOrRedistribute(ctx context.Context, path *searchPath, level int, leftH, rightH *pagecache.Handle, parent pathNode, leftIdx, rightIdx int) error {
	left, right := leftH.Page(), rightH.Page()
	combined := left.UsedSize() + right.UsedSize()
	if combined <= b.pageSizeBytes()-pageHeaderReserve {
		return b.concatenate(ctx, leftH, rightH, parent, rightIdx)
	}
	err := b.redistribute(path, level, left, right, parent, rightIdx)
	if detErr := b.cache.Detach(leftH, true); err == nil {
		err = detErr
	}
	if detErr := b.cache.Detach(rightH, true); err == nil {
		err = detErr
	}
	return err
}

// concatenate implements SPEC_FULL.md §4.3 concatenate(prev): move every
// entry of right into left, relink siblings around right, free right,
// and remove the parent's separator entry for right.
func (b *BtreeFile) concatenate(ctx context.Context, leftH, rightH *pagecache.Handle, parent pathNode, rightIdx int) error {
	left, right := leftH.Page(), rightH.Page()
	entries := right.Entries()
	if err := left.AppendAll(entries); err != nil {
		return fmt.Errorf("btreefile: concatenate: %w", err)
	}
	leftH.MarkDirty()

	oldNext := right.Next()
	left.SetNext(oldNext)
	if oldNext != hostiface.Undefined {
		if err := b.relinkPrev(ctx, oldNext, left.ID); err != nil {
			return err
		}
	} else if right.IsLeaf() {
		b.header.SetRightLeafID(left.ID)
	}

	if err := parent.view.EraseAt(rightIdx); err != nil {
		return fmt.Errorf("btreefile: remove separator for freed page: %w", err)
	}
	parent.h.MarkDirty()

	if err := b.cache.Detach(leftH, true); err != nil {
		return err
	}
	b.cache.FreePage(rightH)
	return nil
}

// redistribute implements SPEC_FULL.md §4.3 redistribute(prev): move
// entries between left and right until each side is roughly half full,
// then rewrite the parent's separator for right (right's first key
// necessarily changes whichever direction entries moved).
func (b *BtreeFile) redistribute(path *searchPath, level int, left, right *page.Page, parent pathNode, rightIdx int) error {
	all := append(append([][]byte{}, left.Entries()...), right.Entries()...)
	used := 0
	for _, e := range all {
		used += len(e)
	}
	mid := page.SplitPoint(all, used/2)
	if mid <= 0 {
		mid = 1
	}
	if mid >= len(all) {
		mid = len(all) - 1
	}

	left.Clear()
	if err := left.AppendAll(all[:mid]); err != nil {
		return fmt.Errorf("btreefile: redistribute left: %w", err)
	}
	right.Clear()
	if err := right.AppendAll(all[mid:]); err != nil {
		return fmt.Errorf("btreefile: redistribute right: %w", err)
	}

	newKey := make([]byte, len(right.KeyAt(0)))
	copy(newKey, right.KeyAt(0))
	// rewriteSeparatorAtLevel rewrites the entry at the parent's recorded
	// index, which is left's (not right's) when right is the next
	// sibling; point it at rightIdx for the rewrite.
	followed := path.nodes[level-1].idx
	path.nodes[level-1].idx = rightIdx
	err := b.rewriteSeparatorAtLevel(path, level-1, newKey)
	path.nodes[level-1].idx = followed
	return err
}

// shrinkRootIfNeeded implements SPEC_FULL.md §4.4.D's root-specific
// policies: a node root left with exactly one child is collapsed
// (promote the child, decrement height); a root left with zero entries
// clears HeaderPage's tree pointers while leaving the NULL-bucket
// fields untouched (they count separately from tree height).
func (b *BtreeFile) shrinkRootIfNeeded(ctx context.Context, path *searchPath) error {
	root := path.nodes[0]
	if root.h == nil {
		// Already replaced (a fresh root installed by a split earlier in
		// this same operation) or already freed by an earlier call.
		return nil
	}

	if root.view.IsLeaf() {
		if root.view.EntryCount() == 0 {
			b.header.SetRootID(hostiface.Undefined)
			b.header.SetLeftLeafID(hostiface.Undefined)
			b.header.SetRightLeafID(hostiface.Undefined)
			b.header.SetTreeHeight(0)
			b.header.Touch()
			b.cache.FreePage(root.h)
			path.nodes[0].h = nil
		}
		return nil
	}

	if root.view.EntryCount() == 1 {
		child := root.view.ChildAt(0)
		b.header.SetRootID(child)
		b.header.SetTreeHeight(b.header.TreeHeight() - 1)
		b.header.Touch()
		b.cache.FreePage(root.h)
		path.nodes[0].h = nil
	}
	return nil
}
