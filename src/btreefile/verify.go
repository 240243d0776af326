package btreefile

import (
	"context"
	"fmt"

	"github.com/doquedb/btree2/src/engineerr"
	"github.com/doquedb/btree2/src/hostiface"
	"github.com/doquedb/btree2/src/page"
)

// Verify implements SPEC_FULL.md §4.4.F: a recursive descent checking
// root sibling-pointer shape, leftmost/rightmost leaf shape, per-page
// key ordering, and parent/child separator agreement. cancel is polled
// between child recursions; if it returns true, Verify returns
// engineerr.ErrCancel wrapped with whatever findings were collected so
// far still attached to progress.
//
// Every discrepancy found is appended to progress before Verify decides
// whether to raise (SPEC_FULL.md §7: "VerifyAborted is suppressed-or-
// raised according to the host's 'continue vs. stop' flag; either way
// each finding is appended to a progress object before the decision").
// progress.Continue carries that flag: false means a non-empty Findings
// list aborts the call with engineerr.ErrVerifyAborted; true means the
// findings are returned via progress alone and Verify reports success.
func (b *BtreeFile) Verify(ctx context.Context, progress *hostiface.VerifyProgress, cancel func() bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.header.IsEmpty() {
		return nil
	}

	root := b.header.RootID()
	rootH, err := b.cache.VerifyAttach(ctx, root, progress)
	if err != nil {
		return fmt.Errorf("btreefile: verify attach root: %w", err)
	}
	defer b.cache.Detach(rootH, false)

	if !rootH.Page().IsRoot() {
		progress.Append(fmt.Sprintf("page %d is the declared root but has a defined sibling pointer", root))
	}

	if err := b.verifyLeafShape(ctx, progress); err != nil {
		return err
	}

	if err := b.verifyPage(ctx, rootH.Page(), progress, cancel); err != nil {
		return err
	}

	if !progress.Continue && len(progress.Findings) > 0 {
		return fmt.Errorf("btreefile: verify found %d discrepancies: %w", len(progress.Findings), engineerr.ErrVerifyAborted)
	}
	return nil
}

// verifyLeafShape checks SPEC_FULL.md §4.4.F's second bullet: the
// leftmost and rightmost leaves recorded on HeaderPage must actually be
// leaves, with prev/next undefined on their open end.
func (b *BtreeFile) verifyLeafShape(ctx context.Context, progress *hostiface.VerifyProgress) error {
	left, err := b.cache.VerifyAttach(ctx, b.header.LeftLeafID(), progress)
	if err != nil {
		return fmt.Errorf("btreefile: verify attach left leaf: %w", err)
	}
	if !left.Page().IsLeaf() || left.Page().Prev() != hostiface.Undefined {
		progress.Append("leftLeafId page is not a leaf with prev=Undefined")
	}
	if err := b.cache.Detach(left, false); err != nil {
		return err
	}

	right, err := b.cache.VerifyAttach(ctx, b.header.RightLeafID(), progress)
	if err != nil {
		return fmt.Errorf("btreefile: verify attach right leaf: %w", err)
	}
	if !right.Page().IsLeaf() || right.Page().Next() != hostiface.Undefined {
		progress.Append("rightLeafId page is not a leaf with next=Undefined")
	}
	return b.cache.Detach(right, false)
}

// verifyPage checks ordering on view, then recurses into every child if
// view is an internal node, confirming each child's first entry equals
// the separator stored for it (SPEC_FULL.md §4.4.F: "discord delegate
// key").
func (b *BtreeFile) verifyPage(ctx context.Context, view *page.Page, progress *hostiface.VerifyProgress, cancel func() bool) error {
	for i := 1; i < view.EntryCount(); i++ {
		r, err := b.cmp.CompareEntries(view.KeyAt(i-1), view.KeyAt(i))
		if err != nil {
			return err
		}
		if r >= 0 {
			progress.Append(fmt.Sprintf("page %d entries not strictly increasing at slot %d", view.ID, i))
		}
	}

	if view.IsLeaf() {
		return nil
	}

	for i := 0; i < view.EntryCount(); i++ {
		if cancel != nil && cancel() {
			return fmt.Errorf("btreefile: verify cancelled: %w", engineerr.ErrCancel)
		}
		childID := view.ChildAt(i)
		ch, err := b.cache.VerifyAttach(ctx, childID, progress)
		if err != nil {
			return fmt.Errorf("btreefile: verify attach child %d: %w", childID, err)
		}
		if ch.Page().EntryCount() > 0 {
			if r, err := b.cmp.CompareEntries(ch.Page().KeyAt(0), view.KeyAt(i)); err == nil && r != 0 {
				progress.Append(fmt.Sprintf("page %d entry %d: discord delegate key with child %d", view.ID, i, childID))
			}
		}
		err = b.verifyPage(ctx, ch.Page(), progress, cancel)
		if detErr := b.cache.Detach(ch, false); err == nil {
			err = detErr
		}
		if err != nil {
			return err
		}
	}
	return nil
}
