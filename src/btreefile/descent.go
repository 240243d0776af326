package btreefile

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/doquedb/btree2/src/hostiface"
	"github.com/doquedb/btree2/src/page"
	"github.com/doquedb/btree2/src/pagecache"
)

// descentMode names the caller's kind of descent. descend does not
// branch on it: childIndex always steps back from UpperBound, and the
// whole path stays pinned in both modes.
type descentMode int

const (
	descentForRead   descentMode = iota // plain point lookup
	descentForInsert                    // mutating operation: the whole path stays pinned for structural maintenance
)

// pathNode is one level of a descent: the pinned handle, its typed
// view, and the index within it that was followed to reach the next
// level (unused at the leaf).
type pathNode struct {
	h    *pagecache.Handle
	view *page.Page
	idx  int
}

// searchPath is the chain of pinned pages from root to leaf produced by
// descend. Every BtreeFile operation that may mutate the tree keeps the
// whole chain pinned, rather than re-descending for structural
// maintenance: the file-wide coarse latch (SPEC_FULL.md §5) makes this
// safe, since no other writer can observe an intermediate state.
type searchPath struct {
	nodes []pathNode
}

func (p *searchPath) leaf() pathNode { return p.nodes[len(p.nodes)-1] }

func (p *searchPath) parent() (pathNode, bool) {
	if len(p.nodes) < 2 {
		return pathNode{}, false
	}
	return p.nodes[len(p.nodes)-2], true
}

// releasePath detaches every pinned page in the path, marking dirty if
// the caller performed (or may have performed) a mutation. Every node
// is detached regardless of an earlier failure, and any errors are
// combined rather than only the first being surfaced.
func (b *BtreeFile) releasePath(path *searchPath, dirty bool) error {
	var errs error
	for _, n := range path.nodes {
		if n.h == nil {
			// Already detached or freed by a structural operation
			// (split's new root install, reduce's merge/redistribute).
			continue
		}
		if err := b.cache.Detach(n.h, dirty); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// descend implements SPEC_FULL.md §4.4.A: starting from HeaderPage's
// root, repeatedly pick a child via lowerBound/upperBound stepped back
// one slot, until a leaf is reached.
func (b *BtreeFile) descend(ctx context.Context, keyBuf []byte, mode descentMode) (*searchPath, error) {
	rootID := b.header.RootID()
	if rootID == hostiface.Undefined {
		return nil, fmt.Errorf("btreefile: descend on empty tree: %w", errNoLeaf)
	}

	h, err := b.cache.Attach(ctx, rootID, nil)
	if err != nil {
		return nil, fmt.Errorf("btreefile: attach root: %w", err)
	}
	path := &searchPath{nodes: []pathNode{{h: h, view: h.Page()}}}

	for {
		cur := path.nodes[len(path.nodes)-1]
		if cur.view.IsLeaf() {
			return path, nil
		}
		i, err := b.childIndex(cur.view, keyBuf)
		if err != nil {
			b.releasePath(path, false)
			return nil, err
		}
		path.nodes[len(path.nodes)-1].idx = i
		childID := cur.view.ChildAt(i)
		ch, err := b.cache.Attach(ctx, childID, nil)
		if err != nil {
			b.releasePath(path, false)
			return nil, fmt.Errorf("btreefile: attach child %d: %w", childID, err)
		}
		path.nodes = append(path.nodes, pathNode{h: ch, view: ch.Page()})
	}
}

// childIndex picks the entry whose child subtree must contain keyBuf:
// upperBound stepped back one slot, clamped at begin() (SPEC_FULL.md
// §4.4.A step 3, unified across the unique/non-unique cases since this
// package keeps the whole path pinned rather than branching on the
// caller's probe kind).
func (b *BtreeFile) childIndex(n *page.Page, keyBuf []byte) (int, error) {
	i, err := n.UpperBound(keyBuf)
	if err != nil {
		return 0, err
	}
	if i > 0 {
		i--
	}
	return i, nil
}

// errNoLeaf is the sentinel descend returns for an empty tree. Callers
// such as Get check HeaderPage.IsEmpty before descending, so on those
// paths it is not reached.
var errNoLeaf = fmt.Errorf("btreefile: no leaf")
