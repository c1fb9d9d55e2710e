package ivtree

import "fmt"

// Delete removes one node whose interval is exactly [low, high].
func (t *Tree[V]) Delete(low, high uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	match := t.findExact(t.root.left.Load(), low, high)
	if match == nil {
		return fmt.Errorf("%w: [%d, %d]", ErrNotFound, low, high)
	}

	t.unlink(match)
	t.size.Add(-1)

	return nil
}

// findExact returns a node holding exactly [low, high] below n, or nil.
// Equal lows may sit on either side after rotations, so ties search both.
// Caller holds mu, so no references are taken.
func (t *Tree[V]) findExact(n *node[V], low, high uint64) *node[V] {
	for n != t.leaf {
		it := n.item.Load()

		switch {
		case low < it.low:
			n = n.left.Load()
		case low > it.low:
			n = n.right.Load()
		case high == it.high:
			return n
		default:
			if found := t.findExact(n.left.Load(), low, high); found != nil {
				return found
			}

			n = n.right.Load()
		}
	}

	return nil
}

// unlink removes match from the tree. When match has two children its
// in-order successor is spliced out instead and its item moves into match.
func (t *Tree[V]) unlink(match *node[V]) {
	spliced := match
	if match.left.Load() != t.leaf && match.right.Load() != t.leaf {
		spliced = t.minimum(match.right.Load())
	}

	child := spliced.left.Load()
	if child == t.leaf {
		child = spliced.right.Load()
	}

	parent := spliced.parent.Load()
	child.parent.Store(parent)
	t.setChild(parent, parent.left.Load() == spliced, child)

	if spliced != match {
		match.item.Store(spliced.item.Load())
	}

	t.propagateMax(parent)

	if spliced.color == black {
		t.deleteFixup(child)
	}

	t.leaf.parent.Store(t.leaf)
	t.release(spliced)
}

// minimum returns the leftmost node below n.
func (t *Tree[V]) minimum(n *node[V]) *node[V] {
	for {
		left := n.left.Load()
		if left == t.leaf {
			return n
		}

		n = left
	}
}

// deleteFixup restores red-black properties after a black node was removed
// above x.
func (t *Tree[V]) deleteFixup(x *node[V]) {
	for x != t.root.left.Load() && x.color == black {
		parent := x.parent.Load()
		x = t.deleteFixupCase(x, parent, parent.left.Load() == x)
	}

	if x != t.leaf {
		x.color = black
	}
}

// deleteFixupCase handles one iteration of the delete fixup. When isLeft is
// true, x is parent.left. It returns the node the loop continues from.
func (t *Tree[V]) deleteFixupCase(x, parent *node[V], isLeft bool) *node[V] {
	sibling := childOf(parent, !isLeft)

	if sibling.color == red {
		sibling.color = black
		parent.color = red
		t.rotate(parent, isLeft)

		sibling = childOf(parent, !isLeft)
	}

	outer := childOf(sibling, !isLeft)
	inner := childOf(sibling, isLeft)

	if inner.color == black && outer.color == black {
		sibling.color = red

		return parent
	}

	if outer.color == black {
		inner.color = black
		sibling.color = red
		t.rotate(sibling, !isLeft)

		sibling = childOf(parent, !isLeft)
		outer = childOf(sibling, !isLeft)
	}

	sibling.color = parent.color
	parent.color = black
	outer.color = black
	t.rotate(parent, isLeft)

	return t.root.left.Load()
}
