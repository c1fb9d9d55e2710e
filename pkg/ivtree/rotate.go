package ivtree

// rotate performs a rotation at node n. When left is true, n's right child
// becomes its parent; otherwise its left child does. Child links are written
// under the owning node's lock, then max is recomputed for n and the pivot.
func (t *Tree[V]) rotate(n *node[V], left bool) {
	pivot := childOf(n, !left)
	inner := childOf(pivot, left)

	t.setChild(n, !left, inner)

	if inner != t.leaf {
		inner.parent.Store(n)
	}

	parent := n.parent.Load()
	pivot.parent.Store(parent)
	t.setChild(parent, parent.left.Load() == n, pivot)

	t.setChild(pivot, left, n)
	n.parent.Store(pivot)

	t.recalcMax(n)
	t.recalcMax(pivot)
}
