package ivtree

import "fmt"

// Insert adds the interval [low, high] carrying value. Duplicate intervals
// are allowed and stored as separate nodes.
func (t *Tree[V]) Insert(value V, low, high uint64) error {
	if low > high {
		return fmt.Errorf("%w: low %d > high %d", ErrBadParameter, low, high)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	n, err := t.newNode(value, low, high)
	if err != nil {
		return err
	}

	t.link(n)
	t.insertFixup(n)
	t.root.left.Load().color = black
	t.size.Add(1)

	return nil
}

// link descends from the root hand over hand, raising max along the path, and
// hangs n as a leaf of the last node visited.
func (t *Tree[V]) link(n *node[V]) {
	low := n.item.Load().low
	high := n.item.Load().high

	parent := t.root
	goLeft := true
	cur := t.retainChild(t.root, true)

	for cur != t.leaf {
		if cur.max.Load() < high {
			cur.max.Store(high)
		}

		t.release(parent)
		parent = cur
		goLeft = low < cur.item.Load().low
		cur = t.retainChild(cur, goLeft)
	}

	n.parent.Store(parent)
	t.setChild(parent, goLeft, n)
	t.release(parent)
}

// insertFixup restores red-black properties after linking n.
func (t *Tree[V]) insertFixup(n *node[V]) {
	for n.parent.Load().color == red {
		parent := n.parent.Load()
		grandparent := parent.parent.Load()
		n = t.insertFixupCase(n, parent, grandparent, parent == grandparent.left.Load())
	}
}

// insertFixupCase handles one side of the insert fixup.
// When leftCase is true, parent is grandparent.left; otherwise parent is grandparent.right.
func (t *Tree[V]) insertFixupCase(n, parent, grandparent *node[V], leftCase bool) *node[V] {
	uncle := childOf(grandparent, !leftCase)

	if uncle.color == red {
		parent.color = black
		uncle.color = black
		grandparent.color = red

		return grandparent
	}

	// Inner grandchild: rotate it to the outside first.
	if n == childOf(parent, !leftCase) {
		t.rotate(parent, leftCase)
		n, parent = parent, n
	}

	parent.color = black
	grandparent.color = red
	t.rotate(grandparent, !leftCase)

	return n
}
