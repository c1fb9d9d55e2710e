package ivtree

import (
	"runtime"
	"sync/atomic"
)

// color represents the red-black tree node color.
type color bool

// Red-black tree color constants.
const (
	red   color = false
	black color = true
)

// item is the immutable key and payload of a node. Delete replaces a node's
// item wholesale so readers never observe a torn interval.
type item[V any] struct {
	low   uint64
	high  uint64
	value V
}

// node is a tree node augmented with the largest high endpoint of its subtree.
// Links never hold nil: they point at a real node or at a tree sentinel.
type node[V any] struct {
	item   atomic.Pointer[item[V]]
	max    atomic.Uint64
	left   atomic.Pointer[node[V]]
	right  atomic.Pointer[node[V]]
	parent atomic.Pointer[node[V]]

	// color is only read and written by the writer holding Tree.mu.
	color color

	refs    atomic.Int32
	lock    atomic.Int32
	retired atomic.Bool

	// retiredAt is the epoch stamped by retire, guarded by Tree.retiredMu.
	retiredAt uint64
}

// childOf returns the left child when left is true, the right child otherwise.
func childOf[V any](n *node[V], left bool) *node[V] {
	if left {
		return n.left.Load()
	}

	return n.right.Load()
}

// isLeftChild reports whether n hangs off its parent's left link.
func isLeftChild[V any](n *node[V]) bool {
	return n.parent.Load().left.Load() == n
}

// lockNode spins until it owns n's edge lock.
func lockNode[V any](n *node[V]) {
	for !n.lock.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

// unlockNode releases n's edge lock.
func unlockNode[V any](n *node[V]) {
	n.lock.Store(0)
}

// setChild replaces one child link of parent under parent's edge lock.
func (t *Tree[V]) setChild(parent *node[V], left bool, child *node[V]) {
	lockNode(parent)

	if left {
		parent.left.Store(child)
	} else {
		parent.right.Store(child)
	}

	unlockNode(parent)
}

// recalcMax recomputes n.max from its own high and its children.
func (t *Tree[V]) recalcMax(n *node[V]) {
	if n == t.leaf || n == t.root {
		return
	}

	m := n.item.Load().high
	m = max(m, n.left.Load().max.Load(), n.right.Load().max.Load())
	n.max.Store(m)
}

// propagateMax recomputes max from n up to the real root.
func (t *Tree[V]) propagateMax(n *node[V]) {
	for n != t.root && n != t.leaf {
		t.recalcMax(n)
		n = n.parent.Load()
	}
}

// retain takes a reference on n. Sentinels are permanent and skipped.
func (t *Tree[V]) retain(n *node[V]) *node[V] {
	if n != t.leaf && n != t.root {
		n.refs.Add(1)
	}

	return n
}

// release drops a reference on n and retires it once the count reaches zero.
func (t *Tree[V]) release(n *node[V]) {
	if n == t.leaf || n == t.root {
		return
	}

	if n.refs.Add(-1) == 0 && n.retired.CompareAndSwap(false, true) {
		t.retire(n)
	}
}

// retainChild loads a child link of n and takes a reference on the target.
func (t *Tree[V]) retainChild(n *node[V], left bool) *node[V] {
	return t.retain(childOf(n, left))
}
