package ivtree

import (
	"fmt"
	"math"
)

// Validate checks ordering, coloring, black height, the max augmentation,
// parent links, reference counts and the size counter. It returns an error
// wrapping ErrInvariant describing the first violation found.
func (t *Tree[V]) Validate() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.leaf.color != black || t.root.color != black {
		return fmt.Errorf("%w: sentinel is red", ErrInvariant)
	}

	if t.leaf.max.Load() != 0 {
		return fmt.Errorf("%w: leaf sentinel max is %d", ErrInvariant, t.leaf.max.Load())
	}

	top := t.root.left.Load()
	if top.color != black {
		return fmt.Errorf("%w: root is red", ErrInvariant)
	}

	if top != t.leaf && top.parent.Load() != t.root {
		return fmt.Errorf("%w: root parent is not the anchor", ErrInvariant)
	}

	check := validation[V]{tree: t}

	if _, err := check.subtree(top, 0, math.MaxUint64); err != nil {
		return err
	}

	if size := t.Size(); check.count != size {
		return fmt.Errorf("%w: counted %d nodes, size is %d", ErrInvariant, check.count, size)
	}

	return nil
}

type validation[V any] struct {
	tree  *Tree[V]
	count int
}

// subtree validates n with every low in [lo, hi] and returns its black height.
func (v *validation[V]) subtree(n *node[V], lo, hi uint64) (int, error) {
	t := v.tree
	if n == t.leaf {
		return 1, nil
	}

	v.count++
	it := n.item.Load()

	if it.low > it.high {
		return 0, fmt.Errorf("%w: node [%d, %d] is inverted", ErrInvariant, it.low, it.high)
	}

	if it.low < lo || it.low > hi {
		return 0, fmt.Errorf("%w: node [%d, %d] outside order bounds [%d, %d]",
			ErrInvariant, it.low, it.high, lo, hi)
	}

	if n.refs.Load() < 1 {
		return 0, fmt.Errorf("%w: linked node [%d, %d] has %d refs", ErrInvariant, it.low, it.high, n.refs.Load())
	}

	left, right := n.left.Load(), n.right.Load()

	for _, child := range []*node[V]{left, right} {
		if child == t.leaf {
			continue
		}

		if child.parent.Load() != n {
			return 0, fmt.Errorf("%w: broken parent link below [%d, %d]", ErrInvariant, it.low, it.high)
		}

		if n.color == red && child.color == red {
			return 0, fmt.Errorf("%w: red node [%d, %d] has a red child", ErrInvariant, it.low, it.high)
		}
	}

	want := max(it.high, left.max.Load(), right.max.Load())
	if got := n.max.Load(); got != want {
		return 0, fmt.Errorf("%w: node [%d, %d] max is %d, want %d", ErrInvariant, it.low, it.high, got, want)
	}

	leftHeight, err := v.subtree(left, lo, it.low)
	if err != nil {
		return 0, err
	}

	rightHeight, err := v.subtree(right, it.low, hi)
	if err != nil {
		return 0, err
	}

	if leftHeight != rightHeight {
		return 0, fmt.Errorf("%w: black height %d != %d below [%d, %d]",
			ErrInvariant, leftHeight, rightHeight, it.low, it.high)
	}

	if n.color == black {
		leftHeight++
	}

	return leftHeight, nil
}
