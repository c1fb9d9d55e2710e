package ivtree

import "fmt"

// Action is called by Traverse for every matching interval.
type Action[V any] func(low, high uint64, value V)

// FindOverlapping returns the payload of a node whose interval is exactly
// [low, high]. The walk descends a single path by low and branches only on
// equal lows.
func (t *Tree[V]) FindOverlapping(low, high uint64) (V, error) {
	defer t.exitRead(t.enterRead())

	if it := t.lookup(t.retainChild(t.root, true), low, high); it != nil {
		return it.value, nil
	}

	var zero V

	return zero, fmt.Errorf("%w: [%d, %d]", ErrNotFound, low, high)
}

// lookup searches below n for an exact match. It consumes the caller's
// reference on n.
func (t *Tree[V]) lookup(n *node[V], low, high uint64) *item[V] {
	for n != t.leaf {
		it := n.item.Load()

		var next *node[V]

		switch {
		case low < it.low:
			next = t.retainChild(n, true)
		case low > it.low:
			next = t.retainChild(n, false)
		case high == it.high:
			t.release(n)

			return it
		default:
			if found := t.lookup(t.retainChild(n, true), low, high); found != nil {
				t.release(n)

				return found
			}

			next = t.retainChild(n, false)
		}

		t.release(n)
		n = next
	}

	return nil
}

// FindContaining returns the lowest-starting interval that contains
// [low, high] entirely.
func (t *Tree[V]) FindContaining(low, high uint64) (Entry[V], error) {
	if low > high {
		return Entry[V]{}, fmt.Errorf("%w: low %d > high %d", ErrBadParameter, low, high)
	}

	defer t.exitRead(t.enterRead())

	if it := t.containing(t.retainChild(t.root, true), low, high); it != nil {
		return Entry[V]{Low: it.low, High: it.high, Value: it.value}, nil
	}

	return Entry[V]{}, fmt.Errorf("%w: no interval contains [%d, %d]", ErrNotFound, low, high)
}

// containing searches below n in order, skipping subtrees whose max is below
// high. It consumes the caller's reference on n.
func (t *Tree[V]) containing(n *node[V], low, high uint64) *item[V] {
	if n == t.leaf {
		return nil
	}

	defer t.release(n)

	if n.max.Load() < high {
		return nil
	}

	if found := t.containing(t.retainChild(n, true), low, high); found != nil {
		return found
	}

	it := n.item.Load()
	if it.low > low {
		return nil
	}

	if it.high >= high {
		return it
	}

	return t.containing(t.retainChild(n, false), low, high)
}

// QueryOverlap returns every interval sharing at least one point with
// [low, high], in ascending order of low.
func (t *Tree[V]) QueryOverlap(low, high uint64) ([]Entry[V], error) {
	if low > high {
		return nil, fmt.Errorf("%w: low %d > high %d", ErrBadParameter, low, high)
	}

	defer t.exitRead(t.enterRead())

	var results []Entry[V]

	t.collectOverlap(t.retainChild(t.root, true), low, high, &results)

	return results, nil
}

// QueryPoint returns every interval containing point.
func (t *Tree[V]) QueryPoint(point uint64) []Entry[V] {
	results, _ := t.QueryOverlap(point, point)

	return results
}

// collectOverlap appends intervals below n overlapping [low, high]. It
// consumes the caller's reference on n.
func (t *Tree[V]) collectOverlap(n *node[V], low, high uint64, results *[]Entry[V]) {
	if n == t.leaf {
		return
	}

	defer t.release(n)

	// Nothing below ends at or after low.
	if n.max.Load() < low {
		return
	}

	t.collectOverlap(t.retainChild(n, true), low, high, results)

	it := n.item.Load()
	if it.low <= high && it.high >= low {
		*results = append(*results, Entry[V]{Low: it.low, High: it.high, Value: it.value})
	}

	// Everything to the right starts after high.
	if it.low > high {
		return
	}

	t.collectOverlap(t.retainChild(n, false), low, high, results)
}

// Traverse walks the whole tree in order and calls action for each interval
// matching [low, high]. With complete set, an interval matches when it lies
// entirely inside the query. Otherwise it matches when the query starts inside
// it, ends inside it, or contains it.
func (t *Tree[V]) Traverse(low, high uint64, complete bool, action Action[V]) error {
	if action == nil {
		return fmt.Errorf("%w: nil traverse action", ErrBadParameter)
	}

	defer t.exitRead(t.enterRead())

	t.walk(t.retainChild(t.root, true), func(it *item[V]) {
		if matches(it, low, high, complete) {
			action(it.low, it.high, it.value)
		}
	})

	return nil
}

// matches applies the traversal predicate.
func matches[V any](it *item[V], low, high uint64, complete bool) bool {
	contained := low <= it.low && it.high <= high
	if complete {
		return contained
	}

	startInside := it.low <= low && low <= it.high
	endInside := it.low <= high && high <= it.high

	return startInside || endInside || contained
}

// walk visits every item below n in order. It consumes the caller's reference on n.
func (t *Tree[V]) walk(n *node[V], visit func(*item[V])) {
	if n == t.leaf {
		return
	}

	t.walk(t.retainChild(n, true), visit)
	visit(n.item.Load())
	t.walk(t.retainChild(n, false), visit)
	t.release(n)
}

// Depth returns the number of levels in the tree; an empty tree has depth 0.
func (t *Tree[V]) Depth() int {
	defer t.exitRead(t.enterRead())

	return t.height(t.retainChild(t.root, true))
}

// height measures the subtree below n. It consumes the caller's reference on n.
func (t *Tree[V]) height(n *node[V]) int {
	if n == t.leaf {
		return 0
	}

	left := t.height(t.retainChild(n, true))
	right := t.height(t.retainChild(n, false))
	t.release(n)

	return max(left, right) + 1
}
