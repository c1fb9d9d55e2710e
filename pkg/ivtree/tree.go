// Package ivtree provides a concurrent augmented interval tree keyed by
// inclusive uint64 ranges [low, high].
//
// The tree is a red-black tree ordered by low, where every node also records
// the largest high endpoint in its subtree. Insert and Delete run in O(log N),
// exact lookups descend a single path, and overlap queries prune subtrees
// whose recorded maximum falls short of the query.
//
// Writers are serialized by a tree-wide mutex and edit child pointers under
// the owning node's lock. Readers take no lock: they hold a reference on each
// node they inspect and publish the epoch they entered at, so an unlinked node
// returns to the node pool once every reader that entered before it was
// retired has finished.
package ivtree

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/Sumatoshi-tech/ivtree/pkg/freelist"
)

// Sentinel errors returned by tree operations.
var (
	// ErrBadParameter is returned for malformed arguments such as low > high.
	ErrBadParameter = errors.New("bad parameter")
	// ErrOutOfResource is returned when the node pool cannot supply a node.
	ErrOutOfResource = errors.New("out of resource")
	// ErrNotFound is returned when no interval matches a lookup.
	ErrNotFound = errors.New("interval not found")
	// ErrInvariant is returned by Validate when the structure is inconsistent.
	ErrInvariant = errors.New("tree invariant violated")
)

// Entry is an interval with its payload, as returned by range queries.
type Entry[V any] struct {
	Low   uint64
	High  uint64
	Value V
}

// Stats describes the tree and its node pool.
type Stats struct {
	Size           int            `json:"size"            yaml:"size"`
	RetiredPending int            `json:"retired_pending" yaml:"retired_pending"`
	Pool           freelist.Stats `json:"pool"            yaml:"pool"`
}

// Option configures a Tree.
type Option func(*options)

type options struct {
	perAlloc int
	maxNodes int
	logger   *slog.Logger
}

// WithNodesPerAlloc sets how many nodes the pool creates each time it grows.
func WithNodesPerAlloc(n int) Option {
	return func(o *options) { o.perAlloc = n }
}

// WithMaxNodes caps the number of nodes the pool may create. Zero means unlimited.
func WithMaxNodes(n int) Option {
	return func(o *options) { o.maxNodes = n }
}

// WithLogger sets the logger used by the tree and its pool.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Tree is an augmented red-black interval tree holding payloads of type V.
type Tree[V any] struct {
	mu     sync.Mutex
	root   *node[V]
	leaf   *node[V]
	pool   *freelist.FreeList[node[V]]
	logger *slog.Logger

	size atomic.Int64

	epoch    atomic.Uint64
	slotHint atomic.Uint32
	slots    [readerSlots]readerSlot

	retiredMu sync.Mutex
	retired   []*node[V]
	pending   atomic.Int64
}

// New creates an empty tree. Negative pool options are treated as defaults.
func New[V any](opts ...Option) *Tree[V] {
	cfg := options{perAlloc: freelist.DefaultPerAlloc}

	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	pool, err := freelist.New[node[V]](nil,
		freelist.WithPerAlloc(max(cfg.perAlloc, 0)),
		freelist.WithMaxItems(max(cfg.maxNodes, 0)),
		freelist.WithLogger(cfg.logger),
	)
	if err != nil {
		// Unreachable: options are clamped above.
		panic(err)
	}

	t := &Tree[V]{pool: pool, logger: cfg.logger}
	t.initSentinels()

	return t
}

// initSentinels builds the NIL leaf and the ROOT anchor.
func (t *Tree[V]) initSentinels() {
	t.leaf = &node[V]{color: black}
	t.leaf.item.Store(&item[V]{})
	t.leaf.left.Store(t.leaf)
	t.leaf.right.Store(t.leaf)
	t.leaf.parent.Store(t.leaf)
	t.leaf.refs.Store(1)

	t.root = &node[V]{color: black}
	t.root.item.Store(&item[V]{low: math.MaxUint64})
	t.root.left.Store(t.leaf)
	t.root.right.Store(t.leaf)
	t.root.parent.Store(t.leaf)
	t.root.refs.Store(1)
}

// Size returns the number of intervals in the tree.
func (t *Tree[V]) Size() int {
	return int(t.size.Load())
}

// MaxDepth returns the red-black height bound 2*log2(n+1) for the current size.
func (t *Tree[V]) MaxDepth() int {
	return DepthBound(t.Size())
}

// DepthBound returns the largest height a red-black tree of n nodes may have.
func DepthBound(n int) int {
	return int(2 * math.Log2(float64(n+1)))
}

// Stats returns size and pool counters.
func (t *Tree[V]) Stats() Stats {
	return Stats{
		Size:           t.Size(),
		RetiredPending: int(t.pending.Load()),
		Pool:           t.pool.Stats(),
	}
}

// Destroy unlinks every interval and releases all nodes. The tree stays
// usable and is empty afterwards.
func (t *Tree[V]) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()

	top := t.root.left.Load()
	t.setChild(t.root, true, t.leaf)

	released := t.releaseSubtree(top)
	t.size.Store(0)
	t.drain()

	t.logger.Debug("interval tree destroyed", "released", released)
}

// releaseSubtree drops the link reference of every node below n, children first.
func (t *Tree[V]) releaseSubtree(n *node[V]) int {
	if n == t.leaf {
		return 0
	}

	left := n.left.Load()
	right := n.right.Load()

	count := t.releaseSubtree(left) + t.releaseSubtree(right) + 1
	t.release(n)

	return count
}

// newNode takes a node from the pool and initializes it as a red leaf.
func (t *Tree[V]) newNode(value V, low, high uint64) (*node[V], error) {
	n, err := t.pool.Get()
	if errors.Is(err, freelist.ErrExhausted) && t.awaitReclaim() {
		n, err = t.pool.Get()
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOutOfResource, err)
	}

	n.item.Store(&item[V]{low: low, high: high, value: value})
	n.max.Store(high)
	n.left.Store(t.leaf)
	n.right.Store(t.leaf)
	n.parent.Store(t.leaf)
	n.color = red
	n.lock.Store(0)
	n.retired.Store(false)
	n.refs.Store(1)

	return n, nil
}
