package ivtree

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test constants.
const (
	testLow5    = 5
	testLow10   = 10
	testLow25   = 25
	testLow30   = 30
	testLow50   = 50
	testHigh15  = 15
	testHigh20  = 20
	testHigh30  = 30
	testHigh40  = 40
	testHigh100 = 100
	testHigh150 = 150
	testPoint12 = 12
	testPoint17 = 17
	testCount   = 64
)

// collect gathers traversal results as entries.
func collect[V any](t *testing.T, tree *Tree[V], low, high uint64, complete bool) []Entry[V] {
	t.Helper()

	var got []Entry[V]

	err := tree.Traverse(low, high, complete, func(l, h uint64, v V) {
		got = append(got, Entry[V]{Low: l, High: h, Value: v})
	})
	require.NoError(t, err)

	return got
}

// TestNew verifies empty tree creation.
func TestNew(t *testing.T) {
	t.Parallel()

	tree := New[string]()
	require.NotNil(t, tree)
	assert.Equal(t, 0, tree.Size())
	assert.Equal(t, 0, tree.Depth())
	require.NoError(t, tree.Validate())
}

// TestInsertFindDeleteScenario verifies the basic insert, find and delete flow.
func TestInsertFindDeleteScenario(t *testing.T) {
	t.Parallel()

	tree := New[string]()
	require.NoError(t, tree.Insert("A", testLow10, testHigh20))
	require.NoError(t, tree.Insert("B", testLow5, testHigh15))
	require.NoError(t, tree.Insert("C", testLow25, testHigh30))
	require.NoError(t, tree.Validate())

	got, err := tree.FindOverlapping(testLow10, testHigh20)
	require.NoError(t, err)
	assert.Equal(t, "A", got)

	require.NoError(t, tree.Delete(testLow5, testHigh15))

	_, err = tree.FindOverlapping(testLow5, testHigh15)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, tree.Size())
	require.NoError(t, tree.Validate())
}

// TestTraverseComplete verifies that complete traversal visits only contained intervals.
func TestTraverseComplete(t *testing.T) {
	t.Parallel()

	tree := New[string]()
	require.NoError(t, tree.Insert("a", testLow10, testHigh20))
	require.NoError(t, tree.Insert("b", testLow30, testHigh40))
	require.NoError(t, tree.Insert("c", testLow50, testHigh150))

	got := collect(t, tree, 0, testHigh100, true)

	assert.Equal(t, []Entry[string]{
		{Low: testLow10, High: testHigh20, Value: "a"},
		{Low: testLow30, High: testHigh40, Value: "b"},
	}, got)
}

// TestTraversePartial verifies the three overlap conditions of partial traversal.
func TestTraversePartial(t *testing.T) {
	t.Parallel()

	tree := New[string]()
	require.NoError(t, tree.Insert("left", testLow5, testHigh15))
	require.NoError(t, tree.Insert("inner", testPoint12, testHigh15))
	require.NoError(t, tree.Insert("right", testPoint17, testHigh30))
	require.NoError(t, tree.Insert("far", testLow50, testHigh100))

	got := collect(t, tree, testLow10, testHigh20, false)

	values := make([]string, 0, len(got))
	for _, entry := range got {
		values = append(values, entry.Value)
	}

	// "left" contains the query start, "right" the query end, "inner" lies inside.
	assert.Equal(t, []string{"left", "inner", "right"}, values)
}

// TestTraverseNilAction verifies that a nil action is rejected.
func TestTraverseNilAction(t *testing.T) {
	t.Parallel()

	tree := New[int]()
	err := tree.Traverse(0, testHigh100, true, nil)
	require.ErrorIs(t, err, ErrBadParameter)
}

// TestInsertRejectsInvertedInterval verifies that low > high is refused without mutation.
func TestInsertRejectsInvertedInterval(t *testing.T) {
	t.Parallel()

	tree := New[int]()
	err := tree.Insert(1, testHigh20, testLow10)
	require.ErrorIs(t, err, ErrBadParameter)
	assert.Equal(t, 0, tree.Size())
	assert.Equal(t, 0, tree.Stats().Pool.Allocated)
}

// TestDeleteTwice verifies that a second delete of the same interval is NotFound.
func TestDeleteTwice(t *testing.T) {
	t.Parallel()

	tree := New[int]()
	require.NoError(t, tree.Insert(1, testLow10, testHigh20))

	require.NoError(t, tree.Delete(testLow10, testHigh20))
	require.ErrorIs(t, tree.Delete(testLow10, testHigh20), ErrNotFound)
	assert.Equal(t, 0, tree.Size())
}

// TestDuplicates verifies that identical intervals are stored separately.
func TestDuplicates(t *testing.T) {
	t.Parallel()

	tree := New[int]()
	require.NoError(t, tree.Insert(1, testLow10, testHigh20))
	require.NoError(t, tree.Insert(2, testLow10, testHigh20))
	assert.Equal(t, 2, tree.Size())

	got, err := tree.FindOverlapping(testLow10, testHigh20)
	require.NoError(t, err)
	assert.Contains(t, []int{1, 2}, got)

	require.NoError(t, tree.Delete(testLow10, testHigh20))
	assert.Equal(t, 1, tree.Size())

	_, err = tree.FindOverlapping(testLow10, testHigh20)
	require.NoError(t, err)

	require.NoError(t, tree.Delete(testLow10, testHigh20))
	require.ErrorIs(t, tree.Delete(testLow10, testHigh20), ErrNotFound)
	require.NoError(t, tree.Validate())
}

// TestEqualLowsDifferentHighs verifies exact lookup across rotations of equal keys.
func TestEqualLowsDifferentHighs(t *testing.T) {
	t.Parallel()

	tree := New[int]()

	for i := range testCount {
		require.NoError(t, tree.Insert(i, testLow10, testLow10+uint64(i)))
	}

	require.NoError(t, tree.Validate())

	for i := range testCount {
		got, err := tree.FindOverlapping(testLow10, testLow10+uint64(i))
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}

	for i := range testCount {
		require.NoError(t, tree.Delete(testLow10, testLow10+uint64(i)))
		require.NoError(t, tree.Validate())
	}

	assert.Equal(t, 0, tree.Size())
}

// TestFindOverlappingIsExact verifies that a partially overlapping query does not match.
func TestFindOverlappingIsExact(t *testing.T) {
	t.Parallel()

	tree := New[int]()
	require.NoError(t, tree.Insert(1, testLow10, testHigh20))

	_, err := tree.FindOverlapping(testPoint12, testHigh15)
	require.ErrorIs(t, err, ErrNotFound)
}

// TestFindContaining verifies the bracket lookup.
func TestFindContaining(t *testing.T) {
	t.Parallel()

	tree := New[string]()
	require.NoError(t, tree.Insert("wide", testLow5, testHigh40))
	require.NoError(t, tree.Insert("narrow", testLow10, testHigh20))
	require.NoError(t, tree.Insert("far", testLow50, testHigh100))

	got, err := tree.FindContaining(testPoint12, testHigh15)
	require.NoError(t, err)
	assert.Equal(t, Entry[string]{Low: testLow5, High: testHigh40, Value: "wide"}, got)

	got, err = tree.FindContaining(testLow25, testHigh30)
	require.NoError(t, err)
	assert.Equal(t, "wide", got.Value)

	_, err = tree.FindContaining(testLow30, testHigh100)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = tree.FindContaining(testHigh20, testLow10)
	require.ErrorIs(t, err, ErrBadParameter)
}

// TestQueryOverlap verifies multi-interval overlap results in ascending order.
func TestQueryOverlap(t *testing.T) {
	t.Parallel()

	tree := New[string]()
	require.NoError(t, tree.Insert("c", testLow50, testHigh100))
	require.NoError(t, tree.Insert("a", testLow5, testHigh15))
	require.NoError(t, tree.Insert("b", testLow10, testHigh20))

	got, err := tree.QueryOverlap(testPoint12, testHigh30)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Value)
	assert.Equal(t, "b", got[1].Value)

	assert.Len(t, tree.QueryPoint(testPoint17), 1)
	assert.Empty(t, tree.QueryPoint(testHigh40))

	_, err = tree.QueryOverlap(testHigh20, testLow10)
	require.ErrorIs(t, err, ErrBadParameter)
}

// TestDepth verifies depth on small trees.
func TestDepth(t *testing.T) {
	t.Parallel()

	tree := New[int]()
	require.NoError(t, tree.Insert(1, testLow10, testHigh20))
	assert.Equal(t, 1, tree.Depth())

	require.NoError(t, tree.Insert(2, testLow5, testHigh15))
	require.NoError(t, tree.Insert(3, testLow30, testHigh40))
	assert.Equal(t, 2, tree.Depth())
}

// TestSequentialInsertStaysBalanced verifies the height bound on sorted input.
func TestSequentialInsertStaysBalanced(t *testing.T) {
	t.Parallel()

	tree := New[int]()

	for i := range testCount * testCount {
		low := uint64(i)
		require.NoError(t, tree.Insert(i, low, low+1))
	}

	require.NoError(t, tree.Validate())
	assert.LessOrEqual(t, tree.Depth(), tree.MaxDepth())
}

// TestDestroy verifies that Destroy empties the tree and returns every node.
func TestDestroy(t *testing.T) {
	t.Parallel()

	tree := New[int]()

	for i := range testCount {
		require.NoError(t, tree.Insert(i, uint64(i), uint64(i)+testLow10))
	}

	tree.Destroy()

	assert.Equal(t, 0, tree.Size())
	assert.Equal(t, 0, tree.Depth())
	require.NoError(t, tree.Validate())

	stats := tree.Stats()
	assert.Equal(t, 0, stats.Pool.InUse)
	assert.Equal(t, 0, stats.RetiredPending)

	require.NoError(t, tree.Insert(1, testLow10, testHigh20))
	assert.Equal(t, 1, tree.Size())
}

// TestDeleteReturnsNodeToPool verifies that unlinked nodes are recycled.
func TestDeleteReturnsNodeToPool(t *testing.T) {
	t.Parallel()

	tree := New[int](WithNodesPerAlloc(1))
	require.NoError(t, tree.Insert(1, testLow10, testHigh20))
	require.NoError(t, tree.Delete(testLow10, testHigh20))

	stats := tree.Stats()
	assert.Equal(t, 1, stats.Pool.Allocated)
	assert.Equal(t, 0, stats.Pool.InUse)

	require.NoError(t, tree.Insert(2, testLow30, testHigh40))
	assert.Equal(t, 1, tree.Stats().Pool.Allocated)
}

// TestMaxNodesOutOfResource verifies pool exhaustion and recovery.
func TestMaxNodesOutOfResource(t *testing.T) {
	t.Parallel()

	tree := New[int](WithMaxNodes(2), WithNodesPerAlloc(1))
	require.NoError(t, tree.Insert(1, testLow10, testHigh20))
	require.NoError(t, tree.Insert(2, testLow30, testHigh40))

	err := tree.Insert(3, testLow50, testHigh100)
	require.ErrorIs(t, err, ErrOutOfResource)
	assert.Equal(t, 2, tree.Size())
	require.NoError(t, tree.Validate())

	require.NoError(t, tree.Delete(testLow10, testHigh20))
	require.NoError(t, tree.Insert(3, testLow50, testHigh100))
}

// TestPendingReaderDefersReclaim verifies the grace period for registered readers.
func TestPendingReaderDefersReclaim(t *testing.T) {
	t.Parallel()

	tree := New[int]()
	require.NoError(t, tree.Insert(1, testLow10, testHigh20))

	slot := tree.enterRead()
	held := tree.retainChild(tree.root, true)

	require.NoError(t, tree.Delete(testLow10, testHigh20))

	// The reader still holds a reference; the node stays out of the pool.
	assert.Equal(t, 1, tree.Stats().Pool.InUse)
	assert.Equal(t, uint64(testLow10), held.item.Load().low)

	tree.release(held)
	assert.Equal(t, 1, tree.Stats().RetiredPending)

	tree.exitRead(slot)

	stats := tree.Stats()
	assert.Equal(t, 0, stats.RetiredPending)
	assert.Equal(t, 0, stats.Pool.InUse)
}

// TestLaterReaderDoesNotPinRetiredNode verifies that only readers registered
// before a node was retired delay its reclamation.
func TestLaterReaderDoesNotPinRetiredNode(t *testing.T) {
	t.Parallel()

	tree := New[int]()
	require.NoError(t, tree.Insert(1, testLow10, testHigh20))

	early := tree.enterRead()

	require.NoError(t, tree.Delete(testLow10, testHigh20))
	assert.Equal(t, 1, tree.Stats().RetiredPending)

	late := tree.enterRead()

	tree.exitRead(early)

	// The late reader overlaps the early one but entered after the retire.
	stats := tree.Stats()
	assert.Equal(t, 0, stats.RetiredPending)
	assert.Equal(t, 0, stats.Pool.InUse)

	tree.exitRead(late)
}

// TestInsertReclaimsAfterReaderExits verifies that a capped pool recovers
// nodes pinned by a reader once that reader leaves.
func TestInsertReclaimsAfterReaderExits(t *testing.T) {
	t.Parallel()

	tree := New[int](WithMaxNodes(1), WithNodesPerAlloc(1))
	require.NoError(t, tree.Insert(1, testLow10, testHigh20))

	slot := tree.enterRead()

	require.NoError(t, tree.Delete(testLow10, testHigh20))

	err := tree.Insert(2, testLow30, testHigh40)
	require.ErrorIs(t, err, ErrOutOfResource)
	assert.Equal(t, 0, tree.Size())

	tree.exitRead(slot)

	require.NoError(t, tree.Insert(2, testLow30, testHigh40))
	assert.Equal(t, 1, tree.Size())
	require.NoError(t, tree.Validate())
}

// TestReaderSlotsAreReused verifies that slots return to the free set.
func TestReaderSlotsAreReused(t *testing.T) {
	t.Parallel()

	tree := New[int]()

	for range readerSlots * 3 {
		tree.exitRead(tree.enterRead())
	}

	assert.Equal(t, uint64(math.MaxUint64), tree.oldestReader())
}

// TestDepthBound verifies the height bound helper.
func TestDepthBound(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, DepthBound(0))
	assert.Equal(t, 2, DepthBound(1))
	assert.Equal(t, 4, DepthBound(3))
	assert.Equal(t, 6, DepthBound(7))
}
