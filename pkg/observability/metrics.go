package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricOpsTotal       = "ivtree.ops.total"
	metricOpDuration     = "ivtree.op.duration.seconds"
	metricSize           = "ivtree.size"
	metricPoolAllocated  = "ivtree.pool.allocated"
	metricPoolInUse      = "ivtree.pool.in_use"
	metricRetiredPending = "ivtree.retired.pending"

	attrOp     = "op"
	attrStatus = "status"
)

// opBucketBoundaries spans 100ns to 10ms; tree operations are in-memory.
var opBucketBoundaries = []float64{1e-7, 2.5e-7, 5e-7, 1e-6, 2.5e-6, 5e-6, 1e-5, 5e-5, 1e-4, 1e-3, 1e-2}

// TreeSnapshot is the gauge view of a tree read on every collection.
type TreeSnapshot struct {
	Size           int
	PoolAllocated  int
	PoolInUse      int
	RetiredPending int
}

// TreeMetrics records interval tree operations.
type TreeMetrics struct {
	opsTotal     metric.Int64Counter
	opDuration   metric.Float64Histogram
	registration metric.Registration
}

// NewTreeMetrics creates the operation instruments on mt and registers gauges
// that read source at collection time.
func NewTreeMetrics(mt metric.Meter, source func() TreeSnapshot) (*TreeMetrics, error) {
	b := newMetricBuilder(mt)

	tm := &TreeMetrics{
		opsTotal:   b.counter(metricOpsTotal, "Interval tree operations", "{operation}"),
		opDuration: b.histogram(metricOpDuration, "Interval tree operation latency", "s", opBucketBoundaries...),
	}

	size := b.gauge(metricSize, "Intervals stored in the tree", "{interval}")
	allocated := b.gauge(metricPoolAllocated, "Nodes created by the pool", "{node}")
	inUse := b.gauge(metricPoolInUse, "Pool nodes not on the free list", "{node}")
	pending := b.gauge(metricRetiredPending, "Unlinked nodes waiting for readers to finish", "{node}")

	if b.err != nil {
		return nil, b.err
	}

	reg, err := mt.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		snap := source()

		obs.ObserveInt64(size, int64(snap.Size))
		obs.ObserveInt64(allocated, int64(snap.PoolAllocated))
		obs.ObserveInt64(inUse, int64(snap.PoolInUse))
		obs.ObserveInt64(pending, int64(snap.RetiredPending))

		return nil
	}, size, allocated, inUse, pending)
	if err != nil {
		return nil, fmt.Errorf("register tree gauges: %w", err)
	}

	tm.registration = reg

	return tm, nil
}

// RecordOp records one finished operation. It is a no-op on a nil receiver.
func (tm *TreeMetrics) RecordOp(ctx context.Context, op, status string, duration time.Duration) {
	if tm == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String(attrOp, op), attribute.String(attrStatus, status))

	tm.opsTotal.Add(ctx, 1, attrs)
	tm.opDuration.Record(ctx, duration.Seconds(), attrs)
}

// Close unregisters the gauge callback.
func (tm *TreeMetrics) Close() error {
	if tm == nil || tm.registration == nil {
		return nil
	}

	if err := tm.registration.Unregister(); err != nil {
		return fmt.Errorf("unregister tree gauges: %w", err)
	}

	return nil
}
