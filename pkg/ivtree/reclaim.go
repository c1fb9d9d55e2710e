package ivtree

import (
	"math"
	"runtime"
	"sync/atomic"
	"time"
)

// Reader registration limits.
const (
	readerSlots   = 64
	cacheLineSize = 64

	// graceWait bounds how long an allocation waits for pinned nodes to drain.
	graceWait = 5 * time.Millisecond
)

// readerSlot publishes one active reader. entered holds the tree epoch seen on
// entry plus one; zero marks a free slot.
type readerSlot struct {
	entered atomic.Uint64
	_       [cacheLineSize - 8]byte
}

// enterRead registers a lock-free reader at the current epoch and returns its
// slot. Nodes retired at or after that epoch stay out of the pool until the
// reader calls exitRead.
func (t *Tree[V]) enterRead() int {
	for {
		start := int(t.slotHint.Add(1) % readerSlots)

		for i := range readerSlots {
			idx := (start + i) % readerSlots
			slot := &t.slots[idx]

			if slot.entered.Load() == 0 && slot.entered.CompareAndSwap(0, t.epoch.Load()+1) {
				return idx
			}
		}

		runtime.Gosched()
	}
}

// exitRead frees the reader's slot and recycles whatever it was pinning.
func (t *Tree[V]) exitRead(slot int) {
	t.slots[slot].entered.Store(0)

	if t.pending.Load() > 0 {
		t.tryDrain()
	}
}

// oldestReader returns the smallest published entry value, or MaxUint64 when
// no reader is registered.
func (t *Tree[V]) oldestReader() uint64 {
	oldest := uint64(math.MaxUint64)

	for idx := range t.slots {
		if v := t.slots[idx].entered.Load(); v != 0 && v < oldest {
			oldest = v
		}
	}

	return oldest
}

// retire stamps an unreferenced node with a fresh epoch and queues it.
// A reader whose entry value exceeds the stamp registered after the node left
// the tree and cannot reach it.
func (t *Tree[V]) retire(n *node[V]) {
	t.retiredMu.Lock()
	n.retiredAt = t.epoch.Add(1)
	t.retired = append(t.retired, n)
	t.pending.Add(1)
	t.retiredMu.Unlock()

	t.drain()
}

// drain returns every retired node older than the oldest reader to the pool.
func (t *Tree[V]) drain() {
	t.retiredMu.Lock()
	batch := t.takeReclaimable()
	t.retiredMu.Unlock()

	t.recycle(batch)
}

// tryDrain is drain for the reader exit path; it skips when another goroutine
// is already draining.
func (t *Tree[V]) tryDrain() {
	if !t.retiredMu.TryLock() {
		return
	}

	batch := t.takeReclaimable()
	t.retiredMu.Unlock()

	t.recycle(batch)
}

// takeReclaimable detaches the safe prefix of the retired queue. Stamps are
// assigned under retiredMu, so the queue is ordered by epoch. Caller holds
// retiredMu.
func (t *Tree[V]) takeReclaimable() []*node[V] {
	oldest := t.oldestReader()

	cut := 0
	for cut < len(t.retired) && t.retired[cut].retiredAt < oldest {
		cut++
	}

	if cut == 0 {
		return nil
	}

	batch := t.retired[:cut:cut]

	if cut == len(t.retired) {
		t.retired = nil
	} else {
		t.retired = t.retired[cut:]
	}

	t.pending.Add(-int64(cut))

	return batch
}

func (t *Tree[V]) recycle(batch []*node[V]) {
	for _, n := range batch {
		t.pool.Put(n)
	}
}

// awaitReclaim drains retired nodes until one is recycled, none are pending,
// or graceWait elapses. It reports whether the pool received anything.
func (t *Tree[V]) awaitReclaim() bool {
	deadline := time.Now().Add(graceWait)

	for t.pending.Load() > 0 {
		before := t.pending.Load()
		t.drain()

		if t.pending.Load() < before {
			return true
		}

		if time.Now().After(deadline) {
			return false
		}

		runtime.Gosched()
	}

	return false
}
