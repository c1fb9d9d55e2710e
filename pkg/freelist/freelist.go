// Package freelist provides a thread-safe pooled allocator for fixed-size records.
//
// Records are created in slabs of a configurable size and recycled through a
// LIFO free list. An optional ceiling bounds the total number of records the
// list may ever create; once reached and drained, Get reports ErrExhausted.
package freelist

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultPerAlloc is the number of records created each time the list grows.
const DefaultPerAlloc = 128

// ErrExhausted is returned by Get when the configured maximum has been reached
// and no released record is available.
var ErrExhausted = errors.New("free list exhausted")

// ErrInvalidOption is returned by New when an option carries a negative value.
var ErrInvalidOption = errors.New("invalid free list option")

// Stats is a point-in-time snapshot of the list's counters.
type Stats struct {
	Allocated int    `json:"allocated" yaml:"allocated"`
	Free      int    `json:"free"      yaml:"free"`
	InUse     int    `json:"in_use"    yaml:"in_use"`
	Slabs     int    `json:"slabs"     yaml:"slabs"`
	Gets      uint64 `json:"gets"      yaml:"gets"`
	Puts      uint64 `json:"puts"      yaml:"puts"`
}

// Option configures a FreeList.
type Option func(*settings)

type settings struct {
	perAlloc int
	maxItems int
	initial  int
	logger   *slog.Logger
}

// WithPerAlloc sets the slab size used when the list grows.
func WithPerAlloc(n int) Option {
	return func(s *settings) { s.perAlloc = n }
}

// WithMaxItems caps the number of records the list may create. Zero means unlimited.
func WithMaxItems(n int) Option {
	return func(s *settings) { s.maxItems = n }
}

// WithInitialItems preallocates n records at construction.
func WithInitialItems(n int) Option {
	return func(s *settings) { s.initial = n }
}

// WithLogger sets the logger used for growth and exhaustion events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// FreeList hands out records of type T and takes them back for reuse.
type FreeList[T any] struct {
	mu        sync.Mutex
	free      []*T
	reset     func(*T)
	logger    *slog.Logger
	perAlloc  int
	maxItems  int
	allocated int
	slabs     int
	gets      uint64
	puts      uint64
}

// New creates a free list. The reset hook, when non-nil, runs on every record
// passed to Put before it becomes available again.
func New[T any](reset func(*T), opts ...Option) (*FreeList[T], error) {
	cfg := settings{perAlloc: DefaultPerAlloc}

	for _, opt := range opts {
		opt(&cfg)
	}

	switch {
	case cfg.perAlloc < 0:
		return nil, fmt.Errorf("%w: per-alloc %d", ErrInvalidOption, cfg.perAlloc)
	case cfg.maxItems < 0:
		return nil, fmt.Errorf("%w: max items %d", ErrInvalidOption, cfg.maxItems)
	case cfg.initial < 0:
		return nil, fmt.Errorf("%w: initial items %d", ErrInvalidOption, cfg.initial)
	}

	if cfg.perAlloc == 0 {
		cfg.perAlloc = DefaultPerAlloc
	}

	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	list := &FreeList[T]{
		reset:    reset,
		logger:   cfg.logger,
		perAlloc: cfg.perAlloc,
		maxItems: cfg.maxItems,
	}

	if cfg.initial > 0 {
		list.mu.Lock()
		list.growBy(list.capped(cfg.initial))
		list.mu.Unlock()
	}

	return list, nil
}

// Get returns a record, growing the list by one slab when it is empty.
func (list *FreeList[T]) Get() (*T, error) {
	list.mu.Lock()
	defer list.mu.Unlock()

	if len(list.free) == 0 {
		count := list.capped(list.perAlloc)
		if count == 0 {
			list.logger.Warn("free list exhausted",
				"allocated", list.allocated, "max", list.maxItems)

			return nil, fmt.Errorf("%w: %d of %d records in use", ErrExhausted, list.allocated, list.maxItems)
		}

		list.growBy(count)
	}

	last := len(list.free) - 1
	record := list.free[last]
	list.free[last] = nil
	list.free = list.free[:last]
	list.gets++

	return record, nil
}

// Put returns a record to the list. Put(nil) is a no-op.
func (list *FreeList[T]) Put(record *T) {
	if record == nil {
		return
	}

	if list.reset != nil {
		list.reset(record)
	}

	list.mu.Lock()
	list.free = append(list.free, record)
	list.puts++
	list.mu.Unlock()
}

// Stats returns the current counters.
func (list *FreeList[T]) Stats() Stats {
	list.mu.Lock()
	defer list.mu.Unlock()

	return Stats{
		Allocated: list.allocated,
		Free:      len(list.free),
		InUse:     list.allocated - len(list.free),
		Slabs:     list.slabs,
		Gets:      list.gets,
		Puts:      list.puts,
	}
}

// capped clamps a growth request to the remaining headroom. Caller holds mu.
func (list *FreeList[T]) capped(want int) int {
	if list.maxItems == 0 {
		return want
	}

	return max(0, min(want, list.maxItems-list.allocated))
}

// growBy allocates one slab of count records. Caller holds mu.
func (list *FreeList[T]) growBy(count int) {
	if count <= 0 {
		return
	}

	slab := make([]T, count)
	for idx := range slab {
		list.free = append(list.free, &slab[idx])
	}

	list.allocated += count
	list.slabs++

	list.logger.Debug("free list grown",
		"slab", count, "allocated", list.allocated, "slabs", list.slabs)
}
