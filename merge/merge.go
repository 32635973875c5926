// Package merge combines sorted runs two at a time until one remains,
// always merging the two shortest live runs. Because replacement
// selection produces runs of unequal length, scheduling merges as a
// Huffman tree over the run lengths minimises the total bytes moved.
package merge

import (
	"fmt"

	"github.com/google/btree"

	"github.com/davidvella/extsort/blockio"
	"github.com/davidvella/extsort/record"
	"github.com/davidvella/extsort/runstore"
)

// Stats accumulates merge work for one Sort call.
type Stats struct {
	// Merges is the number of two-way merges performed.
	Merges int
	// ElementsMoved is the total records read and rewritten across all
	// merges; times the record size, it is the Huffman cost in bytes.
	ElementsMoved int64
}

// Scheduler merges runs inside a run store.
type Scheduler[T any] struct {
	codec      record.Codec[T]
	less       func(a, b T) bool
	blockElems int
	stats      Stats
}

// NewScheduler returns a scheduler using I/O blocks of blockElems
// records per input and output buffer.
func NewScheduler[T any](codec record.Codec[T], less func(a, b T) bool, blockElems int) (*Scheduler[T], error) {
	if blockElems <= 0 {
		return nil, fmt.Errorf("merge: blockElems must be > 0, got %d", blockElems)
	}
	return &Scheduler[T]{
		codec:      codec,
		less:       less,
		blockElems: blockElems,
	}, nil
}

// Sort merges runs until one remains and returns it. Zero runs yield an
// empty result with ID -1; a single run is returned unchanged. Runs of
// equal length merge in ascending id order, so the schedule is
// deterministic.
func (s *Scheduler[T]) Sort(runs []runstore.Run, store *runstore.Store) (runstore.Run, error) {
	s.stats = Stats{}

	switch len(runs) {
	case 0:
		return runstore.Run{ID: -1}, nil
	case 1:
		return runs[0], nil
	}

	pool := btree.NewG(2, func(a, b runstore.Run) bool {
		if a.ElementCount != b.ElementCount {
			return a.ElementCount < b.ElementCount
		}
		return a.ID < b.ID
	})
	for _, r := range runs {
		pool.ReplaceOrInsert(r)
	}

	for pool.Len() > 1 {
		a, _ := pool.DeleteMin()
		b, _ := pool.DeleteMin()
		merged, err := s.mergePair(store, a, b)
		if err != nil {
			return runstore.Run{}, err
		}
		pool.ReplaceOrInsert(merged)
	}

	final, _ := pool.Min()
	return final, nil
}

// Stats reports the work done by the most recent Sort.
func (s *Scheduler[T]) Stats() Stats {
	return s.stats
}

// mergePair merges runs a and b into a freshly allocated run appended at
// the end of the store's data area.
func (s *Scheduler[T]) mergePair(store *runstore.Store, a, b runstore.Run) (runstore.Run, error) {
	id, err := store.Allocate()
	if err != nil {
		return runstore.Run{}, err
	}
	start, err := store.AppendOffset()
	if err != nil {
		return runstore.Run{}, err
	}

	file := store.File()
	ra := blockio.NewReader(file, s.codec, a.Descriptor, s.blockElems)
	rb := blockio.NewReader(file, s.codec, b.Descriptor, s.blockElems)
	out := blockio.NewWriter(file, s.codec, start, s.blockElems)

	va, hasA, err := ra.Next()
	if err != nil {
		return runstore.Run{}, err
	}
	vb, hasB, err := rb.Next()
	if err != nil {
		return runstore.Run{}, err
	}

	for hasA && hasB {
		// Ties go to a, the run popped first.
		if s.less(vb, va) {
			if err := out.Push(vb); err != nil {
				return runstore.Run{}, err
			}
			if vb, hasB, err = rb.Next(); err != nil {
				return runstore.Run{}, err
			}
		} else {
			if err := out.Push(va); err != nil {
				return runstore.Run{}, err
			}
			if va, hasA, err = ra.Next(); err != nil {
				return runstore.Run{}, err
			}
		}
	}
	for hasA {
		if err := out.Push(va); err != nil {
			return runstore.Run{}, err
		}
		if va, hasA, err = ra.Next(); err != nil {
			return runstore.Run{}, err
		}
	}
	for hasB {
		if err := out.Push(vb); err != nil {
			return runstore.Run{}, err
		}
		if vb, hasB, err = rb.Next(); err != nil {
			return runstore.Run{}, err
		}
	}

	if err := out.Flush(); err != nil {
		return runstore.Run{}, err
	}

	count := out.Count()
	if err := store.Finalize(id, start, count); err != nil {
		return runstore.Run{}, err
	}

	s.stats.Merges++
	s.stats.ElementsMoved += count

	return store.Run(id)
}
