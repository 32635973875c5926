package loser

import (
	"fmt"
	"math"
)

// SentinelRunID tags the empty slot. A sentinel can never win against a
// real record because every real run id is smaller.
const SentinelRunID = math.MaxInt

// Node is one tournament leaf: a record tagged with the logical output
// run it belongs to.
type Node[T any] struct {
	Value T
	RunID int
}

// Tree is a tournament over k leaves keyed by (RunID, Value).
//
// leaves holds k+1 nodes; index k is a permanent sentinel used by the
// build to terminate bubble-up. tree holds k leaf indices: tree[0] is the
// current winner, tree[1..k-1] store the loser of each interior match.
type Tree[T any] struct {
	k      int
	tree   []int
	leaves []Node[T]
	maxVal T
	less   func(a, b T) bool
}

// New returns an empty tree over k slots. maxVal must compare greater
// than or equal to every real value under less.
func New[T any](k int, maxVal T, less func(a, b T) bool) (*Tree[T], error) {
	if k <= 0 {
		return nil, fmt.Errorf("loser: k must be > 0, got %d", k)
	}
	t := &Tree[T]{
		k:      k,
		tree:   make([]int, k),
		leaves: make([]Node[T], k+1),
		maxVal: maxVal,
		less:   less,
	}
	t.leaves[k] = t.sentinel()
	return t, nil
}

func (t *Tree[T]) sentinel() Node[T] {
	return Node[T]{Value: t.maxVal, RunID: SentinelRunID}
}

// loses reports whether a loses to b. Larger (RunID, Value) keys lose;
// equal keys keep the incumbent, so ties never swap.
func (t *Tree[T]) loses(a, b Node[T]) bool {
	if a.RunID != b.RunID {
		return a.RunID > b.RunID
	}
	return t.less(b.Value, a.Value)
}

// Initialize fills the leaves with initial values tagged run 1, pads the
// rest with sentinels, and builds the tree bottom-up. Each leaf bubbles
// toward the root; the first visitor of an empty interior slot parks
// there, the second plays the match and the winner continues.
func (t *Tree[T]) Initialize(initial []T) {
	for i := 0; i < t.k; i++ {
		if i < len(initial) {
			t.leaves[i] = Node[T]{Value: initial[i], RunID: 1}
		} else {
			t.leaves[i] = t.sentinel()
		}
	}
	t.leaves[t.k] = t.sentinel()

	// k marks an interior slot nobody has visited yet.
	for i := range t.tree {
		t.tree[i] = t.k
	}

	for i := t.k - 1; i >= 0; i-- {
		current := i
		parent := (i + t.k) / 2
		for parent > 0 {
			if t.tree[parent] == t.k {
				t.tree[parent] = current
				break
			}
			other := t.tree[parent]
			if t.loses(t.leaves[current], t.leaves[other]) {
				t.tree[parent] = current
				current = other
			}
			parent /= 2
		}
		if parent == 0 {
			t.tree[0] = current
		}
	}
}

// Winner returns the (RunID, Value)-minimum leaf. When its RunID is
// SentinelRunID the tree holds only sentinels.
func (t *Tree[T]) Winner() Node[T] {
	return t.leaves[t.tree[0]]
}

// ReplaceWinner overwrites the winner's leaf with a new record and
// replays the matches from that leaf to the root.
func (t *Tree[T]) ReplaceWinner(v T, runID int) {
	idx := t.tree[0]
	t.leaves[idx] = Node[T]{Value: v, RunID: runID}
	t.replay(idx)
}

// SealWinner retires the winner's leaf with a sentinel, used when the
// input is exhausted.
func (t *Tree[T]) SealWinner() {
	idx := t.tree[0]
	t.leaves[idx] = t.sentinel()
	t.replay(idx)
}

// replay walks from leaf upward; at each interior node the current winner
// plays the stored loser, swapping when it loses.
func (t *Tree[T]) replay(leaf int) {
	current := leaf
	for parent := (leaf + t.k) / 2; parent > 0; parent /= 2 {
		if t.loses(t.leaves[current], t.leaves[t.tree[parent]]) {
			t.tree[parent], current = current, t.tree[parent]
		}
	}
	t.tree[0] = current
}

// Len returns the slot count k.
func (t *Tree[T]) Len() int { return t.k }
