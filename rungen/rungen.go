// Package rungen produces the initial sorted runs of an external sort
// using replacement selection over a loser tree, pipelined across three
// workers so disk reads, comparisons, and disk writes overlap.
package rungen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/davidvella/extsort/blockio"
	"github.com/davidvella/extsort/loser"
	"github.com/davidvella/extsort/record"
	"github.com/davidvella/extsort/runstore"
)

// Generator turns an unsorted input file into sorted runs inside a run
// store. A generator is stateless between calls; each Generate builds its
// own pipeline.
type Generator[T any] struct {
	k        int
	bufElems int
	codec    record.Codec[T]
	maxVal   T
	less     func(a, b T) bool
}

// New returns a generator with a k-slot tournament and I/O blocks of
// bufferElems records.
func New[T any](k, bufferElems int, codec record.Codec[T], maxVal T, less func(a, b T) bool) (*Generator[T], error) {
	if k <= 0 {
		return nil, fmt.Errorf("rungen: k must be > 0, got %d", k)
	}
	if bufferElems <= 0 {
		return nil, fmt.Errorf("rungen: bufferElems must be > 0, got %d", bufferElems)
	}
	return &Generator[T]{
		k:        k,
		bufElems: bufferElems,
		codec:    codec,
		maxVal:   maxVal,
		less:     less,
	}, nil
}

// Generate reads inputPath and writes sorted runs into store, returning
// the finalized runs in allocation order. The input is a raw
// concatenation of records; a trailing partial record is discarded.
//
// Three workers cooperate: a reader filling the standby input buffer, a
// writer draining the standby output buffer, and the tournament on the
// calling goroutine. Cancelling ctx stops all three.
func (g *Generator[T]) Generate(ctx context.Context, inputPath string, store *runstore.Store) ([]runstore.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("rungen: failed to open input: %w", err)
	}
	defer input.Close()

	p := newPipeline(g, input, store)

	// Reserve the first run before any byte is written; the append offset
	// at this point is the end of the directory or of earlier data.
	if err := p.openFirstRun(); err != nil {
		return nil, err
	}

	stopWatch := context.AfterFunc(ctx, func() {
		p.cancel(ctx.Err())
	})
	defer stopWatch()

	var grp errgroup.Group
	grp.Go(p.readerWorker)
	grp.Go(p.writerWorker)

	runs, terr := p.tournament()

	werr := grp.Wait()
	if terr == nil {
		terr = werr
	}
	if terr != nil {
		return nil, terr
	}
	return runs, nil
}

// pipeline is the shared state of one Generate call. Every field below
// the mutex is guarded by it, except the raw scratch blocks: rawIn
// belongs to the reader and rawOut to the writer, and each is used with
// the mutex released. The buffers change hands only by pointer swap
// under the mutex, never by copying records.
type pipeline[T any] struct {
	gen   *Generator[T]
	input *os.File
	store *runstore.Store

	mu         sync.Mutex
	readerCond *sync.Cond
	writerCond *sync.Cond
	tournCond  *sync.Cond

	activeIn    []T
	standbyIn   []T
	activeOut   []T
	standbyOut  []T
	activeInIdx int

	standbyInReady bool
	standbyOutBusy bool
	inputEOF       bool
	stop           bool
	workerErr      error

	curRunID    int
	curRunStart int64
	curRunCount int64

	rawIn  []byte
	rawOut []byte
}

func newPipeline[T any](g *Generator[T], input *os.File, store *runstore.Store) *pipeline[T] {
	p := &pipeline[T]{
		gen:        g,
		input:      input,
		store:      store,
		activeIn:   make([]T, 0, g.bufElems),
		standbyIn:  make([]T, 0, g.bufElems),
		activeOut:  make([]T, 0, g.bufElems),
		standbyOut: make([]T, 0, g.bufElems),
		rawIn:      make([]byte, g.bufElems*g.codec.Size()),
		rawOut:     make([]byte, 0, g.bufElems*g.codec.Size()),
	}
	p.readerCond = sync.NewCond(&p.mu)
	p.writerCond = sync.NewCond(&p.mu)
	p.tournCond = sync.NewCond(&p.mu)
	return p
}

// cancel stops the pipeline from outside the mutex.
func (p *pipeline[T]) cancel(err error) {
	p.mu.Lock()
	p.failLocked(err)
	p.mu.Unlock()
}

// failLocked records the first error, sets stop, and wakes every worker.
func (p *pipeline[T]) failLocked(err error) {
	if p.workerErr == nil && err != nil {
		p.workerErr = err
	}
	p.stop = true
	p.readerCond.Broadcast()
	p.writerCond.Broadcast()
	p.tournCond.Broadcast()
}

// readerWorker fills the standby input buffer one block at a time. The
// mutex is dropped across the read itself.
func (p *pipeline[T]) readerWorker() error {
	size := p.gen.codec.Size()

	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		for p.standbyInReady && !p.stop {
			p.readerCond.Wait()
		}
		if p.stop {
			return nil
		}

		p.mu.Unlock()
		n, err := io.ReadFull(p.input, p.rawIn)
		p.mu.Lock()

		eof := false
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				eof = true
			} else {
				err = fmt.Errorf("rungen: input read failed: %w", err)
				p.failLocked(err)
				return err
			}
		}

		// n/size floors away a trailing partial record.
		elems := n / size
		p.standbyIn = record.DecodeBlock(p.gen.codec, p.rawIn[:elems*size], p.standbyIn[:0])
		if elems < p.gen.bufElems {
			eof = true
		}
		if eof {
			p.inputEOF = true
		}
		p.standbyInReady = true
		p.tournCond.Signal()
	}
}

// writerWorker flushes the standby output buffer to the current run's
// next block position. The mutex is dropped across the write.
func (p *pipeline[T]) writerWorker() error {
	size := int64(p.gen.codec.Size())

	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		for !p.standbyOutBusy && !p.stop {
			p.writerCond.Wait()
		}
		if p.stop {
			return nil
		}

		n := len(p.standbyOut)
		off := p.curRunStart + p.curRunCount*size
		if n > 0 {
			p.rawOut = record.EncodeBlock(p.gen.codec, p.standbyOut, p.rawOut[:0])
			p.mu.Unlock()
			err := blockio.WriteAt(p.store.File(), p.rawOut, off)
			p.mu.Lock()
			if err != nil {
				p.failLocked(err)
				return err
			}
		}

		p.curRunCount += int64(n)
		p.standbyOutBusy = false
		p.tournCond.Signal()
	}
}

// tournament runs replacement selection until the tree drains, emitting
// run boundaries whenever the winner's run id advances.
func (p *pipeline[T]) tournament() ([]runstore.Run, error) {
	tree, err := loser.New(p.gen.k, p.gen.maxVal, p.gen.less)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	initial := make([]T, 0, p.gen.k)
	for len(initial) < p.gen.k {
		v, ok := p.pullNextInput()
		if !ok {
			break
		}
		initial = append(initial, v)
	}
	tree.Initialize(initial)
	treeRunID := 1

	var runs []runstore.Run

	for {
		if p.stop {
			return runs, p.workerErr
		}

		w := tree.Winner()
		if w.RunID == loser.SentinelRunID {
			break
		}

		if w.RunID > treeRunID {
			// Run boundary: everything belonging to the current run must
			// reach the writer before the descriptor is finalized.
			if len(p.activeOut) > 0 {
				if !p.waitOutIdle() {
					return runs, p.workerErr
				}
				p.swapOut()
			}
			if !p.waitOutIdle() {
				return runs, p.workerErr
			}
			if p.curRunCount > 0 {
				if err := p.finalizeCurrent(&runs); err != nil {
					return runs, err
				}
			}
			// The append offset is captured only now, after the previous
			// run's last byte and before the next run's first.
			if err := p.openNewRun(); err != nil {
				return runs, err
			}
			treeRunID = w.RunID
		}

		p.activeOut = append(p.activeOut, w.Value)
		if len(p.activeOut) >= p.gen.bufElems {
			if !p.waitOutIdle() {
				return runs, p.workerErr
			}
			p.swapOut()
		}

		v, ok := p.pullNextInput()
		if !ok {
			if p.stop {
				return runs, p.workerErr
			}
			tree.SealWinner()
			continue
		}
		runID := treeRunID
		if p.gen.less(v, w.Value) {
			// Too small for the run being emitted; freeze it for the next.
			runID = treeRunID + 1
		}
		tree.ReplaceWinner(v, runID)
	}

	// Drain the output pipeline and finalize the last run.
	if !p.waitOutIdle() {
		return runs, p.workerErr
	}
	if len(p.activeOut) > 0 {
		p.swapOut()
		if !p.waitOutIdle() {
			return runs, p.workerErr
		}
	}
	if p.curRunCount > 0 {
		if err := p.finalizeCurrent(&runs); err != nil {
			return runs, err
		}
	}

	p.failLocked(nil)
	return runs, p.workerErr
}

// pullNextInput returns the next input record, swapping in the standby
// buffer when the active one drains and sleeping until the reader
// catches up. Called with the mutex held.
func (p *pipeline[T]) pullNextInput() (T, bool) {
	var zero T
	for {
		if p.activeInIdx < len(p.activeIn) {
			v := p.activeIn[p.activeInIdx]
			p.activeInIdx++
			return v, true
		}

		if p.standbyInReady {
			p.activeIn, p.standbyIn = p.standbyIn, p.activeIn
			p.activeInIdx = 0
			p.standbyInReady = false
			p.readerCond.Signal()
			continue
		}

		if p.inputEOF {
			return zero, false
		}

		for !p.standbyInReady && !p.inputEOF && !p.stop {
			p.tournCond.Wait()
		}
		if p.stop {
			return zero, false
		}
	}
}

// waitOutIdle blocks until the writer has drained the standby output
// buffer. Returns false when the pipeline stopped instead.
func (p *pipeline[T]) waitOutIdle() bool {
	for p.standbyOutBusy && !p.stop {
		p.tournCond.Wait()
	}
	return !p.stop
}

// swapOut hands the active output buffer to the writer and clears the
// replacement. Caller must have checked that the writer is idle.
func (p *pipeline[T]) swapOut() {
	p.activeOut, p.standbyOut = p.standbyOut, p.activeOut
	p.standbyOutBusy = true
	p.writerCond.Signal()
	p.activeOut = p.activeOut[:0]
}

func (p *pipeline[T]) openFirstRun() error {
	id, err := p.store.Allocate()
	if err != nil {
		return err
	}
	off, err := p.store.AppendOffset()
	if err != nil {
		return err
	}
	p.curRunID = id
	p.curRunStart = off
	p.curRunCount = 0
	return nil
}

// finalizeCurrent persists the in-progress descriptor and appends it to
// runs. The mutex is dropped across the directory write; the writer is
// idle at every call site.
func (p *pipeline[T]) finalizeCurrent(runs *[]runstore.Run) error {
	id, start, count := p.curRunID, p.curRunStart, p.curRunCount

	p.mu.Unlock()
	err := p.store.Finalize(id, start, count)
	var run runstore.Run
	if err == nil {
		run, err = p.store.Run(id)
	}
	p.mu.Lock()

	if err != nil {
		p.failLocked(err)
		return err
	}
	*runs = append(*runs, run)
	return nil
}

// openNewRun reserves the next descriptor and captures its start offset.
// The mutex is dropped across the store calls; the writer is idle at
// every call site, so the append offset cannot move underneath us.
func (p *pipeline[T]) openNewRun() error {
	p.mu.Unlock()
	id, err := p.store.Allocate()
	var off int64
	if err == nil {
		off, err = p.store.AppendOffset()
	}
	p.mu.Lock()

	if err != nil {
		p.failLocked(err)
		return err
	}
	p.curRunID = id
	p.curRunStart = off
	p.curRunCount = 0
	return nil
}
