// Package extsort sorts binary files of fixed-width records that do not
// fit in memory. Phase one streams the input through a replacement
// selection tournament, writing sorted runs of unequal length into a
// single run store; phase two repeatedly merges the two shortest runs
// until one remains, the Huffman-optimal schedule for unequal runs.
package extsort

import (
	"context"
	"fmt"
	"time"

	"github.com/davidvella/extsort/merge"
	"github.com/davidvella/extsort/metrics"
	"github.com/davidvella/extsort/monitoring"
	"github.com/davidvella/extsort/record"
	"github.com/davidvella/extsort/rungen"
	"github.com/davidvella/extsort/runstore"
)

// Sorter runs both phases of an external sort for one record type.
type Sorter[T any] struct {
	cfg      Config
	codec    record.Codec[T]
	maxVal   T
	less     func(a, b T) bool
	logger   monitoring.Logger
	registry *metrics.Registry
	stats    monitoring.Stats
}

// Option configures a Sorter.
type Option[T any] func(*Sorter[T])

// WithLogger replaces the default stdout JSON logger.
func WithLogger[T any](l monitoring.Logger) Option[T] {
	return func(s *Sorter[T]) {
		s.logger = l
	}
}

// WithRegistry records the sorter's metrics into registry.
func WithRegistry[T any](registry *metrics.Registry) Option[T] {
	return func(s *Sorter[T]) {
		s.registry = registry
	}
}

// New validates cfg and returns a sorter. maxVal must compare greater
// than or equal to every record in the input under less.
func New[T any](cfg Config, codec record.Codec[T], maxVal T, less func(a, b T) bool, opts ...Option[T]) (*Sorter[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Sorter[T]{
		cfg:    cfg,
		codec:  codec,
		maxVal: maxVal,
		less:   less,
		logger: monitoring.NewLogger("extsort"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = metrics.NewRegistry()
	}
	s.stats = monitoring.NewStats(s.registry, s.logger)
	return s, nil
}

// Result reports what a sort produced.
type Result struct {
	// Final is the single sorted run. Its ID is -1 when the input held
	// no complete record.
	Final runstore.Run

	// InitialRuns is how many runs replacement selection produced.
	InitialRuns int

	// Elements is the total record count sorted.
	Elements int64

	// GenerateDuration and MergeDuration are the wall times of the two
	// phases.
	GenerateDuration time.Duration
	MergeDuration    time.Duration
}

// Sort creates the run store, generates the initial runs, and merges
// them down to one. Any error is fatal to the sort; the half-written run
// file should be deleted by the caller.
func (s *Sorter[T]) Sort(ctx context.Context) (Result, error) {
	store, err := runstore.Create(s.cfg.RunFilePath, s.cfg.MaxRuns, &runstore.Options{
		Preallocate: s.cfg.Preallocate,
	})
	if err != nil {
		s.stats.RecordError(ctx, err.Error())
		return Result{}, err
	}

	res, err := s.sort(ctx, store)
	if err != nil {
		s.stats.RecordError(ctx, err.Error())
		store.Close()
		return Result{}, err
	}

	if err := store.Close(); err != nil {
		s.stats.RecordError(ctx, err.Error())
		return Result{}, err
	}
	return res, nil
}

func (s *Sorter[T]) sort(ctx context.Context, store *runstore.Store) (Result, error) {
	gen, err := rungen.New(s.cfg.K, s.cfg.BufferElems, s.codec, s.maxVal, s.less)
	if err != nil {
		return Result{}, err
	}

	genStart := time.Now()
	runs, err := gen.Generate(ctx, s.cfg.InputPath, store)
	if err != nil {
		return Result{}, fmt.Errorf("extsort: run generation failed: %w", err)
	}
	genDur := time.Since(genStart)

	var elements int64
	for _, r := range runs {
		elements += r.ElementCount
	}
	s.stats.RecordRunsGenerated(ctx, len(runs), elements)
	s.stats.RecordPhaseDuration(ctx, "generate", genDur)

	sched, err := merge.NewScheduler(s.codec, s.less, s.cfg.BufferElems)
	if err != nil {
		return Result{}, err
	}

	mergeStart := time.Now()
	final, err := sched.Sort(runs, store)
	if err != nil {
		return Result{}, fmt.Errorf("extsort: merge failed: %w", err)
	}
	mergeDur := time.Since(mergeStart)

	mergeStats := sched.Stats()
	s.stats.RecordMerges(ctx, mergeStats.Merges, mergeStats.ElementsMoved*int64(s.codec.Size()))
	s.stats.RecordPhaseDuration(ctx, "merge", mergeDur)

	return Result{
		Final:            final,
		InitialRuns:      len(runs),
		Elements:         elements,
		GenerateDuration: genDur,
		MergeDuration:    mergeDur,
	}, nil
}
