package monitoring

import (
	"context"
	"time"

	"github.com/davidvella/extsort/metrics"
)

// Stats collects and reports external-sort statistics.
type stats struct {
	registry *metrics.Registry
	logger   Logger
}

func NewStats(registry *metrics.Registry, logger Logger) *stats {
	registry.Register(metrics.Metric{
		Name:        "records_sorted_total",
		Type:        metrics.Counter,
		Description: "Total number of records pushed through the sorter",
	})

	registry.Register(metrics.Metric{
		Name:        "runs_generated_total",
		Type:        metrics.Counter,
		Description: "Total number of initial runs produced by replacement selection",
	})

	registry.Register(metrics.Metric{
		Name:        "merges_total",
		Type:        metrics.Counter,
		Description: "Total number of two-way merges performed",
	})

	registry.Register(metrics.Metric{
		Name:        "merge_bytes_moved_total",
		Type:        metrics.Counter,
		Description: "Total bytes read and rewritten during merging",
	})

	registry.Register(metrics.Metric{
		Name:        "phase_duration_ms",
		Type:        metrics.Counter,
		Description: "Wall time per sort phase in milliseconds",
	})

	return &stats{
		registry: registry,
		logger:   logger,
	}
}

func (s *stats) RecordRunsGenerated(ctx context.Context, count int, elements int64) {
	s.registry.RecordCounter("runs_generated_total", float64(count), nil)
	s.registry.RecordCounter("records_sorted_total", float64(elements), nil)
	s.logger.Log(ctx, INFO, "runs_generated", "initial runs written", map[string]interface{}{
		"runs":     count,
		"elements": elements,
	})
}

func (s *stats) RecordMerges(ctx context.Context, merges int, bytesMoved int64) {
	s.registry.RecordCounter("merges_total", float64(merges), nil)
	s.registry.RecordCounter("merge_bytes_moved_total", float64(bytesMoved), nil)
	s.logger.Log(ctx, INFO, "merges_complete", "merge phase finished", map[string]interface{}{
		"merges":      merges,
		"bytes_moved": bytesMoved,
	})
}

func (s *stats) RecordPhaseDuration(ctx context.Context, phase string, duration time.Duration) {
	s.registry.RecordCounter("phase_duration_ms", float64(duration.Milliseconds()), map[string]string{
		"phase": phase,
	})
	s.logger.Log(ctx, DEBUG, "phase_duration", "phase timing", map[string]interface{}{
		"phase":       phase,
		"duration_ms": duration.Milliseconds(),
	})
}

func (s *stats) RecordError(ctx context.Context, err string) {
	s.logger.Log(ctx, ERROR, "sort_error", err, nil)
}

type Stats interface {
	RecordRunsGenerated(ctx context.Context, count int, elements int64)
	RecordMerges(ctx context.Context, merges int, bytesMoved int64)
	RecordPhaseDuration(ctx context.Context, phase string, duration time.Duration)
	RecordError(ctx context.Context, err string)
}
