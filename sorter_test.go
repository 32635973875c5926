package extsort_test

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidvella/extsort"
	"github.com/davidvella/extsort/datagen"
	"github.com/davidvella/extsort/metrics"
	"github.com/davidvella/extsort/monitoring"
	"github.com/davidvella/extsort/record"
	"github.com/davidvella/extsort/runstore"
	"github.com/davidvella/extsort/verify"
)

var (
	codec  = record.Int32{}
	less   = func(a, b int32) bool { return a < b }
	maxVal = int32(math.MaxInt32)
)

func testConfig(t *testing.T, k, bufElems, maxRuns int) extsort.Config {
	t.Helper()
	dir := t.TempDir()
	return extsort.Config{
		K:           k,
		BufferElems: bufElems,
		MaxRuns:     maxRuns,
		RunFilePath: filepath.Join(dir, "runs.bin"),
		InputPath:   filepath.Join(dir, "input.bin"),
	}
}

func newSorter(t *testing.T, cfg extsort.Config) *extsort.Sorter[int32] {
	t.Helper()
	s, err := extsort.New(cfg, codec, maxVal, less, extsort.WithLogger[int32](monitoring.Nop()))
	require.NoError(t, err)
	return s
}

// checkSorted verifies the final run end to end: reopen the store,
// stream the run, and compare count and multiset fingerprint against the
// original input file.
func checkSorted(t *testing.T, cfg extsort.Config, res extsort.Result, wantElements int64) {
	t.Helper()

	require.Equal(t, wantElements, res.Elements)

	store, err := runstore.Open(cfg.RunFilePath)
	require.NoError(t, err)
	defer store.Close()

	if wantElements == 0 {
		assert.Equal(t, -1, res.Final.ID)
		return
	}

	run, err := store.Run(res.Final.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Final.Descriptor, run.Descriptor)

	runRes, err := verify.Run(store, codec, less, run, cfg.BufferElems)
	require.NoError(t, err)
	assert.True(t, runRes.Sorted, "final run not sorted, first disorder at %d", runRes.FirstUnsorted)
	assert.Equal(t, wantElements, runRes.Count)

	inRes, err := verify.File(cfg.InputPath, codec, less)
	require.NoError(t, err)
	assert.Equal(t, inRes.Fingerprint, runRes.Fingerprint, "output holds a different record bag than input")
}

func TestSortRandomInput(t *testing.T) {
	cfg := testConfig(t, 128, 64, 256)
	const n = 20000
	require.NoError(t, datagen.Write(cfg.InputPath, codec, n, datagen.Int32Source(11)))

	res, err := newSorter(t, cfg).Sort(context.Background())
	require.NoError(t, err)

	assert.Positive(t, res.InitialRuns)
	checkSorted(t, cfg, res, n)
}

func TestSortLargeRandomInput(t *testing.T) {
	cfg := testConfig(t, 1024, 256, 128)
	const n = 1 << 16
	require.NoError(t, datagen.Write(cfg.InputPath, codec, n, datagen.Int32Source(5)))

	res, err := newSorter(t, cfg).Sort(context.Background())
	require.NoError(t, err)

	// Replacement selection should land between N/(2k) and N/k runs.
	assert.GreaterOrEqual(t, res.InitialRuns, (n/(2*1024))-2)
	assert.LessOrEqual(t, res.InitialRuns, n/1024)
	checkSorted(t, cfg, res, n)
}

func TestSortAlreadySorted(t *testing.T) {
	cfg := testConfig(t, 16, 8, 32)
	vals := make([]int32, 500)
	for i := range vals {
		vals[i] = int32(i)
	}
	require.NoError(t, datagen.WriteValues(cfg.InputPath, codec, vals))

	res, err := newSorter(t, cfg).Sort(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.InitialRuns)
	checkSorted(t, cfg, res, int64(len(vals)))
}

func TestSortReverseSorted(t *testing.T) {
	cfg := testConfig(t, 16, 8, 64)
	vals := make([]int32, 500)
	for i := range vals {
		vals[i] = int32(len(vals) - i)
	}
	require.NoError(t, datagen.WriteValues(cfg.InputPath, codec, vals))

	res, err := newSorter(t, cfg).Sort(context.Background())
	require.NoError(t, err)

	// Reverse input is the worst case: ceil(N/k) runs.
	assert.Equal(t, (len(vals)+15)/16, res.InitialRuns)
	checkSorted(t, cfg, res, int64(len(vals)))
}

func TestSortEmptyInput(t *testing.T) {
	cfg := testConfig(t, 8, 8, 16)
	require.NoError(t, datagen.WriteValues(cfg.InputPath, codec, nil))

	res, err := newSorter(t, cfg).Sort(context.Background())
	require.NoError(t, err)

	assert.Zero(t, res.InitialRuns)
	checkSorted(t, cfg, res, 0)
}

func TestSortWithDuplicates(t *testing.T) {
	cfg := testConfig(t, 8, 4, 32)
	vals := []int32{5, 5, 5, 1, 1, 9, 9, 9, 9, 3, 3, 5, 1}
	require.NoError(t, datagen.WriteValues(cfg.InputPath, codec, vals))

	res, err := newSorter(t, cfg).Sort(context.Background())
	require.NoError(t, err)
	checkSorted(t, cfg, res, int64(len(vals)))
}

func TestSortRecordsMetrics(t *testing.T) {
	cfg := testConfig(t, 16, 8, 512)
	require.NoError(t, datagen.Write(cfg.InputPath, codec, 2000, datagen.Int32Source(3)))

	registry := metrics.NewRegistry()
	s, err := extsort.New(cfg, codec, maxVal, less,
		extsort.WithLogger[int32](monitoring.Nop()),
		extsort.WithRegistry[int32](registry))
	require.NoError(t, err)

	res, err := s.Sort(context.Background())
	require.NoError(t, err)

	assert.Equal(t, float64(res.Elements), registry.Total("records_sorted_total"))
	assert.Equal(t, float64(res.InitialRuns), registry.Total("runs_generated_total"))
	assert.Positive(t, registry.Total("merges_total"))
}

func TestSortMissingInput(t *testing.T) {
	cfg := testConfig(t, 8, 8, 16)

	_, err := newSorter(t, cfg).Sort(context.Background())
	assert.Error(t, err)
}

func TestSortCancelled(t *testing.T) {
	cfg := testConfig(t, 8, 8, 16)
	require.NoError(t, datagen.Write(cfg.InputPath, codec, 100, datagen.Int32Source(1)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newSorter(t, cfg).Sort(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*extsort.Config)
	}{
		{"zero K", func(c *extsort.Config) { c.K = 0 }},
		{"zero BufferElems", func(c *extsort.Config) { c.BufferElems = 0 }},
		{"zero MaxRuns", func(c *extsort.Config) { c.MaxRuns = 0 }},
		{"missing RunFilePath", func(c *extsort.Config) { c.RunFilePath = "" }},
		{"missing InputPath", func(c *extsort.Config) { c.InputPath = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t, 8, 8, 16)
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())

			_, err := extsort.New(cfg, codec, maxVal, less)
			assert.Error(t, err)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := extsort.DefaultConfig()
	assert.Positive(t, cfg.K)
	assert.Positive(t, cfg.BufferElems)
	assert.Positive(t, cfg.MaxRuns)

	// Paths are still required.
	assert.Error(t, cfg.Validate())
}
