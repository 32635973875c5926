package blockio_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidvella/extsort/blockio"
	"github.com/davidvella/extsort/record"
	"github.com/davidvella/extsort/runstore"
)

var codec = record.Int32{}

func tempFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "data.bin"))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func writeRun(t *testing.T, f *os.File, start int64, vals []int32) runstore.Descriptor {
	t.Helper()
	raw := record.EncodeBlock(codec, vals, nil)
	require.NoError(t, blockio.WriteAt(f, raw, start))
	return runstore.Descriptor{StartOffset: start, ElementCount: int64(len(vals)), InUse: true}
}

func readAll(t *testing.T, r *blockio.Reader[int32]) []int32 {
	t.Helper()
	var out []int32
	for {
		v, ok, err := r.Next()
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

func TestReaderSpansBlocks(t *testing.T) {
	f := tempFile(t)
	vals := []int32{1, 2, 3, 4, 5, 6, 7}
	desc := writeRun(t, f, 0, vals)

	for _, blockElems := range []int{1, 2, 3, 7, 16} {
		r := blockio.NewReader(f, codec, desc, blockElems)
		assert.Equal(t, vals, readAll(t, r), "blockElems=%d", blockElems)
	}
}

func TestReaderEmptyRun(t *testing.T) {
	f := tempFile(t)
	r := blockio.NewReader(f, codec, runstore.Descriptor{}, 4)

	_, ok, err := r.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReaderTruncatedRun(t *testing.T) {
	f := tempFile(t)
	writeRun(t, f, 0, []int32{1, 2})

	// The descriptor advertises more records than the file holds.
	desc := runstore.Descriptor{StartOffset: 0, ElementCount: 4, InUse: true}
	r := blockio.NewReader(f, codec, desc, 8)

	_, _, err := r.Next()
	assert.ErrorIs(t, err, blockio.ErrTruncated)
}

func TestReaderRespectsRunRange(t *testing.T) {
	f := tempFile(t)
	writeRun(t, f, 0, []int32{9, 9, 9})
	desc := writeRun(t, f, 12, []int32{1, 2, 3})
	writeRun(t, f, 24, []int32{8, 8})

	r := blockio.NewReader(f, codec, desc, 2)
	assert.Equal(t, []int32{1, 2, 3}, readAll(t, r))
}

func TestWriterFlushesTail(t *testing.T) {
	f := tempFile(t)
	w := blockio.NewWriter(f, codec, 0, 4)

	vals := []int32{5, 4, 3, 2, 1, 0}
	for _, v := range vals {
		require.NoError(t, w.Push(v))
	}
	require.NoError(t, w.Flush())
	assert.Equal(t, int64(len(vals)), w.Count())

	desc := runstore.Descriptor{StartOffset: 0, ElementCount: int64(len(vals)), InUse: true}
	r := blockio.NewReader(f, codec, desc, 4)
	assert.Equal(t, vals, readAll(t, r))
}

func TestWriterCountIncludesUnflushed(t *testing.T) {
	f := tempFile(t)
	w := blockio.NewWriter(f, codec, 0, 8)

	require.NoError(t, w.Push(1))
	require.NoError(t, w.Push(2))
	assert.Equal(t, int64(2), w.Count())
}

func TestInterleavedReadersAndWriters(t *testing.T) {
	f := tempFile(t)

	// Two writers target disjoint regions of one handle; their explicit
	// offsets must keep them from corrupting each other.
	wa := blockio.NewWriter(f, codec, 0, 2)
	wb := blockio.NewWriter(f, codec, 16, 2)
	for i := int32(0); i < 4; i++ {
		require.NoError(t, wa.Push(i))
		require.NoError(t, wb.Push(100+i))
	}
	require.NoError(t, wa.Flush())
	require.NoError(t, wb.Flush())

	ra := blockio.NewReader(f, codec, runstore.Descriptor{StartOffset: 0, ElementCount: 4, InUse: true}, 2)
	rb := blockio.NewReader(f, codec, runstore.Descriptor{StartOffset: 16, ElementCount: 4, InUse: true}, 2)
	assert.Equal(t, []int32{0, 1, 2, 3}, readAll(t, ra))
	assert.Equal(t, []int32{100, 101, 102, 103}, readAll(t, rb))
}
