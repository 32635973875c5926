// Package verify checks sort results without holding them in memory: a
// streaming order check plus an order-independent multiset fingerprint,
// so a sorted output can be matched against its unsorted input.
package verify

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"

	"github.com/davidvella/extsort/blockio"
	"github.com/davidvella/extsort/record"
	"github.com/davidvella/extsort/runstore"
)

// Result summarises one scanned record sequence.
type Result struct {
	// Count is the number of complete records scanned.
	Count int64
	// Fingerprint is an order-independent digest of the record multiset:
	// the wrapping sum of each record's xxhash64. Two sequences with the
	// same bag of records produce the same fingerprint regardless of
	// order.
	Fingerprint uint64
	// Sorted reports whether the sequence was non-decreasing.
	Sorted bool
	// FirstUnsorted is the index of the first record that compares below
	// its predecessor, or -1 when the sequence is sorted.
	FirstUnsorted int64
}

// Run scans one run inside a store. The store file is memory-mapped when
// the platform allows it; otherwise the run is streamed through a block
// reader.
func Run[T any](store *runstore.Store, codec record.Codec[T], less func(a, b T) bool, run runstore.Run, blockElems int) (Result, error) {
	if m, err := mmap.Map(store.File(), mmap.RDONLY, 0); err == nil {
		defer m.Unmap()
		size := int64(codec.Size())
		start := run.StartOffset
		end := start + run.ElementCount*size
		if start < 0 || end > int64(len(m)) {
			return Result{}, fmt.Errorf("verify: %w: run %d claims [%d, %d) in a %d byte file",
				blockio.ErrTruncated, run.ID, start, end, len(m))
		}
		return scan(codec, less, m[start:end], run.ElementCount), nil
	}
	return runBuffered(store, codec, less, run, blockElems)
}

func runBuffered[T any](store *runstore.Store, codec record.Codec[T], less func(a, b T) bool, run runstore.Run, blockElems int) (Result, error) {
	r := blockio.NewReader(store.File(), codec, run.Descriptor, blockElems)

	res := Result{Sorted: true, FirstUnsorted: -1}
	raw := make([]byte, codec.Size())
	var prev T
	for {
		v, ok, err := r.Next()
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return res, nil
		}
		codec.Put(raw, v)
		res.Fingerprint += xxhash.Sum64(raw)
		if res.Count > 0 && res.Sorted && less(v, prev) {
			res.Sorted = false
			res.FirstUnsorted = res.Count
		}
		prev = v
		res.Count++
	}
}

// File scans a raw record file, such as the sorter's input. A trailing
// partial record is ignored, matching what the run generator reads.
func File[T any](path string, codec record.Codec[T], less func(a, b T) bool) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("verify: failed to open %s: %w", path, err)
	}
	defer f.Close()

	size := codec.Size()
	br := bufio.NewReaderSize(f, 64*1024)
	raw := make([]byte, size)

	res := Result{Sorted: true, FirstUnsorted: -1}
	var prev T
	for {
		if _, err := io.ReadFull(br, raw); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return res, nil
			}
			return Result{}, fmt.Errorf("verify: read failed: %w", err)
		}
		v := codec.Get(raw)
		res.Fingerprint += xxhash.Sum64(raw)
		if res.Count > 0 && res.Sorted && less(v, prev) {
			res.Sorted = false
			res.FirstUnsorted = res.Count
		}
		prev = v
		res.Count++
	}
}

// scan checks an in-memory region holding count encoded records.
func scan[T any](codec record.Codec[T], less func(a, b T) bool, data []byte, count int64) Result {
	size := codec.Size()
	res := Result{Sorted: true, FirstUnsorted: -1}
	var prev T
	for i := int64(0); i < count; i++ {
		raw := data[i*int64(size) : (i+1)*int64(size)]
		v := codec.Get(raw)
		res.Fingerprint += xxhash.Sum64(raw)
		if i > 0 && res.Sorted && less(v, prev) {
			res.Sorted = false
			res.FirstUnsorted = i
		}
		prev = v
		res.Count++
	}
	return res
}
