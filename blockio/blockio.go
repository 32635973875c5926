// Package blockio provides block-granular readers and writers scoped to a
// single run's byte range inside a run store. Both sides address the file
// with explicit offsets, so a reader and a writer can share one handle
// without trampling each other's position.
package blockio

import (
	"errors"
	"fmt"
	"io"

	"github.com/davidvella/extsort/record"
	"github.com/davidvella/extsort/runstore"
)

var (
	ErrShortWrite = errors.New("blockio: short write")
	ErrTruncated  = errors.New("blockio: run data truncated")
)

// Reader yields one run's records in order, refilling its block from disk
// as the in-memory vector is consumed.
type Reader[T any] struct {
	r          io.ReaderAt
	codec      record.Codec[T]
	start      int64
	count      int64
	blockElems int

	buf       []T
	raw       []byte
	idx       int
	totalRead int64
}

// NewReader returns a reader over the run described by desc.
func NewReader[T any](r io.ReaderAt, codec record.Codec[T], desc runstore.Descriptor, blockElems int) *Reader[T] {
	return &Reader[T]{
		r:          r,
		codec:      codec,
		start:      desc.StartOffset,
		count:      desc.ElementCount,
		blockElems: blockElems,
		buf:        make([]T, 0, blockElems),
		raw:        make([]byte, blockElems*codec.Size()),
	}
}

// Next returns the run's next record. The second result is false once the
// run is exhausted. A run whose file data ends before the descriptor's
// advertised element count yields ErrTruncated.
func (r *Reader[T]) Next() (T, bool, error) {
	var zero T
	if r.idx >= len(r.buf) {
		ok, err := r.fill()
		if err != nil {
			return zero, false, err
		}
		if !ok {
			return zero, false, nil
		}
	}
	v := r.buf[r.idx]
	r.idx++
	return v, true, nil
}

func (r *Reader[T]) fill() (bool, error) {
	remaining := r.count - r.totalRead
	if remaining <= 0 {
		return false, nil
	}
	n := int64(r.blockElems)
	if remaining < n {
		n = remaining
	}

	size := int64(r.codec.Size())
	off := r.start + r.totalRead*size
	raw := r.raw[:n*size]
	if _, err := r.r.ReadAt(raw, off); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, fmt.Errorf("%w: want %d records at offset %d", ErrTruncated, n, off)
		}
		return false, fmt.Errorf("blockio: read failed at offset %d: %w", off, err)
	}

	r.buf = record.DecodeBlock(r.codec, raw, r.buf[:0])
	r.idx = 0
	r.totalRead += n
	return true, nil
}

// TotalRead returns how many records have been fetched from disk so far.
func (r *Reader[T]) TotalRead() int64 { return r.totalRead }

// Writer accumulates records for one run and writes them in blocks at
// explicit offsets from the run's start.
type Writer[T any] struct {
	w          io.WriterAt
	codec      record.Codec[T]
	start      int64
	blockElems int

	buf          []T
	raw          []byte
	totalWritten int64
}

// NewWriter returns a writer that appends records starting at start.
func NewWriter[T any](w io.WriterAt, codec record.Codec[T], start int64, blockElems int) *Writer[T] {
	return &Writer[T]{
		w:          w,
		codec:      codec,
		start:      start,
		blockElems: blockElems,
		buf:        make([]T, 0, blockElems),
	}
}

// Push appends one record, flushing the block to disk when it fills.
func (w *Writer[T]) Push(v T) error {
	w.buf = append(w.buf, v)
	if len(w.buf) >= w.blockElems {
		return w.writeBlock()
	}
	return nil
}

// Flush writes any buffered tail block and syncs the file when the
// underlying writer supports it, so the run is durable once the store is
// closed.
func (w *Writer[T]) Flush() error {
	if len(w.buf) > 0 {
		if err := w.writeBlock(); err != nil {
			return err
		}
	}
	if s, ok := w.w.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			return fmt.Errorf("blockio: sync failed: %w", err)
		}
	}
	return nil
}

// Count returns the number of records pushed so far, flushed or not.
func (w *Writer[T]) Count() int64 {
	return w.totalWritten + int64(len(w.buf))
}

func (w *Writer[T]) writeBlock() error {
	size := int64(w.codec.Size())
	off := w.start + w.totalWritten*size
	w.raw = record.EncodeBlock(w.codec, w.buf, w.raw[:0])
	if err := WriteAt(w.w, w.raw, off); err != nil {
		return err
	}
	w.totalWritten += int64(len(w.buf))
	w.buf = w.buf[:0]
	return nil
}

// WriteAt writes p at off, mapping a short write to ErrShortWrite.
func WriteAt(w io.WriterAt, p []byte, off int64) error {
	n, err := w.WriteAt(p, off)
	if err != nil {
		return fmt.Errorf("blockio: write failed at offset %d: %w", off, err)
	}
	if n < len(p) {
		return fmt.Errorf("%w: %d of %d bytes at offset %d", ErrShortWrite, n, len(p), off)
	}
	return nil
}
