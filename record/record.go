// Package record converts fixed-width records to and from their on-disk
// form. Every codec writes exactly Size bytes per record, little-endian,
// with no framing; a file of n records is n*Size bytes.
package record

import "encoding/binary"

// Codec encodes and decodes a single fixed-width record type.
type Codec[T any] interface {
	// Size returns the encoded width of a record in bytes.
	Size() int

	// Put encodes v into dst, which must be at least Size bytes long.
	Put(dst []byte, v T)

	// Get decodes a record from src, which must be at least Size bytes long.
	Get(src []byte) T
}

// EncodeBlock appends the encoding of vals to dst and returns the
// extended slice.
func EncodeBlock[T any](c Codec[T], vals []T, dst []byte) []byte {
	size := c.Size()
	off := len(dst)
	dst = append(dst, make([]byte, len(vals)*size)...)
	for _, v := range vals {
		c.Put(dst[off:], v)
		off += size
	}
	return dst
}

// DecodeBlock appends every complete record in src to dst and returns the
// extended slice. Trailing bytes that do not form a complete record are
// ignored.
func DecodeBlock[T any](c Codec[T], src []byte, dst []T) []T {
	size := c.Size()
	for len(src) >= size {
		dst = append(dst, c.Get(src))
		src = src[size:]
	}
	return dst
}

// Int32 encodes int32 records as 4 little-endian bytes.
type Int32 struct{}

func (Int32) Size() int { return 4 }

func (Int32) Put(dst []byte, v int32) {
	binary.LittleEndian.PutUint32(dst, uint32(v))
}

func (Int32) Get(src []byte) int32 {
	return int32(binary.LittleEndian.Uint32(src))
}

// Int64 encodes int64 records as 8 little-endian bytes.
type Int64 struct{}

func (Int64) Size() int { return 8 }

func (Int64) Put(dst []byte, v int64) {
	binary.LittleEndian.PutUint64(dst, uint64(v))
}

func (Int64) Get(src []byte) int64 {
	return int64(binary.LittleEndian.Uint64(src))
}

// Uint32 encodes uint32 records as 4 little-endian bytes.
type Uint32 struct{}

func (Uint32) Size() int { return 4 }

func (Uint32) Put(dst []byte, v uint32) {
	binary.LittleEndian.PutUint32(dst, v)
}

func (Uint32) Get(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

// Uint64 encodes uint64 records as 8 little-endian bytes.
type Uint64 struct{}

func (Uint64) Size() int { return 8 }

func (Uint64) Put(dst []byte, v uint64) {
	binary.LittleEndian.PutUint64(dst, v)
}

func (Uint64) Get(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}
