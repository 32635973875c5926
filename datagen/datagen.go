// Package datagen writes synthetic input files for the sorter. All
// generation is driven by an explicit seed so every dataset is
// reproducible.
package datagen

import (
	"bufio"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/davidvella/extsort/record"
)

// Write generates n records from next and writes them to path as a raw
// record file.
func Write[T any](path string, codec record.Codec[T], n int64, next func() T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("datagen: failed to create %s: %w", path, err)
	}

	bw := bufio.NewWriterSize(f, 64*1024)
	raw := make([]byte, codec.Size())
	for i := int64(0); i < n; i++ {
		codec.Put(raw, next())
		if _, err := bw.Write(raw); err != nil {
			f.Close()
			return fmt.Errorf("datagen: write failed: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("datagen: flush failed: %w", err)
	}
	return f.Close()
}

// WriteValues writes an exact sequence of records to path.
func WriteValues[T any](path string, codec record.Codec[T], values []T) error {
	i := 0
	return Write(path, codec, int64(len(values)), func() T {
		v := values[i]
		i++
		return v
	})
}

// Int32Source returns a deterministic stream of uniformly random
// non-negative int32 values for the given seed.
func Int32Source(seed uint64) func() int32 {
	rng := rand.New(rand.NewPCG(seed, 0))
	return func() int32 {
		return rng.Int32()
	}
}
