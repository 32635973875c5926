// Package runstore implements the single-file container that holds every
// sorted run produced during an external sort.
//
// File layout:
//
//	Header    (12 bytes)
//	  magic    4 bytes  ASCII "RUNS"
//	  maxRuns  4 bytes  int32 little-endian
//	  current  4 bytes  int32 little-endian, count of in-use descriptors
//	Directory (maxRuns x 24 bytes)
//	  startOffset   8 bytes  int64 little-endian
//	  elementCount  8 bytes  int64 little-endian
//	  inUse         1 byte
//	  reserved      7 bytes  zero
//	Data area
//	  runs appended in write order, each a contiguous vector of records
//
// The directory size is fixed at Create time. The data area begins
// immediately after the directory and grows by appending; runs may land in
// any order relative to their directory slots. The store supports a single
// sorter: directory mutation is not safe from more than one goroutine.
package runstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	headerSize     = 12
	descriptorSize = 24
)

// magic identifies a valid run file.
var magic = [4]byte{'R', 'U', 'N', 'S'}

var (
	ErrBadMagic      = errors.New("runstore: bad magic")
	ErrDirectoryFull = errors.New("runstore: directory full")
	ErrInvalidRunID  = errors.New("runstore: invalid run id")
)

// Descriptor describes one run inside the store. A descriptor with
// InUse set and ElementCount zero is a reservation whose offset is not
// known yet; a descriptor with ElementCount > 0 is finalized.
type Descriptor struct {
	StartOffset  int64
	ElementCount int64
	InUse        bool
}

// Run pairs a directory slot id with its descriptor.
type Run struct {
	ID int
	Descriptor
}

// Options configures Create.
type Options struct {
	// Preallocate reserves this many bytes of data area up front so a
	// long sort cannot hit disk-full mid-run. Zero disables preallocation.
	Preallocate int64
}

// Store is an open run file with its directory cached in memory.
type Store struct {
	file      *os.File
	path      string
	maxRuns   int
	current   int
	directory []Descriptor
}

// Create truncate-creates a run file with an empty directory of maxRuns
// slots and returns the open store.
func Create(path string, maxRuns int, opts *Options) (*Store, error) {
	if maxRuns <= 0 {
		return nil, fmt.Errorf("runstore: maxRuns must be > 0, got %d", maxRuns)
	}
	if opts == nil {
		opts = &Options{}
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("runstore: failed to create %s: %w", path, err)
	}

	s := &Store{
		file:      file,
		path:      path,
		maxRuns:   maxRuns,
		directory: make([]Descriptor, maxRuns),
	}

	buf := make([]byte, headerSize+maxRuns*descriptorSize)
	s.encodeHeader(buf)
	if _, err := file.WriteAt(buf, 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("runstore: failed to write directory: %w", err)
	}

	if opts.Preallocate > 0 {
		size := int64(len(buf)) + opts.Preallocate
		if err := fallocate(file, size); err != nil {
			file.Close()
			return nil, fmt.Errorf("runstore: failed to preallocate %d bytes: %w", size, err)
		}
	}

	return s, nil
}

// Open opens an existing run file read/write and loads the full directory
// into memory.
func Open(path string) (*Store, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("runstore: failed to open %s: %w", path, err)
	}

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(io.NewSectionReader(file, 0, headerSize), header); err != nil {
		file.Close()
		return nil, fmt.Errorf("runstore: failed to read header: %w", err)
	}
	if [4]byte(header[0:4]) != magic {
		file.Close()
		return nil, ErrBadMagic
	}

	maxRuns := int(int32(binary.LittleEndian.Uint32(header[4:8])))
	if maxRuns <= 0 {
		file.Close()
		return nil, fmt.Errorf("runstore: corrupt header: maxRuns %d", maxRuns)
	}

	dir := make([]byte, maxRuns*descriptorSize)
	if _, err := io.ReadFull(io.NewSectionReader(file, headerSize, int64(len(dir))), dir); err != nil {
		file.Close()
		return nil, fmt.Errorf("runstore: failed to read directory: %w", err)
	}

	s := &Store{
		file:      file,
		path:      path,
		maxRuns:   maxRuns,
		directory: make([]Descriptor, maxRuns),
	}
	for i := range s.directory {
		s.directory[i] = decodeDescriptor(dir[i*descriptorSize:])
		if s.directory[i].InUse {
			s.current++
		}
	}

	return s, nil
}

// Close flushes and releases the underlying file.
func (s *Store) Close() error {
	if s.file == nil {
		return nil
	}
	file := s.file
	s.file = nil
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("runstore: failed to sync: %w", err)
	}
	return file.Close()
}

// Allocate claims the first free directory slot as a reservation and
// persists it. Returns ErrDirectoryFull when every slot is in use.
func (s *Store) Allocate() (int, error) {
	for id := range s.directory {
		if s.directory[id].InUse {
			continue
		}
		s.directory[id] = Descriptor{InUse: true}
		if err := s.writeDescriptor(id); err != nil {
			return 0, err
		}
		s.current++
		if err := s.writeHeader(); err != nil {
			return 0, err
		}
		return id, nil
	}
	return 0, ErrDirectoryFull
}

// Finalize records a run's start offset and element count and persists
// that single directory slot.
func (s *Store) Finalize(id int, startOffset, elementCount int64) error {
	if id < 0 || id >= s.maxRuns {
		return fmt.Errorf("%w: %d", ErrInvalidRunID, id)
	}
	s.directory[id].StartOffset = startOffset
	s.directory[id].ElementCount = elementCount
	return s.writeDescriptor(id)
}

// Descriptor returns the in-memory descriptor for id.
func (s *Store) Descriptor(id int) (Descriptor, error) {
	if id < 0 || id >= s.maxRuns {
		return Descriptor{}, fmt.Errorf("%w: %d", ErrInvalidRunID, id)
	}
	return s.directory[id], nil
}

// Run returns the id and descriptor together.
func (s *Store) Run(id int) (Run, error) {
	d, err := s.Descriptor(id)
	if err != nil {
		return Run{}, err
	}
	return Run{ID: id, Descriptor: d}, nil
}

// AppendOffset returns the current end of the file. Callers capture this
// before writing a new run and pass it to Finalize.
func (s *Store) AppendOffset() (int64, error) {
	off, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("runstore: failed to seek to end: %w", err)
	}
	return off, nil
}

// File exposes the raw handle. Readers and writers address it with
// explicit offsets; the store stays the sole owner.
func (s *Store) File() *os.File {
	return s.file
}

// MaxRuns returns the directory capacity.
func (s *Store) MaxRuns() int { return s.maxRuns }

// Current returns the number of in-use descriptors.
func (s *Store) Current() int { return s.current }

// Path returns the file path the store was created or opened with.
func (s *Store) Path() string { return s.path }

// DataStart returns the first byte offset of the data area.
func (s *Store) DataStart() int64 {
	return headerSize + int64(s.maxRuns)*descriptorSize
}

func (s *Store) encodeHeader(buf []byte) {
	copy(buf[0:4], magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], uint32(int32(s.maxRuns)))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(int32(s.current)))
}

func (s *Store) writeHeader() error {
	buf := make([]byte, headerSize)
	s.encodeHeader(buf)
	if _, err := s.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("runstore: failed to write header: %w", err)
	}
	return nil
}

func (s *Store) writeDescriptor(id int) error {
	buf := make([]byte, descriptorSize)
	encodeDescriptor(buf, s.directory[id])
	off := headerSize + int64(id)*descriptorSize
	if _, err := s.file.WriteAt(buf, off); err != nil {
		return fmt.Errorf("runstore: failed to write descriptor %d: %w", id, err)
	}
	return nil
}

func encodeDescriptor(buf []byte, d Descriptor) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(d.StartOffset))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(d.ElementCount))
	if d.InUse {
		buf[16] = 1
	} else {
		buf[16] = 0
	}
}

func decodeDescriptor(buf []byte) Descriptor {
	return Descriptor{
		StartOffset:  int64(binary.LittleEndian.Uint64(buf[0:8])),
		ElementCount: int64(binary.LittleEndian.Uint64(buf[8:16])),
		InUse:        buf[16] != 0,
	}
}
