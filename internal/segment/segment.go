package segment

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"lightcask/internal/record"

	"golang.org/x/sys/unix"
)

/**
 * A segment manages one append-only data file on disk.
 * The active segment appends through the file descriptor. Sealed segments are
 * opened read-only and served from an mmap'd region.
 */
type Segment struct {
	mu     sync.RWMutex
	id     uint64
	path   string
	file   *os.File
	data   []byte // mmap region, sealed segments only
	size   int64  // bytes of valid data
	sealed bool
	closed bool
}

// Create makes a new empty segment file. It fails if the file already exists.
func Create(dir string, id uint64) (*Segment, error) {
	return create(Path(dir, id), id)
}

// CreateCompact makes a new segment under its temporary compaction name.
func CreateCompact(dir string, id uint64) (*Segment, error) {
	return create(CompactPath(dir, id), id)
}

func create(path string, id uint64) (*Segment, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("create segment %d: %w", id, err)
	}
	return &Segment{id: id, path: path, file: file}, nil
}

// Open opens an existing segment for appending.
func Open(dir string, id uint64) (*Segment, error) {
	path := Path(dir, id)
	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open segment %d: %w", id, err)
	}

	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat segment %d: %w", id, err)
	}

	return &Segment{id: id, path: path, file: file, size: fi.Size()}, nil
}

// OpenSealed opens an existing segment read-only and maps it into memory.
func OpenSealed(dir string, id uint64) (*Segment, error) {
	path := Path(dir, id)
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sealed segment %d: %w", id, err)
	}

	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat segment %d: %w", id, err)
	}

	s := &Segment{id: id, path: path, file: file, size: fi.Size(), sealed: true}

	// mmap rejects zero-length mappings; an empty segment has nothing to read anyway.
	if s.size > 0 {
		data, err := unix.Mmap(int(file.Fd()), 0, int(s.size), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("mmap segment %d: %w", id, err)
		}
		_ = unix.Madvise(data, unix.MADV_RANDOM)
		s.data = data
	}

	return s, nil
}

func (s *Segment) ID() uint64 {
	return s.id
}

func (s *Segment) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

/* Returns the number of bytes of valid data in the segment */
func (s *Segment) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

func (s *Segment) IsSealed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed
}

// Append writes e at the end of the segment and returns where it begins and its length.
func (s *Segment) Append(e *record.Entry) (int64, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, 0, ErrClosed
	}
	if s.sealed {
		return 0, 0, ErrSealed
	}

	bufPtr := getBuffer(int(e.Size()))
	defer putBuffer(bufPtr)

	n, err := e.MarshalTo(*bufPtr)
	if err != nil {
		return 0, 0, err
	}

	offset := s.size
	if _, err := s.file.WriteAt((*bufPtr)[:n], offset); err != nil {
		// drop whatever part of the record reached the file
		_ = s.file.Truncate(offset)
		return 0, 0, fmt.Errorf("append to segment %d: %w", s.id, err)
	}
	s.size += int64(n)

	return offset, uint32(n), nil
}

// ReadAt reads and decodes the record of exactly length bytes at offset.
func (s *Segment) ReadAt(offset int64, length uint32) (*record.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	if offset < 0 || offset+int64(length) > s.size {
		return nil, fmt.Errorf("read segment %d at %d+%d (size %d): %w",
			s.id, offset, length, s.size, io.ErrUnexpectedEOF)
	}

	var buf []byte
	if s.data != nil {
		buf = s.data[offset : offset+int64(length)]
	} else {
		buf = make([]byte, length)
		if _, err := s.file.ReadAt(buf, offset); err != nil {
			return nil, fmt.Errorf("read segment %d at %d: %w", s.id, offset, err)
		}
	}

	e, err := record.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("segment %d offset %d: %w", s.id, offset, err)
	}
	if e.Size() != length {
		return nil, fmt.Errorf("segment %d offset %d: %w", s.id, offset, record.ErrInsufficientBuffer)
	}
	return e, nil
}

// Iterate returns a fresh scan over the records present at the time of the call.
// limits are the key and value bounds the segment was written under.
func (s *Segment) Iterate(limits record.Limits) *Iterator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var src io.ReaderAt = s.file
	if s.data != nil {
		src = bytes.NewReader(s.data)
	}
	return newIterator(s.id, io.NewSectionReader(src, 0, s.size), s.size, limits)
}

// Seal flushes the segment and refuses further appends. Calling it again is a no-op.
func (s *Segment) Seal() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return nil
	}
	if s.closed {
		return ErrClosed
	}
	if err := unix.Fdatasync(int(s.file.Fd())); err != nil {
		return fmt.Errorf("sync segment %d: %w", s.id, err)
	}
	s.sealed = true
	return nil
}

// Truncate cuts the segment back to size bytes. Used to drop a torn tail.
func (s *Segment) Truncate(size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return ErrSealed
	}
	if size < 0 || size > s.size {
		return ErrOffsetOutOfRange
	}
	if err := s.file.Truncate(size); err != nil {
		return fmt.Errorf("truncate segment %d: %w", s.id, err)
	}
	s.size = size
	return nil
}

func (s *Segment) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.sealed {
		return nil
	}
	return unix.Fdatasync(int(s.file.Fd()))
}

// Promote renames a compaction output to its canonical segment name.
func (s *Segment) Promote(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := Path(dir, s.id)
	if err := os.Rename(s.path, target); err != nil {
		return fmt.Errorf("promote segment %d: %w", s.id, err)
	}
	s.path = target
	return nil
}

func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.data != nil {
		_ = unix.Munmap(s.data)
		s.data = nil
	}
	if !s.sealed {
		if err := unix.Fdatasync(int(s.file.Fd())); err != nil {
			s.file.Close()
			return fmt.Errorf("sync segment %d: %w", s.id, err)
		}
	}
	return s.file.Close()
}

// Remove closes the segment and deletes its file.
func (s *Segment) Remove() error {
	if err := s.Close(); err != nil {
		return err
	}
	return os.Remove(s.Path())
}
