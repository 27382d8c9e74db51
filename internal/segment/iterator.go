package segment

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"lightcask/internal/record"
)

const iteratorBufferSize = 64 * 1024

/**
 * Iterator walks a segment record by record from the first byte.
 * A record that cannot be completed before end of file is a torn tail: iteration
 * stops without error and Torn reports true. A checksum failure with more data
 * behind it is corruption and is returned from Err, as is a record running past
 * end of file whose header no writer bound by the limits could have produced.
 * A zero-filled remainder is treated as a torn tail.
 */
type Iterator struct {
	id     uint64
	r      *bufio.Reader
	size   int64
	pos    int64
	limits record.Limits

	entry  *record.Entry
	offset int64
	length uint32

	torn bool
	err  error
	done bool
}

func newIterator(id uint64, src io.Reader, size int64, limits record.Limits) *Iterator {
	return &Iterator{
		id:     id,
		r:      bufio.NewReaderSize(src, iteratorBufferSize),
		size:   size,
		limits: limits,
	}
}

func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	if it.pos >= it.size {
		it.done = true
		return false
	}

	remaining := it.size - it.pos
	if remaining >= record.HEADER_SIZE {
		if hdr, err := it.r.Peek(record.HEADER_SIZE); err == nil {
			h := record.UnmarshalHeader(hdr)
			if h.KeySize == 0 && h.ValueSize == 0 {
				return it.stopAtZeroes()
			}
			if h.TotalSize() > uint64(remaining) && !it.limits.Allows(h) {
				it.done = true
				it.entry = nil
				it.err = fmt.Errorf("segment %d offset %d: %w (key %d, value %d)",
					it.id, it.pos, record.ErrInvalidHeader, h.KeySize, h.ValueSize)
				return false
			}
		}
	}

	e, n, err := record.ReadEntry(it.r, remaining)
	if err == nil {
		it.entry = e
		it.offset = it.pos
		it.length = n
		it.pos += int64(n)
		return true
	}

	it.done = true
	it.entry = nil

	switch {
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, record.ErrInsufficientBuffer):
		it.torn = true
	case errors.Is(err, record.ErrInvalidCRC):
		if it.pos+int64(n) >= it.size {
			it.torn = true
		} else {
			it.err = fmt.Errorf("segment %d offset %d: %w", it.id, it.pos, err)
		}
	default:
		it.err = fmt.Errorf("segment %d offset %d: %w", it.id, it.pos, err)
	}
	return false
}

// stopAtZeroes ends the scan at a header of zeroes. Torn if nothing but zeroes
// follows, corrupt otherwise.
func (it *Iterator) stopAtZeroes() bool {
	it.done = true
	it.entry = nil

	buf := make([]byte, 4096)
	left := it.size - it.pos
	for left > 0 {
		n := int64(len(buf))
		if n > left {
			n = left
		}
		if _, err := io.ReadFull(it.r, buf[:n]); err != nil {
			it.err = fmt.Errorf("segment %d offset %d: %w", it.id, it.pos, err)
			return false
		}
		for _, b := range buf[:n] {
			if b != 0 {
				it.err = fmt.Errorf("segment %d offset %d: %w", it.id, it.pos, record.ErrInvalidHeader)
				return false
			}
		}
		left -= n
	}
	it.torn = true
	return false
}

// Entry returns the record decoded by the last successful Next.
func (it *Iterator) Entry() *record.Entry {
	return it.entry
}

// Offset is where the current record begins.
func (it *Iterator) Offset() int64 {
	return it.offset
}

// Length is the encoded size of the current record.
func (it *Iterator) Length() uint32 {
	return it.length
}

// Torn reports whether the scan ended on an incomplete trailing record.
func (it *Iterator) Torn() bool {
	return it.torn
}

// ValidSize is the number of bytes covered by records yielded so far.
func (it *Iterator) ValidSize() int64 {
	return it.pos
}

func (it *Iterator) Err() error {
	return it.err
}
