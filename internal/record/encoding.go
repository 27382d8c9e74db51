package record

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"lightcask/pkg"
)

var ErrCorrupt = errors.New("corrupt record")
var ErrInvalidCRC = fmt.Errorf("%w: invalid CRC", ErrCorrupt)
var ErrInsufficientBuffer = fmt.Errorf("%w: declared length exceeds available bytes", ErrCorrupt)
var ErrInvalidHeader = fmt.Errorf("%w: header declares impossible lengths", ErrCorrupt)

var ErrEmptyKey = errors.New("key should not be empty")

// Checksum computes the CRC-32 (IEEE) of the concatenation of parts.
func Checksum(parts ...[]byte) uint32 {
	var crc uint32
	for _, p := range parts {
		crc = crc32.Update(crc, crc32.IEEETable, p)
	}
	return crc
}

func now() uint32 {
	return uint32(time.Now().Unix())
}

// NewEntry builds a live entry stamped with the current time.
func NewEntry(key, value []byte) *Entry {
	if value == nil {
		value = []byte{}
	}
	return &Entry{
		Key:       key,
		Value:     value,
		Timestamp: now(),
		Checksum:  Checksum(key, value),
	}
}

// NewTombstone builds the deletion marker for key.
func NewTombstone(key []byte) *Entry {
	return &Entry{
		Key:       key,
		Timestamp: now(),
		Checksum:  Checksum(key),
		Tombstone: true,
	}
}

func (e *Entry) Size() uint32 {
	if e.Tombstone {
		return OVERHEAD + uint32(len(e.Key))
	}
	return OVERHEAD + uint32(len(e.Key)) + uint32(len(e.Value))
}

// IsValid recomputes the checksum over key and value.
func (e *Entry) IsValid() bool {
	if e.Tombstone {
		return e.Checksum == Checksum(e.Key)
	}
	return e.Checksum == Checksum(e.Key, e.Value)
}

/**
 * Marshals the entry into dest.
 * Layout: [KeySize(4)][ValueSize(4)][Key][Value][Timestamp(4)][CRC(4)]
 * Returns the number of bytes written, or ErrInsufficientBuffer if dest is too small.
 */
func (e *Entry) MarshalTo(dest []byte) (int, error) {
	if len(e.Key) == 0 {
		return 0, ErrEmptyKey
	}

	requiredSize := e.Size()
	if len(dest) < int(requiredSize) {
		return 0, ErrInsufficientBuffer
	}

	keyLength := uint32(len(e.Key))
	valueLength := uint32(len(e.Value))
	if e.Tombstone {
		valueLength = 0
		pkg.Encod.PutUint32(dest[4:8], TOMBSTONE_SIZE)
	} else {
		pkg.Encod.PutUint32(dest[4:8], valueLength)
	}
	pkg.Encod.PutUint32(dest[0:4], keyLength)

	pos := uint32(HEADER_SIZE)
	copy(dest[pos:pos+keyLength], e.Key)
	pos += keyLength
	copy(dest[pos:pos+valueLength], e.Value)
	pos += valueLength

	pkg.Encod.PutUint32(dest[pos:pos+TIMESTAMP_BYTES], e.Timestamp)
	pos += TIMESTAMP_BYTES
	pkg.Encod.PutUint32(dest[pos:pos+CRC_BYTES], e.Checksum)

	return int(requiredSize), nil
}

// Encode returns the on-disk bytes of the entry.
func (e *Entry) Encode() ([]byte, error) {
	buf := make([]byte, e.Size())
	if _, err := e.MarshalTo(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Encode builds a fresh entry for key and value and returns its on-disk bytes.
func Encode(key, value []byte) ([]byte, error) {
	return NewEntry(key, value).Encode()
}

/**
 * Unmarshals the fixed header. Header has no pointer fields so it stays on the stack.
 * source must hold at least HEADER_SIZE bytes.
 */
func UnmarshalHeader(source []byte) Header {
	return Header{
		KeySize:   pkg.Encod.Uint32(source[0:4]),
		ValueSize: pkg.Encod.Uint32(source[4:8]),
	}
}

/**
 * Unmarshals one entry from src and validates its checksum.
 * Key and Value alias src. Use Decode for owned copies.
 */
func UnmarshalInto(src []byte, e *Entry) (int, error) {
	if len(src) < HEADER_SIZE {
		return 0, ErrInsufficientBuffer
	}

	h := UnmarshalHeader(src)
	total := h.TotalSize()
	if uint64(len(src)) < total {
		return 0, ErrInsufficientBuffer
	}

	keyEnd := HEADER_SIZE + uint64(h.KeySize)
	valEnd := keyEnd + uint64(h.BodySize())

	e.Key = src[HEADER_SIZE:keyEnd]
	e.Value = src[keyEnd:valEnd]
	e.Tombstone = h.IsTombstone()
	e.Timestamp = pkg.Encod.Uint32(src[valEnd : valEnd+TIMESTAMP_BYTES])
	e.Checksum = pkg.Encod.Uint32(src[valEnd+TIMESTAMP_BYTES : total])

	if len(e.Key) == 0 || !e.IsValid() {
		return 0, ErrInvalidCRC
	}
	if e.Tombstone {
		e.Value = nil
	}

	return int(total), nil
}

// Decode parses one entry from the front of buf into freshly allocated slices.
func Decode(buf []byte) (*Entry, error) {
	var e Entry
	if _, err := UnmarshalInto(buf, &e); err != nil {
		return nil, err
	}
	e.Key = append([]byte(nil), e.Key...)
	if !e.Tombstone {
		e.Value = append([]byte{}, e.Value...)
	}
	return &e, nil
}

/**
 * Reads exactly one entry from r, pulling only the bytes it needs.
 * limit caps the declared record size; a larger declaration is reported as
 * ErrInsufficientBuffer without allocating. A clean end of stream returns io.EOF,
 * a stream ending mid-record returns io.ErrUnexpectedEOF.
 */
func ReadEntry(r io.Reader, limit int64) (*Entry, uint32, error) {
	var hdr [HEADER_SIZE]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, 0, err
	}

	h := UnmarshalHeader(hdr[:])
	total := h.TotalSize()
	if total > uint64(limit) {
		return nil, 0, ErrInsufficientBuffer
	}

	buf := make([]byte, total)
	copy(buf, hdr[:])
	if _, err := io.ReadFull(r, buf[HEADER_SIZE:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, 0, err
	}

	var e Entry
	if _, err := UnmarshalInto(buf, &e); err != nil {
		return nil, uint32(total), err
	}
	return &e, uint32(total), nil
}
