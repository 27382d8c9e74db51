package record

import (
	"math"

	"lightcask/pkg"
)

const KEY_SIZE_BYTES = pkg.LenKeySize
const VALUE_SIZE_BYTES = pkg.LenValueSize
const TIMESTAMP_BYTES = pkg.LenTimestamp
const CRC_BYTES = pkg.LenCRC

const HEADER_SIZE = KEY_SIZE_BYTES + VALUE_SIZE_BYTES
const TRAILER_SIZE = TIMESTAMP_BYTES + CRC_BYTES
const OVERHEAD = HEADER_SIZE + TRAILER_SIZE

// TOMBSTONE_SIZE is the reserved value length marking a deleted key.
// It keeps a zero-length value distinct from a deletion.
const TOMBSTONE_SIZE = math.MaxUint32

// Header is the fixed-width prefix of an encoded entry.
type Header struct {
	KeySize   uint32
	ValueSize uint32
}

// IsTombstone reports whether the header carries the tombstone sentinel.
func (h Header) IsTombstone() bool {
	return h.ValueSize == TOMBSTONE_SIZE
}

// BodySize is the number of value bytes that follow the key.
func (h Header) BodySize() uint32 {
	if h.IsTombstone() {
		return 0
	}
	return h.ValueSize
}

// TotalSize is the full on-disk length of the entry, trailer included.
func (h Header) TotalSize() uint64 {
	return OVERHEAD + uint64(h.KeySize) + uint64(h.BodySize())
}

// Limits bounds the key and value lengths a header may declare. Zero leaves a field unbounded.
type Limits struct {
	MaxKeySize   uint32
	MaxValueSize uint32
}

// Allows reports whether a writer held to l could have produced h.
// An empty key is never written.
func (l Limits) Allows(h Header) bool {
	if h.KeySize == 0 {
		return false
	}
	if l.MaxKeySize > 0 && h.KeySize > l.MaxKeySize {
		return false
	}
	if !h.IsTombstone() && l.MaxValueSize > 0 && h.ValueSize > l.MaxValueSize {
		return false
	}
	return true
}

type Entry struct {
	Key       []byte
	Value     []byte
	Timestamp uint32 // seconds since epoch
	Checksum  uint32
	Tombstone bool
}
