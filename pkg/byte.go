package pkg

import "encoding/binary"

const (
	// Size lengths (in bytes)
	LenKeySize   = 4
	LenValueSize = 4
	LenTimestamp = 4
	LenCRC       = 4
)

// Encoding alias (segments are little endian on disk)
var Encod = binary.LittleEndian
