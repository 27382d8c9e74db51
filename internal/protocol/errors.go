package protocol

import "errors"

var (
	// ErrProtocol is wrapped by every malformed-frame error.
	ErrProtocol = errors.New("protocol error")

	ErrInvalidLength     = errors.New("invalid length")
	ErrInvalidInteger    = errors.New("invalid integer")
	ErrMissingCRLF       = errors.New("line not terminated by CRLF")
	ErrBulkNotTerminated = errors.New("bulk string not followed by CRLF")
	ErrIncompleteArray   = errors.New("not enough array elements")
	ErrUnknownPrefix     = errors.New("unknown type prefix")
	ErrFrameTooLarge     = errors.New("frame exceeds size limit")
	ErrUnexpectedEOF     = errors.New("stream ended mid-frame")
)
