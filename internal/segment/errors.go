package segment

import "errors"

var (
	ErrSealed           = errors.New("segment is sealed")
	ErrClosed           = errors.New("segment is closed")
	ErrOffsetOutOfRange = errors.New("offset out of range")
	ErrInvalidName      = errors.New("invalid segment file name")
)
