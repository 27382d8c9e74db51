package store

import (
	"errors"

	"lightcask/internal/record"
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrLocked        = errors.New("database directory is locked by another process")
	ErrClosed        = errors.New("store is closed")
	ErrKeyTooLarge   = errors.New("key exceeds maximum size")
	ErrValueTooLarge = errors.New("value exceeds maximum size")

	ErrEmptyKey = record.ErrEmptyKey
	ErrCorrupt  = record.ErrCorrupt
)
