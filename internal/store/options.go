package store

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// SyncMode determines when appended records are flushed to stable storage.
type SyncMode int

const (
	// SyncNone leaves flushing to the OS page cache (fastest, least durable).
	SyncNone SyncMode = iota
	// SyncBatch fsyncs the active segment every SyncInterval.
	SyncBatch
	// SyncAlways fsyncs after every write (slowest, most durable).
	SyncAlways
)

func (m SyncMode) String() string {
	switch m {
	case SyncNone:
		return "none"
	case SyncBatch:
		return "batch"
	case SyncAlways:
		return "always"
	default:
		return fmt.Sprintf("SyncMode(%d)", int(m))
	}
}

func ParseSyncMode(s string) (SyncMode, error) {
	switch strings.ToLower(s) {
	case "none":
		return SyncNone, nil
	case "batch":
		return SyncBatch, nil
	case "always":
		return SyncAlways, nil
	default:
		return 0, fmt.Errorf("unknown sync mode %q", s)
	}
}

const (
	DEFAULT_MAX_SEGMENT_BYTES = 64 * 1024 * 1024
	DEFAULT_MAX_KEY_SIZE      = 64 * 1024
	DEFAULT_MAX_VALUE_SIZE    = 16 * 1024 * 1024
	DEFAULT_SEGMENT_CACHE     = 64
	DEFAULT_SYNC_INTERVAL     = time.Second
)

type Options struct {
	// MaxSegmentBytes is the active segment size that triggers rotation.
	MaxSegmentBytes int64
	SyncMode        SyncMode
	// SyncInterval applies to SyncBatch only.
	SyncInterval time.Duration
	// MaxKeySize and MaxValueSize also tell recovery which trailing headers a
	// torn write could have left. Lowering them below sizes already stored
	// makes a torn copy of such a record fail open as corrupt.
	MaxKeySize   int
	MaxValueSize int
	// StrictDelete makes Delete of an absent key fail with ErrNotFound
	// instead of writing a tombstone.
	StrictDelete bool
	// OpenSegmentCacheSize bounds how many sealed segments stay mapped.
	OpenSegmentCacheSize int
	Logger               *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		MaxSegmentBytes:      DEFAULT_MAX_SEGMENT_BYTES,
		SyncMode:             SyncBatch,
		SyncInterval:         DEFAULT_SYNC_INTERVAL,
		MaxKeySize:           DEFAULT_MAX_KEY_SIZE,
		MaxValueSize:         DEFAULT_MAX_VALUE_SIZE,
		OpenSegmentCacheSize: DEFAULT_SEGMENT_CACHE,
		Logger:               slog.Default(),
	}
}

// withDefaults fills unset fields. SyncMode keeps its zero value (SyncNone).
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxSegmentBytes <= 0 {
		o.MaxSegmentBytes = d.MaxSegmentBytes
	}
	if o.SyncInterval <= 0 {
		o.SyncInterval = d.SyncInterval
	}
	if o.MaxKeySize <= 0 {
		o.MaxKeySize = d.MaxKeySize
	}
	if o.MaxValueSize <= 0 {
		o.MaxValueSize = d.MaxValueSize
	}
	if o.OpenSegmentCacheSize <= 0 {
		o.OpenSegmentCacheSize = d.OpenSegmentCacheSize
	}
	if o.Logger == nil {
		o.Logger = d.Logger
	}
	return o
}
