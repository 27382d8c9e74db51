// Package store is the storage engine: an append-only set of segments plus an
// in-memory index pointing at the latest record of every live key.
//
// One exclusive lock guards the active segment, the index and the sealed list.
// Put, Delete and rotation take it for writing; Get takes it for reading, so a
// reader never observes a half-written tail. Compact copies live records
// outside the lock and only takes it to reserve ids and to swap.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"lightcask/internal/index"
	"lightcask/internal/record"
	"lightcask/internal/resource"
	"lightcask/internal/segment"
)

type Store struct {
	mu        sync.RWMutex
	compactMu sync.Mutex

	dir    string
	opts   Options
	logger *slog.Logger
	lock   *dirLock

	// active is the only segment receiving appends.
	// It is never handed to the cache.
	active *segment.Segment

	// sealed holds the ids of read-only segments in ascending order.
	sealed []uint64
	sizes  map[uint64]int64

	index *index.Index
	cache *resource.SegmentCache

	closed   bool
	stopSync chan struct{}
	wg       sync.WaitGroup
}

// Stats is a point-in-time summary used by compaction policy and INFO.
type Stats struct {
	Keys           int
	Segments       int
	ActiveSegment  uint64
	LiveBytes      int64
	TotalBytes     int64
	SealedSegments []uint64
}

// StaleBytes is the space compaction could reclaim.
func (st Stats) StaleBytes() int64 {
	return st.TotalBytes - st.LiveBytes
}

// Open locks dir, rebuilds the index from its segments and prepares the active segment.
func Open(dir string, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	lock, err := lockDir(dir)
	if err != nil {
		return nil, err
	}

	s := &Store{
		dir:      dir,
		opts:     opts,
		logger:   opts.Logger.With("dir", dir),
		lock:     lock,
		sizes:    make(map[uint64]int64),
		index:    index.New(),
		cache:    resource.NewSegmentCache(opts.OpenSegmentCacheSize),
		stopSync: make(chan struct{}),
	}

	if err := s.recover(); err != nil {
		if s.active != nil {
			_ = s.active.Close()
		}
		_ = s.cache.Close()
		_ = lock.release()
		return nil, err
	}

	if opts.SyncMode == SyncBatch {
		s.wg.Add(1)
		go s.syncLoop()
	}

	return s, nil
}

/* scanSegments lists segment ids in dir in ascending order. */
func (s *Store) scanSegments() ([]uint64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var ids []uint64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, segment.SEGMENT_EXT):
			id, err := segment.ParseID(name, segment.SEGMENT_EXT)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		case strings.HasSuffix(name, segment.COMPACT_EXT):
			// left behind by an interrupted compaction; the old segments are intact
			s.logger.Warn("removing unfinished compaction output", "file", name)
			id, err := segment.ParseID(name, segment.COMPACT_EXT)
			if err != nil {
				return nil, err
			}
			if err := os.Remove(segment.CompactPath(s.dir, id)); err != nil {
				return nil, err
			}
		}
	}

	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})
	return ids, nil
}

// recover replays every segment in id order into the index.
func (s *Store) recover() error {
	ids, err := s.scanSegments()
	if err != nil {
		return fmt.Errorf("scan segments: %w", err)
	}

	for i, id := range ids {
		newest := i == len(ids)-1

		var seg *segment.Segment
		if newest {
			seg, err = segment.Open(s.dir, id)
		} else {
			seg, err = segment.OpenSealed(s.dir, id)
		}
		if err != nil {
			return err
		}

		it := seg.Iterate(s.limits())
		for it.Next() {
			e := it.Entry()
			if e.Tombstone {
				s.index.Remove(e.Key)
			} else {
				s.index.Set(e.Key, index.Location{SegmentID: id, Offset: it.Offset(), Length: it.Length()})
			}
		}

		if err := it.Err(); err != nil {
			seg.Close()
			return fmt.Errorf("recover segment %d: %w", id, err)
		}

		if it.Torn() {
			if !newest {
				seg.Close()
				return fmt.Errorf("%w: segment %d ends with an incomplete record at offset %d",
					ErrCorrupt, id, it.ValidSize())
			}
			s.logger.Warn("dropping incomplete trailing record",
				"segment", id, "valid_size", it.ValidSize(), "file_size", seg.Size())
			if err := seg.Truncate(it.ValidSize()); err != nil {
				seg.Close()
				return err
			}
		}

		if newest {
			s.active = seg
			continue
		}

		s.sealed = append(s.sealed, id)
		s.sizes[id] = seg.Size()
		// keep the freshly mapped segment around for reads
		_, release, err := s.cache.GetOrLoad(id, func() (*segment.Segment, error) { return seg, nil })
		if err != nil {
			return err
		}
		release()
	}

	if s.active == nil {
		seg, err := segment.Create(s.dir, 0)
		if err != nil {
			return err
		}
		s.active = seg
	} else if s.active.Size() >= s.opts.MaxSegmentBytes {
		if err := s.rotateLocked(s.active.ID() + 1); err != nil {
			return err
		}
	}

	s.logger.Info("store opened",
		"segments", len(s.sealed)+1,
		"active", s.active.ID(),
		"keys", s.index.Len())
	return nil
}

// Get returns the value stored for key, or ErrNotFound.
func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	loc, ok := s.index.Get(key)
	if !ok {
		return nil, ErrNotFound
	}

	e, err := s.readLocked(loc)
	if err != nil {
		return nil, err
	}
	if e.Tombstone || !bytes.Equal(e.Key, key) {
		return nil, fmt.Errorf("%w: index entry for %q points at segment %d offset %d holding another record",
			ErrCorrupt, key, loc.SegmentID, loc.Offset)
	}
	return e.Value, nil
}

// Has reports whether key is live.
func (s *Store) Has(key []byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrClosed
	}
	_, ok := s.index.Get(key)
	return ok, nil
}

func (s *Store) Put(key, value []byte) error {
	if err := s.checkKey(key); err != nil {
		return err
	}
	if len(value) > s.opts.MaxValueSize {
		return fmt.Errorf("%w (%d bytes)", ErrValueTooLarge, s.opts.MaxValueSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return s.appendLocked(record.NewEntry(key, value))
}

// Delete writes a tombstone for key. An absent key is not an error unless
// StrictDelete is set, in which case nothing is written and ErrNotFound returned.
func (s *Store) Delete(key []byte) error {
	if err := s.checkKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.opts.StrictDelete {
		if _, ok := s.index.Get(key); !ok {
			return ErrNotFound
		}
	}
	return s.appendLocked(record.NewTombstone(key))
}

func (s *Store) checkKey(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if len(key) > s.opts.MaxKeySize {
		return fmt.Errorf("%w (%d bytes)", ErrKeyTooLarge, s.opts.MaxKeySize)
	}
	return nil
}

// appendLocked writes e to the active segment, updates the index and rotates when full.
func (s *Store) appendLocked(e *record.Entry) error {
	offset, n, err := s.active.Append(e)
	if err != nil {
		return err
	}

	if s.opts.SyncMode == SyncAlways {
		if err := s.active.Sync(); err != nil {
			return fmt.Errorf("sync segment %d: %w", s.active.ID(), err)
		}
	}

	if e.Tombstone {
		s.index.Remove(e.Key)
	} else {
		s.index.Set(e.Key, index.Location{SegmentID: s.active.ID(), Offset: offset, Length: n})
	}

	if s.active.Size() >= s.opts.MaxSegmentBytes {
		return s.rotateLocked(s.active.ID() + 1)
	}
	return nil
}

// rotateLocked seals the active segment and starts segment nextID.
// The old segment is synced before the new file exists, so only the newest
// segment can ever end in a torn record.
func (s *Store) rotateLocked(nextID uint64) error {
	old := s.active
	if err := old.Sync(); err != nil {
		return err
	}

	next, err := segment.Create(s.dir, nextID)
	if err != nil {
		return err
	}
	if err := old.Seal(); err != nil {
		_ = next.Remove()
		return err
	}
	if err := old.Close(); err != nil {
		_ = next.Remove()
		return err
	}

	s.sealed = append(s.sealed, old.ID())
	s.sizes[old.ID()] = old.Size()
	s.active = next

	s.logger.Debug("rolled segment", "sealed", old.ID(), "active", nextID, "sealed_size", old.Size())
	return nil
}

// limits are the bounds every record this store accepts stays within.
func (s *Store) limits() record.Limits {
	return record.Limits{
		MaxKeySize:   uint32(s.opts.MaxKeySize),
		MaxValueSize: uint32(s.opts.MaxValueSize),
	}
}

// readLocked fetches the record at loc. The caller holds s.mu.
func (s *Store) readLocked(loc index.Location) (*record.Entry, error) {
	if loc.SegmentID == s.active.ID() {
		return s.active.ReadAt(loc.Offset, loc.Length)
	}
	return s.readSealed(loc)
}

// readSealed reads from an immutable segment through the cache.
func (s *Store) readSealed(loc index.Location) (*record.Entry, error) {
	seg, release, err := s.cache.GetOrLoad(loc.SegmentID, func() (*segment.Segment, error) {
		return segment.OpenSealed(s.dir, loc.SegmentID)
	})
	if err != nil {
		return nil, err
	}
	defer release()

	return seg.ReadAt(loc.Offset, loc.Length)
}

// Range calls fn with every live key and value under a consistent snapshot.
// Writers are blocked until Range returns.
func (s *Store) Range(fn func(key, value []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	var err error
	s.index.Range(func(key []byte, loc index.Location) bool {
		var e *record.Entry
		if e, err = s.readLocked(loc); err != nil {
			return false
		}
		err = fn(key, e.Value)
		return err == nil
	})
	return err
}

// Len is the number of live keys. A closed store reports 0.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.index.Len()
}

func (s *Store) Dir() string {
	return s.dir
}

// Stats describes the store's segments and keys. A closed store reports the zero Stats.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Stats{}
	}

	st := Stats{
		Keys:           s.index.Len(),
		Segments:       len(s.sealed) + 1,
		LiveBytes:      s.index.LiveBytes(),
		SealedSegments: append([]uint64(nil), s.sealed...),
	}
	if s.active != nil {
		st.ActiveSegment = s.active.ID()
		st.TotalBytes = s.active.Size()
	}
	for _, size := range s.sizes {
		st.TotalBytes += size
	}
	return st
}

// Sync flushes the active segment to stable storage.
func (s *Store) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	return s.active.Sync()
}

func (s *Store) syncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Sync(); err != nil && !errors.Is(err, ErrClosed) {
				s.logger.Error("background sync failed", "error", err)
			}
		case <-s.stopSync:
			return
		}
	}
}

// Close flushes the active segment, releases every file handle and the directory lock.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	close(s.stopSync)
	s.mu.Unlock()

	s.wg.Wait()

	// let an in-flight compaction notice the close and clean up
	s.compactMu.Lock()
	defer s.compactMu.Unlock()

	err := s.active.Close()
	if cerr := s.cache.Close(); err == nil {
		err = cerr
	}
	if lerr := s.lock.release(); err == nil {
		err = lerr
	}

	s.logger.Info("store closed")
	return err
}
