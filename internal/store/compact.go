package store

import (
	"fmt"
	"sort"
	"time"

	"lightcask/internal/index"
	"lightcask/internal/segment"
)

// compactionPlan is what the first locked phase hands to the rewrite.
type compactionPlan struct {
	snapshot *index.Index
	// boundary is the highest id being rewritten. Every record a writer
	// appends after the plan is made lands above lastID.
	boundary uint64
	firstID  uint64
	lastID   uint64
	oldIDs   []uint64
}

type liveRecord struct {
	key []byte
	loc index.Location
}

/**
 * Compact rewrites every sealed segment into fresh segments holding only the
 * records the index points at, then deletes the old segments.
 * Reads and writes continue while records are copied; the store is locked
 * only to reserve segment ids and to swap index entries.
 */
func (s *Store) Compact() error {
	s.compactMu.Lock()
	defer s.compactMu.Unlock()

	start := time.Now()

	plan, err := s.beginCompaction()
	if err != nil {
		return err
	}
	if plan == nil {
		return nil
	}

	outputs, tmp, err := s.rewrite(plan)
	if err != nil {
		s.discard(outputs)
		return err
	}

	reclaimed, err := s.finishCompaction(plan, outputs, tmp)
	if err != nil {
		return err
	}

	if err := s.removeSegments(plan.oldIDs); err != nil {
		return err
	}

	s.logger.Info("compaction finished",
		"rewritten", len(plan.oldIDs),
		"written", len(outputs),
		"keys", tmp.Len(),
		"reclaimed_bytes", reclaimed,
		"elapsed", time.Since(start))
	return nil
}

// beginCompaction snapshots the index and moves the active segment past a
// block of ids reserved for the compaction output.
func (s *Store) beginCompaction() (*compactionPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if len(s.sealed) == 0 && s.active.Size() == 0 {
		return nil, nil
	}

	snapshot := s.index.Clone()
	boundary := s.active.ID()
	reserve := uint64(snapshot.LiveBytes()/s.opts.MaxSegmentBytes) + 2

	if err := s.rotateLocked(boundary + reserve + 1); err != nil {
		return nil, fmt.Errorf("compaction: %w", err)
	}

	return &compactionPlan{
		snapshot: snapshot,
		boundary: boundary,
		firstID:  boundary + 1,
		lastID:   boundary + reserve,
		oldIDs:   append([]uint64(nil), s.sealed...),
	}, nil
}

// rewrite copies the snapshot's records into new segments. It runs without s.mu.
func (s *Store) rewrite(plan *compactionPlan) ([]*segment.Segment, *index.Index, error) {
	live := make([]liveRecord, 0, plan.snapshot.Len())
	plan.snapshot.Range(func(key []byte, loc index.Location) bool {
		live = append(live, liveRecord{key: key, loc: loc})
		return true
	})

	// read every source segment front to back
	sort.Slice(live, func(i, j int) bool {
		if live[i].loc.SegmentID != live[j].loc.SegmentID {
			return live[i].loc.SegmentID < live[j].loc.SegmentID
		}
		return live[i].loc.Offset < live[j].loc.Offset
	})

	tmp := index.New()
	var outputs []*segment.Segment
	var out *segment.Segment
	nextID := plan.firstID

	for _, rec := range live {
		if out == nil || out.Size() >= s.opts.MaxSegmentBytes {
			if nextID > plan.lastID {
				return outputs, nil, fmt.Errorf("compaction: output exceeded reserved segment ids %d-%d",
					plan.firstID, plan.lastID)
			}
			seg, err := segment.CreateCompact(s.dir, nextID)
			if err != nil {
				return outputs, nil, err
			}
			outputs = append(outputs, seg)
			out = seg
			nextID++
		}

		e, err := s.readSealed(rec.loc)
		if err != nil {
			return outputs, nil, fmt.Errorf("compaction: read %q: %w", rec.key, err)
		}

		offset, n, err := out.Append(e)
		if err != nil {
			return outputs, nil, err
		}
		tmp.Set(rec.key, index.Location{SegmentID: out.ID(), Offset: offset, Length: n})
	}

	for _, seg := range outputs {
		if err := seg.Seal(); err != nil {
			return outputs, nil, err
		}
	}
	for _, seg := range outputs {
		if err := seg.Promote(s.dir); err != nil {
			return outputs, nil, err
		}
	}
	if err := segment.SyncDir(s.dir); err != nil {
		return outputs, nil, err
	}

	return outputs, tmp, nil
}

// finishCompaction points the index at the rewritten records and retires the
// old segments. Keys written since the snapshot keep their newer location.
func (s *Store) finishCompaction(plan *compactionPlan, outputs []*segment.Segment, tmp *index.Index) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.discard(outputs)
		return 0, ErrClosed
	}

	tmp.Range(func(key []byte, loc index.Location) bool {
		if cur, ok := s.index.Get(key); ok && cur.SegmentID <= plan.boundary {
			s.index.Set(key, loc)
		}
		return true
	})

	var before, after int64
	for _, id := range plan.oldIDs {
		before += s.sizes[id]
		delete(s.sizes, id)
		s.cache.Evict(id)
	}

	sealed := make([]uint64, 0, len(outputs)+len(s.sealed))
	for _, seg := range outputs {
		s.sizes[seg.ID()] = seg.Size()
		after += seg.Size()
		sealed = append(sealed, seg.ID())
		_ = seg.Close()
	}
	for _, id := range s.sealed {
		if id > plan.boundary {
			sealed = append(sealed, id)
		}
	}
	s.sealed = sealed

	return before - after, nil
}

// removeSegments deletes retired segments oldest first, so a crash part way
// never leaves a value without the tombstone that followed it.
func (s *Store) removeSegments(ids []uint64) error {
	for _, id := range ids {
		if err := segment.RemoveFiles(s.dir, id); err != nil {
			return fmt.Errorf("compaction: remove segment %d: %w", id, err)
		}
		if err := segment.SyncDir(s.dir); err != nil {
			return err
		}
	}
	return nil
}

// discard deletes the output of a compaction that did not complete.
func (s *Store) discard(outputs []*segment.Segment) {
	for _, seg := range outputs {
		if err := seg.Remove(); err != nil {
			s.logger.Warn("failed to remove compaction output", "segment", seg.ID(), "error", err)
		}
	}
}
