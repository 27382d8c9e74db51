// Package index holds the in-memory key directory: for every live key, the
// location of its most recent record. It is rebuilt from segments on open and
// never persisted. Callers serialize access; the index has no lock of its own.
package index

// Location points at one encoded record.
type Location struct {
	SegmentID uint64
	Offset    int64
	Length    uint32
}

type Index struct {
	entries   map[string]Location
	liveBytes int64
}

func New() *Index {
	return &Index{entries: make(map[string]Location)}
}

// Set inserts or overwrites the location for key.
func (i *Index) Set(key []byte, loc Location) {
	if old, ok := i.entries[string(key)]; ok {
		i.liveBytes -= int64(old.Length)
	}
	i.entries[string(key)] = loc
	i.liveBytes += int64(loc.Length)
}

// Remove drops key and returns the location it had.
func (i *Index) Remove(key []byte) (Location, bool) {
	old, ok := i.entries[string(key)]
	if !ok {
		return Location{}, false
	}
	delete(i.entries, string(key))
	i.liveBytes -= int64(old.Length)
	return old, true
}

func (i *Index) Get(key []byte) (Location, bool) {
	loc, ok := i.entries[string(key)]
	return loc, ok
}

// Keys returns every live key in no particular order.
func (i *Index) Keys() [][]byte {
	keys := make([][]byte, 0, len(i.entries))
	for k := range i.entries {
		keys = append(keys, []byte(k))
	}
	return keys
}

// Range calls fn for every entry until fn returns false.
func (i *Index) Range(fn func(key []byte, loc Location) bool) {
	for k, loc := range i.entries {
		if !fn([]byte(k), loc) {
			return
		}
	}
}

func (i *Index) Len() int {
	return len(i.entries)
}

// LiveBytes is the total encoded size of the records the index points at.
func (i *Index) LiveBytes() int64 {
	return i.liveBytes
}

// Clone returns an independent copy, used as a compaction snapshot.
func (i *Index) Clone() *Index {
	c := &Index{
		entries:   make(map[string]Location, len(i.entries)),
		liveBytes: i.liveBytes,
	}
	for k, v := range i.entries {
		c.entries[k] = v
	}
	return c
}
