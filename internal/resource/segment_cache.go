package resource

import (
	"container/list"
	"sync"

	"lightcask/internal/segment"
)

// SegmentCache keeps sealed segments open for reads.
// It limits the number of open file descriptors and mappings. A segment evicted
// while a reader still holds it is closed when the last reader releases it.
type SegmentCache struct {
	mu       sync.Mutex
	capacity int
	lruList  *list.List
	items    map[uint64]*list.Element // Key: segment id
}

type cacheItem struct {
	id      uint64
	seg     *segment.Segment
	refs    int
	evicted bool
}

func NewSegmentCache(capacity int) *SegmentCache {
	if capacity <= 0 {
		capacity = 64
	}
	return &SegmentCache{
		capacity: capacity,
		lruList:  list.New(),
		items:    make(map[uint64]*list.Element),
	}
}

/* GetOrLoad returns the cached segment for id, loading it on a miss.
 * The caller must call release once it is done reading. */
func (c *SegmentCache) GetOrLoad(
	id uint64,
	loader func() (*segment.Segment, error),
) (*segment.Segment, func(), error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	// If the segment is in the cache, move it to the front of the list.
	if elem, ok := c.items[id]; ok {
		c.lruList.MoveToFront(elem)
		item := elem.Value.(*cacheItem)
		item.refs++
		return item.seg, c.releaser(item), nil
	}

	seg, err := loader()
	if err != nil {
		return nil, nil, err
	}

	for c.lruList.Len() >= c.capacity {
		c.evictOldest()
	}

	item := &cacheItem{id: id, seg: seg, refs: 1}
	c.items[id] = c.lruList.PushFront(item)

	return seg, c.releaser(item), nil
}

func (c *SegmentCache) releaser(item *cacheItem) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			item.refs--
			if item.evicted && item.refs == 0 {
				_ = item.seg.Close()
			}
		})
	}
}

// Evict drops segment id from the cache, e.g. before its file is deleted.
func (c *SegmentCache) Evict(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[id]; ok {
		c.remove(elem)
	}
}

// Len is the number of cached segments.
func (c *SegmentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

func (c *SegmentCache) evictOldest() {
	elem := c.lruList.Back()
	if elem == nil {
		return
	}
	c.remove(elem)
}

func (c *SegmentCache) remove(elem *list.Element) {
	c.lruList.Remove(elem)
	item := elem.Value.(*cacheItem)
	delete(c.items, item.id)

	item.evicted = true
	if item.refs == 0 {
		_ = item.seg.Close()
	}
}

func (c *SegmentCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for e := c.lruList.Front(); e != nil; e = e.Next() {
		item := e.Value.(*cacheItem)
		item.evicted = true
		if item.refs == 0 {
			_ = item.seg.Close()
		}
	}
	c.lruList.Init()
	c.items = make(map[uint64]*list.Element)
	return nil
}
