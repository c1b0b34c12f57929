// pkg/bitmap/cache.go

package bitmap

type pageItem struct {
	atime uint64
	data  []byte
}

// pageCache keeps recently used bitmap pages in memory. Writes go through to
// the stream, so eviction never loses data.
type pageCache struct {
	capacity int
	clock    uint64
	pages    map[int64]*pageItem
}

func newPageCache(capacity int) *pageCache {
	if capacity < 1 {
		capacity = 1
	}
	return &pageCache{
		capacity: capacity,
		pages:    make(map[int64]*pageItem),
	}
}

func (c *pageCache) load(idx int64) []byte {
	if item, ok := c.pages[idx]; ok {
		c.clock++
		item.atime = c.clock
		return item.data
	}
	return nil
}

func (c *pageCache) cache(idx int64, data []byte) {
	if _, ok := c.pages[idx]; ok {
		return
	}
	if len(c.pages) >= c.capacity {
		c.cleanup()
	}
	c.clock++
	c.pages[idx] = &pageItem{c.clock, data}
}

func (c *pageCache) stats() (int64, int64) {
	var used int64
	for _, item := range c.pages {
		used += int64(len(item.data))
	}
	return int64(len(c.pages)), used
}

func (c *pageCache) invalidate() {
	c.pages = make(map[int64]*pageItem)
}

// evict the least recently used half of the pages
func (c *pageCache) cleanup() {
	for len(c.pages) >= c.capacity {
		var oldest int64 = -1
		var atime uint64
		for k, v := range c.pages {
			if oldest < 0 || v.atime < atime {
				oldest, atime = k, v.atime
			}
		}
		logger.Debugf("evict bitmap page %d", oldest)
		delete(c.pages, oldest)
		if len(c.pages) <= c.capacity/2 {
			break
		}
	}
}
