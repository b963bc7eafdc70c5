package learner

import (
	"sync"
)

// cachedQ is one in-memory Q-table entry. The cache is write-through with
// bounded staleness: dirty entries are flushed to the durable store every
// UpdateFrequency updates.
type cachedQ struct {
	stateHash  string
	actionHash string
	value      float64
	visits     int64
	confidence float64
	stateData  map[string]string
	actionData map[string]interface{}
	dirty      bool
	element    *lruElement
}

// LRU list implementation.
type lruElement struct {
	key  string
	prev *lruElement
	next *lruElement
}

type lruList struct {
	head *lruElement
	tail *lruElement
	size int
}

func newLRUList() *lruList {
	head := &lruElement{}
	tail := &lruElement{}
	head.next = tail
	tail.prev = head
	return &lruList{head: head, tail: tail}
}

func (l *lruList) moveToFront(elem *lruElement) {
	if elem.prev == l.head {
		return // Already at front
	}
	elem.prev.next = elem.next
	elem.next.prev = elem.prev
	elem.prev = l.head
	elem.next = l.head.next
	l.head.next.prev = elem
	l.head.next = elem
}

func (l *lruList) pushFront(key string) *lruElement {
	elem := &lruElement{key: key}
	elem.prev = l.head
	elem.next = l.head.next
	l.head.next.prev = elem
	l.head.next = elem
	l.size++
	return elem
}

func (l *lruList) removeElement(elem *lruElement) {
	elem.prev.next = elem.next
	elem.next.prev = elem.prev
	l.size--
}

func (l *lruList) back() *lruElement {
	if l.tail.prev == l.head {
		return nil
	}
	return l.tail.prev
}

// qtableCache holds the per-process Q-table, indexed by state then action.
// The durable store remains the source of truth; this cache is advisory
// and may be briefly stale.
type qtableCache struct {
	mu         sync.RWMutex
	byState    map[string]map[string]*cachedQ
	flat       map[string]*cachedQ // key: stateHash|actionHash, for LRU bookkeeping
	lru        *lruList
	maxEntries int // 0 means unbounded
}

func newQTableCache(maxEntries int) *qtableCache {
	return &qtableCache{
		byState:    make(map[string]map[string]*cachedQ),
		flat:       make(map[string]*cachedQ),
		lru:        newLRUList(),
		maxEntries: maxEntries,
	}
}

func cacheKey(stateHash, actionHash string) string {
	return stateHash + "|" + actionHash
}

func (c *qtableCache) get(stateHash, actionHash string) (cachedQ, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.flat[cacheKey(stateHash, actionHash)]
	if !ok {
		return cachedQ{}, false
	}
	c.lru.moveToFront(entry.element)
	return *entry, true
}

// hasState reports whether any entries exist for the state.
func (c *qtableCache) hasState(stateHash string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byState[stateHash]) > 0
}

// maxValue returns the maximum cached Q-value over all actions for the
// state, or false when the state is unknown.
func (c *qtableCache) maxValue(stateHash string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	actions := c.byState[stateHash]
	if len(actions) == 0 {
		return 0, false
	}
	first := true
	var max float64
	for _, entry := range actions {
		if first || entry.value > max {
			max = entry.value
			first = false
		}
	}
	return max, true
}

// put inserts or replaces an entry, returning any dirty entries evicted to
// honor the size bound so the caller can persist them.
func (c *qtableCache) put(entry cachedQ) []cachedQ {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(entry.stateHash, entry.actionHash)
	if existing, ok := c.flat[key]; ok {
		element := existing.element
		entry.element = element
		*existing = entry
		c.lru.moveToFront(element)
		return nil
	}

	entry.element = c.lru.pushFront(key)
	stored := entry
	c.flat[key] = &stored
	if c.byState[entry.stateHash] == nil {
		c.byState[entry.stateHash] = make(map[string]*cachedQ)
	}
	c.byState[entry.stateHash][entry.actionHash] = &stored

	var evictedDirty []cachedQ
	for c.maxEntries > 0 && len(c.flat) > c.maxEntries {
		oldest := c.lru.back()
		if oldest == nil {
			break
		}
		evicted := c.flat[oldest.key]
		c.removeLocked(oldest.key, evicted)
		if evicted.dirty {
			evictedDirty = append(evictedDirty, *evicted)
		}
	}
	return evictedDirty
}

func (c *qtableCache) removeLocked(key string, entry *cachedQ) {
	delete(c.flat, key)
	c.lru.removeElement(entry.element)
	if actions := c.byState[entry.stateHash]; actions != nil {
		delete(actions, entry.actionHash)
		if len(actions) == 0 {
			delete(c.byState, entry.stateHash)
		}
	}
}

// takeDirty returns all dirty entries and marks them clean. A failed flush
// ends in degraded mode, so entries are not re-marked.
func (c *qtableCache) takeDirty() []cachedQ {
	c.mu.Lock()
	defer c.mu.Unlock()

	var dirty []cachedQ
	for _, entry := range c.flat {
		if entry.dirty {
			dirty = append(dirty, *entry)
			entry.dirty = false
		}
	}
	return dirty
}

func (c *qtableCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.flat)
}
