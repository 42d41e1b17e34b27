package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// memoryStore is the bounded in-memory tier: an LRU with per-entry expiry.
// Expired entries are dropped lazily on access and preferentially on eviction.
type memoryStore struct {
	mu    sync.Mutex
	max   int
	ll    *list.List
	items map[string]*list.Element
	now   func() time.Time
}

type memEntry struct {
	key     string
	value   []byte
	expires time.Time
}

func newMemoryStore(max int, now func() time.Time) *memoryStore {
	if max <= 0 {
		max = 1000
	}
	return &memoryStore{
		max:   max,
		ll:    list.New(),
		items: make(map[string]*list.Element),
		now:   now,
	}
}

func (m *memoryStore) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*memEntry)
	if m.expired(e) {
		m.removeElement(el)
		return nil, false
	}
	m.ll.MoveToFront(el)
	return e.value, true
}

func (m *memoryStore) set(key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}

	if el, ok := m.items[key]; ok {
		e := el.Value.(*memEntry)
		e.value = value
		e.expires = expires
		m.ll.MoveToFront(el)
		return
	}

	m.items[key] = m.ll.PushFront(&memEntry{key: key, value: value, expires: expires})
	for m.ll.Len() > m.max {
		m.evict()
	}
}

func (m *memoryStore) delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		m.removeElement(el)
		return true
	}
	return false
}

func (m *memoryStore) deletePrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, el := range m.items {
		if strings.HasPrefix(key, prefix) {
			m.removeElement(el)
			n++
		}
	}
	return n
}

func (m *memoryStore) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}

// evict removes one expired entry if there is one near the tail, otherwise
// the least recently used entry.
func (m *memoryStore) evict() {
	const scan = 8
	el := m.ll.Back()
	for i := 0; el != nil && i < scan; i++ {
		if m.expired(el.Value.(*memEntry)) {
			m.removeElement(el)
			return
		}
		el = el.Prev()
	}
	if back := m.ll.Back(); back != nil {
		m.removeElement(back)
	}
}

func (m *memoryStore) expired(e *memEntry) bool {
	return !e.expires.IsZero() && !m.now().Before(e.expires)
}

func (m *memoryStore) removeElement(el *list.Element) {
	m.ll.Remove(el)
	delete(m.items, el.Value.(*memEntry).key)
}
