package evalcache

import "container/list"

// lruMap is a bounded least-recently-used map. Overflow evicts the
// entry that was touched longest ago.
type lruMap struct {
	capacity int
	order    *list.List // front = most recently used
	entries  map[string]*list.Element
}

type lruEntry struct {
	key   string
	value any
}

func newLRUMap(capacity int) *lruMap {
	return &lruMap{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

func (m *lruMap) get(key string) (any, bool) {
	elem, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	m.order.MoveToFront(elem)
	return elem.Value.(*lruEntry).value, true
}

func (m *lruMap) put(key string, value any) {
	if elem, ok := m.entries[key]; ok {
		elem.Value.(*lruEntry).value = value
		m.order.MoveToFront(elem)
		return
	}
	m.entries[key] = m.order.PushFront(&lruEntry{key: key, value: value})
	if m.order.Len() > m.capacity {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*lruEntry).key)
	}
}

func (m *lruMap) len() int {
	return m.order.Len()
}

func (m *lruMap) reset() {
	m.order.Init()
	m.entries = make(map[string]*list.Element, m.capacity)
}
