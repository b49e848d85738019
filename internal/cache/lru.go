package cache

import (
	"container/list"
	"sync"

	"github.com/rustlehq/rustle-plan/internal/model"
)

type lruEntry struct {
	key   string
	plan  *model.ExecutionPlan
	bytes int64
}

// memTier is an in-memory LRU bounded by total estimated byte size.
// A hit takes the read lock for the lookup and then the exclusive lock
// briefly to move the entry to the front, so reads are not wait-free;
// writers take the exclusive lock to splice the list and update the map.
type memTier struct {
	mu        sync.RWMutex
	maxBytes  int64
	curBytes  int64
	ll        *list.List
	index     map[string]*list.Element
}

func newMemTier(maxBytes int64) *memTier {
	return &memTier{
		maxBytes: maxBytes,
		ll:       list.New(),
		index:    make(map[string]*list.Element),
	}
}

func (m *memTier) get(key string) (*model.ExecutionPlan, bool) {
	m.mu.RLock()
	elem, ok := m.index[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}

	m.mu.Lock()
	m.ll.MoveToFront(elem)
	m.mu.Unlock()

	return elem.Value.(*lruEntry).plan, true
}

func (m *memTier) put(key string, plan *model.ExecutionPlan, approxBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.index[key]; ok {
		m.curBytes -= elem.Value.(*lruEntry).bytes
		m.ll.Remove(elem)
		delete(m.index, key)
	}

	entry := &lruEntry{key: key, plan: plan, bytes: approxBytes}
	elem := m.ll.PushFront(entry)
	m.index[key] = elem
	m.curBytes += approxBytes

	for m.curBytes > m.maxBytes && m.ll.Len() > 0 {
		back := m.ll.Back()
		if back == nil {
			break
		}
		evicted := back.Value.(*lruEntry)
		m.ll.Remove(back)
		delete(m.index, evicted.key)
		m.curBytes -= evicted.bytes
	}
}

func (m *memTier) delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.index[key]; ok {
		m.curBytes -= elem.Value.(*lruEntry).bytes
		m.ll.Remove(elem)
		delete(m.index, key)
	}
}

func (m *memTier) deleteIf(pred func(key string) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var toRemove []*list.Element
	for key, elem := range m.index {
		if pred(key) {
			toRemove = append(toRemove, elem)
		}
	}
	for _, elem := range toRemove {
		evicted := elem.Value.(*lruEntry)
		m.ll.Remove(elem)
		delete(m.index, evicted.key)
		m.curBytes -= evicted.bytes
	}
}
