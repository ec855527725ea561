package store

import (
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/darasa-app/darasa/internal/common"
)

// memPartitionCap bounds each in-memory fallback partition. Eviction is
// acceptable here: the fallback is a lossy cache for a session where
// durable storage is unavailable, not a durable store.
const memPartitionCap = 512

// memoryStore is the fallback backend used while the sqlite connection
// is degraded. Partitions are created lazily so that records written
// after a mid-session degradation still land somewhere.
type memoryStore struct {
	mu    sync.Mutex
	parts map[string]*memPartition
}

type memPartition struct {
	version int
	recs    *lru.Cache[string, Record]
}

func newMemoryStore() *memoryStore {
	return &memoryStore{parts: make(map[string]*memPartition)}
}

func (m *memoryStore) open(name string, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.parts[name]
	if !ok {
		return m.createLocked(name, version)
	}
	if p.version > version {
		return fmt.Errorf("%w: partition %s is at v%d, requested v%d",
			common.ErrSchemaConflict, name, p.version, version)
	}
	if p.version < version {
		// Memory upgrades are always drop-and-recreate.
		return m.createLocked(name, version)
	}
	return nil
}

func (m *memoryStore) createLocked(name string, version int) error {
	recs, err := lru.New[string, Record](memPartitionCap)
	if err != nil {
		return err
	}
	m.parts[name] = &memPartition{version: version, recs: recs}
	return nil
}

func (m *memoryStore) partition(name string) *memPartition {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.parts[name]; ok {
		return p
	}
	_ = m.createLocked(name, 1)
	return m.parts[name]
}

func (m *memoryStore) put(name string, rec Record) {
	m.partition(name).recs.Add(rec.Key, rec)
}

func (m *memoryStore) get(name, key string) (*Record, error) {
	rec, ok := m.partition(name).recs.Get(key)
	if !ok {
		return nil, common.ErrNotFound
	}
	return &rec, nil
}

func (m *memoryStore) getAll(name string) []Record {
	p := m.partition(name)
	keys := p.recs.Keys()
	sort.Strings(keys)

	result := make([]Record, 0, len(keys))
	for _, k := range keys {
		if rec, ok := p.recs.Peek(k); ok {
			result = append(result, rec)
		}
	}
	return result
}

func (m *memoryStore) delete(name, key string) {
	m.partition(name).recs.Remove(key)
}

func (m *memoryStore) clear(name string) {
	m.partition(name).recs.Purge()
}

func (m *memoryStore) drop(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.parts, name)
}

func (m *memoryStore) list() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.parts))
	for n := range m.parts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
