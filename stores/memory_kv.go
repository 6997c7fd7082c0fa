package stores

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryKV implements KV with an in-memory map for testing/demo use. The
// inverted index is derived on read so the semantics stay identical to the
// indexed backends.
type MemoryKV struct {
	mu      sync.RWMutex
	records map[Key]Record
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{records: make(map[Key]Record)}
}

func (m *MemoryKV) Put(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[Key{rec.Partition, rec.Sort}] = rec
	return nil
}

func (m *MemoryKV) PutIfAbsent(ctx context.Context, rec Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key{rec.Partition, rec.Sort}
	if _, exists := m.records[key]; exists {
		return false, nil
	}
	m.records[key] = rec
	return true, nil
}

func (m *MemoryKV) Get(ctx context.Context, key Key) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	dup := rec
	return &dup, nil
}

func (m *MemoryKV) QueryPartition(ctx context.Context, q Query) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0)
	for key, rec := range m.records {
		if key.Partition != q.Partition {
			continue
		}
		if q.SortPrefix != "" && !strings.HasPrefix(key.Sort, q.SortPrefix) {
			continue
		}
		if !matchFilters(rec, q) {
			continue
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (m *MemoryKV) QueryIndex(ctx context.Context, value string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0)
	for _, rec := range m.records {
		if rec.Index == value {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return out, nil
}

func (m *MemoryKV) BatchDelete(ctx context.Context, keys []Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.records, key)
	}
	return nil
}

func (m *MemoryKV) Any(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records) > 0, nil
}

func (m *MemoryKV) IndexReady(ctx context.Context) error {
	return nil
}

// matchFilters applies the Action and IndexIn filters in-process; the memory
// backend has nothing to push them down to.
func matchFilters(rec Record, q Query) bool {
	if q.Action != "" && rec.Action != q.Action {
		return false
	}
	if len(q.IndexIn) > 0 {
		found := false
		for _, v := range q.IndexIn {
			if rec.Index == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Partition != recs[j].Partition {
			return recs[i].Partition < recs[j].Partition
		}
		return recs[i].Sort < recs[j].Sort
	})
}
