package vector

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}}
}

func (m *MemoryStore) Get(ctx context.Context, unitRef string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[unitRef]
	if !ok {
		return Record{}, false, nil
	}
	return cloneRecord(r), true, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, rec Record) error {
	rec = cloneRecord(rec)
	rec.UpdatedAt = time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.UnitRef] = rec
	return nil
}

func (m *MemoryStore) MarkStale(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[rec.UnitRef]
	if !ok {
		cur = cloneRecord(rec)
		cur.Vector = nil
	}
	cur.Stale = true
	cur.ContentHash = rec.ContentHash
	cur.UpdatedAt = time.Now().UTC()
	m.records[rec.UnitRef] = cur
	return nil
}

func (m *MemoryStore) Search(ctx context.Context, query []float32, k int, f Filter) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}
	m.mu.RLock()
	hits := make([]Hit, 0, len(m.records))
	for _, r := range m.records {
		if len(r.Vector) == 0 || (f.BookID != "" && r.BookID != f.BookID) {
			continue
		}
		hits = append(hits, Hit{
			UnitRef:    r.UnitRef,
			SegmentRef: r.SegmentRef,
			BookID:     r.BookID,
			Kind:       r.Kind,
			Ordinal:    r.Ordinal,
			Score:      Cosine(query, r.Vector),
		})
	}
	m.mu.RUnlock()
	return Rank(hits, k), nil
}

func (m *MemoryStore) ListStale(ctx context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0)
	for _, r := range m.records {
		if r.Stale {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitRef < out[j].UnitRef })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) DeleteBook(ctx context.Context, bookID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ref, r := range m.records {
		if r.BookID == bookID {
			delete(m.records, ref)
		}
	}
	return nil
}

func (m *MemoryStore) DeleteExcept(ctx context.Context, bookID string, kind Kind, keep []string) (int, error) {
	keepSet := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		keepSet[k] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for ref, r := range m.records {
		if r.BookID != bookID || r.Kind != kind {
			continue
		}
		if _, ok := keepSet[ref]; ok {
			continue
		}
		delete(m.records, ref)
		n++
	}
	return n, nil
}

func (m *MemoryStore) Count(ctx context.Context, f Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.records {
		if f.BookID == "" || r.BookID == f.BookID {
			n++
		}
	}
	return n, nil
}

func cloneRecord(r Record) Record {
	if r.Vector != nil {
		v := make([]float32, len(r.Vector))
		copy(v, r.Vector)
		r.Vector = v
	}
	return r
}
