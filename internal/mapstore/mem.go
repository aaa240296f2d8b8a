package mapstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store. It backs database-less deployments and the
// test suites of the layers above.
type MemStore struct {
	mu      sync.Mutex
	nextID  int64
	maps    map[int64]MapRecord
	sources map[int64]SourceRecord
	now     func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		nextID:  1,
		maps:    map[int64]MapRecord{},
		sources: map[int64]SourceRecord{},
		now:     time.Now,
	}
}

func (s *MemStore) take() int64 {
	id := s.nextID
	s.nextID++
	return id
}

func (s *MemStore) ListMaps(ctx context.Context) ([]MapRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MapRecord, 0, len(s.maps))
	for _, rec := range s.maps {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemStore) GetMap(ctx context.Context, id int64) (MapRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.maps[id]
	if !ok {
		return MapRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemStore) CreateMap(ctx context.Context, rec MapRecord) (MapRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = s.take()
	rec.CreatedAt = s.now()
	rec.UpdatedAt = rec.CreatedAt
	s.maps[rec.ID] = rec
	return rec, nil
}

func (s *MemStore) UpdateMap(ctx context.Context, rec MapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.maps[rec.ID]
	if !ok {
		return ErrNotFound
	}
	rec.CreatedAt = cur.CreatedAt
	rec.LastRenderedAt = cur.LastRenderedAt
	rec.UpdatedAt = s.now()
	s.maps[rec.ID] = rec
	return nil
}

func (s *MemStore) DeleteMap(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.maps[id]; !ok {
		return ErrNotFound
	}
	delete(s.maps, id)
	return nil
}

func (s *MemStore) RecordLastRendered(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.maps[id]
	if !ok {
		return ErrNotFound
	}
	rec.LastRenderedAt = &at
	s.maps[id] = rec
	return nil
}

func (s *MemStore) ListSources(ctx context.Context) ([]SourceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SourceRecord, 0, len(s.sources))
	for _, rec := range s.sources {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemStore) GetSource(ctx context.Context, id int64) (SourceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sources[id]
	if !ok {
		return SourceRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemStore) CreateSource(ctx context.Context, rec SourceRecord) (SourceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = s.take()
	rec.CreatedAt = s.now()
	s.sources[rec.ID] = rec
	return rec, nil
}

func (s *MemStore) DeleteSource(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[id]; !ok {
		return ErrNotFound
	}
	delete(s.sources, id)
	return nil
}
