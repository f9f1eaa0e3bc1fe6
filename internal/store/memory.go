package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kiranshivaraju/keyserver/pkg/models"
)

// MemoryStore keeps licenses in a map. Nothing survives a restart; it backs
// tests and local development.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*models.License
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[string]*models.License{}}
}

func (s *MemoryStore) Ping(_ context.Context) error  { return nil }
func (s *MemoryStore) Close(_ context.Context) error { return nil }

func (s *MemoryStore) CreateLicense(_ context.Context, l *models.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[l.Key]; ok {
		return ErrDuplicateKey
	}
	s.rows[l.Key] = l.Clone()
	return nil
}

func (s *MemoryStore) GetLicense(_ context.Context, key string) (*models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rows[key]
	if !ok {
		return nil, ErrNotFound
	}
	return l.Clone(), nil
}

func (s *MemoryStore) ListLicenses(_ context.Context) ([]*models.License, error) {
	s.mu.Lock()
	out := make([]*models.License, 0, len(s.rows))
	for _, l := range s.rows {
		out = append(out, l.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (s *MemoryStore) RecordUsage(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rows[key]
	if !ok || !l.Active || l.ExpiredAt(at) {
		return ErrNotFound
	}
	l.UsageCount++
	used := at
	l.LastUsedAt = &used
	return nil
}

func (s *MemoryStore) SetActive(_ context.Context, key string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rows[key]
	if !ok {
		return ErrNotFound
	}
	l.Active = active
	return nil
}

func (s *MemoryStore) DeleteLicense(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[key]; !ok {
		return ErrNotFound
	}
	delete(s.rows, key)
	return nil
}
