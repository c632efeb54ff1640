// Package allowlist stores client IPs that bypass the rate limiter and the
// challenge gate.
package allowlist

import (
	"context"
	"sort"
	"sync"

	"chatguard/internal/ratelimit/models"
	"chatguard/pkg/platform/sentinel"
	"chatguard/pkg/requestcontext"
)

// InMemoryStore is used when no database is configured. Entries do not
// survive a restart.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*models.AllowlistEntry
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]*models.AllowlistEntry)}
}

func (s *InMemoryStore) Add(_ context.Context, entry *models.AllowlistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *entry
	s.entries[entry.IP] = &copied
	return nil
}

func (s *InMemoryStore) Remove(_ context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[ip]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.entries, ip)
	return nil
}

func (s *InMemoryStore) IsAllowlisted(ctx context.Context, ip string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[ip]
	if !ok {
		return false, nil
	}
	return !entry.IsExpiredAt(requestcontext.Now(ctx)), nil
}

func (s *InMemoryStore) List(ctx context.Context) ([]*models.AllowlistEntry, error) {
	now := requestcontext.Now(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.AllowlistEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.IsExpiredAt(now) {
			continue
		}
		copied := *e
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
