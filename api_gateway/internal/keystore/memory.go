package keystore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps credentials in process. Used for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*Credential
	now   func() time.Time
}

// NewMemoryStore returns an empty store seeded with the given credentials.
func NewMemoryStore(seed ...Credential) *MemoryStore {
	s := &MemoryStore{
		creds: make(map[string]*Credential, len(seed)),
		now:   time.Now,
	}
	for _, c := range seed {
		c := c
		if c.CreatedAt.IsZero() {
			c.CreatedAt = s.now()
		}
		s.creds[c.Key] = &c
	}
	return s
}

func (s *MemoryStore) Lookup(_ context.Context, key string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[key]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return copyCredential(c), nil
}

func (s *MemoryStore) Touch(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[key]
	if !ok {
		return ErrNotFound
	}
	c.UsageCount++
	t := at
	c.LastUsedAt = &t
	return nil
}

func (s *MemoryStore) Create(_ context.Context, subjectID, planTier string) (Credential, error) {
	if subjectID == "" {
		return Credential{}, fmt.Errorf("subject id is required")
	}
	now := s.now()
	c := &Credential{
		Key:       GenerateKey(now),
		SubjectID: subjectID,
		PlanTier:  planTier,
		Active:    true,
		CreatedAt: now,
	}
	s.mu.Lock()
	s.creds[c.Key] = c
	s.mu.Unlock()
	return copyCredential(c), nil
}

func (s *MemoryStore) Deactivate(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[key]
	if !ok {
		return ErrNotFound
	}
	c.Active = false
	return nil
}

func (s *MemoryStore) ListBySubject(_ context.Context, subjectID string) ([]Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Credential
	for _, c := range s.creds {
		if c.SubjectID == subjectID {
			out = append(out, copyCredential(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func copyCredential(c *Credential) Credential {
	out := *c
	if c.LastUsedAt != nil {
		t := *c.LastUsedAt
		out.LastUsedAt = &t
	}
	return out
}
