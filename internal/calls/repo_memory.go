package calls

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory session repository for tests and local runs.
// Every read and write copies, so callers never alias stored sessions.
type MemoryRepo struct {
	mu    sync.Mutex
	byID  map[string]*Session
	byPCI map[string]string
	finds int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:  make(map[string]*Session),
		byPCI: make(map[string]string),
	}
}

func (r *MemoryRepo) Create(ctx context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPCI[s.ProviderCallID]; ok {
		return ErrAlreadyExists
	}
	r.byID[s.ID] = s.Clone()
	r.byPCI[s.ProviderCallID] = s.ID
	return nil
}

func (r *MemoryRepo) Update(ctx context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[s.ID]
	if !ok {
		return ErrNotFound
	}
	next := s.Clone()
	next.UserID = cur.UserID
	next.ProviderCallID = cur.ProviderCallID
	next.CreatedAt = cur.CreatedAt
	r.byID[s.ID] = next
	return nil
}

func (r *MemoryRepo) FindByProviderCallID(ctx context.Context, providerCallID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finds++
	id, ok := r.byPCI[providerCallID]
	if !ok {
		return nil, nil
	}
	return r.byID[id].Clone(), nil
}

func (r *MemoryRepo) List(ctx context.Context, f ListFilter) ([]*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for _, s := range r.byID {
		if f.UserID != 0 && s.UserID != f.UserID {
			continue
		}
		if f.OpenOnly && !s.IsOpen {
			continue
		}
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Finds reports how many lookups by provider call id reached storage.
func (r *MemoryRepo) Finds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finds
}

// Rows reports how many sessions are stored.
func (r *MemoryRepo) Rows() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
