package texts

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory template repository for tests and local runs.
type MemoryRepo struct {
	mu    sync.Mutex
	items map[cacheKey]Template
	finds int

	// Err, when set, is returned by every Find.
	Err error
}

func NewMemoryRepo(ts ...Template) *MemoryRepo {
	r := &MemoryRepo{items: make(map[cacheKey]Template, len(ts))}
	for _, t := range ts {
		r.Put(t)
	}
	return r
}

func (r *MemoryRepo) Put(t Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[cacheKey{userID: t.UserID, name: t.Name}] = t
}

func (r *MemoryRepo) Find(ctx context.Context, userID int64, name string) (Template, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finds++
	if r.Err != nil {
		return Template{}, false, r.Err
	}
	t, ok := r.items[cacheKey{userID: userID, name: name}]
	return t, ok, nil
}

// Finds reports how many times storage was queried.
func (r *MemoryRepo) Finds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finds
}
