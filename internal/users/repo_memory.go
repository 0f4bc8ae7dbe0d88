package users

import (
	"context"
	"sync"
)

// MemoryDirectory is an in-memory directory useful for tests and local runs.
type MemoryDirectory struct {
	mu      sync.RWMutex
	byPhone map[string]User
}

func NewMemoryDirectory(us ...User) *MemoryDirectory {
	d := &MemoryDirectory{byPhone: make(map[string]User, len(us))}
	for _, u := range us {
		d.Put(u)
	}
	return d
}

func (d *MemoryDirectory) Put(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byPhone[NormalizePhone(u.PhoneNumber)] = u
}

func (d *MemoryDirectory) FindByPhoneNumber(ctx context.Context, phone string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byPhone[NormalizePhone(phone)]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}
