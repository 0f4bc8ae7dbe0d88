package telephony

import (
	"context"
	"sync"
	"time"

	"ivr-platform/pkg/logger"
)

// Registry tracks live conversations by provider call id.
//
// Conversations leave the registry on a terminal status callback, on a
// turn timeout, or when the janitor finds them idle past the limit (the
// status callback never arrived).
type Registry struct {
	mu    sync.Mutex
	convs map[string]*Conversation
	idle  time.Duration
}

func NewRegistry(idle time.Duration) *Registry {
	return &Registry{convs: make(map[string]*Conversation), idle: idle}
}

// Add stores c unless a conversation for the same call exists, in which
// case the existing one is returned with false.
func (r *Registry) Add(c *Conversation) (*Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.convs[c.CallID()]; ok {
		return cur, false
	}
	r.convs[c.CallID()] = c
	return c, true
}

func (r *Registry) Get(callID string) (*Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[callID]
	return c, ok
}

// End cancels and forgets the conversation for callID, if any.
func (r *Registry) End(callID string) bool {
	r.mu.Lock()
	c, ok := r.convs[callID]
	delete(r.convs, callID)
	r.mu.Unlock()
	if ok {
		c.Cancel()
	}
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.convs)
}

// Sweep ends conversations idle since before now-idle and returns their ids.
func (r *Registry) Sweep(now time.Time) []string {
	if r.idle <= 0 {
		return nil
	}
	cutoff := now.Add(-r.idle)

	r.mu.Lock()
	var stale []*Conversation
	for id, c := range r.convs {
		if c.idleSince().Before(cutoff) {
			stale = append(stale, c)
			delete(r.convs, id)
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(stale))
	for _, c := range stale {
		c.Cancel()
		ids = append(ids, c.CallID())
	}
	return ids
}

// RunJanitor sweeps every interval until ctx is done. ended, when set, is
// called for each swept call so its session can be closed.
func (r *Registry) RunJanitor(ctx context.Context, every time.Duration, ended func(ctx context.Context, callID string)) {
	if every <= 0 || r.idle <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			ids := r.Sweep(now)
			if len(ids) == 0 {
				continue
			}
			logger.From(ctx).Warn("idle conversations ended", "count", len(ids), "call_sids", ids)
			if ended == nil {
				continue
			}
			for _, id := range ids {
				ended(logger.WithCall(ctx, id), id)
			}
		}
	}
}

// Shutdown cancels every live conversation.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	convs := r.convs
	r.convs = make(map[string]*Conversation)
	r.mu.Unlock()
	for _, c := range convs {
		c.Cancel()
	}
}
