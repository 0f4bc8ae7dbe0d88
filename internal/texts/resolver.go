package texts

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"ivr-platform/pkg/logger"
)

var placeholderRE = regexp.MustCompile(`\{([A-Za-z0-9_.\-]+)\}`)

// Interpolate replaces every {name} token with fmt.Sprint(values[name]).
// Tokens without a value are left verbatim so templates can carry
// placeholders the handler code does not provide yet.
func Interpolate(tpl string, values map[string]any) string {
	if len(values) == 0 || tpl == "" {
		return tpl
	}
	return placeholderRE.ReplaceAllStringFunc(tpl, func(tok string) string {
		name := tok[1 : len(tok)-1]
		v, ok := values[name]
		if !ok {
			return tok
		}
		return fmt.Sprint(v)
	})
}

type cacheKey struct {
	userID int64
	name   string
}

type cacheEntry struct {
	tpl   Template
	found bool
}

// Resolver turns symbolic keys into prompts.
//
// Lookups are cached per (userID, key) for the process lifetime, misses
// included. There is no invalidation; a restart picks up edited templates.
type Resolver struct {
	repo Repository

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo, cache: make(map[cacheKey]cacheEntry)}
}

// Resolve never fails: a missing template renders as the raw key.
func (r *Resolver) Resolve(ctx context.Context, userID int64, key string, values map[string]any) Rendered {
	tpl, ok := r.lookup(ctx, userID, key)
	if !ok {
		return Rendered{Text: Interpolate(key, values)}
	}
	return Rendered{
		Text:      Interpolate(tpl.Value, values),
		AudioFile: tpl.Filepath,
	}
}

// Text resolves key and returns only the text form.
func (r *Resolver) Text(ctx context.Context, userID int64, key string, values map[string]any) string {
	return r.Resolve(ctx, userID, key, values).Text
}

func (r *Resolver) lookup(ctx context.Context, userID int64, key string) (Template, bool) {
	ck := cacheKey{userID: userID, name: key}

	r.mu.RLock()
	e, hit := r.cache[ck]
	r.mu.RUnlock()
	if hit {
		return e.tpl, e.found
	}

	if r.repo == nil {
		return Template{}, false
	}
	tpl, found, err := r.repo.Find(ctx, userID, key)
	if err != nil {
		// Not cached: the next call retries storage.
		logger.From(ctx).Warn("text template lookup failed", "user_id", userID, "key", key, "err", err)
		return Template{}, false
	}

	r.mu.Lock()
	r.cache[ck] = cacheEntry{tpl: tpl, found: found}
	r.mu.Unlock()
	return tpl, found
}
