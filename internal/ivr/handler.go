package ivr

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handler drives one call. A fresh handler is built per call from a Factory.
type Handler interface {
	ProcessCall(ctx context.Context) error
}

// Factory builds a handler bound to one call channel.
type Factory func(d Deps, ch Channel) Handler

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context) error

func (f HandlerFunc) ProcessCall(ctx context.Context) error { return f(ctx) }

const NotImplementedMessage = "This service is not implemented yet. Goodbye."

// NotImplementedHandler hangs up at once. It is what a deployment without
// a configured handler runs, so the caller hears why the call ends.
type NotImplementedHandler struct {
	*Base
}

func NewNotImplementedHandler(d Deps, ch Channel) Handler {
	return &NotImplementedHandler{Base: NewBase(d, ch)}
}

func (h *NotImplementedHandler) ProcessCall(ctx context.Context) error {
	return h.HangupWithMessage(ctx, NotImplementedMessage)
}

const (
	HandlerDefault = "default"
	HandlerIntake  = "intake"
)

// Registry maps configured handler names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in handlers.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(HandlerDefault, NewNotImplementedHandler)
	r.Register(HandlerIntake, NewIntakeHandler)
	return r
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Get is Lookup with a descriptive error, for startup wiring.
func (r *Registry) Get(name string) (Factory, error) {
	f, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown ivr handler %q (registered: %v)", name, r.Names())
	}
	return f, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
