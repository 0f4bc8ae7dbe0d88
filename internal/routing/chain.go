package routing

import (
	"context"

	"ivr-platform/internal/ivr"
)

// Request is what every chain step sees for one call.
type Request struct {
	Deps    ivr.Deps
	Channel ivr.Channel
}

// Base returns the conversation primitives bound to this request.
func (r *Request) Base() *ivr.Base {
	return ivr.NewBase(r.Deps, r.Channel)
}

// ClaimFunc reports whether a step handled the request. Only the first call
// counts; a step that never calls it has not handled the request.
type ClaimFunc func(handled bool)

// Handler is one step of a Chain.
type Handler interface {
	Handle(ctx context.Context, req *Request, claim ClaimFunc) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, req *Request, claim ClaimFunc) error

func (f HandlerFunc) Handle(ctx context.Context, req *Request, claim ClaimFunc) error {
	return f(ctx, req, claim)
}

// BaseHandler never handles anything; embed it for steps that only observe.
type BaseHandler struct{}

func (BaseHandler) Handle(ctx context.Context, req *Request, claim ClaimFunc) error {
	claim(false)
	return nil
}

// Chain runs handlers in a fixed order until one claims the request.
//
// The chain's done callback fires once: after the claiming step returns, or
// after the last step when nobody claims (an empty chain included). A step
// error is returned as is; later steps do not run and done is not called.
type Chain struct {
	handlers []Handler
}

func NewChain(hs ...Handler) *Chain {
	return &Chain{handlers: append([]Handler(nil), hs...)}
}

// Use appends steps to the end of the chain.
func (c *Chain) Use(hs ...Handler) *Chain {
	c.handlers = append(c.handlers, hs...)
	return c
}

func (c *Chain) Len() int { return len(c.handlers) }

func (c *Chain) HandleRequest(ctx context.Context, req *Request, done func()) error {
	for _, h := range c.handlers {
		var claimed, handled bool
		claim := func(v bool) {
			if claimed {
				return
			}
			claimed, handled = true, v
		}

		if err := h.Handle(ctx, req, claim); err != nil {
			return err
		}
		if handled {
			break
		}
	}
	if done != nil {
		done()
	}
	return nil
}

// Factory exposes the chain as an ivr handler factory so it can be
// registered like any other call handler.
func (c *Chain) Factory() ivr.Factory {
	return func(d ivr.Deps, ch ivr.Channel) ivr.Handler {
		req := &Request{Deps: d, Channel: ch}
		return ivr.HandlerFunc(func(ctx context.Context) error {
			return c.HandleRequest(ctx, req, nil)
		})
	}
}
