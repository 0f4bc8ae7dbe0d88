package routing

import (
	"context"
	"errors"

	"ivr-platform/internal/ivr"
)

// OwnerGate ends calls to numbers no user owns and passes the rest on.
var OwnerGate = HandlerFunc(func(ctx context.Context, req *Request, claim ClaimFunc) error {
	if _, err := req.Base().UserByOriginatingNumber(ctx); err != nil {
		if errors.Is(err, ivr.ErrUserNotResolved) {
			claim(true)
			return nil
		}
		return err
	}
	claim(false)
	return nil
})

// CallerParams copies caller details into the session before later steps
// run. It never claims.
type CallerParams struct{}

func (CallerParams) Handle(ctx context.Context, req *Request, claim ClaimFunc) error {
	if req.Deps.Calls != nil {
		req.Deps.Calls.SetParams(ctx, req.Channel.CallID(), map[string]string{
			"From": req.Channel.From(),
			"To":   req.Channel.To(),
		})
	}
	claim(false)
	return nil
}

// Terminal runs an ivr handler and claims the request when it returns
// without error.
func Terminal(f ivr.Factory) Handler {
	return HandlerFunc(func(ctx context.Context, req *Request, claim ClaimFunc) error {
		if err := f(req.Deps, req.Channel).ProcessCall(ctx); err != nil {
			return err
		}
		claim(true)
		return nil
	})
}

// DefaultChain is the stock pipeline registered under HandlerChain.
func DefaultChain() *Chain {
	return NewChain(CallerParams{}, OwnerGate, Terminal(ivr.NewIntakeHandler))
}

const HandlerChain = "chain"

// Register adds the default chain to an ivr handler registry.
func Register(r *ivr.Registry) {
	r.Register(HandlerChain, DefaultChain().Factory())
}
