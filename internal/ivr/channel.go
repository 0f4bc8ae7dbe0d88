package ivr

import (
	"context"
	"errors"
	"time"
)

// Prompt is one thing the caller hears. AudioFile wins over Text when set.
type Prompt struct {
	Text      string
	AudioFile string
}

func Say(text string) Prompt { return Prompt{Text: text} }

type InputMode string

const ModeDigits InputMode = "dtmf"

// ReadOptions shapes one input collection.
//
// DigitsAllowed is advisory: transports may use it to prompt or validate,
// but callers always re-check the reply.
type ReadOptions struct {
	Mode          InputMode
	MaxDigits     int
	DigitsAllowed []string
	FinishOnKey   string
	Timeout       time.Duration
}

// ErrHungUp is returned by Channel.Read once the caller has left.
var ErrHungUp = errors.New("ivr: caller hung up")

// Channel is the per-call transport handlers converse through.
//
// Read is the only suspending operation: it offers a prompt and returns the
// caller's reply, which may arrive on a later webhook delivery.
type Channel interface {
	CallID() string
	From() string
	To() string

	Read(ctx context.Context, p Prompt, opts ReadOptions) (string, error)
	Send(ctx context.Context, ps ...Prompt) error
	Hangup(ctx context.Context) error
}
