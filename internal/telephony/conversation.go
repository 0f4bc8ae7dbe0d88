package telephony

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twilio/twilio-go/twiml"

	"ivr-platform/internal/ivr"
)

var (
	// ErrTurnTimeout means the handler produced no TwiML in time.
	ErrTurnTimeout = errors.New("telephony: no response from call handler in time")
	// ErrConversationEnded means the handler has already finished.
	ErrConversationEnded = errors.New("telephony: conversation ended")
)

// Turn is one TwiML document answering one webhook delivery.
type Turn struct {
	// Seq is the gather number the document asks Twilio to post back, or
	// zero for a final document.
	Seq   int
	TwiML string
	Final bool
}

// Conversation is the call channel for one live call.
//
// The handler runs on its own goroutine. Read renders a Gather turn and
// parks until the next webhook delivers digits. Send queues verbs for the
// next turn. Hangup renders the final turn.
//
// Webhooks for one call are serialized by deliver; a delivery for a turn
// that was already answered gets the last document again.
type Conversation struct {
	callID string
	from   string
	to     string
	render Renderer

	inputs   chan string
	turns    chan Turn
	done     chan struct{}
	doneOnce sync.Once
	ready    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// Handler goroutine state.
	pending []twiml.Element
	seq     int
	hungUp  bool

	// Webhook side state, guarded by mu. mu is held across await.
	mu       sync.Mutex
	last     Turn
	answered bool

	// lastSeen is unix nanoseconds of the latest webhook; read without mu.
	lastSeen atomic.Int64
}

func NewConversation(ctx context.Context, callID, from, to string, r Renderer) *Conversation {
	cctx, cancel := context.WithCancel(ctx)
	c := &Conversation{
		callID: callID,
		from:   from,
		to:     to,
		render: r,
		inputs: make(chan string, 1),
		turns:  make(chan Turn, 1),
		done:   make(chan struct{}),
		ready:  make(chan struct{}),
		ctx:    cctx,
		cancel: cancel,
	}
	c.touch()
	return c
}

func (c *Conversation) CallID() string { return c.callID }
func (c *Conversation) From() string   { return c.from }
func (c *Conversation) To() string     { return c.to }

// Context is cancelled when the call ends.
func (c *Conversation) Context() context.Context { return c.ctx }

// Cancel ends the conversation; a parked Read returns ErrHungUp.
func (c *Conversation) Cancel() { c.cancel() }

// Done is closed once the handler goroutine has returned.
func (c *Conversation) Done() <-chan struct{} { return c.done }

func (c *Conversation) exited() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Conversation) Read(ctx context.Context, p ivr.Prompt, opts ivr.ReadOptions) (string, error) {
	if c.hungUp {
		return "", ivr.ErrHungUp
	}
	c.seq++
	verbs := append(c.takePending(), c.render.Gather(c.seq, p, opts)...)
	if err := c.emit(ctx, verbs, c.seq, false); err != nil {
		return "", err
	}

	select {
	case digits := <-c.inputs:
		return digits, nil
	case <-c.ctx.Done():
		return "", ivr.ErrHungUp
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Conversation) Send(ctx context.Context, ps ...ivr.Prompt) error {
	if c.hungUp {
		return ivr.ErrHungUp
	}
	c.pending = append(c.pending, c.render.Prompts(ps...)...)
	return nil
}

func (c *Conversation) Hangup(ctx context.Context) error {
	if c.hungUp {
		return nil
	}
	return c.finish(ctx, nil)
}

// finish renders queued verbs, optional extra prompts and a Hangup as the
// final turn. It is a no-op once the call was hung up.
func (c *Conversation) finish(ctx context.Context, extra []ivr.Prompt) error {
	if c.hungUp {
		return nil
	}
	c.hungUp = true
	verbs := append(c.takePending(), c.render.Prompts(extra...)...)
	verbs = append(verbs, c.render.Hangup())
	return c.emit(ctx, verbs, 0, true)
}

func (c *Conversation) takePending() []twiml.Element {
	out := c.pending
	c.pending = nil
	return out
}

func (c *Conversation) emit(ctx context.Context, verbs []twiml.Element, seq int, final bool) error {
	doc, err := Render(verbs)
	if err != nil {
		return err
	}
	select {
	case c.turns <- Turn{Seq: seq, TwiML: doc, Final: final}:
		return nil
	case <-c.ctx.Done():
		return ivr.ErrHungUp
	case <-ctx.Done():
		return ctx.Err()
	}
}

// start waits for the first turn after the handler was launched.
func (c *Conversation) start(ctx context.Context, timeout time.Duration) (Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(c.ready)
	c.touch()
	return c.await(ctx, timeout)
}

// deliver hands digits for turn seq to the handler and waits for the next
// turn. Deliveries for any other turn replay the last document.
func (c *Conversation) deliver(ctx context.Context, seq int, digits string, timeout time.Duration) (Turn, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()

	if c.last.Final || seq != c.last.Seq || c.answered {
		return c.last, true, nil
	}

	select {
	case c.inputs <- digits:
	case <-c.done:
		return c.last, true, nil
	}
	c.answered = true

	t, err := c.await(ctx, timeout)
	return t, false, err
}

// replay returns the last document, for duplicate new-call events. It
// waits for the first turn when the original event is still in flight.
func (c *Conversation) replay(timeout time.Duration) (Turn, bool) {
	select {
	case <-c.ready:
	case <-time.After(timeout):
		return Turn{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()
	return c.last, c.last.TwiML != ""
}

// await must be called with mu held.
func (c *Conversation) await(ctx context.Context, timeout time.Duration) (Turn, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case t := <-c.turns:
		c.last = t
		c.answered = false
		return t, nil
	case <-c.done:
		// The handler may have emitted its last turn just before exiting.
		select {
		case t := <-c.turns:
			c.last = t
			c.answered = false
			return t, nil
		default:
			return Turn{}, ErrConversationEnded
		}
	case <-timer.C:
		return Turn{}, ErrTurnTimeout
	case <-ctx.Done():
		return Turn{}, ctx.Err()
	}
}

func (c *Conversation) touch() { c.lastSeen.Store(time.Now().UnixNano()) }

func (c *Conversation) idleSince() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}
