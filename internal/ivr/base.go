package ivr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ivr-platform/internal/calls"
	"ivr-platform/internal/texts"
	"ivr-platform/internal/users"
	"ivr-platform/pkg/logger"
)

// Deps are the collaborators every handler is built with.
type Deps struct {
	Calls *calls.Store
	Texts *texts.Resolver
	Users users.Directory
}

// NotConnectedMessage is spoken when the dialed number has no owner.
const NotConnectedMessage = "This number is not connected. Please contact the office."

// UnknownSelection marks a menu reply that matched no option.
const UnknownSelection = "unknown"

var ErrUserNotResolved = errors.New("ivr: no user owns the dialed number")

// ErrNoConfirmation is returned by AskConfirmation when every attempt got a
// reply other than the yes or no digit.
var ErrNoConfirmation = errors.New("ivr: no valid confirmation reply")

// Base is the conversation vocabulary shared by handlers.
//
// Every primitive logs through calls.Store before doing I/O, so a call that
// drops mid-step still leaves what was offered in the history. Logging is
// fail-soft; channel errors are returned untouched.
type Base struct {
	Deps
	Channel Channel

	ownerID int64
}

func NewBase(d Deps, ch Channel) *Base {
	return &Base{Deps: d, Channel: ch}
}

// SendMessage speaks text without waiting for input.
func (b *Base) SendMessage(ctx context.Context, text string) error {
	return b.send(ctx, Say(text))
}

func (b *Base) SendMessageByKey(ctx context.Context, key string, values map[string]any) error {
	return b.send(ctx, b.render(ctx, key, values))
}

func (b *Base) send(ctx context.Context, p Prompt) error {
	b.log(ctx, calls.StepEntry{Prompt: p.Text, Type: calls.StepSendMessage})
	return b.Channel.Send(ctx, p)
}

// HangupWithMessage logs, speaks, then hangs up. The log comes first since
// the hangup is irreversible.
func (b *Base) HangupWithMessage(ctx context.Context, text string) error {
	return b.hangup(ctx, Say(text))
}

func (b *Base) HangupWithMessageByKey(ctx context.Context, key string, values map[string]any) error {
	return b.hangup(ctx, b.render(ctx, key, values))
}

func (b *Base) hangup(ctx context.Context, p Prompt) error {
	b.log(ctx, calls.StepEntry{Prompt: p.Text, Type: calls.StepHangupMessage})
	if err := b.Channel.Send(ctx, p); err != nil {
		return err
	}
	return b.Channel.Hangup(ctx)
}

// AskForInput logs the offer, reads, then logs the answer.
func (b *Base) AskForInput(ctx context.Context, prompt string, opts ReadOptions) (string, error) {
	return b.ask(ctx, Say(prompt), opts)
}

func (b *Base) AskForInputByKey(ctx context.Context, key string, values map[string]any, opts ReadOptions) (string, error) {
	return b.ask(ctx, b.render(ctx, key, values), opts)
}

func (b *Base) ask(ctx context.Context, p Prompt, opts ReadOptions) (string, error) {
	if opts.Mode == "" {
		opts.Mode = ModeDigits
	}
	b.log(ctx, calls.StepEntry{Prompt: p.Text, Type: calls.StepAskInput})

	resp, err := b.Channel.Read(ctx, p, opts)
	if err != nil {
		return "", err
	}

	b.log(ctx, calls.StepEntry{Prompt: p.Text, Type: calls.StepUserInput, UserResponse: calls.Response(resp)})
	return resp, nil
}

// MenuOption is one entry of a keyed menu.
type MenuOption struct {
	Key  string
	Name string
}

// AskForMenu offers options under key and returns the chosen one.
// A reply outside the option set is not an error: ok is false.
//
// The option list is available to the template as {options}; when the
// template does not place it, it is appended.
func (b *Base) AskForMenu(ctx context.Context, key string, options []MenuOption) (MenuOption, bool, error) {
	list := make([]string, 0, len(options))
	allowed := make([]string, 0, len(options))
	maxDigits := 0
	for _, o := range options {
		list = append(list, fmt.Sprintf("Press %s for %s.", o.Key, o.Name))
		allowed = append(allowed, o.Key)
		if len(o.Key) > maxDigits {
			maxDigits = len(o.Key)
		}
	}
	listText := strings.Join(list, " ")

	p := b.render(ctx, key, map[string]any{"options": listText})
	if p.AudioFile == "" && !strings.Contains(p.Text, listText) {
		p.Text = joinSentences(p.Text, listText)
	}

	resp, err := b.ask(ctx, p, ReadOptions{MaxDigits: maxDigits, DigitsAllowed: allowed})
	if err != nil {
		return MenuOption{}, false, err
	}

	selected, ok := MenuOption{}, false
	for _, o := range options {
		if o.Key == resp {
			selected, ok = o, true
			break
		}
	}

	label := selected.Name
	if !ok {
		label = UnknownSelection
	}
	b.log(ctx, calls.StepEntry{
		Prompt:       fmt.Sprintf("%s: %s", key, resp),
		Type:         calls.StepMenuSelection,
		UserResponse: calls.Response(label),
	})
	return selected, ok, nil
}

const defaultConfirmAttempts = 3

// ConfirmOptions configures AskConfirmation. Zero values take defaults.
type ConfirmOptions struct {
	YesKey   string
	NoKey    string
	YesDigit string
	NoDigit  string
	// Attempts bounds how often the question is offered; default 3.
	Attempts int
}

func (o ConfirmOptions) withDefaults() ConfirmOptions {
	if o.YesKey == "" {
		o.YesKey = "Yes"
	}
	if o.NoKey == "" {
		o.NoKey = "No"
	}
	if o.YesDigit == "" {
		o.YesDigit = "1"
	}
	if o.NoDigit == "" {
		o.NoDigit = "2"
	}
	if o.Attempts <= 0 {
		o.Attempts = defaultConfirmAttempts
	}
	return o
}

// AskConfirmation asks a yes/no question and reports whether the caller
// pressed the yes digit. Any other reply, silence included, re-offers the
// question; after opts.Attempts offers ErrNoConfirmation is returned.
//
// The yes/no labels are exposed to the template as {yes}, {no},
// {yes_digit} and {no_digit}; a template that places neither label gets the
// choices appended.
func (b *Base) AskConfirmation(ctx context.Context, key string, values map[string]any, opts ConfirmOptions) (bool, error) {
	opts = opts.withDefaults()
	yes := b.render(ctx, opts.YesKey, nil).Text
	no := b.render(ctx, opts.NoKey, nil).Text

	merged := make(map[string]any, len(values)+4)
	for k, v := range values {
		merged[k] = v
	}
	merged["yes"] = yes
	merged["no"] = no
	merged["yes_digit"] = opts.YesDigit
	merged["no_digit"] = opts.NoDigit

	choices := fmt.Sprintf("Press %s for %s. Press %s for %s.", opts.YesDigit, yes, opts.NoDigit, no)
	p := b.render(ctx, key, merged)
	if p.AudioFile == "" && !(strings.Contains(p.Text, yes) && strings.Contains(p.Text, no)) {
		p.Text = joinSentences(p.Text, choices)
	}

	maxDigits := len(opts.YesDigit)
	if len(opts.NoDigit) > maxDigits {
		maxDigits = len(opts.NoDigit)
	}
	readOpts := ReadOptions{
		Mode:          ModeDigits,
		MaxDigits:     maxDigits,
		DigitsAllowed: []string{opts.YesDigit, opts.NoDigit},
	}

	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		b.log(ctx, calls.StepEntry{
			Prompt: fmt.Sprintf("%s [%s=%s, %s=%s]", p.Text, opts.YesDigit, yes, opts.NoDigit, no),
			Type:   calls.StepAskConfirmation,
		})
		resp, err := b.Channel.Read(ctx, p, readOpts)
		if err != nil {
			return false, err
		}

		label, valid := UnknownSelection, true
		switch resp {
		case opts.YesDigit:
			label = yes
		case opts.NoDigit:
			label = no
		default:
			valid = false
		}
		b.log(ctx, calls.StepEntry{Prompt: p.Text, Type: calls.StepConfirmationResult, UserResponse: calls.Response(label)})
		if valid {
			return resp == opts.YesDigit, nil
		}
		logger.From(ctx).Info("confirmation reply outside allowed digits", "reply", resp, "attempt", attempt)
	}
	return false, ErrNoConfirmation
}

// UserByOriginatingNumber resolves the owner of the dialed number. When
// none exists the call is ended right away with NotConnectedMessage and
// ErrUserNotResolved is returned; the handler must stop.
func (b *Base) UserByOriginatingNumber(ctx context.Context) (users.User, error) {
	var (
		u   users.User
		err error
	)
	if b.Users == nil {
		err = errors.New("user directory not configured")
	} else {
		u, err = b.Users.FindByPhoneNumber(ctx, b.Channel.To())
	}
	if err != nil {
		logger.From(ctx).Warn("dialed number not resolved", "to", b.Channel.To(), "err", err)
		if herr := b.HangupWithMessage(ctx, NotConnectedMessage); herr != nil {
			return users.User{}, errors.Join(ErrUserNotResolved, herr)
		}
		return users.User{}, ErrUserNotResolved
	}
	b.ownerID = u.ID
	return u, nil
}

func (b *Base) render(ctx context.Context, key string, values map[string]any) Prompt {
	if b.Texts == nil {
		return Say(texts.Interpolate(key, values))
	}
	r := b.Texts.Resolve(ctx, b.userID(ctx), key, values)
	return Prompt{Text: r.Text, AudioFile: r.AudioFile}
}

// userID is the owner templates are resolved for: the session's user, or
// the dialed number's owner before a session exists.
func (b *Base) userID(ctx context.Context) int64 {
	if b.ownerID != 0 {
		return b.ownerID
	}
	if b.Calls != nil {
		if sess, ok := b.Calls.FindActive(ctx, b.Channel.CallID()); ok {
			b.ownerID = sess.UserID
			return b.ownerID
		}
	}
	if b.Users != nil {
		if u, err := b.Users.FindByPhoneNumber(ctx, b.Channel.To()); err == nil {
			b.ownerID = u.ID
		}
	}
	return b.ownerID
}

func (b *Base) log(ctx context.Context, e calls.StepEntry) {
	if b.Calls == nil {
		return
	}
	b.Calls.LogStep(ctx, b.Channel.CallID(), e)
}

func joinSentences(a, b string) string {
	a = strings.TrimSpace(a)
	if a == "" {
		return b
	}
	return a + " " + b
}
