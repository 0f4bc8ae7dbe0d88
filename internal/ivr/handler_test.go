package ivr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ivr-platform/internal/calls"
	"ivr-platform/internal/texts"
)

func TestNotImplementedHandler_HangsUpWithMessage(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, NewNotImplementedHandler(h.deps, h.ch).ProcessCall(context.Background()))

	assert.True(t, h.ch.hungUp)
	assert.Equal(t, []Prompt{{Text: NotImplementedMessage}}, h.ch.sent)
	assert.Equal(t, []calls.StepType{calls.StepHangupMessage}, stepTypes(h.history(t)))
}

func TestIntakeHandler_ConfirmedFlow(t *testing.T) {
	h := newHarness(t, "1234", "2", "1")
	h.tpls.Put(texts.Template{UserID: 1, Name: KeyIntakeConfirmed, Value: "Connecting account {account} to {department}."})

	require.NoError(t, NewIntakeHandler(h.deps, h.ch).ProcessCall(context.Background()))

	assert.True(t, h.ch.hungUp)
	require.NotEmpty(t, h.ch.sent)
	assert.Equal(t, "Connecting account 1234 to Support.", h.ch.sent[len(h.ch.sent)-1].Text)
	assert.Equal(t, []calls.StepType{
		calls.StepSendMessage,
		calls.StepAskInput, calls.StepUserInput,
		calls.StepAskInput, calls.StepUserInput, calls.StepMenuSelection,
		calls.StepAskConfirmation, calls.StepConfirmationResult,
		calls.StepHangupMessage,
	}, stepTypes(h.history(t)))
}

func TestIntakeHandler_UnknownSelectionEndsCall(t *testing.T) {
	h := newHarness(t, "1234", "9")

	require.NoError(t, NewIntakeHandler(h.deps, h.ch).ProcessCall(context.Background()))

	assert.True(t, h.ch.hungUp)
	assert.Equal(t, KeyIntakeNoChoice, h.ch.sent[len(h.ch.sent)-1].Text)
}

func TestIntakeHandler_NoConfirmationEndsCall(t *testing.T) {
	h := newHarness(t, "1234", "1", "5", "5", "5")

	require.NoError(t, NewIntakeHandler(h.deps, h.ch).ProcessCall(context.Background()))

	assert.True(t, h.ch.hungUp)
	assert.Empty(t, h.ch.replies)
	assert.Equal(t, KeyIntakeNoChoice, h.ch.sent[len(h.ch.sent)-1].Text)
}

func TestIntakeHandler_UnresolvedOwnerStops(t *testing.T) {
	h := newHarness(t, "1234")
	h.ch.to = "+19999999999"

	require.NoError(t, NewIntakeHandler(h.deps, h.ch).ProcessCall(context.Background()))
	assert.True(t, h.ch.hungUp)
	assert.Empty(t, h.ch.reads)
}

func TestIntakeHandler_CallerHangupPropagates(t *testing.T) {
	h := newHarness(t)

	err := NewIntakeHandler(h.deps, h.ch).ProcessCall(context.Background())
	assert.ErrorIs(t, err, ErrHungUp)
}

func TestRegistry_BuiltinsAndLookup(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{HandlerDefault, HandlerIntake}, r.Names())

	_, err := r.Get("missing")
	assert.Error(t, err)

	r.Register("custom", func(d Deps, ch Channel) Handler {
		return HandlerFunc(func(ctx context.Context) error { return nil })
	})
	f, ok := r.Lookup("custom")
	require.True(t, ok)
	assert.NoError(t, f(Deps{}, nil).ProcessCall(context.Background()))
}
