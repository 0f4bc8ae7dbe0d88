package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ivr-platform/internal/audit"
	"ivr-platform/internal/calls"
	"ivr-platform/internal/ivr"
	"ivr-platform/internal/texts"
	"ivr-platform/internal/users"
)

const (
	ownerNumber  = "35586526"
	callerNumber = "+15550001111"
)

type testEnv struct {
	router *gin.Engine
	store  *calls.Store
	repo   *calls.MemoryRepo
	audits *audit.MemoryRepo
	convs  *Registry
}

func newEnv(t *testing.T, factory ivr.Factory, turnTimeout time.Duration) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := users.NewMemoryDirectory(users.User{ID: 1, Name: "Acme", PhoneNumber: ownerNumber})
	repo := calls.NewMemoryRepo()
	store := calls.NewStore(repo, calls.NewMemoryCache(), dir)
	audits := audit.NewMemoryRepo()
	convs := NewRegistry(time.Hour)
	t.Cleanup(convs.Shutdown)

	h := &WebhookHandler{
		Calls:         store,
		Deps:          ivr.Deps{Calls: store, Texts: texts.NewResolver(texts.NewMemoryRepo()), Users: dir},
		Factory:       factory,
		Conversations: convs,
		Tracker:       audit.NewService(audits),
		TurnTimeout:   turnTimeout,
	}

	r := gin.New()
	r.POST("/webhooks/twilio/voice", h.HandleVoice)
	r.POST(GatherPath, h.HandleGather)
	r.POST("/webhooks/twilio/voice/status", h.HandleStatus)

	return &testEnv{router: r, store: store, repo: repo, audits: audits, convs: convs}
}

func (e *testEnv) post(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func callForm(sid, to string, extra ...string) url.Values {
	v := url.Values{"CallSid": {sid}, "From": {callerNumber}, "To": {to}}
	for i := 0; i+1 < len(extra); i += 2 {
		v.Set(extra[i], extra[i+1])
	}
	return v
}

func factoryOf(run func(ctx context.Context, b *ivr.Base) error) ivr.Factory {
	return func(d ivr.Deps, ch ivr.Channel) ivr.Handler {
		b := ivr.NewBase(d, ch)
		return ivr.HandlerFunc(func(ctx context.Context) error { return run(ctx, b) })
	}
}

var askName = factoryOf(func(ctx context.Context, b *ivr.Base) error {
	_, err := b.AskForInput(ctx, "What is your name?", ivr.ReadOptions{})
	return err
})

func TestWebhook_AskInputThenHangup(t *testing.T) {
	e := newEnv(t, askName, time.Second)

	w := e.post(t, "/webhooks/twilio/voice", callForm("abc", ownerNumber, "CallerName", "JOHN DOE"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/xml")
	assert.Contains(t, w.Body.String(), "What is your name?")
	assert.Contains(t, w.Body.String(), "<Gather")
	assert.Contains(t, w.Body.String(), "turn=1")

	w = e.post(t, GatherURL(1), callForm("abc", ownerNumber, "Digits", "John"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<Hangup")

	w = e.post(t, "/webhooks/twilio/voice/status", callForm("abc", ownerNumber, "CallStatus", "completed"))
	require.Equal(t, http.StatusNoContent, w.Code)

	require.Equal(t, 1, e.repo.Rows())
	sess, err := e.store.Lookup(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), sess.UserID)
	assert.False(t, sess.IsOpen)
	assert.False(t, sess.HasError)
	assert.Equal(t, "JOHN DOE", sess.Data.Params["CallerName"])
	require.Len(t, sess.History, 2)
	assert.Equal(t, calls.StepAskInput, sess.History[0].StepType)
	assert.Equal(t, calls.StepUserInput, sess.History[1].StepType)
	require.NotNil(t, sess.History[1].UserResponse)
	assert.Equal(t, "John", *sess.History[1].UserResponse)
	assert.Equal(t, 0, e.convs.Len())
}

func TestWebhook_UnknownDialedNumber(t *testing.T) {
	e := newEnv(t, ivr.NewIntakeHandler, time.Second)

	w := e.post(t, "/webhooks/twilio/voice", callForm("abc", "+19999999999"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), ivr.NotConnectedMessage)
	assert.Contains(t, w.Body.String(), "<Hangup")
	assert.Equal(t, 0, e.repo.Rows())
	assert.Empty(t, e.audits.Events())
}

func TestWebhook_DuplicateTurnIsReplayed(t *testing.T) {
	twoQuestions := factoryOf(func(ctx context.Context, b *ivr.Base) error {
		if _, err := b.AskForInput(ctx, "First?", ivr.ReadOptions{}); err != nil {
			return err
		}
		_, err := b.AskForInput(ctx, "Second?", ivr.ReadOptions{})
		return err
	})
	e := newEnv(t, twoQuestions, time.Second)

	e.post(t, "/webhooks/twilio/voice", callForm("abc", ownerNumber))
	first := e.post(t, GatherURL(1), callForm("abc", ownerNumber, "Digits", "1"))
	require.Contains(t, first.Body.String(), "Second?")

	retry := e.post(t, GatherURL(1), callForm("abc", ownerNumber, "Digits", "1"))
	assert.Equal(t, first.Body.String(), retry.Body.String())

	sess, _ := e.store.FindActive(context.Background(), "abc")
	inputs := 0
	for _, st := range sess.History {
		if st.StepType == calls.StepUserInput {
			inputs++
		}
	}
	assert.Equal(t, 1, inputs)
}

func TestWebhook_DuplicateNewCallIsReplayed(t *testing.T) {
	e := newEnv(t, askName, time.Second)

	first := e.post(t, "/webhooks/twilio/voice", callForm("abc", ownerNumber))
	second := e.post(t, "/webhooks/twilio/voice", callForm("abc", ownerNumber))

	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, e.repo.Rows())
	assert.Equal(t, 1, e.convs.Len())
}

func TestWebhook_EmptyGatherDeliversEmptyReply(t *testing.T) {
	var got *string
	h := factoryOf(func(ctx context.Context, b *ivr.Base) error {
		v, err := b.AskForInput(ctx, "Anything?", ivr.ReadOptions{})
		got = &v
		return err
	})
	e := newEnv(t, h, time.Second)

	e.post(t, "/webhooks/twilio/voice", callForm("abc", ownerNumber))
	w := e.post(t, GatherURL(1), callForm("abc", ownerNumber))
	require.Contains(t, w.Body.String(), "<Hangup")
	require.NotNil(t, got)
	assert.Equal(t, "", *got)
}

func TestWebhook_HandlerErrorBecomesApology(t *testing.T) {
	failing := factoryOf(func(ctx context.Context, b *ivr.Base) error {
		if err := b.SendMessage(ctx, "Welcome"); err != nil {
			return err
		}
		return errors.New("boom")
	})
	e := newEnv(t, failing, time.Second)

	w := e.post(t, "/webhooks/twilio/voice", callForm("abc", ownerNumber))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Welcome")
	assert.Contains(t, body, DefaultFallbackMessage)
	assert.Contains(t, body, "<Hangup")

	sess, ok := e.store.FindActive(context.Background(), "abc")
	require.True(t, ok)
	assert.True(t, sess.HasError)
	assert.Equal(t, "boom", sess.ErrorMessage)
	assert.Equal(t, calls.StepError, sess.History[len(sess.History)-1].StepType)

	evs := e.audits.ByCall("abc")
	require.Len(t, evs, 1)
	assert.Equal(t, audit.EventTypeUncaughtError, evs[0].Type)
	assert.Equal(t, int64(1), evs[0].UserID)
}

func TestWebhook_HandlerPanicBecomesApology(t *testing.T) {
	panicking := factoryOf(func(ctx context.Context, b *ivr.Base) error {
		panic("nil map")
	})
	e := newEnv(t, panicking, time.Second)

	w := e.post(t, "/webhooks/twilio/voice", callForm("abc", ownerNumber))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), DefaultFallbackMessage)

	sess, ok := e.store.FindActive(context.Background(), "abc")
	require.True(t, ok)
	assert.True(t, sess.HasError)
	assert.Contains(t, sess.ErrorMessage, "nil map")
}

func TestWebhook_GatherForUnknownConversation(t *testing.T) {
	e := newEnv(t, askName, time.Second)
	// The session exists in storage but this instance never ran the call.
	require.NotNil(t, e.store.Initialize(context.Background(), "abc", callerNumber, ownerNumber))

	w := e.post(t, GatherURL(3), callForm("abc", ownerNumber, "Digits", "1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), DefaultFallbackMessage)
	assert.Contains(t, w.Body.String(), "<Hangup")

	sess, _ := e.store.FindActive(context.Background(), "abc")
	assert.True(t, sess.HasError)
	evs := e.audits.ByCall("abc")
	require.Len(t, evs, 1)
	assert.Equal(t, audit.EventTypeUnknownCall, evs[0].Type)
}

func TestWebhook_TurnTimeout(t *testing.T) {
	stuck := factoryOf(func(ctx context.Context, b *ivr.Base) error {
		<-ctx.Done()
		return ctx.Err()
	})
	e := newEnv(t, stuck, 50*time.Millisecond)

	w := e.post(t, "/webhooks/twilio/voice", callForm("abc", ownerNumber))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), DefaultFallbackMessage)
	assert.Equal(t, 0, e.convs.Len())

	evs := e.audits.ByCall("abc")
	require.Len(t, evs, 1)
	assert.Equal(t, audit.EventTypeTurnTimeout, evs[0].Type)
}

func TestWebhook_CallerHangsUpMidRead(t *testing.T) {
	e := newEnv(t, askName, time.Second)

	e.post(t, "/webhooks/twilio/voice", callForm("abc", ownerNumber))
	conv, ok := e.convs.Get("abc")
	require.True(t, ok)

	w := e.post(t, "/webhooks/twilio/voice/status", callForm("abc", ownerNumber, "CallStatus", "completed"))
	require.Equal(t, http.StatusNoContent, w.Code)

	select {
	case <-conv.Done():
	case <-time.After(time.Second):
		t.Fatalf("handler goroutine did not exit")
	}

	sess, err := e.store.Lookup(context.Background(), "abc")
	require.NoError(t, err)
	assert.False(t, sess.IsOpen)
	assert.False(t, sess.HasError)
	assert.Equal(t, calls.StepCallEnded, sess.CurrentStep)
	assert.Empty(t, e.audits.Events())
}

func TestWebhook_NonTerminalStatusKeepsCallOpen(t *testing.T) {
	e := newEnv(t, askName, time.Second)
	e.post(t, "/webhooks/twilio/voice", callForm("abc", ownerNumber))

	w := e.post(t, "/webhooks/twilio/voice/status", callForm("abc", ownerNumber, "CallStatus", "in-progress"))
	require.Equal(t, http.StatusNoContent, w.Code)

	sess, ok := e.store.FindActive(context.Background(), "abc")
	require.True(t, ok)
	assert.True(t, sess.IsOpen)
	assert.Equal(t, 1, e.convs.Len())
}

func TestWebhook_BadRequests(t *testing.T) {
	e := newEnv(t, askName, time.Second)

	assert.Equal(t, http.StatusBadRequest, e.post(t, "/webhooks/twilio/voice", url.Values{}).Code)
	assert.Equal(t, http.StatusBadRequest, e.post(t, GatherPath+"?turn=x", callForm("abc", ownerNumber)).Code)
	assert.Equal(t, http.StatusBadRequest, e.post(t, "/webhooks/twilio/voice/status", url.Values{}).Code)
}

func TestWebhook_DefaultsToNotImplemented(t *testing.T) {
	e := newEnv(t, nil, time.Second)

	w := e.post(t, "/webhooks/twilio/voice", callForm("abc", ownerNumber))
	assert.Contains(t, w.Body.String(), ivr.NotImplementedMessage)
	assert.Contains(t, w.Body.String(), "<Hangup")
}
