package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ivr-platform/internal/audit"
	"ivr-platform/internal/calls"
	"ivr-platform/internal/ivr"
	"ivr-platform/pkg/logger"
)

const (
	DefaultFallbackMessage = "We are sorry, an application error occurred. Goodbye."
	defaultTurnTimeout     = 10 * time.Second
)

// ErrUnknownConversation is recorded when a gather webhook reaches an
// instance that is not running the call (failover or restart).
var ErrUnknownConversation = errors.New("telephony: no live conversation for call")

// ErrorTracker records failures the caller only heard as an apology.
type ErrorTracker interface {
	LogCallFailure(ctx context.Context, typ audit.EventType, userID int64, callID, message string) error
}

// WebhookHandler binds Twilio voice webhooks to the session store and runs
// one handler per call.
//
// Every failure below it ends with the fallback apology and a hangup; the
// caller never hears silence or a provider error.
type WebhookHandler struct {
	Calls         *calls.Store
	Deps          ivr.Deps
	Factory       ivr.Factory
	Conversations *Registry
	Tracker       ErrorTracker
	Renderer      Renderer

	// TurnTimeout bounds how long a webhook waits for the handler's next TwiML.
	TurnTimeout     time.Duration
	FallbackMessage string
}

// HandleVoice handles the new-call webhook.
func (h *WebhookHandler) HandleVoice(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseTwilioVoiceForm(c.Request)
	if err != nil || form.CallSid == "" {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	ctx := logger.WithCall(c.Request.Context(), form.CallSid)

	if conv, ok := h.Conversations.Get(form.CallSid); ok {
		h.replayNewCall(c, conv)
		return
	}

	h.Calls.Initialize(ctx, form.CallSid, form.From, form.To)
	h.Calls.SetParams(ctx, form.CallSid, form.Params())

	conv, added := h.Conversations.Add(NewConversation(context.WithoutCancel(ctx), form.CallSid, form.From, form.To, h.Renderer))
	if !added {
		h.replayNewCall(c, conv)
		return
	}
	go h.run(conv)

	t, err := conv.start(ctx, h.turnTimeout())
	if err != nil {
		h.fail(ctx, c, conv.CallID(), err)
		return
	}
	writeTwiML(c, t.TwiML)
}

func (h *WebhookHandler) replayNewCall(c *gin.Context, conv *Conversation) {
	t, ok := conv.replay(h.turnTimeout())
	if !ok {
		h.fail(c.Request.Context(), c, conv.CallID(), ErrTurnTimeout)
		return
	}
	logger.From(c.Request.Context()).Info("duplicate new call event replayed", "call_sid", conv.CallID())
	writeTwiML(c, t.TwiML)
}

// HandleGather handles the action of a Gather turn (?turn=N).
func (h *WebhookHandler) HandleGather(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseTwilioVoiceForm(c.Request)
	if err != nil || form.CallSid == "" {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	turn, err := strconv.Atoi(c.Query("turn"))
	if err != nil || turn <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid turn"})
		return
	}
	ctx := logger.WithCall(c.Request.Context(), form.CallSid)
	log = logger.From(ctx)

	conv, ok := h.Conversations.Get(form.CallSid)
	if !ok {
		log.Warn("gather for unknown conversation", "turn", turn)
		h.Calls.MarkError(ctx, form.CallSid, ErrUnknownConversation)
		h.track(ctx, audit.EventTypeUnknownCall, form.CallSid, ErrUnknownConversation.Error())
		h.writeFallback(c)
		return
	}

	t, replayed, err := conv.deliver(ctx, turn, form.Digits, h.turnTimeout())
	if err != nil {
		h.fail(ctx, c, conv.CallID(), err)
		return
	}
	if replayed {
		log.Info("turn replayed", "turn", turn, "current", t.Seq)
	}
	writeTwiML(c, t.TwiML)
}

// HandleStatus handles the status callback; terminal statuses close the call.
func (h *WebhookHandler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseTwilioVoiceForm(c.Request)
	if err != nil || form.CallSid == "" {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if !IsTerminalStatus(form.CallStatus) {
		c.Status(http.StatusNoContent)
		return
	}

	ctx := logger.WithCall(c.Request.Context(), form.CallSid)
	log = logger.From(ctx)
	h.Conversations.End(form.CallSid)
	h.Calls.FinalizeCall(ctx, form.CallSid)
	log.Info("call ended", "status", form.CallStatus)
	c.Status(http.StatusNoContent)
}

// run drives one handler to completion on its own goroutine. This is the
// catch-all for handler errors and panics.
func (h *WebhookHandler) run(conv *Conversation) {
	ctx := conv.Context()
	log := logger.From(ctx)
	defer conv.exited()

	err := h.process(ctx, conv)
	switch {
	case err == nil:
		if ferr := conv.finish(ctx, nil); ferr != nil && !errors.Is(ferr, ivr.ErrHungUp) {
			log.Warn("final turn not delivered", "err", ferr)
		}
	case errors.Is(err, ivr.ErrHungUp) || ctx.Err() != nil:
		log.Info("conversation ended before handler finished", "err", err)
	default:
		log.Error("call handler failed", "err", err)
		h.Calls.MarkError(ctx, conv.CallID(), err)
		h.track(ctx, audit.EventTypeUncaughtError, conv.CallID(), err.Error())
		if ferr := conv.finish(ctx, []ivr.Prompt{ivr.Say(h.fallbackMessage())}); ferr != nil {
			log.Warn("fallback turn not delivered", "err", ferr)
		}
	}
}

func (h *WebhookHandler) process(ctx context.Context, conv *Conversation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("call handler panic: %v", r)
		}
	}()
	if h.Factory == nil {
		return ivr.NewNotImplementedHandler(h.Deps, conv).ProcessCall(ctx)
	}
	return h.Factory(h.Deps, conv).ProcessCall(ctx)
}

// fail handles a webhook that got no usable turn: the conversation is
// dropped, the session marked and the caller hears the apology.
func (h *WebhookHandler) fail(ctx context.Context, c *gin.Context, callID string, err error) {
	logger.From(ctx).Error("call turn failed", "err", err)

	typ := audit.EventTypeUncaughtError
	if errors.Is(err, ErrTurnTimeout) {
		typ = audit.EventTypeTurnTimeout
	}
	h.Conversations.End(callID)
	// The request may already be gone; the record must still be written.
	ctx = context.WithoutCancel(ctx)
	h.Calls.MarkError(ctx, callID, err)
	h.track(ctx, typ, callID, err.Error())
	h.writeFallback(c)
}

func (h *WebhookHandler) track(ctx context.Context, typ audit.EventType, callID, message string) {
	if h.Tracker == nil {
		return
	}
	var userID int64
	if sess, ok := h.Calls.FindActive(ctx, callID); ok {
		userID = sess.UserID
	}
	if err := h.Tracker.LogCallFailure(context.WithoutCancel(ctx), typ, userID, callID, message); err != nil {
		logger.From(ctx).Warn("audit append failed", "type", typ, "err", err)
	}
}

func (h *WebhookHandler) writeFallback(c *gin.Context) {
	doc, err := h.Renderer.Fallback(h.fallbackMessage())
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	writeTwiML(c, doc)
}

func (h *WebhookHandler) turnTimeout() time.Duration {
	if h.TurnTimeout > 0 {
		return h.TurnTimeout
	}
	return defaultTurnTimeout
}

func (h *WebhookHandler) fallbackMessage() string {
	if h.FallbackMessage != "" {
		return h.FallbackMessage
	}
	return DefaultFallbackMessage
}

func writeTwiML(c *gin.Context, doc string) {
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, doc)
}
