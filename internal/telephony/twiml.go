package telephony

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/twilio/twilio-go/twiml"

	"ivr-platform/internal/ivr"
)

const (
	GatherPath = "/webhooks/twilio/voice/gather"

	defaultGatherTimeout = 5 * time.Second
)

// Renderer turns conversation primitives into TwiML verbs.
type Renderer struct {
	Voice        string
	Language     string
	AudioBaseURL string

	// GatherTimeout is how long Twilio waits for the first digit.
	GatherTimeout time.Duration
}

// Prompts renders Say/Play verbs; empty prompts are skipped.
func (r Renderer) Prompts(ps ...ivr.Prompt) []twiml.Element {
	out := make([]twiml.Element, 0, len(ps))
	for _, p := range ps {
		if el := r.prompt(p); el != nil {
			out = append(out, el)
		}
	}
	return out
}

func (r Renderer) prompt(p ivr.Prompt) twiml.Element {
	if p.AudioFile != "" {
		return &twiml.VoicePlay{Url: r.audioURL(p.AudioFile)}
	}
	if strings.TrimSpace(p.Text) == "" {
		return nil
	}
	return &twiml.VoiceSay{Message: p.Text, Voice: r.Voice, Language: r.Language}
}

// Gather renders one input turn: a Gather posting digits back with the
// turn number, then a Redirect to the same action so that silence is
// delivered as an empty reply.
func (r Renderer) Gather(turn int, p ivr.Prompt, opts ivr.ReadOptions) []twiml.Element {
	action := GatherURL(turn)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.GatherTimeout
	}
	if timeout <= 0 {
		timeout = defaultGatherTimeout
	}

	g := &twiml.VoiceGather{
		Input:         "dtmf",
		Action:        action,
		Method:        "POST",
		Timeout:       strconv.Itoa(int((timeout + time.Second - 1) / time.Second)),
		FinishOnKey:   opts.FinishOnKey,
		InnerElements: r.Prompts(p),
	}
	if opts.MaxDigits > 0 {
		g.NumDigits = strconv.Itoa(opts.MaxDigits)
	}
	return []twiml.Element{
		g,
		&twiml.VoiceRedirect{Url: action, Method: "POST"},
	}
}

func (r Renderer) Hangup() twiml.Element { return &twiml.VoiceHangup{} }

// Fallback is the generic apology every failure path ends with.
func (r Renderer) Fallback(message string) (string, error) {
	verbs := r.Prompts(ivr.Say(message))
	return Render(append(verbs, r.Hangup()))
}

func (r Renderer) audioURL(file string) string {
	if strings.HasPrefix(file, "http://") || strings.HasPrefix(file, "https://") || r.AudioBaseURL == "" {
		return file
	}
	return strings.TrimRight(r.AudioBaseURL, "/") + "/" + strings.TrimLeft(file, "/")
}

// GatherURL is the relative action URL for a turn; Twilio resolves it
// against the webhook URL.
func GatherURL(turn int) string {
	return GatherPath + "?" + url.Values{"turn": {strconv.Itoa(turn)}}.Encode()
}

// Render serializes verbs into a <Response> document.
func Render(verbs []twiml.Element) (string, error) {
	return twiml.Voice(verbs)
}
