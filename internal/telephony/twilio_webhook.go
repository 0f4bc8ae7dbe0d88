package telephony

import (
	"net/http"
	"strings"
)

// TwilioVoiceForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/twiml#request-parameters

type TwilioVoiceForm struct {
	CallSid       string
	AccountSid    string
	From          string
	To            string
	Direction     string
	CallStatus    string
	Digits        string
	CallerName    string
	FromCity      string
	FromState     string
	FromZip       string
	FromCountry   string
	ToCity        string
	ToState       string
	ToZip         string
	ToCountry     string
	ForwardedFrom string
}

func ParseTwilioVoiceForm(r *http.Request) (TwilioVoiceForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioVoiceForm{}, err
	}
	f := TwilioVoiceForm{
		CallSid:       strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:    r.PostFormValue("AccountSid"),
		From:          normalizePhone(r.PostFormValue("From")),
		To:            normalizePhone(r.PostFormValue("To")),
		Direction:     r.PostFormValue("Direction"),
		CallStatus:    r.PostFormValue("CallStatus"),
		Digits:        strings.TrimSpace(r.PostFormValue("Digits")),
		CallerName:    r.PostFormValue("CallerName"),
		FromCity:      r.PostFormValue("FromCity"),
		FromState:     r.PostFormValue("FromState"),
		FromZip:       r.PostFormValue("FromZip"),
		FromCountry:   r.PostFormValue("FromCountry"),
		ToCity:        r.PostFormValue("ToCity"),
		ToState:       r.PostFormValue("ToState"),
		ToZip:         r.PostFormValue("ToZip"),
		ToCountry:     r.PostFormValue("ToCountry"),
		ForwardedFrom: normalizePhone(r.PostFormValue("ForwardedFrom")),
	}
	return f, nil
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}

// Params returns the non-empty caller metadata for the session data bag.
func (f TwilioVoiceForm) Params() map[string]string {
	all := map[string]string{
		"AccountSid":    f.AccountSid,
		"Direction":     f.Direction,
		"CallerName":    f.CallerName,
		"FromCity":      f.FromCity,
		"FromState":     f.FromState,
		"FromZip":       f.FromZip,
		"FromCountry":   f.FromCountry,
		"ToCity":        f.ToCity,
		"ToState":       f.ToState,
		"ToZip":         f.ToZip,
		"ToCountry":     f.ToCountry,
		"ForwardedFrom": f.ForwardedFrom,
	}
	out := make(map[string]string, len(all))
	for k, v := range all {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Terminal call statuses; Twilio sends no further webhooks after these.
// Ref: https://www.twilio.com/docs/voice/api/call-resource#call-status-values
const (
	CallStatusCompleted = "completed"
	CallStatusBusy      = "busy"
	CallStatusFailed    = "failed"
	CallStatusNoAnswer  = "no-answer"
	CallStatusCanceled  = "canceled"
)

func IsTerminalStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case CallStatusCompleted, CallStatusBusy, CallStatusFailed, CallStatusNoAnswer, CallStatusCanceled:
		return true
	}
	return false
}
