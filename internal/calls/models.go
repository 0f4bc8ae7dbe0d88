package calls

import "time"

// Session is the durable state of one provider call.
//
// Invariants:
// - One row per ProviderCallID.
// - UserID is resolved once at creation and never changes.
// - History is append-only and chronological; only Store.LogStep writes it.
// - Sessions are closed (IsOpen=false), never deleted, by this subsystem.
type Session struct {
	ID             string `json:"id" db:"id"`
	UserID         int64  `json:"user_id" db:"user_id"`
	ProviderCallID string `json:"provider_call_id" db:"provider_call_id"`

	// Phone is the caller's number, which may differ from the dialed number.
	Phone string `json:"phone" db:"phone"`

	History     []Step      `json:"history" db:"history"`
	CurrentStep StepType    `json:"current_step" db:"current_step"`
	Data        SessionData `json:"session_data" db:"session_data"`

	IsOpen       bool   `json:"is_open" db:"is_open"`
	HasError     bool   `json:"has_error" db:"has_error"`
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// StepType is the symbolic kind of a logged step.
type StepType string

const (
	StepCallStarted        StepType = "call_started"
	StepInteraction        StepType = "interaction"
	StepAskInput           StepType = "ask_input"
	StepUserInput          StepType = "user_input"
	StepMenuSelection      StepType = "menu_selection"
	StepAskConfirmation    StepType = "ask_confirmation"
	StepConfirmationResult StepType = "confirmation_result"
	StepSendMessage        StepType = "send_message"
	StepHangupMessage      StepType = "hangup_message"
	StepError              StepType = "error"
	StepCallEnded          StepType = "call_ended"
)

// WaitingForInput is the display response of a step with no caller answer.
const WaitingForInput = "waiting_for_input"

// Step is one logged unit of conversation. Immutable once appended.
type Step struct {
	Time         time.Time `json:"time"`
	Prompt       string    `json:"prompt"`
	StepType     StepType  `json:"step_type"`
	UserResponse *string   `json:"user_response,omitempty"`
	Response     string    `json:"response"`
}

// NewStep builds a step with its derived Response.
func NewStep(at time.Time, prompt string, typ StepType, userResponse *string) Step {
	s := Step{Time: at, Prompt: prompt, StepType: typ, Response: WaitingForInput}
	if userResponse != nil {
		v := *userResponse
		s.UserResponse = &v
		s.Response = v
	}
	return s
}

// SchemaVersion tags the layout of SessionData.
const SchemaVersion = "1"

// SessionData holds request-scoped conversation data.
// Writes are additive: setting one field or param never clears the others.
type SessionData struct {
	CallID    string     `json:"call_id"`
	Phone     string     `json:"phone"`
	Version   string     `json:"version"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	LastPrompt   string `json:"last_prompt,omitempty"`
	LastResponse string `json:"last_response,omitempty"`

	// Params carries open-ended provider parameters (e.g. CallerName, FromCity).
	Params map[string]string `json:"params,omitempty"`
}

// SetParam adds or overwrites one provider parameter.
func (d *SessionData) SetParam(key, value string) {
	if d.Params == nil {
		d.Params = make(map[string]string)
	}
	d.Params[key] = value
}

// Clone returns a deep copy; repositories and caches never share memory with callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.History != nil {
		out.History = make([]Step, len(s.History))
		for i, st := range s.History {
			out.History[i] = st
			if st.UserResponse != nil {
				v := *st.UserResponse
				out.History[i].UserResponse = &v
			}
		}
	}
	if s.Data.EndedAt != nil {
		t := *s.Data.EndedAt
		out.Data.EndedAt = &t
	}
	if s.Data.Params != nil {
		out.Data.Params = make(map[string]string, len(s.Data.Params))
		for k, v := range s.Data.Params {
			out.Data.Params[k] = v
		}
	}
	return &out
}
