package texts

import "context"

// Template is a per-user prompt text, optionally backed by a recorded file.
//
// Lookup is always scoped by (UserID, Name). Templates are managed outside
// this subsystem; here they are read-only.
type Template struct {
	UserID   int64  `json:"user_id" db:"user_id"`
	Name     string `json:"name" db:"name"`
	Value    string `json:"value" db:"value"`
	Filepath string `json:"filepath,omitempty" db:"filepath"`
}

// Rendered is what a caller hears for a key.
// AudioFile, when set, is the primary channel; Text is always filled so the
// step history stays readable.
type Rendered struct {
	Text      string
	AudioFile string
}

// Repository is the read contract for templates.
// Find returns (Template{}, false, nil) when nothing matches.
type Repository interface {
	Find(ctx context.Context, userID int64, name string) (Template, bool, error)
}
