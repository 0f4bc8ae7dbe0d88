package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records call failures and privileged operator reads.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to call owners.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.CallID == "" && e.ActorUserID == 0 {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogCallFailure records a failure the caller only heard as an apology.
func (s *Service) LogCallFailure(ctx context.Context, typ EventType, userID int64, callID, message string) error {
	return s.Append(ctx, Event{
		Type:    typ,
		UserID:  userID,
		CallID:  callID,
		Message: message,
	})
}

// LogOperatorAccess records a read of another user's calls (super_admin only).
func (s *Service) LogOperatorAccess(ctx context.Context, actorUserID int64, actorRole, ip, message, metadata string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeOperatorAccess,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		Message:     message,
		Metadata:    metadata,
	})
}
