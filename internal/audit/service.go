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
// No Update/Delete methods are provided.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to call parties.
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
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	// System events must name the call they concern.
	if e.ActorUserID == "" && e.CallID == "" {
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

// LogAdminAction records a privileged action taken by an operator.
func (s *Service) LogAdminAction(ctx context.Context, actorUserID, actorRole, ip, message, walletOwnerID, metadata string) error {
	return s.Append(ctx, Event{
		Type:          EventTypeAdminAction,
		ActorUserID:   actorUserID,
		ActorRole:     actorRole,
		IPAddress:     ip,
		WalletOwnerID: walletOwnerID,
		Message:       message,
		Metadata:      metadata,
	})
}

// LogCallProblem records a settlement step that failed for a call.
func (s *Service) LogCallProblem(ctx context.Context, typ EventType, callID, walletOwnerID, message string) error {
	return s.Append(ctx, Event{
		Type:          typ,
		CallID:        callID,
		WalletOwnerID: walletOwnerID,
		Message:       message,
	})
}
