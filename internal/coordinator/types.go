package coordinator

import (
	"encoding/json"
	"time"

	"teleconsult/internal/calls"
)

// Conn is a non-owning handle to a party's live transport connection.
// The transport owns its lifecycle; the coordinator only sends through it.
type Conn interface {
	// ID is unique per transport connection.
	ID() string
	// Send must not block.
	Send(msg any) error
}

type Phase int

const (
	PhasePending Phase = iota
	PhaseActive
	PhaseTerminating
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseActive:
		return "active"
	case PhaseTerminating:
		return "terminating"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Source records what ended a call. Diagnostic only; it never changes billing.
type Source string

const (
	SourceRequester    Source = "requester"
	SourceProvider     Source = "provider"
	SourcePresenceLoss Source = "presence_loss"
	SourceAbandoned    Source = "abandoned"
)

type TriggerKind int

const (
	// ExplicitRequest is the authenticated HTTP end path.
	ExplicitRequest TriggerKind = iota + 1
	// RelaySignal is an endCall message over the signaling connection.
	RelaySignal
	// PresenceLoss is a party leaving or its transport dying.
	PresenceLoss
)

func (k TriggerKind) String() string {
	switch k {
	case ExplicitRequest:
		return "explicit_request"
	case RelaySignal:
		return "relay_signal"
	case PresenceLoss:
		return "presence_loss"
	default:
		return "unknown"
	}
}

// Trigger asks the arbiter to end a call. Conn is required for RelaySignal
// and must be the handle registered for Role.
type Trigger struct {
	Kind TriggerKind
	Role calls.Role
	Conn Conn
}

func (t Trigger) source() Source {
	if t.Kind == PresenceLoss {
		return SourcePresenceLoss
	}
	if t.Role == calls.RoleProvider {
		return SourceProvider
	}
	return SourceRequester
}

type OutcomeStatus string

const (
	OutcomeCompleted         OutcomeStatus = "completed"
	OutcomeCancelled         OutcomeStatus = "cancelled"
	OutcomePendingSettlement OutcomeStatus = "pending_settlement"
)

// Outcome is the terminal result of a call as the coordinator saw it.
type Outcome struct {
	CallID string        `json:"call_id"`
	Status OutcomeStatus `json:"status"`
	Source Source        `json:"source,omitempty"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	DurationMinutes int    `json:"duration"`
	AmountMinor     int64  `json:"amount"`
	Currency        string `json:"currency"`

	// Error is set when the commit failed and the call awaits reconciliation.
	Error string `json:"error,omitempty"`
}

// Result is returned by TryTerminate. Applied is false when another trigger
// already won; the winner's outcome can be read with Await.
type Result struct {
	Applied bool
	Outcome Outcome
}

type JoinRequest struct {
	CallID        string
	Role          calls.Role
	ParticipantID string
	Conn          Conn
}

type JoinResult struct {
	// Activated is true only for the join that started the billing clock.
	Activated bool
	Phase     Phase
	StartedAt time.Time
}

// Kind is a relayed payload kind.
type Kind string

const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
	KindChat      Kind = "chat"
)

func (k Kind) Valid() bool {
	switch k {
	case KindOffer, KindAnswer, KindCandidate, KindChat:
		return true
	default:
		return false
	}
}

type RelayRequest struct {
	CallID string
	From   calls.Role
	Conn   Conn
	Kind   Kind
	// Payload is opaque and delivered unmodified.
	Payload    json.RawMessage
	SenderName string
}
