package coordinator

import (
	"encoding/json"
	"time"

	"teleconsult/internal/calls"
)

// Messages pushed to connection handles. Each carries its wire type.

type CallStarted struct {
	Type         string    `json:"type"`
	CallID       string    `json:"callId"`
	StartInstant time.Time `json:"startInstant"`
}

type SignalMessage struct {
	Type    string          `json:"type"`
	CallID  string          `json:"callId"`
	Payload json.RawMessage `json:"payload"`
}

type ChatMessage struct {
	Type       string          `json:"type"`
	CallID     string          `json:"callId"`
	SenderName string          `json:"senderName"`
	Message    json.RawMessage `json:"message"`
	Timestamp  time.Time       `json:"timestamp"`
}

type CallEnded struct {
	Type     string        `json:"type"`
	CallID   string        `json:"callId"`
	Duration int           `json:"duration"`
	Amount   int64         `json:"amount"`
	Currency string        `json:"currency"`
	Status   OutcomeStatus `json:"status"`
}

type CallFailed struct {
	Type   string `json:"type"`
	CallID string `json:"callId"`
	Reason string `json:"reason"`
}

type ParticipantDisconnected struct {
	Type   string     `json:"type"`
	CallID string     `json:"callId"`
	Role   calls.Role `json:"role"`
}

const (
	reasonTimeout          = "timeout"
	reasonParticipantsLeft = "participants_left"
	reasonEndedBeforeStart = "ended_before_start"
)

func newCallStarted(callID string, start time.Time) CallStarted {
	return CallStarted{Type: "callStarted", CallID: callID, StartInstant: start}
}

func newCallEnded(o Outcome) CallEnded {
	return CallEnded{
		Type:     "callEnded",
		CallID:   o.CallID,
		Duration: o.DurationMinutes,
		Amount:   o.AmountMinor,
		Currency: o.Currency,
		Status:   o.Status,
	}
}

func newCallFailed(callID, reason string) CallFailed {
	return CallFailed{Type: "callFailed", CallID: callID, Reason: reason}
}
