package signaling

import "encoding/json"

// Client to server message types.
const (
	typeJoinCall    = "joinCall"
	typeOffer       = "offer"
	typeAnswer      = "answer"
	typeCandidate   = "candidate"
	typeChatMessage = "chatMessage"
	typeEndCall     = "endCall"
	typePing        = "ping"
)

type envelope struct {
	Type string `json:"type"`
}

type joinPayload struct {
	CallID string `json:"callId"`
	// Role is optional; when present it must match the token's role.
	Role string `json:"role,omitempty"`
}

type signalPayload struct {
	CallID  string          `json:"callId"`
	Payload json.RawMessage `json:"payload"`
}

type chatPayload struct {
	CallID     string          `json:"callId"`
	SenderName string          `json:"senderName"`
	Message    json.RawMessage `json:"message"`
}

type endPayload struct {
	CallID string `json:"callId"`
}

type joinedReply struct {
	Type   string `json:"type"`
	CallID string `json:"callId"`
	Phase  string `json:"phase"`
}

type errorReply struct {
	Type   string `json:"type"`
	CallID string `json:"callId,omitempty"`
	Error  string `json:"error"`
}

type pongReply struct {
	Type string `json:"type"`
}
