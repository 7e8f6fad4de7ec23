package coordinator

import (
	"context"

	"teleconsult/internal/metrics"
)

// Relay forwards a payload from the sender's role to the other role's
// current handle on the same call. It never inspects the payload.
//
// delivered is false, with a nil error, when there is no counterpart or
// the counterpart cannot take the message right now; negotiation traffic
// is not buffered.
func (c *Coordinator) Relay(_ context.Context, req RelayRequest) (delivered bool, err error) {
	if !req.Kind.Valid() {
		return false, ErrInvalidKind
	}
	if !req.From.Valid() {
		return false, ErrInvalidRole
	}
	if req.Conn == nil {
		return false, ErrInvalidRequest
	}

	s := c.reg.get(req.CallID)
	if s == nil {
		return false, ErrNotRegistered
	}

	s.connMu.RLock()
	cur := s.conns[req.From]
	peer := s.conns[req.From.Counterpart()]
	s.connMu.RUnlock()

	if cur == nil || cur.ID() != req.Conn.ID() {
		return false, ErrNotRegistered
	}
	if peer == nil {
		metrics.RecordRelay(string(req.Kind), false)
		return false, nil
	}

	var msg any
	if req.Kind == KindChat {
		msg = ChatMessage{
			Type:       "message",
			CallID:     req.CallID,
			SenderName: req.SenderName,
			Message:    req.Payload,
			Timestamp:  c.clock().UTC(),
		}
	} else {
		msg = SignalMessage{Type: string(req.Kind), CallID: req.CallID, Payload: req.Payload}
	}

	if err := peer.Send(msg); err != nil {
		c.log.Debug("relay dropped", "call_id", req.CallID, "kind", req.Kind, "err", err)
		metrics.RecordRelay(string(req.Kind), false)
		return false, nil
	}
	metrics.RecordRelay(string(req.Kind), true)
	return true, nil
}
