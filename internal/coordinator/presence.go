package coordinator

import (
	"context"
	"fmt"
	"time"

	"teleconsult/internal/calls"
	"teleconsult/internal/metrics"
)

// Join registers conn as the live handle for a role on a call.
//
// A second join of the same role replaces the stale handle without touching
// the phase or start instant. The join that makes both roles present
// activates the call.
func (c *Coordinator) Join(ctx context.Context, req JoinRequest) (JoinResult, error) {
	if !req.Role.Valid() {
		return JoinResult{}, ErrInvalidRole
	}
	if req.CallID == "" || req.Conn == nil {
		return JoinResult{}, ErrInvalidRequest
	}
	if _, ok := c.unsettledOutcome(req.CallID); ok {
		return JoinResult{}, ErrCallEnded
	}

	rec, err := c.records.Get(ctx, req.CallID)
	if err != nil {
		return JoinResult{}, fmt.Errorf("load call %s: %w", req.CallID, err)
	}
	if rec.Status.Final() {
		return JoinResult{}, ErrCallEnded
	}
	if rec.PartyFor(req.Role) != req.ParticipantID {
		return JoinResult{}, ErrParticipantMismatch
	}

	now := c.clock().UTC()
	s, created, ok := c.reg.getOrCreate(rec, now)
	if !ok {
		return JoinResult{}, ErrCallEnded
	}
	if created {
		c.log.Debug("session created", "call_id", req.CallID)
	}
	connID := req.Conn.ID()
	c.reg.bind(connID, req.CallID, req.Role)

	s.mu.Lock()
	if s.phase >= PhaseTerminating {
		s.mu.Unlock()
		c.reg.unbind(connID, req.CallID)
		return JoinResult{}, ErrCallEnded
	}

	s.connMu.Lock()
	prev := s.conns[req.Role]
	s.conns[req.Role] = req.Conn
	both := s.conns[req.Role.Counterpart()] != nil
	s.connMu.Unlock()

	var res JoinResult
	if s.phase == PhasePending && both {
		s.phase = PhaseActive
		s.startedAt = now
		res.Activated = true
		metrics.RecordStateTransition(PhasePending.String(), PhaseActive.String())
	}
	res.Phase = s.phase
	res.StartedAt = s.startedAt
	s.mu.Unlock()

	if prev != nil && prev.ID() != connID {
		c.reg.unbind(prev.ID(), req.CallID)
		c.log.Info("participant reconnected", "call_id", req.CallID, "role", req.Role)
	}

	switch {
	case res.Activated:
		c.log.Info("call started", "call_id", req.CallID, "started_at", res.StartedAt)
		msg := newCallStarted(req.CallID, res.StartedAt)
		for _, h := range s.handles() {
			c.send(h, req.CallID, msg)
		}
		c.markActive(ctx, req.CallID, res.StartedAt)
	case res.Phase == PhaseActive:
		// Rejoin mid-call: the original start stays authoritative.
		c.send(req.Conn, req.CallID, newCallStarted(req.CallID, res.StartedAt))
	}
	return res, nil
}

// markActive stamps the start on the durable record. Best-effort: the
// finalize carries the start again.
func (c *Coordinator) markActive(ctx context.Context, callID string, startedAt time.Time) {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.commitTimeout)
	defer cancel()
	if err := c.records.MarkActive(mctx, callID, startedAt); err != nil {
		c.log.Warn("mark call active failed", "call_id", callID, "err", err)
	}
}

// Leave unregisters conn from a role. Leaves from a handle that was already
// replaced are ignored. Losing either party of an active call ends it; a
// pending call with nobody left is abandoned.
func (c *Coordinator) Leave(ctx context.Context, callID string, role calls.Role, conn Conn) error {
	if !role.Valid() {
		return ErrInvalidRole
	}
	if conn == nil {
		return ErrInvalidRequest
	}
	s := c.reg.get(callID)
	if s == nil {
		return nil
	}
	now := c.clock().UTC()

	s.mu.Lock()
	s.connMu.Lock()
	cur := s.conns[role]
	if cur == nil || cur.ID() != conn.ID() {
		s.connMu.Unlock()
		s.mu.Unlock()
		return nil
	}
	delete(s.conns, role)
	peer := s.conns[role.Counterpart()]
	remaining := len(s.conns)
	s.connMu.Unlock()

	var (
		cl      claim
		claimed bool
	)
	switch s.phase {
	case PhaseActive:
		cl, claimed = c.claimLocked(s, SourcePresenceLoss, "", now)
	case PhasePending:
		if remaining == 0 {
			cl, claimed = c.claimLocked(s, SourceAbandoned, reasonParticipantsLeft, now)
		}
	}
	s.mu.Unlock()

	c.reg.unbind(conn.ID(), callID)
	c.log.Info("participant left", "call_id", callID, "role", role, "ends_call", claimed)

	if !claimed {
		return nil
	}
	if peer != nil && cl.from == PhaseActive {
		c.send(peer, callID, ParticipantDisconnected{Type: "participantDisconnected", CallID: callID, Role: role})
	}
	c.settle(ctx, s, cl)
	return nil
}

// Disconnect handles transport liveness loss: conn leaves every call it is
// registered under.
func (c *Coordinator) Disconnect(ctx context.Context, conn Conn) {
	if conn == nil {
		return
	}
	for callID, role := range c.reg.bindingsOf(conn.ID()) {
		if err := c.Leave(ctx, callID, role, conn); err != nil {
			c.log.Warn("leave on disconnect failed", "call_id", callID, "err", err)
		}
	}
	c.reg.dropConn(conn.ID())
}
