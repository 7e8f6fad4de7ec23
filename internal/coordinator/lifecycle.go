package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"teleconsult/internal/calls"
	"teleconsult/internal/metrics"
	"teleconsult/internal/pricing"
)

// claim is the exclusive right to finish a call, taken under session.mu.
type claim struct {
	from      Phase
	source    Source
	reason    string
	startedAt time.Time
	endedAt   time.Time
	handles   []Conn
}

// claimLocked moves a session onto its terminal path. Only the first caller
// for a session gets ok=true. Caller holds s.mu.
//
// Pending goes straight to Terminated (nothing to bill); Active goes to
// Terminating until settle commits.
func (c *Coordinator) claimLocked(s *session, source Source, reason string, now time.Time) (claim, bool) {
	cl := claim{from: s.phase, source: source, reason: reason}
	switch s.phase {
	case PhasePending:
		s.phase = PhaseTerminated
		if cl.reason == "" {
			cl.reason = reasonEndedBeforeStart
		}
	case PhaseActive:
		s.phase = PhaseTerminating
	default:
		return claim{}, false
	}
	metrics.RecordStateTransition(cl.from.String(), s.phase.String())

	s.endedAt = now
	s.source = source
	cl.startedAt = s.startedAt
	cl.endedAt = now
	cl.handles = s.detachLocked()
	return cl, true
}

// TryTerminate is the single arbiter for ending a call. The first trigger
// wins; every later one returns Applied=false with no side effect.
//
// An ExplicitRequest for a call with no live session opens one so the end is
// arbitrated like any other; the caller must already have verified that the
// requester is a party to the call.
func (c *Coordinator) TryTerminate(ctx context.Context, callID string, trig Trigger) (Result, error) {
	if !trig.Role.Valid() {
		return Result{}, ErrInvalidRole
	}

	s := c.reg.get(callID)
	if s == nil {
		if trig.Kind != ExplicitRequest {
			return Result{}, ErrNotRegistered
		}
		var err error
		s, err = c.openForEnd(ctx, callID)
		if errors.Is(err, ErrCallEnded) {
			return Result{}, nil
		}
		if err != nil {
			return Result{}, err
		}
	}

	now := c.clock().UTC()
	s.mu.Lock()
	if s.phase >= PhaseTerminating {
		s.mu.Unlock()
		return Result{}, nil
	}
	if trig.Kind == PresenceLoss && s.phase == PhasePending {
		// Pending presence changes are Leave's business.
		s.mu.Unlock()
		return Result{}, nil
	}
	if trig.Kind == RelaySignal && !s.registeredAs(trig.Role, trig.Conn) {
		s.mu.Unlock()
		return Result{}, ErrNotRegistered
	}
	cl, _ := c.claimLocked(s, trig.source(), "", now)
	s.mu.Unlock()

	c.log.Info("call termination claimed", "call_id", callID, "trigger", trig.Kind.String(), "role", trig.Role, "from_phase", cl.from.String())
	return Result{Applied: true, Outcome: c.settle(ctx, s, cl)}, nil
}

func (c *Coordinator) openForEnd(ctx context.Context, callID string) (*session, error) {
	if _, ok := c.unsettledOutcome(callID); ok {
		return nil, ErrCallEnded
	}
	rec, err := c.records.Get(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("load call %s: %w", callID, err)
	}
	if rec.Status.Final() {
		return nil, ErrCallEnded
	}
	s, _, ok := c.reg.getOrCreate(rec, c.clock().UTC())
	if !ok {
		return nil, ErrCallEnded
	}
	return s, nil
}

// settle bills, commits and notifies outside every lock, then evicts the
// session. It runs once per call, for the holder of the claim.
func (c *Coordinator) settle(ctx context.Context, s *session, cl claim) Outcome {
	out := Outcome{
		CallID:   s.callID,
		Source:   cl.source,
		EndedAt:  cl.endedAt,
		Currency: s.rec.Currency,
	}
	f := calls.Finalization{CallID: s.callID, EndedAt: cl.endedAt}

	if cl.from == PhaseActive {
		minutes, amount := pricing.ComputeBilling(cl.startedAt, cl.endedAt, s.rec.RatePerMinuteMinor)
		f.Status = calls.StatusCompleted
		f.StartedAt = cl.startedAt
		f.DurationMinutes = minutes
		f.AmountMinor = amount

		out.Status = OutcomeCompleted
		out.StartedAt = cl.startedAt
		out.DurationMinutes = minutes
		out.AmountMinor = amount
	} else {
		f.Status = calls.StatusCancelled
		out.Status = OutcomeCancelled
	}

	err := c.commit(ctx, f)
	if errors.Is(err, calls.ErrAlreadyFinalized) {
		// Someone else wrote the final record; report what was committed.
		var committed Outcome
		committed, err = c.committedOutcome(ctx, s.callID)
		if err == nil {
			c.log.Warn("call already finalized elsewhere", "call_id", s.callID, "status", committed.Status)
			committed.Source = cl.source
			out = committed
		}
	} else if err == nil && out.Status == OutcomeCompleted {
		metrics.BilledMinutes.Add(float64(out.DurationMinutes))
	}
	if err != nil {
		out.Status = OutcomePendingSettlement
		out.Error = err.Error()
		c.markUnsettled(out)
		metrics.CommitFailures.Inc()
		c.log.Error("call commit failed; pending settlement", "call_id", s.callID, "err", err)
	}

	s.mu.Lock()
	prev := s.phase
	s.phase = PhaseTerminated
	s.outcome = out
	s.mu.Unlock()
	if prev != PhaseTerminated {
		metrics.RecordStateTransition(prev.String(), PhaseTerminated.String())
	}

	for _, h := range cl.handles {
		if cl.from == PhaseActive {
			c.send(h, s.callID, newCallEnded(out))
		} else {
			c.send(h, s.callID, newCallFailed(s.callID, cl.reason))
		}
	}

	close(s.done)
	c.reg.evict(s, cl.handles, out, c.clock().UTC())

	c.log.Info("call terminated",
		"call_id", s.callID,
		"status", out.Status,
		"source", out.Source,
		"duration_minutes", out.DurationMinutes,
		"amount_minor", out.AmountMinor,
	)
	return out
}

// commit runs Persistence.Commit under the commit timeout. The terminal path
// cannot be cancelled by the caller, so the parent's cancellation is dropped.
func (c *Coordinator) commit(ctx context.Context, f calls.Finalization) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.commitTimeout)
	defer cancel()

	start := time.Now()
	defer func() { metrics.CommitDuration.Observe(time.Since(start).Seconds()) }()

	errc := make(chan error, 1)
	go func() { errc <- c.persist.Commit(cctx, f) }()

	select {
	case err := <-errc:
		return err
	case <-cctx.Done():
		return fmt.Errorf("commit %s: %w", f.CallID, cctx.Err())
	}
}

// committedOutcome reads back a record another writer already finalized.
func (c *Coordinator) committedOutcome(ctx context.Context, callID string) (Outcome, error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.commitTimeout)
	defer cancel()
	rec, err := c.records.Get(rctx, callID)
	if err != nil {
		return Outcome{}, fmt.Errorf("reload finalized call %s: %w", callID, err)
	}
	if !rec.Status.Final() {
		return Outcome{}, fmt.Errorf("reload finalized call %s: status %s", callID, rec.Status)
	}
	return outcomeFromRecord(rec), nil
}

// Await blocks until the call's outcome is known or ctx ends. Recently
// evicted calls are answered from their tombstone, older ones from the
// durable record.
func (c *Coordinator) Await(ctx context.Context, callID string) (Outcome, error) {
	if s := c.reg.get(callID); s != nil {
		select {
		case <-s.done:
			return s.finalOutcome(), nil
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	}
	if o, ok := c.reg.endedOutcome(callID); ok {
		return o, nil
	}
	if o, ok := c.unsettledOutcome(callID); ok {
		return o, nil
	}

	rec, err := c.records.Get(ctx, callID)
	if err != nil {
		return Outcome{}, err
	}
	if !rec.Status.Final() {
		return Outcome{}, ErrCallNotEnded
	}
	return outcomeFromRecord(rec), nil
}

func outcomeFromRecord(r calls.Record) Outcome {
	o := Outcome{
		CallID:          r.CallID,
		Status:          OutcomeCancelled,
		DurationMinutes: r.DurationMinutes,
		AmountMinor:     r.AmountMinor,
		Currency:        r.Currency,
	}
	if r.Status == calls.StatusCompleted {
		o.Status = OutcomeCompleted
	}
	if r.StartedAt != nil {
		o.StartedAt = *r.StartedAt
	}
	if r.EndedAt != nil {
		o.EndedAt = *r.EndedAt
	}
	return o
}
