// Package coordinator is the authority for live call sessions: who is
// present, signaling relay between the two parties, and the single
// start/end arbitration that hands a call to billing exactly once.
package coordinator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"teleconsult/internal/calls"
	"teleconsult/internal/config"
)

// Records is the durable record view the coordinator reads.
type Records interface {
	Get(ctx context.Context, callID string) (calls.Record, error)
	MarkActive(ctx context.Context, callID string, startedAt time.Time) error
}

// Persistence commits a call's final record. A nil error means committed;
// calls.ErrAlreadyFinalized means an earlier commit won.
type Persistence interface {
	Commit(ctx context.Context, f calls.Finalization) error
}

type Coordinator struct {
	records Records
	persist Persistence
	reg     *registry

	maxPendingWait time.Duration
	commitTimeout  time.Duration

	log *slog.Logger
	// clock is injectable for deterministic tests.
	clock func() time.Time

	unsettledMu sync.Mutex
	unsettled   map[string]Outcome
}

func New(records Records, persist Persistence, cfg config.CallsConfig, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxPendingWait <= 0 {
		cfg.MaxPendingWait = 2 * time.Minute
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = 10 * time.Second
	}
	return &Coordinator{
		records:        records,
		persist:        persist,
		reg:            newRegistry(),
		maxPendingWait: cfg.MaxPendingWait,
		commitTimeout:  cfg.CommitTimeout,
		log:            log.With("subsystem", "coordinator"),
		clock:          time.Now,
		unsettled:      map[string]Outcome{},
	}
}

// Sessions reports how many calls are currently held in memory.
func (c *Coordinator) Sessions() int { return c.reg.size() }

// Holds reports whether callID has a live session.
func (c *Coordinator) Holds(callID string) bool { return c.reg.get(callID) != nil }

// Unsettled lists calls whose commit failed, oldest first. They are never
// retried here; an operator reconciles them.
func (c *Coordinator) Unsettled() []Outcome {
	c.unsettledMu.Lock()
	out := make([]Outcome, 0, len(c.unsettled))
	for _, o := range c.unsettled {
		out = append(out, o)
	}
	c.unsettledMu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].EndedAt.Equal(out[j].EndedAt) {
			return out[i].CallID < out[j].CallID
		}
		return out[i].EndedAt.Before(out[j].EndedAt)
	})
	return out
}

func (c *Coordinator) markUnsettled(o Outcome) {
	c.unsettledMu.Lock()
	defer c.unsettledMu.Unlock()
	c.unsettled[o.CallID] = o
}

func (c *Coordinator) unsettledOutcome(callID string) (Outcome, bool) {
	c.unsettledMu.Lock()
	defer c.unsettledMu.Unlock()
	o, ok := c.unsettled[callID]
	return o, ok
}

func (c *Coordinator) send(h Conn, callID string, msg any) {
	if err := h.Send(msg); err != nil {
		c.log.Debug("notify failed", "call_id", callID, "conn_id", h.ID(), "err", err)
	}
}
