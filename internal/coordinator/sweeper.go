package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SweepAbandoned ends every pending session older than the max pending wait
// and returns how many it ended.
func (c *Coordinator) SweepAbandoned(ctx context.Context) int {
	now := c.clock().UTC()
	c.reg.pruneEnded(now.Add(-c.maxPendingWait))

	n := 0
	for _, s := range c.reg.snapshot() {
		s.mu.Lock()
		if s.phase != PhasePending || now.Sub(s.createdAt) < c.maxPendingWait {
			s.mu.Unlock()
			continue
		}
		cl, ok := c.claimLocked(s, SourceAbandoned, reasonTimeout, now)
		s.mu.Unlock()
		if !ok {
			continue
		}
		c.log.Info("pending call abandoned", "call_id", s.callID, "waited", now.Sub(s.createdAt))
		c.settle(ctx, s, cl)
		n++
	}
	return n
}

// Sweeper runs SweepAbandoned on a fixed interval.
type Sweeper struct {
	coord    *Coordinator
	interval time.Duration
	log      *slog.Logger

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewSweeper(coord *Coordinator, interval time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sweeper{
		coord:    coord,
		interval: interval,
		log:      log.With("subsystem", "sweeper"),
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in background.
// Safe to call multiple times - only the first call starts the sweeper.
func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run(ctx)
		s.log.Info("sweeper started", "interval", s.interval)
	})
}

// Stop gracefully shuts down the sweeper.
// Safe to call multiple times - only the first call stops the sweeper.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.log.Info("sweeper stopped")
	})
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if n := s.coord.SweepAbandoned(ctx); n > 0 {
				s.log.Info("abandoned calls swept", "count", n)
			}
		}
	}
}
