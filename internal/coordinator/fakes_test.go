package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"teleconsult/internal/calls"
	"teleconsult/internal/config"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	msgs   []any
	refuse bool
}

func newConn(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(msg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse {
		return errors.New("backpressure")
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeConn) messages() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.msgs))
	copy(out, f.msgs)
	return out
}

func messagesOf[T any](c *fakeConn) []T {
	var out []T
	for _, m := range c.messages() {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

type fakePersistence struct {
	repo *calls.MemoryRepo

	mu      sync.Mutex
	commits []calls.Finalization
	err     error
	block   chan struct{}
}

func (p *fakePersistence) Commit(ctx context.Context, f calls.Finalization) error {
	p.mu.Lock()
	p.commits = append(p.commits, f)
	err, block := p.err, p.block
	p.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return err
	}
	_, err = p.repo.Finalize(ctx, f, f.EndedAt)
	return err
}

func (p *fakePersistence) committed() []calls.Finalization {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]calls.Finalization, len(p.commits))
	copy(out, p.commits)
	return out
}

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	coord   *Coordinator
	repo    *calls.MemoryRepo
	persist *fakePersistence
	clock   *fakeClock
}

func newHarness(t *testing.T, callIDs ...string) *harness {
	t.Helper()
	repo := calls.NewMemoryRepo()
	for _, id := range callIDs {
		err := repo.CreatePending(context.Background(), calls.Record{
			CallID:             id,
			RequesterID:        "u-" + id,
			ProviderID:         "doc-" + id,
			RatePerMinuteMinor: 250,
			Currency:           "USD",
			CreatedAt:          t0,
		})
		if err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	persist := &fakePersistence{repo: repo}
	clock := &fakeClock{now: t0}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := New(repo, persist, config.CallsConfig{MaxPendingWait: 2 * time.Minute, CommitTimeout: time.Second}, log)
	coord.clock = clock.Now
	return &harness{coord: coord, repo: repo, persist: persist, clock: clock}
}

func (h *harness) join(t *testing.T, callID string, role calls.Role, conn *fakeConn) JoinResult {
	t.Helper()
	pid := "u-" + callID
	if role == calls.RoleProvider {
		pid = "doc-" + callID
	}
	res, err := h.coord.Join(context.Background(), JoinRequest{CallID: callID, Role: role, ParticipantID: pid, Conn: conn})
	if err != nil {
		t.Fatalf("join %s as %s: %v", callID, role, err)
	}
	return res
}

// activate joins both parties: requester at t0, provider at t0+5s.
func (h *harness) activate(t *testing.T, callID string) (req, prov *fakeConn) {
	t.Helper()
	req, prov = newConn(callID+"-req"), newConn(callID+"-prov")
	h.clock.Set(t0)
	h.join(t, callID, calls.RoleRequester, req)
	h.clock.Set(t0.Add(5 * time.Second))
	if res := h.join(t, callID, calls.RoleProvider, prov); !res.Activated {
		t.Fatalf("expected activation for %s", callID)
	}
	return req, prov
}
