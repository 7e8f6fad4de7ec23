package signaling

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"teleconsult/internal/auth"
	"teleconsult/internal/calls"
	"teleconsult/internal/config"
	"teleconsult/internal/coordinator"
	"teleconsult/internal/settlement"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type fakeResolver map[string]auth.Caller

func (f fakeResolver) ResolveCaller(credential string) (auth.Caller, error) {
	c, ok := f[strings.TrimPrefix(credential, "Bearer ")]
	if !ok {
		return auth.Caller{}, auth.ErrInvalidCredential
	}
	return c, nil
}

type testServer struct {
	srv  *httptest.Server
	repo *calls.MemoryRepo
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := calls.NewMemoryRepo()
	if err := repo.CreatePending(context.Background(), calls.Record{
		CallID:             "C1",
		RequesterID:        "u1",
		ProviderID:         "doc1",
		RatePerMinuteMinor: 250,
		Currency:           "USD",
		CreatedAt:          time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := calls.NewService(repo, nil, nil, calls.Options{})
	coord := coordinator.New(svc, settlement.NewSync(svc, nil, nil, nil, log), config.CallsConfig{}, log)

	resolver := fakeResolver{
		"tok-u1":   {ID: "u1", Role: "requester"},
		"tok-doc1": {ID: "doc1", Role: "provider"},
		"tok-op":   {ID: "op1", Role: "operator"},
	}
	h := NewHandler(coord, resolver, config.SignalConfig{PingPeriod: time.Second, SendBuffer: 16, ReadLimit: 1 << 16}, log)

	r := gin.New()
	r.GET("/ws/signal", h.ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, repo: repo}
}

func (ts *testServer) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws/signal?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	if err := ws.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// expect reads until a message of the given type arrives.
func expect(t *testing.T, ws *websocket.Conn, typ string) map[string]any {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("bad json %s: %v", data, err)
		}
		if m["type"] == typ {
			return m
		}
	}
}

func TestSignaling_RejectsBadToken(t *testing.T) {
	ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws/signal?token=nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestSignaling_RejectsNonParty(t *testing.T) {
	ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws/signal?token=tok-op"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}

func TestSignaling_FullCall(t *testing.T) {
	ts := newTestServer(t)
	req := ts.dial(t, "tok-u1")
	prov := ts.dial(t, "tok-doc1")

	send(t, req, map[string]any{"type": "joinCall", "callId": "C1", "role": "requester"})
	if m := expect(t, req, "joined"); m["phase"] != "pending" {
		t.Fatalf("expected pending, got %v", m)
	}
	send(t, prov, map[string]any{"type": "joinCall", "callId": "C1"})
	expect(t, req, "callStarted")
	expect(t, prov, "callStarted")

	send(t, req, map[string]any{"type": "offer", "callId": "C1", "payload": map[string]any{"sdp": "v=0"}})
	offer := expect(t, prov, "offer")
	payload, _ := offer["payload"].(map[string]any)
	if payload["sdp"] != "v=0" {
		t.Fatalf("expected payload relayed unmodified, got %v", offer)
	}

	send(t, prov, map[string]any{"type": "chatMessage", "callId": "C1", "senderName": "Dr. B", "message": "hello"})
	chat := expect(t, req, "message")
	if chat["senderName"] != "Dr. B" || chat["message"] != "hello" || chat["timestamp"] == nil {
		t.Fatalf("unexpected chat: %v", chat)
	}

	send(t, req, map[string]any{"type": "endCall", "callId": "C1"})
	ended := expect(t, prov, "callEnded")
	if ended["status"] != "completed" || ended["duration"] != float64(1) || ended["amount"] != float64(250) {
		t.Fatalf("unexpected callEnded: %v", ended)
	}
	expect(t, req, "callEnded")

	rec, err := ts.repo.Get(context.Background(), "C1")
	if err != nil || rec.Status != calls.StatusCompleted {
		t.Fatalf("expected completed record, got %+v err=%v", rec, err)
	}
}

func TestSignaling_RelayBeforeJoin(t *testing.T) {
	ts := newTestServer(t)
	req := ts.dial(t, "tok-u1")

	send(t, req, map[string]any{"type": "offer", "callId": "C1", "payload": map[string]any{}})
	if m := expect(t, req, "error"); m["error"] != "not joined" {
		t.Fatalf("unexpected error reply: %v", m)
	}
}

func TestSignaling_JoinWrongRole(t *testing.T) {
	ts := newTestServer(t)
	req := ts.dial(t, "tok-u1")

	send(t, req, map[string]any{"type": "joinCall", "callId": "C1", "role": "provider"})
	if m := expect(t, req, "error"); m["error"] != "invalid request" {
		t.Fatalf("unexpected error reply: %v", m)
	}
}

func TestSignaling_Ping(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.dial(t, "tok-u1")
	send(t, ws, map[string]any{"type": "ping"})
	expect(t, ws, "pong")
}

func TestSignaling_SocketLossEndsActiveCall(t *testing.T) {
	ts := newTestServer(t)
	req := ts.dial(t, "tok-u1")
	prov := ts.dial(t, "tok-doc1")

	send(t, req, map[string]any{"type": "joinCall", "callId": "C1"})
	expect(t, req, "joined")
	send(t, prov, map[string]any{"type": "joinCall", "callId": "C1"})
	expect(t, req, "callStarted")

	_ = prov.Close()

	if m := expect(t, req, "participantDisconnected"); m["role"] != "provider" {
		t.Fatalf("unexpected notice: %v", m)
	}
	expect(t, req, "callEnded")
}

type disconnectRecorder struct {
	Coordinator
	gone chan string
}

func (d *disconnectRecorder) Disconnect(ctx context.Context, conn coordinator.Conn) {
	d.gone <- conn.ID()
}

func TestWritePump_ExitClosesSocketForReader(t *testing.T) {
	rec := &disconnectRecorder{gone: make(chan string, 1)}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	// A long ping period: only the writer closing the socket can end the read quickly.
	h := NewHandler(rec, fakeResolver{}, config.SignalConfig{PingPeriod: 30 * time.Second, SendBuffer: 4}, log)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		cl := &client{conn: newConn(ws, 4), role: calls.RoleRequester, log: log}
		go h.readPump(context.Background(), cl)

		wctx, stopWriter := context.WithCancel(context.Background())
		go h.writePump(wctx, cl)
		stopWriter()
	}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	select {
	case <-rec.gone:
	case <-time.After(2 * time.Second):
		t.Fatalf("reader did not report disconnect after writer exit")
	}
}
