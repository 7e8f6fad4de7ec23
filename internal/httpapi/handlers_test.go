package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"teleconsult/internal/auth"
	"teleconsult/internal/calls"
	"teleconsult/internal/config"
	"teleconsult/internal/coordinator"
	"teleconsult/internal/pricing"
	"teleconsult/internal/reporting"
	"teleconsult/internal/settlement"
	"teleconsult/internal/wallet"

	"github.com/gin-gonic/gin"
)

type fakeWallet struct {
	bal     wallet.Balance
	err     error
	credits []wallet.CreditRequest
}

func (f *fakeWallet) GetBalance(ctx context.Context, ownerID string) (wallet.Balance, error) {
	return f.bal, f.err
}

func (f *fakeWallet) Credit(ctx context.Context, ownerID string, req wallet.CreditRequest) (wallet.WalletLedger, wallet.Balance, error) {
	if f.err != nil {
		return wallet.WalletLedger{}, wallet.Balance{}, f.err
	}
	f.credits = append(f.credits, req)
	f.bal.OwnerID = ownerID
	f.bal.BalanceMinor += req.AmountMinor
	return wallet.WalletLedger{ID: "l1"}, f.bal, nil
}

type fakeAuditor struct{ actions []string }

func (f *fakeAuditor) LogAdminAction(ctx context.Context, actorUserID, actorRole, ip, message, walletOwnerID, metadata string) error {
	f.actions = append(f.actions, actorUserID+":"+walletOwnerID+":"+message)
	return nil
}

type nopConn struct{ id string }

func (n nopConn) ID() string     { return n.id }
func (n nopConn) Send(any) error { return nil }

type apiFixture struct {
	router  *gin.Engine
	records *calls.MemoryRepo
	rates   *pricing.MemoryRepo
	history *reporting.MemoryRepo
	wallet  *fakeWallet
	audit   *fakeAuditor
	coord   *coordinator.Coordinator
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	records := calls.NewMemoryRepo()
	rates := pricing.NewMemoryRepo(
		pricing.ProviderRate{ProviderID: "doc1", Currency: "USD", RatePerMinuteMinor: 250, Available: true, Status: pricing.PricingStatusActive},
		pricing.ProviderRate{ProviderID: "doc2", Currency: "USD", RatePerMinuteMinor: 100, Available: false, Status: pricing.PricingStatusActive},
	)
	history := reporting.NewMemoryRepo()
	directory := pricing.NewService(rates)
	callSvc := calls.NewService(records, directory, nil, calls.Options{})
	coord := coordinator.New(callSvc, settlement.NewSync(callSvc, nil, nil, nil, log), config.CallsConfig{}, log)

	f := &apiFixture{
		records: records,
		rates:   rates,
		history: history,
		wallet:  &fakeWallet{bal: wallet.Balance{Currency: "USD", BalanceMinor: 1000}},
		audit:   &fakeAuditor{},
		coord:   coord,
	}
	h := Handlers{
		Calls:     callSvc,
		Coord:     coord,
		Providers: directory,
		History:   reporting.NewService(history),
		Wallet:    f.wallet,
		Audit:     f.audit,
		EndWait:   time.Second,
	}

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if uid := c.GetHeader("X-Test-User"); uid != "" {
			ctx := auth.WithIdentity(c.Request.Context(), uid, c.GetHeader("X-Test-Role"))
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	})
	r.POST("/calls/initiate", h.InitiateCall)
	r.POST("/calls/:call_id/end", h.EndCall)
	r.GET("/calls/:call_id", h.GetCall)
	r.GET("/history", h.ConsultationHistory)
	r.GET("/wallet/balance", h.GetWalletBalance)
	r.POST("/admin/wallets/:owner_id/credit", h.AdminCreditWallet)
	r.GET("/admin/calls/unsettled", h.UnsettledCalls)
	r.GET("/providers/:provider_id", h.GetProvider)
	r.PUT("/providers/me/availability", h.SetAvailability)
	f.router = r
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, user, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if user != "" {
		req.Header.Set("X-Test-User", user)
		req.Header.Set("X-Test-Role", role)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func (f *apiFixture) initiate(t *testing.T, requester, provider string) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/calls/initiate", requester, "requester", gin.H{"provider_id": provider})
	if w.Code != http.StatusCreated {
		t.Fatalf("initiate: expected 201, got %d %s", w.Code, w.Body.String())
	}
	return decode[initiateResponse](t, w).CallID
}

func TestInitiateCall(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/calls/initiate", "u1", "requester", gin.H{"provider_id": "doc1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	resp := decode[initiateResponse](t, w)
	if resp.CallID == "" || resp.RatePerMinute != 250 || resp.Currency != "USD" || resp.Status != calls.StatusPending {
		t.Fatalf("unexpected response: %+v", resp)
	}

	if w := f.do(t, http.MethodPost, "/calls/initiate", "u1", "requester", gin.H{"provider_id": "doc1"}); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second active call, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/calls/initiate", "u2", "requester", gin.H{"provider_id": "nobody"}); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown provider, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/calls/initiate", "u2", "requester", gin.H{"provider_id": "doc2"}); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for unavailable provider, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/calls/initiate", "u2", "requester", gin.H{}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without provider, got %d", w.Code)
	}
}

func TestEndCall_ActiveCallBilled(t *testing.T) {
	f := newAPIFixture(t)
	callID := f.initiate(t, "u1", "doc1")
	ctx := context.Background()

	for _, j := range []coordinator.JoinRequest{
		{CallID: callID, Role: calls.RoleRequester, ParticipantID: "u1", Conn: nopConn{"c-req"}},
		{CallID: callID, Role: calls.RoleProvider, ParticipantID: "doc1", Conn: nopConn{"c-prov"}},
	} {
		if _, err := f.coord.Join(ctx, j); err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	w := f.do(t, http.MethodPost, "/calls/"+callID+"/end", "doc1", "provider", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	out := decode[endResponse](t, w)
	if out.Status != coordinator.OutcomeCompleted || out.Duration != 1 || out.Amount != 250 || out.Currency != "USD" {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	// A second end returns the same committed outcome.
	w = f.do(t, http.MethodPost, "/calls/"+callID+"/end", "u1", "requester", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if again := decode[endResponse](t, w); again != out {
		t.Fatalf("expected identical outcome, got %+v vs %+v", again, out)
	}
	if n := f.records.FinalizeCalls(); n != 1 {
		t.Fatalf("expected one finalize, got %d", n)
	}
}

func TestEndCall_PendingCancelled(t *testing.T) {
	f := newAPIFixture(t)
	callID := f.initiate(t, "u1", "doc1")

	w := f.do(t, http.MethodPost, "/calls/"+callID+"/end", "u1", "requester", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	out := decode[endResponse](t, w)
	if out.Status != coordinator.OutcomeCancelled || out.Duration != 0 || out.Amount != 0 {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	// Requester is free to call again.
	f.initiate(t, "u1", "doc1")
}

func TestEndCall_RequiresParty(t *testing.T) {
	f := newAPIFixture(t)
	callID := f.initiate(t, "u1", "doc1")

	if w := f.do(t, http.MethodPost, "/calls/"+callID+"/end", "u9", "requester", nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/calls/missing/end", "u1", "requester", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/calls/"+callID+"/end", "", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestGetCall(t *testing.T) {
	f := newAPIFixture(t)
	callID := f.initiate(t, "u1", "doc1")

	w := f.do(t, http.MethodGet, "/calls/"+callID, "doc1", "provider", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	rec := decode[calls.Record](t, w)
	if rec.CallID != callID || rec.RequesterID != "u1" || rec.Status != calls.StatusPending {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if w := f.do(t, http.MethodGet, "/calls/"+callID, "doc2", "provider", nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestConsultationHistory(t *testing.T) {
	f := newAPIFixture(t)
	f.history.History = []reporting.HistoryEntry{
		{ID: "h1", CallID: "c1", RequesterID: "u1", ProviderID: "doc1", DurationMinutes: 2, AmountMinor: 500, Currency: "USD", CallDate: time.Unix(1700000000, 0).UTC()},
		{ID: "h2", CallID: "c2", RequesterID: "u2", ProviderID: "doc1", DurationMinutes: 3, AmountMinor: 750, Currency: "USD", CallDate: time.Unix(1700000000, 0).UTC()},
	}

	w := f.do(t, http.MethodGet, "/history", "u1", "requester", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decode[struct {
		Entries []reporting.HistoryEntry `json:"entries"`
		Summary reporting.SpendSummary   `json:"summary"`
	}](t, w)
	if len(body.Entries) != 1 || body.Entries[0].CallID != "c1" {
		t.Fatalf("unexpected entries: %+v", body.Entries)
	}
	if body.Summary.TotalAmountMinor != 500 || body.Summary.Consultations != 1 {
		t.Fatalf("unexpected summary: %+v", body.Summary)
	}

	if w := f.do(t, http.MethodGet, "/history?limit=-1", "u1", "requester", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestWalletBalanceAndAdminCredit(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/wallet/balance", "u1", "requester", nil)
	if w.Code != http.StatusOK || decode[wallet.Balance](t, w).BalanceMinor != 1000 {
		t.Fatalf("unexpected balance response: %d %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPost, "/admin/wallets/u1/credit", "op1", "operator", gin.H{
		"amount_minor": 500, "currency": "USD", "reason": "goodwill", "idempotency_key": "k1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if len(f.wallet.credits) != 1 || f.wallet.credits[0].IdempotencyKey != "k1" {
		t.Fatalf("unexpected credits: %+v", f.wallet.credits)
	}
	if len(f.audit.actions) != 1 || f.audit.actions[0] != "op1:u1:goodwill" {
		t.Fatalf("expected audited credit, got %+v", f.audit.actions)
	}

	if w := f.do(t, http.MethodPost, "/admin/wallets/u1/credit", "op1", "operator", gin.H{"amount_minor": 5}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without reason, got %d", w.Code)
	}

	f.wallet.err = wallet.ErrNotFound
	if w := f.do(t, http.MethodGet, "/wallet/balance", "u1", "requester", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestProviderAvailability(t *testing.T) {
	f := newAPIFixture(t)

	if w := f.do(t, http.MethodPut, "/providers/me/availability", "doc1", "provider", gin.H{}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPut, "/providers/me/availability", "doc1", "provider", gin.H{"available": false}); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w := f.do(t, http.MethodGet, "/providers/doc1", "u1", "requester", nil)
	if w.Code != http.StatusOK || decode[pricing.ProviderRate](t, w).Available {
		t.Fatalf("expected provider marked unavailable, got %d %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodPost, "/calls/initiate", "u1", "requester", gin.H{"provider_id": "doc1"}); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 after provider went unavailable, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPut, "/providers/me/availability", "ghost", "provider", gin.H{"available": true}); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestUnsettledCallsEmpty(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/admin/calls/unsettled", "op1", "operator", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decode[struct {
		Count int `json:"count"`
	}](t, w)
	if body.Count != 0 {
		t.Fatalf("expected no unsettled calls, got %d", body.Count)
	}
}

func TestLogin_IssuesAccessTokenOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret"})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	r := gin.New()
	r.POST("/auth/login", Handlers{Auth: m, AllowLogin: true}.Login)
	r.POST("/closed/login", Handlers{Auth: m}.Login)

	body := bytes.NewBufferString(`{"user_id":"u1","role":"requester"}`)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/login", body))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[map[string]string](t, w)
	if _, ok := resp["refresh_token"]; ok {
		t.Fatalf("no refresh token expected: %v", resp)
	}
	caller, err := m.ResolveCaller(resp["access_token"])
	if err != nil || caller.ID != "u1" || caller.Role != "requester" {
		t.Fatalf("token does not resolve: %+v err=%v", caller, err)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(`{"user_id":"u1","role":"root"}`)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/closed/login", bytes.NewBufferString(`{"user_id":"u1","role":"requester"}`)))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when login disabled, got %d", w.Code)
	}
}
