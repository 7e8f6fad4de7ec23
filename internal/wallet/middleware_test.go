package wallet

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"teleconsult/internal/auth"
	"teleconsult/internal/rbac"

	"github.com/gin-gonic/gin"
)

type fakeBalanceService struct {
	bal Balance
	err error

	gotOwner string
}

func (f *fakeBalanceService) GetBalance(ctx context.Context, ownerID string) (Balance, error) {
	f.gotOwner = ownerID
	return f.bal, f.err
}

func serveWithBalance(t *testing.T, svc BalanceService, userID string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.POST("/x", func(c *gin.Context) {
		if userID != "" {
			ctx := auth.WithIdentity(c.Request.Context(), userID, rbac.RoleRequester)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}, RequirePositiveBalance(svc), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
	return w
}

func TestRequirePositiveBalance_Allows(t *testing.T) {
	svc := &fakeBalanceService{bal: Balance{OwnerID: "u1", Currency: "USD", BalanceMinor: 1}}
	w := serveWithBalance(t, svc, "u1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if svc.gotOwner != "u1" {
		t.Fatalf("expected lookup for caller, got %q", svc.gotOwner)
	}
}

func TestRequirePositiveBalance_BlocksEmptyWallet(t *testing.T) {
	svc := &fakeBalanceService{bal: Balance{OwnerID: "u1", Currency: "USD", BalanceMinor: 0}}
	if w := serveWithBalance(t, svc, "u1"); w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", w.Code)
	}
}

func TestRequirePositiveBalance_BlocksMissingWallet(t *testing.T) {
	svc := &fakeBalanceService{err: ErrNotFound}
	if w := serveWithBalance(t, svc, "u1"); w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", w.Code)
	}
}

func TestRequirePositiveBalance_LookupFailure(t *testing.T) {
	svc := &fakeBalanceService{err: errors.New("db down")}
	if w := serveWithBalance(t, svc, "u1"); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestRequirePositiveBalance_Unauthenticated(t *testing.T) {
	svc := &fakeBalanceService{}
	if w := serveWithBalance(t, svc, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
