package wallet

import (
	"context"
	"database/sql"
	"testing"
)

// Money operations use Postgres-specific SQL (SELECT ... FOR UPDATE), so only
// request validation is covered here. Posting behavior belongs to integration
// tests against Postgres.

func TestValidateMoneyReq(t *testing.T) {
	if err := validateMoneyReq("u1", 1, "USD", "k"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := validateMoneyReq("", 1, "USD", "k"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWalletService_Credit_RejectsInvalidArgs(t *testing.T) {
	svc := NewService((*sql.DB)(nil))

	cases := []CreditRequest{
		{AmountMinor: 0, Currency: "USD", IdempotencyKey: "k"},
		{AmountMinor: 100, Currency: "", IdempotencyKey: "k"},
		{AmountMinor: 100, Currency: "USD", IdempotencyKey: ""},
	}
	for _, req := range cases {
		if _, _, err := svc.Credit(context.Background(), "u1", req); err != ErrInvalidArgument {
			t.Fatalf("expected ErrInvalidArgument for %+v, got %v", req, err)
		}
	}
	if _, _, err := svc.Credit(context.Background(), "", CreditRequest{AmountMinor: 100, Currency: "USD", IdempotencyKey: "k"}); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestWalletService_Debit_RejectsInvalidArgs(t *testing.T) {
	svc := NewService((*sql.DB)(nil))

	_, _, err := svc.Debit(context.Background(), "", DebitRequest{AmountMinor: 100, Currency: "USD", IdempotencyKey: "k"})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	_, _, err = svc.Debit(context.Background(), "u1", DebitRequest{AmountMinor: -1, Currency: "USD", IdempotencyKey: "k"})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestWalletService_GetBalance_RequiresOwner(t *testing.T) {
	svc := NewService((*sql.DB)(nil))
	if _, err := svc.GetBalance(context.Background(), ""); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
