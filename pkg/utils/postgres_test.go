package utils

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	c := PostgresPoolConfig{}.withDefaults()
	if c.MaxOpenConns != 20 || c.MaxIdleConns != 10 {
		t.Fatalf("unexpected pool sizes: %+v", c)
	}
	if c.PingTimeout != 5*time.Second {
		t.Fatalf("expected 5s ping timeout, got %s", c.PingTimeout)
	}
}

func TestPostgresPoolConfig_KeepsExplicitValues(t *testing.T) {
	c := PostgresPoolConfig{MaxOpenConns: 4, ConnMaxLifetime: time.Minute}.withDefaults()
	if c.MaxOpenConns != 4 || c.ConnMaxLifetime != time.Minute {
		t.Fatalf("explicit values overwritten: %+v", c)
	}
	if c.MaxIdleConns != 4 {
		t.Fatalf("idle conns must not exceed open conns, got %d", c.MaxIdleConns)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	dup := fmt.Errorf("insert call: %w", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(dup) {
		t.Fatalf("expected wrapped 23505 detected")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key violation is not a unique violation")
	}
	if IsUniqueViolation(errors.New("boom")) {
		t.Fatalf("plain error is not a unique violation")
	}
}
