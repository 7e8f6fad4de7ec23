// Package settlement commits finished calls: the authoritative record update
// first, then the consultation history and the wallet charge.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"teleconsult/internal/audit"
	"teleconsult/internal/calls"
	"teleconsult/internal/reporting"
	"teleconsult/internal/wallet"
)

type Finalizer interface {
	Finalize(ctx context.Context, f calls.Finalization) (calls.Record, error)
}

type HistoryAppender interface {
	Append(ctx context.Context, e reporting.HistoryEntry) error
}

type Charger interface {
	Debit(ctx context.Context, ownerID string, req wallet.DebitRequest) (wallet.WalletLedger, wallet.Balance, error)
}

type Auditor interface {
	LogCallProblem(ctx context.Context, typ audit.EventType, callID, walletOwnerID, message string) error
}

const defaultFollowUpTimeout = 5 * time.Second

// Sync is the persistence side of the coordinator. Only the record update is
// part of the commit; history and charge run afterwards and never undo it.
type Sync struct {
	calls   Finalizer
	history HistoryAppender
	charger Charger
	auditor Auditor
	log     *slog.Logger

	followUpTimeout time.Duration
	wg              sync.WaitGroup
}

// NewSync wires the commit path. history, charger and auditor may be nil.
func NewSync(finalizer Finalizer, history HistoryAppender, charger Charger, auditor Auditor, log *slog.Logger) *Sync {
	if log == nil {
		log = slog.Default()
	}
	return &Sync{
		calls:           finalizer,
		history:         history,
		charger:         charger,
		auditor:         auditor,
		log:             log.With("subsystem", "settlement"),
		followUpTimeout: defaultFollowUpTimeout,
	}
}

// Commit finalizes the call record. It returns calls.ErrAlreadyFinalized when
// another writer already finished the record.
func (s *Sync) Commit(ctx context.Context, f calls.Finalization) error {
	rec, err := s.calls.Finalize(ctx, f)
	if err != nil {
		if !errors.Is(err, calls.ErrAlreadyFinalized) {
			s.problem(ctx, audit.EventTypeCallCommitFailed, f.CallID, "", err)
		}
		return err
	}
	if rec.Status != calls.StatusCompleted {
		return nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.followUpTimeout)
		defer cancel()
		s.followUp(fctx, rec)
	}()
	return nil
}

// Wait blocks until in-flight follow-ups are done.
func (s *Sync) Wait() { s.wg.Wait() }

func (s *Sync) followUp(ctx context.Context, rec calls.Record) {
	if s.history != nil {
		entry := reporting.HistoryEntry{
			CallID:          rec.CallID,
			RequesterID:     rec.RequesterID,
			ProviderID:      rec.ProviderID,
			DurationMinutes: rec.DurationMinutes,
			AmountMinor:     rec.AmountMinor,
			Currency:        rec.Currency,
		}
		if rec.StartedAt != nil {
			entry.CallDate = *rec.StartedAt
		}
		if err := s.history.Append(ctx, entry); err != nil {
			s.problem(ctx, audit.EventTypeHistoryAppendFailed, rec.CallID, rec.RequesterID, err)
		}
	}

	if s.charger == nil || rec.AmountMinor <= 0 {
		return
	}
	_, bal, err := s.charger.Debit(ctx, rec.RequesterID, wallet.DebitRequest{
		AmountMinor:    rec.AmountMinor,
		Currency:       rec.Currency,
		ExternalRef:    rec.CallID,
		IdempotencyKey: ChargeKey(rec.CallID),
		AllowNegative:  true,
	})
	if err != nil {
		s.problem(ctx, audit.EventTypeSettlementChargeFailed, rec.CallID, rec.RequesterID, err)
		return
	}
	s.log.Info("call charged",
		"call_id", rec.CallID,
		"requester_id", rec.RequesterID,
		"amount_minor", rec.AmountMinor,
		"balance_minor", bal.BalanceMinor,
	)
}

// ChargeKey is the wallet idempotency key for a call's charge.
func ChargeKey(callID string) string { return fmt.Sprintf("call:%s", callID) }

func (s *Sync) problem(ctx context.Context, typ audit.EventType, callID, ownerID string, cause error) {
	s.log.Error("settlement step failed", "call_id", callID, "event", typ, "err", cause)
	if s.auditor == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.followUpTimeout)
	defer cancel()
	if err := s.auditor.LogCallProblem(actx, typ, callID, ownerID, cause.Error()); err != nil {
		s.log.Warn("audit append failed", "call_id", callID, "err", err)
	}
}
