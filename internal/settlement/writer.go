// Package settlement pays the state filing fee for a certified filing and
// records the result in the append-only ledger.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"statfiler/internal/filing"
	"statfiler/internal/metrics"
	"statfiler/internal/secrets"
)

// Config describes the fee.
type Config struct {
	AmountMinor    int64
	Currency       string
	Recipient      string
	Method         string
	CredentialName string
}

// Ledger is where entries are appended.
type Ledger interface {
	InsertLedgerEntry(ctx context.Context, entry filing.LedgerEntry) error
}

// Writer settles fees. Exactly one ledger entry is written per Settle call.
type Writer struct {
	gateway Gateway
	secrets secrets.Provider
	ledger  Ledger
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string
}

// NewWriter creates a Writer.
func NewWriter(gateway Gateway, provider secrets.Provider, ledger Ledger, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		gateway: gateway,
		secrets: provider,
		ledger:  ledger,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		newID:   filing.NewID,
	}
}

// Settle charges the fee for req. The entry is CLEARED only once the
// gateway has confirmed capture; any other path records FAILED and returns
// a *filing.SettlementError.
//
// An authorization that was granted but never captured is not voided here.
// The gateway has no void call; the hold lapses on the gateway's own
// schedule, and the FAILED entry carries the charge ID as its reference so
// an operator can release it sooner.
func (w *Writer) Settle(ctx context.Context, req filing.Request, tracking string) (filing.LedgerEntry, error) {
	log := w.logger.With(zap.String("filing_id", req.ID), zap.String("tracking_number", tracking))

	cred, err := w.secrets.Fetch(ctx, w.cfg.CredentialName)
	if err != nil {
		return w.fail(ctx, log, req, "", "credential", err)
	}
	defer cred.Scrub()

	auth, err := w.gateway.Authorize(ctx, cred, AuthorizeRequest{
		IdempotencyKey: "state-fee-" + req.ID,
		AmountMinor:    w.cfg.AmountMinor,
		Currency:       w.cfg.Currency,
		Recipient:      w.cfg.Recipient,
		Method:         w.cfg.Method,
		Description:    "State filing fee for " + req.EntityName,
		Metadata:       map[string]string{"filing_id": req.ID, "tracking_number": tracking},
	})
	cred.Scrub()
	if err != nil {
		return w.fail(ctx, log, req, auth.ChargeID, "authorize", err)
	}

	conf, err := w.gateway.Confirm(ctx, auth)
	if err != nil {
		return w.fail(ctx, log, req, auth.ChargeID, "confirm", err)
	}
	if !conf.Captured() {
		log.Warn("authorization left open", zap.String("charge_id", auth.ChargeID), zap.String("charge_status", conf.Status))
		return w.fail(ctx, log, req, auth.ChargeID, "confirm", fmt.Errorf("charge %s is %s, not %s", conf.ChargeID, conf.Status, ChargeCaptured))
	}

	entry := w.entry(req, filing.LedgerCleared, auth.ChargeID)
	if err := w.ledger.InsertLedgerEntry(ctx, entry); err != nil {
		// The money moved but the record did not; this needs a human.
		log.Error("captured charge could not be recorded", zap.String("charge_id", auth.ChargeID), zap.Error(err))
		return entry, &filing.SettlementError{Stage: "record", Err: err}
	}
	w.metrics.Settlement(string(filing.LedgerCleared))
	log.Info("state fee settled", zap.String("charge_id", auth.ChargeID), zap.Int64("amount_minor", entry.AmountMinor))
	return entry, nil
}

func (w *Writer) fail(ctx context.Context, log *zap.Logger, req filing.Request, reference, stage string, cause error) (filing.LedgerEntry, error) {
	serr := &filing.SettlementError{Stage: stage, Err: cause}
	entry := w.entry(req, filing.LedgerFailed, reference)
	if err := w.ledger.InsertLedgerEntry(ctx, entry); err != nil {
		serr.Err = errors.Join(cause, fmt.Errorf("record failed entry: %w", err))
	} else {
		w.metrics.Settlement(string(filing.LedgerFailed))
	}
	log.Warn("state fee settlement failed", zap.String("stage", stage), zap.Error(serr.Err))
	return entry, serr
}

func (w *Writer) entry(req filing.Request, status filing.LedgerStatus, reference string) filing.LedgerEntry {
	return filing.LedgerEntry{
		ID:              w.newID(),
		FilingID:        req.ID,
		TransactionType: filing.TransactionStateFilingFee,
		AmountMinor:     w.cfg.AmountMinor,
		Currency:        w.cfg.Currency,
		Recipient:       w.cfg.Recipient,
		Status:          status,
		Method:          w.cfg.Method,
		Reference:       reference,
		Timestamp:       w.now().UTC(),
	}
}
