// Package pipeline sequences one filing through calibration, portal
// execution and settlement, and owns the filing's status transitions.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"statfiler/internal/calibrate"
	"statfiler/internal/filing"
	"statfiler/internal/logging"
	"statfiler/internal/metrics"
	"statfiler/internal/portal"
)

// Store is the subset of the relational store the orchestrator writes to.
type Store interface {
	GetFiling(ctx context.Context, id string) (filing.Request, error)
	TransitionStatus(ctx context.Context, id string, from, to filing.Status) error
	MarkCertified(ctx context.Context, id, tracking string, at time.Time) error
	MarkPendingManual(ctx context.Context, id, errorLog string) error
	InsertAlert(ctx context.Context, alert filing.Alert) error
	InsertAuditEvent(ctx context.Context, event filing.AuditEvent) error
}

// Calibrator validates and normalizes a request.
type Calibrator interface {
	Calibrate(req filing.Request) calibrate.Result
}

// Executor files a calibrated intent on the portal.
type Executor interface {
	Execute(ctx context.Context, intent calibrate.Intent, taskID string) portal.Result
}

// Settler pays the state fee for a filing the portal accepted.
type Settler interface {
	Settle(ctx context.Context, req filing.Request, tracking string) (filing.LedgerEntry, error)
}

// Outcome is what FileEntity reports to its caller.
type Outcome struct {
	FilingID       string   `json:"filing_id"`
	Success        bool     `json:"success"`
	Duplicate      bool     `json:"duplicate,omitempty"`
	TrackingNumber string   `json:"tracking_number,omitempty"`
	AuditTrail     []string `json:"audit_trail"`
	Notes          []string `json:"notes,omitempty"`
	Error          string   `json:"error,omitempty"`
	TaskID         string   `json:"task_id,omitempty"`
}

// Orchestrator runs filings. It keeps no per-filing state in memory; the
// store's compare-and-set transitions are the only coordination between
// concurrent runs.
type Orchestrator struct {
	store      Store
	calibrator Calibrator
	engine     Executor
	settler    Settler
	logger     *zap.Logger
	auditor    *logging.Auditor
	metrics    *metrics.Metrics
	now        func() time.Time
	newID      func() string

	recordTimeout time.Duration
}

// DefaultRecordTimeout bounds the writes made after the portal run.
const DefaultRecordTimeout = time.Minute

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithAuditor mirrors every persisted audit event into the log stream.
func WithAuditor(a *logging.Auditor) Option { return func(o *Orchestrator) { o.auditor = a } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithClock overrides time.Now for certification timestamps.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithRecordTimeout bounds settlement and the store writes that follow
// execution. They run detached from the caller's context.
func WithRecordTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.recordTimeout = d
		}
	}
}

// WithIDs overrides the task and record id generator.
func WithIDs(newID func() string) Option { return func(o *Orchestrator) { o.newID = newID } }

// New creates an Orchestrator. settler may be nil, in which case no fee is
// charged.
func New(store Store, calibrator Calibrator, engine Executor, settler Settler, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		calibrator: calibrator,
		engine:     engine,
		settler:    settler,
		logger:     zap.NewNop(),
		now:        time.Now,
		newID:      filing.NewID,

		recordTimeout: DefaultRecordTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// FileEntity files the request with the given id. It is safe to call
// repeatedly: a request that already carries a tracking number comes back
// as a duplicate without touching the portal.
//
// The returned error is non-nil when the request was refused before
// execution (unknown id, statutory violation, manual review, interrupted
// run, concurrent claim) or when the final state could not be persisted.
// Portal failures are not errors: they park the filing in PENDING_MANUAL
// and come back as an unsuccessful Outcome.
func (o *Orchestrator) FileEntity(ctx context.Context, filingID string) (Outcome, error) {
	out := Outcome{FilingID: filingID, AuditTrail: []string{}}
	log := o.logger.With(zap.String("filing_id", filingID))

	req, err := o.store.GetFiling(ctx, filingID)
	if err != nil {
		return refuse(out, err)
	}

	if req.HasTrackingNumber() {
		log.Info("filing already has a tracking number, skipping", zap.String("tracking_number", req.TrackingNumber))
		o.metrics.FilingOutcome("duplicate")
		out.Success = true
		out.Duplicate = true
		out.TrackingNumber = strings.TrimSpace(req.TrackingNumber)
		return out, nil
	}

	switch req.Status {
	case filing.StatusPending:
	case filing.StatusPendingManual:
		return refuse(out, fmt.Errorf("%w: %s", filing.ErrAwaitingManualReview, filingID))
	case filing.StatusCalibComplete:
		log.Warn("filing was left mid-run; refusing to file it again")
		return refuse(out, fmt.Errorf("%w: %s", filing.ErrInterruptedRun, filingID))
	default:
		return refuse(out, fmt.Errorf("%w: %s is %s", filing.ErrStatusConflict, filingID, req.Status))
	}

	var intent calibrate.Intent
	switch r := o.calibrator.Calibrate(req).(type) {
	case calibrate.Rejected:
		log.Info("filing rejected by calibration", zap.String("rule", r.Violation.Rule), zap.String("reason", r.Violation.Message))
		o.metrics.FilingOutcome("rejected")
		return refuse(out, r.Violation)
	case calibrate.Corrected:
		intent = r.Intent
		for _, n := range r.Notes {
			out.Notes = append(out.Notes, n.String())
			log.Warn("calibration corrected filing", zap.String("field", n.Field), zap.String("original", n.Original), zap.String("applied", n.Applied))
		}
	case calibrate.Accepted:
		intent = r.Intent
	}

	taskID := o.newID()
	out.TaskID = taskID
	log = log.With(zap.String("task_id", taskID))

	if err := o.store.TransitionStatus(ctx, filingID, filing.StatusPending, filing.StatusCalibComplete); err != nil {
		log.Warn("could not claim filing", zap.Error(err))
		return refuse(out, err)
	}
	o.audit(ctx, log, filing.AuditEvent{
		FilingID: filingID,
		TaskID:   taskID,
		Phase:    filing.StatusCalibComplete,
		Detail:   strings.Join(out.Notes, "; "),
	})

	res := o.engine.Execute(ctx, intent, taskID)
	out.AuditTrail = res.EvidenceKeys()

	// Whatever happened in the portal must be recorded even if the caller
	// gave up while it ran, or the filing is stuck in CALIB_COMPLETE.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.recordTimeout)
	defer cancel()

	if !res.Success {
		out.Error = res.Error
		o.metrics.FilingOutcome("failed")
		return out, o.escalate(ctx, log, req, res)
	}

	out.Success = true
	out.TrackingNumber = res.TrackingNumber

	if o.settler != nil {
		if _, err := o.settler.Settle(ctx, req, res.TrackingNumber); err != nil {
			log.Warn("settlement failed; filing stands", zap.Error(err))
		}
	}

	if err := o.store.MarkCertified(ctx, filingID, res.TrackingNumber, o.now().UTC()); err != nil {
		// The portal accepted the filing; losing the tracking number here
		// is what ErrInterruptedRun guards against on the next call.
		log.Error("portal accepted filing but certification was not recorded",
			zap.String("tracking_number", res.TrackingNumber), zap.Error(err))
		return out, fmt.Errorf("record certification for %s: %w", filingID, err)
	}
	o.audit(ctx, log, filing.AuditEvent{
		FilingID: filingID,
		TaskID:   taskID,
		Phase:    filing.StatusCertified,
		Detail:   "tracking_number=" + res.TrackingNumber + " selector_version=" + res.SelectorVersion,
		Evidence: out.AuditTrail,
	})
	o.metrics.FilingOutcome("certified")
	log.Info("filing certified", zap.String("tracking_number", res.TrackingNumber), zap.Duration("duration", res.Duration))
	return out, nil
}

func refuse(out Outcome, err error) (Outcome, error) {
	out.Error = err.Error()
	return out, err
}

// escalate parks a failed filing for manual review and raises an alert.
func (o *Orchestrator) escalate(ctx context.Context, log *zap.Logger, req filing.Request, res portal.Result) error {
	errorLog := res.Error
	if keys := res.EvidenceKeys(); len(keys) > 0 {
		errorLog += " [evidence: " + strings.Join(keys, ", ") + "]"
	}

	var errs []error
	if err := o.store.MarkPendingManual(ctx, req.ID, errorLog); err != nil {
		errs = append(errs, fmt.Errorf("mark pending manual: %w", err))
	}
	alert := filing.Alert{
		ID:        o.newID(),
		Type:      filing.AlertFilingFailure,
		FilingID:  req.ID,
		Error:     res.Error,
		Timestamp: o.now().UTC(),
	}
	if err := o.store.InsertAlert(ctx, alert); err != nil {
		errs = append(errs, fmt.Errorf("insert alert: %w", err))
	}
	log.Error("filing failed; parked for manual review", zap.String("error", res.Error), zap.Strings("evidence", res.EvidenceKeys()))

	if err := errors.Join(errs...); err != nil {
		log.Error("failed to record filing failure", zap.Error(err))
		return fmt.Errorf("record failure for %s: %w", req.ID, err)
	}
	return nil
}

func (o *Orchestrator) audit(ctx context.Context, log *zap.Logger, ev filing.AuditEvent) {
	ev.ID = o.newID()
	ev.Timestamp = o.now().UTC()
	if err := o.store.InsertAuditEvent(ctx, ev); err != nil {
		log.Error("failed to write audit event", zap.String("phase", string(ev.Phase)), zap.Error(err))
		return
	}
	o.auditor.Record(ev)
}
