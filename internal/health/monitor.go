// Package health replays a synthetic filing against the portal to catch
// selector drift before a real filing runs into it.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"statfiler/internal/calibrate"
	"statfiler/internal/filing"
	"statfiler/internal/metrics"
	"statfiler/internal/portal"
)

// Runner is the portal engine as the monitor sees it.
type Runner interface {
	Execute(ctx context.Context, intent calibrate.Intent, taskID string) portal.Result
	DryRun(ctx context.Context, intent calibrate.Intent, taskID string) portal.Result
}

// AlertSink receives SELECTOR_FAILURE alerts.
type AlertSink interface {
	InsertAlert(ctx context.Context, alert filing.Alert) error
}

// Config controls the synthetic run. With Submit false the run stops after
// the pre-submission integrity check, which is enough to exercise every
// selector but the confirmation element.
type Config struct {
	Interval time.Duration
	Submit   bool
	Request  filing.Request
}

// DefaultRequest is the synthetic filing replayed by the monitor.
func DefaultRequest() filing.Request {
	return filing.Request{
		ID:               "health-check",
		EntityName:       "Statfiler Health Check LLC",
		PrincipalAddress: "100 Synthetic Way, Tallahassee, FL 32301",
		ManagementType:   string(filing.MemberManaged),
		OrganizerName:    "Health Monitor",
		Status:           filing.StatusPending,
	}
}

// Report is the result of one check.
type Report struct {
	Healthy         bool          `json:"healthy"`
	TaskID          string        `json:"task_id"`
	DryRun          bool          `json:"dry_run"`
	SelectorVersion string        `json:"selector_version,omitempty"`
	TrackingNumber  string        `json:"tracking_number,omitempty"`
	Evidence        []string      `json:"evidence"`
	Error           string        `json:"error,omitempty"`
	CheckedAt       time.Time     `json:"checked_at"`
	Duration        time.Duration `json:"duration"`
}

// Monitor runs health checks. It never touches settlement or filing rows.
type Monitor struct {
	calibrator *calibrate.Calibrator
	engine     Runner
	alerts     AlertSink
	cfg        Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	newID      func() string

	mu   sync.Mutex
	last *Report
}

// NewMonitor creates a Monitor. A zero cfg.Request is replaced with
// DefaultRequest.
func NewMonitor(calibrator *calibrate.Calibrator, engine Runner, alerts AlertSink, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Request.ID == "" {
		cfg.Request = DefaultRequest()
	}
	return &Monitor{
		calibrator: calibrator,
		engine:     engine,
		alerts:     alerts,
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
		newID:      filing.NewID,
	}
}

// Run performs one check and returns its report. A failed check writes a
// SELECTOR_FAILURE alert. A check cut short by ctx is neither a pass nor a
// failure: it raises no alert and does not replace the last report.
func (m *Monitor) Run(ctx context.Context) Report {
	taskID := "health-" + m.newID()
	rep := Report{TaskID: taskID, DryRun: !m.cfg.Submit, Evidence: []string{}, CheckedAt: m.now().UTC()}
	log := m.logger.With(zap.String("task_id", taskID), zap.Bool("dry_run", rep.DryRun))

	var intent calibrate.Intent
	switch r := m.calibrator.Calibrate(m.cfg.Request).(type) {
	case calibrate.Rejected:
		m.fail(ctx, log, &rep, fmt.Sprintf("synthetic request rejected by calibration: %v", r.Violation))
		return m.remember(rep)
	case calibrate.Corrected:
		intent = r.Intent
	case calibrate.Accepted:
		intent = r.Intent
	}

	var res portal.Result
	if m.cfg.Submit {
		res = m.engine.Execute(ctx, intent, taskID)
	} else {
		res = m.engine.DryRun(ctx, intent, taskID)
	}
	rep.SelectorVersion = res.SelectorVersion
	rep.TrackingNumber = res.TrackingNumber
	rep.Evidence = res.EvidenceKeys()
	rep.Duration = res.Duration

	if !res.Success && ctx.Err() != nil {
		rep.Error = fmt.Sprintf("health check interrupted: %v", context.Cause(ctx))
		m.metrics.HealthCheck("interrupted")
		log.Info("health check interrupted", zap.String("error", res.Error))
		return rep
	}
	if !res.Success {
		m.fail(ctx, log, &rep, res.Error)
		return m.remember(rep)
	}

	rep.Healthy = true
	m.metrics.HealthCheck("pass")
	log.Info("health check passed", zap.String("selector_version", rep.SelectorVersion), zap.Duration("duration", rep.Duration))
	return m.remember(rep)
}

func (m *Monitor) fail(ctx context.Context, log *zap.Logger, rep *Report, msg string) {
	rep.Error = msg
	m.metrics.HealthCheck("fail")
	log.Error("health check failed", zap.String("error", msg), zap.Strings("evidence", rep.Evidence))

	alert := filing.Alert{
		ID:        m.newID(),
		Type:      filing.AlertSelectorFailure,
		FilingID:  m.cfg.Request.ID,
		Error:     msg,
		Timestamp: m.now().UTC(),
	}
	if err := m.alerts.InsertAlert(ctx, alert); err != nil {
		log.Error("failed to write selector failure alert", zap.Error(err))
	}
}

func (m *Monitor) remember(rep Report) Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = &rep
	return rep
}

// Last returns the most recent report, if any.
func (m *Monitor) Last() (Report, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Report{}, false
	}
	return *m.last, true
}
