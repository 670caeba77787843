// Package portal drives the state e-filing portal for one calibrated intent:
// fill, verify, submit, confirm, and capture evidence along the way.
package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"statfiler/internal/browser"
	"statfiler/internal/calibrate"
	"statfiler/internal/evidence"
	"statfiler/internal/filing"
	"statfiler/internal/metrics"
	"statfiler/internal/selectors"
)

// Config holds engine timing. ConfirmationTimeout must exceed
// PageLoadTimeout: a portal under filing load confirms slower than it
// serves the blank form.
type Config struct {
	EntryURL            string
	PageLoadTimeout     time.Duration
	FieldTimeout        time.Duration
	ConfirmationTimeout time.Duration
	SubmitAttempts      int
	SubmitBackoffStep   time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		PageLoadTimeout:     30 * time.Second,
		FieldTimeout:        10 * time.Second,
		ConfirmationTimeout: 90 * time.Second,
		SubmitAttempts:      3,
		SubmitBackoffStep:   2 * time.Second,
	}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the real Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Result is the outcome of one execution.
type Result struct {
	Success         bool                `json:"success"`
	TrackingNumber  string              `json:"tracking_number,omitempty"`
	Evidence        []evidence.Artifact `json:"evidence"`
	Error           string              `json:"error,omitempty"`
	SelectorVersion string              `json:"selector_version"`
	Duration        time.Duration       `json:"duration"`
	// Err is the typed failure behind Error.
	Err error `json:"-"`
}

// EvidenceKeys returns the artifact keys in capture order.
func (r Result) EvidenceKeys() []string {
	keys := make([]string, 0, len(r.Evidence))
	for _, a := range r.Evidence {
		keys = append(keys, a.Key)
	}
	return keys
}

// Engine executes filings. It holds no per-run state and is safe for
// concurrent use; each Execute opens its own browser session.
type Engine struct {
	driver   browser.Driver
	source   *selectors.Source
	recorder *evidence.Recorder
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	sleep    Sleeper
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithSleeper replaces the backoff wait. Tests use it to observe waits.
func WithSleeper(s Sleeper) Option { return func(e *Engine) { e.sleep = s } }

// New creates an engine.
func New(driver browser.Driver, source *selectors.Source, recorder *evidence.Recorder, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		driver:   driver,
		source:   source,
		recorder: recorder,
		cfg:      cfg,
		logger:   zap.NewNop(),
		sleep:    SleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.SubmitAttempts < 1 {
		e.cfg.SubmitAttempts = 1
	}
	return e
}

// Execute files intent on the portal under taskID.
func (e *Engine) Execute(ctx context.Context, intent calibrate.Intent, taskID string) Result {
	return e.run(ctx, intent, taskID, false)
}

// DryRun performs every step up to and including the pre-submission
// integrity check, then stops without clicking submit.
func (e *Engine) DryRun(ctx context.Context, intent calibrate.Intent, taskID string) Result {
	return e.run(ctx, intent, taskID, true)
}

func (e *Engine) run(ctx context.Context, intent calibrate.Intent, taskID string, dryRun bool) (res Result) {
	start := time.Now()
	m := e.source.Snapshot()
	res.SelectorVersion = m.Version
	log := e.logger.With(
		zap.String("filing_id", intent.FilingID),
		zap.String("task_id", taskID),
		zap.String("selector_version", m.Version),
		zap.Bool("dry_run", dryRun),
	)
	defer func() {
		res.Duration = time.Since(start)
		e.metrics.ObserveExecution(res.Duration)
	}()

	session, err := e.driver.Open(ctx)
	if err != nil {
		err = fmt.Errorf("open browser session: %w", err)
		log.Error("portal execution failed", zap.Error(err))
		res.Error, res.Err = err.Error(), err
		return res
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.Warn("failed to close browser session", zap.Error(cerr))
		}
	}()

	r := &run{engine: e, session: session, m: m, intent: intent, taskID: taskID, log: log, res: &res}
	tracking, err := r.drive(ctx, dryRun)
	if err != nil {
		r.captureFailure(ctx)
		log.Error("portal execution failed", zap.Error(err), zap.Strings("evidence", res.EvidenceKeys()))
		res.Error, res.Err = err.Error(), err
		return res
	}

	res.Success = true
	res.TrackingNumber = tracking
	log.Info("portal execution succeeded", zap.String("tracking_number", tracking))
	return res
}

// run is the state of a single execution.
type run struct {
	engine  *Engine
	session browser.Session
	m       *selectors.Map
	intent  calibrate.Intent
	taskID  string
	log     *zap.Logger
	res     *Result
}

func (r *run) drive(ctx context.Context, dryRun bool) (string, error) {
	cfg := r.engine.cfg

	if err := r.session.Navigate(ctx, cfg.EntryURL, cfg.PageLoadTimeout); err != nil {
		return "", &filing.NavigationError{URL: cfg.EntryURL, Err: err}
	}
	r.log.Debug("entry page loaded", zap.String("url", cfg.EntryURL))

	if err := r.fillForm(ctx); err != nil {
		return "", err
	}

	art, err := r.capture(ctx, evidence.PhasePreSubmission)
	if err != nil {
		return "", fmt.Errorf("pre-submission evidence: %w", err)
	}
	r.res.Evidence = append(r.res.Evidence, art)

	if err := r.verifyEntityName(ctx); err != nil {
		return "", err
	}
	if dryRun {
		return "", nil
	}

	if err := r.submit(ctx); err != nil {
		return "", err
	}

	tracking, err := r.awaitConfirmation(ctx)
	if err != nil {
		return "", err
	}

	// The portal has accepted the filing; losing this screenshot must not
	// turn a completed filing into a failed one.
	if art, err := r.capture(ctx, evidence.PhasePostConfirmation); err != nil {
		r.log.Warn("post-confirmation evidence upload failed", zap.Error(err))
	} else {
		r.res.Evidence = append(r.res.Evidence, art)
	}
	return tracking, nil
}

type formStep struct {
	field string
	value string
}

func (r *run) fillForm(ctx context.Context) error {
	in := r.intent
	steps := []formStep{
		{selectors.FieldEntityName, in.EntityName},
		{selectors.FieldPrincipalAddress, in.PrincipalAddress},
		{selectors.FieldManagementType, string(in.ManagementType)},
		{selectors.FieldRegisteredAgentName, in.RegisteredAgent.Name},
		{selectors.FieldRegisteredAgentAddress, in.RegisteredAgent.Address},
		{selectors.FieldOrganizerName, in.OrganizerName},
	}
	if in.Professional {
		steps = append(steps, formStep{selectors.FieldProfessionalFlag, ""})
	}

	for _, step := range steps {
		if err := r.apply(ctx, step.field, step.value); err != nil {
			return fmt.Errorf("fill %s: %w", step.field, err)
		}
	}
	return nil
}

func (r *run) apply(ctx context.Context, field, value string) error {
	wait := r.engine.cfg.FieldTimeout
	el, entry, err := r.locate(ctx, field, wait, wait)
	if err != nil {
		return err
	}
	actx, cancel := r.bound(ctx)
	defer cancel()
	switch entry.Kind {
	case selectors.KindText:
		return el.Fill(actx, value)
	case selectors.KindSelect:
		return el.Choose(actx, entry.OptionValue(value))
	case selectors.KindClick:
		return el.Click(actx)
	default:
		return fmt.Errorf("field kind %q cannot be filled", entry.Kind)
	}
}

// bound limits one element action to the field timeout, so an element that
// never becomes interactable fails the action instead of stalling the run.
func (r *run) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.engine.cfg.FieldTimeout)
}

// locate resolves field through the selector map. The fallback locator is
// tried only when the primary reports NotFound; any other failure is
// returned as is.
func (r *run) locate(ctx context.Context, field string, wait, fallbackWait time.Duration) (browser.Element, selectors.Entry, error) {
	entry, err := r.m.Resolve(field)
	if err != nil {
		return nil, entry, err
	}

	res, err := r.session.Locate(ctx, entry.Primary, wait)
	if err != nil {
		return nil, entry, err
	}
	if el, ok := res.Element(); ok {
		return el, entry, nil
	}

	tried := []string{entry.Primary.String()}
	if entry.Fallback == nil || entry.Fallback.IsZero() {
		return nil, entry, &filing.SelectorNotFoundError{Field: field, Tried: tried}
	}

	r.log.Warn("primary selector not found, using fallback",
		zap.String("field", field),
		zap.String("primary", entry.Primary.String()),
		zap.String("fallback", entry.Fallback.String()))
	r.engine.metrics.SelectorFallback(field)

	res, err = r.session.Locate(ctx, *entry.Fallback, fallbackWait)
	if err != nil {
		return nil, entry, err
	}
	if el, ok := res.Element(); ok {
		return el, entry, nil
	}
	tried = append(tried, entry.Fallback.String())
	return nil, entry, &filing.SelectorNotFoundError{Field: field, Tried: tried}
}

func (r *run) verifyEntityName(ctx context.Context) error {
	wait := r.engine.cfg.FieldTimeout
	el, _, err := r.locate(ctx, selectors.FieldEntityName, wait, wait)
	if err != nil {
		return fmt.Errorf("read back %s: %w", selectors.FieldEntityName, err)
	}
	actx, cancel := r.bound(ctx)
	defer cancel()
	got, err := el.Value(actx)
	if err != nil {
		return fmt.Errorf("read back %s: %w", selectors.FieldEntityName, err)
	}
	if got != r.intent.EntityName {
		return &filing.DomIntegrityError{Field: selectors.FieldEntityName, Want: r.intent.EntityName, Got: got}
	}
	return nil
}

func (r *run) submit(ctx context.Context) error {
	cfg := r.engine.cfg
	var last error
	for attempt := 1; attempt <= cfg.SubmitAttempts; attempt++ {
		last = r.clickSubmit(ctx)
		if last == nil {
			r.engine.metrics.SubmitAttempt("ok")
			r.log.Info("submitted", zap.Int("attempt", attempt))
			return nil
		}
		r.engine.metrics.SubmitAttempt("error")
		r.log.Warn("submit attempt failed", zap.Int("attempt", attempt), zap.Error(last))

		if attempt == cfg.SubmitAttempts {
			break
		}
		wait := cfg.SubmitBackoffStep * time.Duration(attempt)
		if err := r.engine.sleep(ctx, wait); err != nil {
			return &filing.SubmissionFailure{Attempts: attempt, Last: errors.Join(last, err)}
		}
	}
	return &filing.SubmissionFailure{Attempts: cfg.SubmitAttempts, Last: last}
}

func (r *run) clickSubmit(ctx context.Context) error {
	wait := r.engine.cfg.FieldTimeout
	el, _, err := r.locate(ctx, selectors.FieldSubmit, wait, wait)
	if err != nil {
		return err
	}
	actx, cancel := r.bound(ctx)
	defer cancel()
	if err := el.Click(actx); err != nil {
		return fmt.Errorf("click %s: %w", selectors.FieldSubmit, err)
	}
	return nil
}

func (r *run) awaitConfirmation(ctx context.Context) (string, error) {
	cfg := r.engine.cfg
	deadline := time.Now().Add(cfg.ConfirmationTimeout)

	el, _, err := r.locate(ctx, selectors.FieldConfirmationNumber, cfg.ConfirmationTimeout, cfg.FieldTimeout)
	if err != nil {
		return "", &filing.ConfirmationTimeout{After: cfg.ConfirmationTimeout, Err: err}
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		actx, cancel := r.bound(ctx)
		text, err := el.Text(actx)
		cancel()
		if err != nil {
			return "", &filing.ConfirmationTimeout{After: cfg.ConfirmationTimeout, Err: err}
		}
		if tracking := strings.TrimSpace(text); tracking != "" {
			return tracking, nil
		}
		if time.Now().After(deadline) {
			return "", &filing.ConfirmationTimeout{After: cfg.ConfirmationTimeout, Err: errors.New("confirmation element is empty")}
		}
		select {
		case <-ctx.Done():
			return "", &filing.ConfirmationTimeout{After: cfg.ConfirmationTimeout, Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

func (r *run) capture(ctx context.Context, phase evidence.Phase) (evidence.Artifact, error) {
	png, err := r.session.Screenshot(ctx)
	if err != nil {
		return evidence.Artifact{}, fmt.Errorf("screenshot: %w", err)
	}
	return r.engine.recorder.Capture(ctx, r.taskID, phase, r.m.Version, png)
}

// captureFailure records the page at the point of failure. It never
// returns an error: the original failure is what the caller must see.
func (r *run) captureFailure(ctx context.Context) {
	art, err := r.capture(context.WithoutCancel(ctx), evidence.PhaseFailure)
	if err != nil {
		r.log.Warn("failure screenshot not captured", zap.Error(err))
		return
	}
	r.res.Evidence = append(r.res.Evidence, art)
}
