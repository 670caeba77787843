package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"statfiler/internal/browser/browsertest"
	"statfiler/internal/calibrate"
	"statfiler/internal/evidence"
	"statfiler/internal/filing"
	"statfiler/internal/metrics"
	"statfiler/internal/selectors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	engine  *Engine
	driver  *browsertest.Driver
	portal  *browsertest.Portal
	store   *evidence.Memory
	metrics *metrics.Metrics

	mu     sync.Mutex
	sleeps []time.Duration
}

func (h *harness) waits() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}

func newHarness(t *testing.T, portal *browsertest.Portal) *harness {
	t.Helper()
	h := &harness{
		portal:  portal,
		driver:  browsertest.NewDriver(portal),
		store:   evidence.NewMemory(),
		metrics: metrics.New(),
	}
	cfg := DefaultConfig()
	cfg.EntryURL = "https://portal.test/llc/articles"
	cfg.ConfirmationTimeout = 100 * time.Millisecond
	h.engine = New(h.driver, selectors.NewSource(browsertest.SelectorMap()), evidence.NewRecorder(h.store, ""), cfg,
		WithMetrics(h.metrics),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.sleeps = append(h.sleeps, d)
			return nil
		}),
	)
	return h
}

func smithIntent() calibrate.Intent {
	return calibrate.Intent{
		FilingID:         "filing-1",
		EntityName:       "Smith Holdings LLC",
		PrincipalAddress: "100 Main St, Tallahassee, FL 32301",
		ManagementType:   filing.MemberManaged,
		RegisteredAgent:  calibrate.RegisteredAgent{Name: "Statewide Agents Inc", Address: "1 Agent Way, Tallahassee, FL 32301"},
		OrganizerName:    "Jane Smith",
	}
}

func phases(res Result) []evidence.Phase {
	var out []evidence.Phase
	for _, a := range res.Evidence {
		out = append(out, a.Phase)
	}
	return out
}

func TestExecute_Success(t *testing.T) {
	h := newHarness(t, browsertest.NewFormPortal("W10000012345"))

	res := h.engine.Execute(context.Background(), smithIntent(), "task-1")

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "W10000012345", res.TrackingNumber, "tracking number is trimmed")
	assert.Equal(t, "test-1", res.SelectorVersion)
	assert.Equal(t, []evidence.Phase{evidence.PhasePreSubmission, evidence.PhasePostConfirmation}, phases(res))
	for _, key := range res.EvidenceKeys() {
		assert.True(t, strings.HasPrefix(key, "vault/task-1/"), key)
		_, ok := h.store.Bytes(key)
		assert.True(t, ok, "evidence %s uploaded", key)
	}

	assert.Equal(t, "Smith Holdings LLC", h.portal.Element(browsertest.EntityName).CurrentValue())
	assert.Equal(t, "MM", h.portal.Element(browsertest.ManagementType).CurrentValue(), "logical value is mapped to the option value")
	assert.Equal(t, "Statewide Agents Inc", h.portal.Element(browsertest.AgentName).CurrentValue())
	assert.Equal(t, 0, h.portal.Element(browsertest.ProfessionalFlag).Clicks())
	assert.Equal(t, 1, h.portal.Element(browsertest.Submit).Clicks())
	assert.Empty(t, h.waits())

	assert.Equal(t, []string{"https://portal.test/llc/articles"}, h.portal.Navigations())
	assert.Equal(t, 1, h.driver.Opened())
	assert.Equal(t, 1, h.driver.Closed())
}

func TestExecute_ProfessionalClicksFlag(t *testing.T) {
	h := newHarness(t, browsertest.NewFormPortal("W1"))
	intent := smithIntent()
	intent.EntityName = "Smith Dental PLLC"
	intent.Professional = true

	res := h.engine.Execute(context.Background(), intent, "task-1")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, h.portal.Element(browsertest.ProfessionalFlag).Clicks())
}

func TestExecute_RetryThenSucceed(t *testing.T) {
	portal := browsertest.NewFormPortal("W10000012345")
	portal.Element(browsertest.Submit).ClickErrs = []error{errors.New("click intercepted"), errors.New("click intercepted")}
	h := newHarness(t, portal)

	res := h.engine.Execute(context.Background(), smithIntent(), "task-1")

	require.True(t, res.Success, res.Error)
	assert.Equal(t, []time.Duration{2000 * time.Millisecond, 4000 * time.Millisecond}, h.waits())
	assert.Equal(t, 1, portal.Element(browsertest.Submit).Clicks())
}

func TestExecute_SubmissionFailureAfterThreeAttempts(t *testing.T) {
	portal := browsertest.NewFormPortal("W1")
	clickErr := errors.New("click intercepted")
	portal.Element(browsertest.Submit).ClickErrs = []error{clickErr, clickErr, clickErr}
	h := newHarness(t, portal)

	res := h.engine.Execute(context.Background(), smithIntent(), "task-1")

	require.False(t, res.Success)
	var sf *filing.SubmissionFailure
	require.ErrorAs(t, res.Err, &sf)
	assert.Equal(t, 3, sf.Attempts)
	assert.ErrorIs(t, res.Err, clickErr)
	assert.Equal(t, res.Err.Error(), res.Error)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, h.waits(), "no wait after the last attempt")
	assert.Equal(t, []evidence.Phase{evidence.PhasePreSubmission, evidence.PhaseFailure}, phases(res))
	assert.Equal(t, 1, h.driver.Closed())
}

func TestExecute_StuckClickIsBoundedAndRetried(t *testing.T) {
	portal := browsertest.NewFormPortal("W10000012345")
	portal.Element(browsertest.Submit).StuckClicks = 1
	h := newHarness(t, portal)
	h.engine.cfg.FieldTimeout = 20 * time.Millisecond

	res := h.engine.Execute(context.Background(), smithIntent(), "task-1")

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "W10000012345", res.TrackingNumber)
	assert.Equal(t, []time.Duration{2 * time.Second}, h.waits(), "the stuck click counted as a failed attempt")
	assert.Equal(t, 1, portal.Element(browsertest.Submit).Clicks())
}

func TestExecute_ClickThatNeverEnablesFailsSubmission(t *testing.T) {
	portal := browsertest.NewFormPortal("W1")
	portal.Element(browsertest.Submit).StuckClicks = 3
	h := newHarness(t, portal)
	h.engine.cfg.FieldTimeout = 20 * time.Millisecond

	res := h.engine.Execute(context.Background(), smithIntent(), "task-1")

	require.False(t, res.Success)
	var sf *filing.SubmissionFailure
	require.ErrorAs(t, res.Err, &sf)
	assert.Equal(t, 3, sf.Attempts)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Equal(t, 0, portal.Element(browsertest.Submit).Clicks())
}

func TestExecute_FallbackOnlyWhenPrimaryNotFound(t *testing.T) {
	portal := browsertest.NewFormPortal("W1")
	submit := portal.Element(browsertest.Submit)
	portal.Remove(browsertest.Submit)
	portal.Add(browsertest.SubmitFallback, submit)
	h := newHarness(t, portal)

	res := h.engine.Execute(context.Background(), smithIntent(), "task-1")

	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, portal.LocateCount(browsertest.Submit))
	assert.Equal(t, 1, portal.LocateCount(browsertest.SubmitFallback), "fallback attempted exactly once")
}

func TestExecute_NoFallbackOnUnrelatedError(t *testing.T) {
	portal := browsertest.NewFormPortal("W1")
	unrelated := fmt.Errorf("evaluate script: %w", context.DeadlineExceeded)
	portal.FailLocate(browsertest.EntityName, unrelated)
	portal.Add(browsertest.EntityNameFallback, browsertest.NewElement(""))
	h := newHarness(t, portal)

	res := h.engine.Execute(context.Background(), smithIntent(), "task-1")

	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Equal(t, 0, portal.LocateCount(browsertest.EntityNameFallback))
	assert.Equal(t, 0, portal.Element(browsertest.Submit).Clicks())
}

func TestExecute_SelectorDrift(t *testing.T) {
	portal := browsertest.NewFormPortal("W1")
	portal.Remove(browsertest.PrincipalAddress)
	h := newHarness(t, portal)

	res := h.engine.Execute(context.Background(), smithIntent(), "task-1")

	require.False(t, res.Success)
	var nf *filing.SelectorNotFoundError
	require.ErrorAs(t, res.Err, &nf)
	assert.Equal(t, selectors.FieldPrincipalAddress, nf.Field)
	assert.Equal(t, []evidence.Phase{evidence.PhaseFailure}, phases(res))
}

func TestExecute_DomIntegrityAbortsBeforeSubmit(t *testing.T) {
	portal := browsertest.NewFormPortal("W1")
	portal.Element(browsertest.EntityName).Rewrite = func(s string) string {
		return strings.TrimSuffix(s, " LLC")
	}
	h := newHarness(t, portal)

	res := h.engine.Execute(context.Background(), smithIntent(), "task-1")

	require.False(t, res.Success)
	var dom *filing.DomIntegrityError
	require.ErrorAs(t, res.Err, &dom)
	assert.Equal(t, "Smith Holdings LLC", dom.Want)
	assert.Equal(t, "Smith Holdings", dom.Got)
	assert.Equal(t, 0, portal.Element(browsertest.Submit).Clicks())
	assert.Equal(t, []evidence.Phase{evidence.PhasePreSubmission, evidence.PhaseFailure}, phases(res))
}

func TestExecute_ConfirmationTimeout(t *testing.T) {
	portal := browsertest.NewFormPortal("W1")
	portal.Element(browsertest.Submit).OnClick = nil
	h := newHarness(t, portal)

	res := h.engine.Execute(context.Background(), smithIntent(), "task-1")

	require.False(t, res.Success)
	var ct *filing.ConfirmationTimeout
	require.ErrorAs(t, res.Err, &ct)
	assert.Equal(t, 1, portal.Element(browsertest.Submit).Clicks(), "a clicked submission is never retried")
	assert.Empty(t, res.TrackingNumber)
}

func TestExecute_NavigationFailureIsFatal(t *testing.T) {
	portal := browsertest.NewFormPortal("W1")
	portal.FailNavigate(errors.New("net::ERR_CONNECTION_RESET"))
	h := newHarness(t, portal)

	res := h.engine.Execute(context.Background(), smithIntent(), "task-1")

	require.False(t, res.Success)
	var nav *filing.NavigationError
	require.ErrorAs(t, res.Err, &nav)
	assert.Empty(t, portal.Locates())
	assert.Equal(t, 1, h.driver.Closed())
}

func TestExecute_FailureScreenshotNeverMasksError(t *testing.T) {
	portal := browsertest.NewFormPortal("W1")
	portal.FailScreenshots(errors.New("capture failed"))
	h := newHarness(t, portal)

	res := h.engine.Execute(context.Background(), smithIntent(), "task-1")

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "pre-submission evidence")
	assert.Empty(t, res.Evidence)
	assert.Equal(t, 0, portal.Element(browsertest.Submit).Clicks(), "no submission without pre-submission evidence")
}

func TestExecute_OpenFailure(t *testing.T) {
	h := newHarness(t, browsertest.NewFormPortal("W1"))
	h.driver.OpenErr = errors.New("chrome not found")

	res := h.engine.Execute(context.Background(), smithIntent(), "task-1")

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "chrome not found")
	assert.Equal(t, 0, h.driver.Closed())
}

func TestDryRun_StopsBeforeSubmit(t *testing.T) {
	h := newHarness(t, browsertest.NewFormPortal("W1"))

	res := h.engine.DryRun(context.Background(), smithIntent(), "health-1")

	require.True(t, res.Success, res.Error)
	assert.Empty(t, res.TrackingNumber)
	assert.Equal(t, 0, h.portal.Element(browsertest.Submit).Clicks())
	assert.Equal(t, []evidence.Phase{evidence.PhasePreSubmission}, phases(res))
	assert.Equal(t, 1, h.driver.Closed())
}

func TestSleepContext_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))
}
