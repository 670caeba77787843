package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statfiler/internal/filing"
	"statfiler/internal/health"
	"statfiler/internal/metrics"
	"statfiler/internal/pipeline"
)

type stubFiler struct {
	outcomes map[string]pipeline.Outcome
	errs     map[string]error
	ctxErr   error
}

func (f *stubFiler) FileEntity(ctx context.Context, id string) (pipeline.Outcome, error) {
	f.ctxErr = ctx.Err()
	out, ok := f.outcomes[id]
	if !ok {
		out = pipeline.Outcome{FilingID: id, AuditTrail: []string{}}
	}
	if err := f.errs[id]; err != nil {
		out.Error = err.Error()
		return out, err
	}
	return out, nil
}

type stubHealth struct{ rep health.Report }

func (s stubHealth) Run(ctx context.Context) health.Report { return s.rep }

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestFileEndpoint_StatusMapping(t *testing.T) {
	filer := &stubFiler{
		outcomes: map[string]pipeline.Outcome{
			"ok": {FilingID: "ok", Success: true, TrackingNumber: "W10000012345", AuditTrail: []string{"vault/t/pre-submission-1.png"}},
		},
		errs: map[string]error{
			"pobox":    &filing.StatutoryViolation{Rule: filing.RuleAddress, Message: "no PO boxes"},
			"missing":  fmt.Errorf("%w: missing", filing.ErrFilingNotFound),
			"manual":   fmt.Errorf("%w: manual", filing.ErrAwaitingManualReview),
			"midrun":   fmt.Errorf("%w: midrun", filing.ErrInterruptedRun),
			"racing":   fmt.Errorf("%w: racing", filing.ErrStatusConflict),
			"database": errors.New("connection reset"),
		},
	}
	srv := New(filer, nil, nil, nil)

	for id, want := range map[string]int{
		"ok":       http.StatusOK,
		"pobox":    http.StatusUnprocessableEntity,
		"missing":  http.StatusNotFound,
		"manual":   http.StatusConflict,
		"midrun":   http.StatusConflict,
		"racing":   http.StatusConflict,
		"database": http.StatusInternalServerError,
	} {
		rec := do(t, srv, http.MethodPost, "/v1/filings/"+id+"/file")
		assert.Equal(t, want, rec.Code, id)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}

	rec := do(t, srv, http.MethodPost, "/v1/filings/ok/file")
	var out pipeline.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.Success)
	assert.Equal(t, "W10000012345", out.TrackingNumber)
	assert.Equal(t, []string{"vault/t/pre-submission-1.png"}, out.AuditTrail)
	assert.NoError(t, filer.ctxErr)

	rec = do(t, srv, http.MethodPost, "/v1/filings/pobox/file")
	assert.Contains(t, rec.Body.String(), "no PO boxes")
}

func TestFileEndpoint_RequiresPost(t *testing.T) {
	srv := New(&stubFiler{}, nil, nil, nil)
	rec := do(t, srv, http.MethodGet, "/v1/filings/ok/file")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthRun(t *testing.T) {
	healthy := New(&stubFiler{}, stubHealth{rep: health.Report{Healthy: true, TaskID: "health-1", Evidence: []string{}}}, nil, nil)
	rec := do(t, healthy, http.MethodPost, "/v1/health/run")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy":true`)

	broken := New(&stubFiler{}, stubHealth{rep: health.Report{Error: "selector for submit not found"}}, nil, nil)
	rec = do(t, broken, http.MethodPost, "/v1/health/run")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "selector for submit not found")

	none := New(&stubFiler{}, nil, nil, nil)
	assert.Equal(t, http.StatusNotFound, do(t, none, http.MethodPost, "/v1/health/run").Code)
}

func TestHealthzAndMetrics(t *testing.T) {
	m := metrics.New()
	m.FilingOutcome("certified")
	srv := New(&stubFiler{}, nil, m, nil)

	rec := do(t, srv, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `statfiler_filings_total{outcome="certified"} 1`))
}
