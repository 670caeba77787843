package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"statfiler/internal/filing"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.ErrorContains(t, err, "unknown log level")
}

func TestNewLevels(t *testing.T) {
	l, err := New(Options{Level: "warn", Format: "console"})
	require.NoError(t, err)
	assert.False(t, l.Root().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Root().Core().Enabled(zapcore.WarnLevel))

	l, err = New(Options{Level: "error", Verbose: true})
	require.NoError(t, err)
	assert.True(t, l.Root().Core().Enabled(zapcore.DebugLevel))
}

func TestCategoryFilter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := Wrap(zap.New(core), map[string]bool{"browser": false, "portal": true})

	l.For(CategoryBrowser).Info("dropped")
	l.For(CategoryPortal).Info("kept")
	l.For(CategoryPipeline).Info("unlisted")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "portal", entries[0].LoggerName)
	assert.Equal(t, "pipeline", entries[1].LoggerName)
	assert.False(t, l.Enabled(CategoryBrowser))
}

func TestAuditorRecord(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	a := NewAuditor(Wrap(zap.New(core), nil))

	a.Record(filing.AuditEvent{
		ID:        "ev-1",
		FilingID:  "f-1",
		TaskID:    "t-1",
		Phase:     filing.StatusCertified,
		Evidence:  []string{"vault/t-1/confirmation.png"},
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})

	entries := logs.FilterMessage("audit event").All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "audit", entries[0].LoggerName)
	assert.Equal(t, "f-1", ctx["filing_id"])
	assert.Equal(t, "CERTIFIED", ctx["phase"])
	assert.NotContains(t, ctx, "detail")

	var nilAuditor *Auditor
	nilAuditor.Record(filing.AuditEvent{})
}
