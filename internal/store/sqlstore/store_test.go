package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statfiler/internal/filing"
)

func TestAppendOnlyTriggers(t *testing.T) {
	ctx := context.Background()
	for _, driver := range []string{"sqlite", "sqlite3"} {
		t.Run(driver, func(t *testing.T) {
			s, err := Open(ctx, driver, filepath.Join(t.TempDir(), "db", "statfiler.db"))
			require.NoError(t, err)
			defer s.Close()

			ts := time.Now()
			require.NoError(t, s.InsertLedgerEntry(ctx, filing.LedgerEntry{
				ID: "l1", FilingID: "f1", TransactionType: filing.TransactionStateFilingFee,
				AmountMinor: 12500, Currency: "USD", Recipient: "state", Status: filing.LedgerFailed, Method: "card", Timestamp: ts,
			}))
			require.NoError(t, s.InsertAlert(ctx, filing.Alert{ID: "a1", Type: filing.AlertFilingFailure, FilingID: "f1", Error: "x", Timestamp: ts}))
			require.NoError(t, s.InsertAuditEvent(ctx, filing.AuditEvent{ID: "e1", FilingID: "f1", TaskID: "t1", Phase: filing.StatusCertified, Timestamp: ts}))

			for _, stmt := range []string{
				`UPDATE ledger_entries SET status = 'CLEARED' WHERE id = 'l1'`,
				`DELETE FROM ledger_entries WHERE id = 'l1'`,
				`UPDATE alerts SET error = '' WHERE id = 'a1'`,
				`DELETE FROM alerts`,
				`UPDATE audit_events SET detail = 'rewritten'`,
				`DELETE FROM audit_events WHERE id = 'e1'`,
			} {
				_, err := s.db.ExecContext(ctx, stmt)
				assert.ErrorContains(t, err, "append-only", stmt)
			}

			entries, err := s.LedgerEntries(ctx, "f1")
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, filing.LedgerFailed, entries[0].Status)
		})
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "statfiler.db")

	s, err := Open(ctx, "sqlite", path)
	require.NoError(t, err)
	require.NoError(t, s.CreateFiling(ctx, filing.Request{ID: "f1", EntityName: "A LLC", PrincipalAddress: "1 Main St"}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, "sqlite", path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetFiling(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, filing.StatusPending, got.Status)
	assert.Equal(t, path, s.Path())
}

func TestTimeLayoutSortsLexically(t *testing.T) {
	a := formatTime(time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC))
	b := formatTime(time.Date(2026, 10, 18, 12, 0, 0, 500, time.UTC))
	assert.Less(t, a, b)
	assert.Equal(t, len(a), len(b))
	assert.True(t, parseTime(b).Equal(time.Date(2026, 10, 18, 12, 0, 0, 500, time.UTC)))
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "postgres", filepath.Join(t.TempDir(), "x.db"))
	assert.ErrorContains(t, err, "unsupported sqlite driver")
}
