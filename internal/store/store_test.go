package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statfiler/internal/filing"
	"statfiler/internal/store"
)

func openAll(t *testing.T) map[string]store.Store {
	t.Helper()
	ctx := context.Background()
	out := make(map[string]store.Store)
	for _, cfg := range []store.Config{
		{Driver: store.DriverMemory},
		{Driver: store.DriverSQLite, DSN: filepath.Join(t.TempDir(), "modernc.db")},
		{Driver: store.DriverSQLite3, DSN: filepath.Join(t.TempDir(), "mattn.db")},
	} {
		s, err := store.Open(ctx, cfg, nil)
		require.NoError(t, err, cfg.Driver)
		t.Cleanup(func() { _ = s.Close() })
		out[string(cfg.Driver)] = s
	}
	return out
}

func smith() filing.Request {
	return filing.Request{
		ID:               "filing-1",
		EntityName:       "Smith Holdings LLC",
		PrincipalAddress: "100 Main St, Miami, FL 33101",
		ManagementType:   "MEMBER_MANAGED",
		OrganizerName:    "Jane Smith",
		Status:           filing.StatusPending,
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			req := smith()
			req.Professional = true
			require.NoError(t, s.CreateFiling(ctx, req))

			got, err := s.GetFiling(ctx, req.ID)
			require.NoError(t, err)
			assert.False(t, got.UpdatedAt.IsZero())
			got.UpdatedAt = time.Time{}
			if diff := cmp.Diff(req, got); diff != "" {
				t.Errorf("filing mismatch (-want +got):\n%s", diff)
			}

			_, err = s.GetFiling(ctx, "missing")
			assert.ErrorIs(t, err, filing.ErrFilingNotFound)
		})
	}
}

func TestStore_TransitionIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.CreateFiling(ctx, smith()))

			require.NoError(t, s.TransitionStatus(ctx, "filing-1", filing.StatusPending, filing.StatusCalibComplete))
			err := s.TransitionStatus(ctx, "filing-1", filing.StatusPending, filing.StatusCalibComplete)
			assert.ErrorIs(t, err, filing.ErrStatusConflict)

			err = s.TransitionStatus(ctx, "missing", filing.StatusPending, filing.StatusCalibComplete)
			assert.ErrorIs(t, err, filing.ErrFilingNotFound)
		})
	}
}

func TestStore_TransitionRefusesTrackedFiling(t *testing.T) {
	ctx := context.Background()
	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			req := smith()
			req.TrackingNumber = "W10000000001"
			require.NoError(t, s.CreateFiling(ctx, req))

			err := s.TransitionStatus(ctx, req.ID, filing.StatusPending, filing.StatusCalibComplete)
			assert.ErrorIs(t, err, filing.ErrStatusConflict)
		})
	}
}

func TestStore_MarkCertified(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 10, 18, 14, 3, 5, 123456789, time.UTC)
	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.CreateFiling(ctx, smith()))

			err := s.MarkCertified(ctx, "filing-1", "W10000012345", at)
			assert.ErrorIs(t, err, filing.ErrStatusConflict, "PENDING cannot be certified")

			require.NoError(t, s.TransitionStatus(ctx, "filing-1", filing.StatusPending, filing.StatusCalibComplete))
			require.NoError(t, s.MarkCertified(ctx, "filing-1", "W10000012345", at))

			got, err := s.GetFiling(ctx, "filing-1")
			require.NoError(t, err)
			assert.Equal(t, filing.StatusCertified, got.Status)
			assert.Equal(t, "W10000012345", got.TrackingNumber)
			assert.True(t, at.Equal(got.CertifiedAt), "certified_at round trip: %s", got.CertifiedAt)

			err = s.MarkCertified(ctx, "filing-1", "W10000099999", at)
			assert.ErrorIs(t, err, filing.ErrStatusConflict)
		})
	}
}

func TestStore_MarkPendingManual(t *testing.T) {
	ctx := context.Background()
	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.CreateFiling(ctx, smith()))
			require.NoError(t, s.TransitionStatus(ctx, "filing-1", filing.StatusPending, filing.StatusCalibComplete))
			require.NoError(t, s.MarkPendingManual(ctx, "filing-1", "confirmation not received within 1m30s"))

			got, err := s.GetFiling(ctx, "filing-1")
			require.NoError(t, err)
			assert.Equal(t, filing.StatusPendingManual, got.Status)
			assert.Equal(t, "confirmation not received within 1m30s", got.ErrorLog)
			assert.Empty(t, got.TrackingNumber)

			err = s.MarkPendingManual(ctx, "missing", "x")
			assert.ErrorIs(t, err, filing.ErrFilingNotFound)
		})
	}
}

func TestStore_ListFilingIDsOldestFirst(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			for i, id := range []string{"c", "a", "b"} {
				req := smith()
				req.ID = id
				req.UpdatedAt = base.Add(time.Duration(i) * time.Minute)
				require.NoError(t, s.CreateFiling(ctx, req))
			}
			tracked := smith()
			tracked.ID = "tracked"
			tracked.TrackingNumber = "W1"
			tracked.UpdatedAt = base.Add(-time.Hour)
			require.NoError(t, s.CreateFiling(ctx, tracked))

			ids, err := s.ListFilingIDs(ctx, filing.StatusPending, 10)
			require.NoError(t, err)
			assert.Equal(t, []string{"c", "a", "b"}, ids)

			ids, err = s.ListFilingIDs(ctx, filing.StatusPending, 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"c", "a"}, ids)

			ids, err = s.ListFilingIDs(ctx, filing.StatusCertified, 10)
			require.NoError(t, err)
			assert.Empty(t, ids)
		})
	}
}

func TestStore_ListFilingIDsDefaultLimit(t *testing.T) {
	ctx := context.Background()
	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 101; i++ {
				req := smith()
				req.ID = fmt.Sprintf("filing-%03d", i)
				require.NoError(t, s.CreateFiling(ctx, req))
			}
			ids, err := s.ListFilingIDs(ctx, filing.StatusPending, 0)
			require.NoError(t, err)
			assert.Len(t, ids, 100)
		})
	}
}

func TestStore_AppendOnlyRecords(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			entry := filing.LedgerEntry{
				ID:              "ledger-1",
				FilingID:        "filing-1",
				TransactionType: filing.TransactionStateFilingFee,
				AmountMinor:     12500,
				Currency:        "USD",
				Recipient:       "Florida Department of State",
				Status:          filing.LedgerCleared,
				Method:          "card",
				Reference:       "ch_1",
				Timestamp:       ts,
			}
			require.NoError(t, s.InsertLedgerEntry(ctx, entry))
			assert.Error(t, s.InsertLedgerEntry(ctx, entry), "duplicate ledger id")

			alert := filing.Alert{ID: "alert-1", Type: filing.AlertFilingFailure, FilingID: "filing-1", Error: "boom", Timestamp: ts}
			require.NoError(t, s.InsertAlert(ctx, alert))

			events := []filing.AuditEvent{
				{ID: "ev-1", FilingID: "filing-1", TaskID: "task-1", Phase: filing.StatusCalibComplete, Detail: "calibrated", Evidence: []string{}, Timestamp: ts},
				{ID: "ev-2", FilingID: "filing-1", TaskID: "task-1", Phase: filing.StatusCertified,
					Evidence: []string{"vault/task-1/pre-submission-1.png", "vault/task-1/post-confirmation-2.png"}, Timestamp: ts.Add(time.Second)},
			}
			for _, ev := range events {
				require.NoError(t, s.InsertAuditEvent(ctx, ev))
			}

			ledger, err := s.LedgerEntries(ctx, "filing-1")
			require.NoError(t, err)
			if diff := cmp.Diff([]filing.LedgerEntry{entry}, ledger); diff != "" {
				t.Errorf("ledger mismatch (-want +got):\n%s", diff)
			}

			alerts, err := s.Alerts(ctx, "filing-1")
			require.NoError(t, err)
			if diff := cmp.Diff([]filing.Alert{alert}, alerts); diff != "" {
				t.Errorf("alerts mismatch (-want +got):\n%s", diff)
			}

			audit, err := s.AuditEvents(ctx, "filing-1")
			require.NoError(t, err)
			if diff := cmp.Diff(events, audit, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("audit mismatch (-want +got):\n%s", diff)
			}

			none, err := s.AuditEvents(ctx, "other")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := store.Open(context.Background(), store.Config{Driver: "oracle"}, nil)
	assert.ErrorContains(t, err, "unknown store driver")
}
