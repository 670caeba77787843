// Package store persists filing requests and the append-only records the
// pipeline writes about them: ledger entries, alerts and audit events.
package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"statfiler/internal/filing"
	"statfiler/internal/store/memstore"
	"statfiler/internal/store/pgstore"
	"statfiler/internal/store/sqlstore"
)

// Driver names a backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"   // modernc.org/sqlite, pure Go
	DriverSQLite3  Driver = "sqlite3"  // github.com/mattn/go-sqlite3, cgo
	DriverPostgres Driver = "postgres" // pgx connection pool
	DriverMemory   Driver = "memory"
)

// Config selects a backend. DSN is a file path for the SQLite drivers and
// a connection URL for postgres.
type Config struct {
	Driver Driver `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Store is the relational store seen by the pipeline. Every mutation of a
// filing is a single-row conditional update, so two tasks racing on the
// same filing cannot both win.
type Store interface {
	CreateFiling(ctx context.Context, req filing.Request) error
	GetFiling(ctx context.Context, id string) (filing.Request, error)
	// TransitionStatus moves a filing from one status to another and fails
	// with filing.ErrStatusConflict if it is no longer in from, or already
	// carries a tracking number.
	TransitionStatus(ctx context.Context, id string, from, to filing.Status) error
	// MarkCertified records the tracking number on a CALIB_COMPLETE filing.
	MarkCertified(ctx context.Context, id, tracking string, at time.Time) error
	// MarkPendingManual parks a CALIB_COMPLETE filing for human review.
	MarkPendingManual(ctx context.Context, id, errorLog string) error
	ListFilingIDs(ctx context.Context, status filing.Status, limit int) ([]string, error)

	InsertLedgerEntry(ctx context.Context, entry filing.LedgerEntry) error
	InsertAlert(ctx context.Context, alert filing.Alert) error
	InsertAuditEvent(ctx context.Context, event filing.AuditEvent) error

	LedgerEntries(ctx context.Context, filingID string) ([]filing.LedgerEntry, error)
	Alerts(ctx context.Context, filingID string) ([]filing.Alert, error)
	AuditEvents(ctx context.Context, filingID string) ([]filing.AuditEvent, error)

	Close() error
}

var (
	_ Store = (*sqlstore.Store)(nil)
	_ Store = (*pgstore.Store)(nil)
	_ Store = (*memstore.Store)(nil)
)

// Open connects to the configured backend and ensures its schema.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("opening store", zap.String("driver", string(cfg.Driver)))

	switch cfg.Driver {
	case DriverSQLite, DriverSQLite3, "":
		driver := cfg.Driver
		if driver == "" {
			driver = DriverSQLite
		}
		return sqlstore.Open(ctx, string(driver), cfg.DSN)
	case DriverPostgres:
		return pgstore.Open(ctx, cfg.DSN)
	case DriverMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
