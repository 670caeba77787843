// Package pgstore is the PostgreSQL backend, built on a pgx connection pool.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"statfiler/internal/filing"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS filing_requests (
		id TEXT PRIMARY KEY,
		entity_name TEXT NOT NULL,
		principal_address TEXT NOT NULL,
		management_type TEXT NOT NULL DEFAULT '',
		professional BOOLEAN NOT NULL DEFAULT FALSE,
		organizer_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'PENDING',
		tracking_number TEXT,
		error_log TEXT,
		certified_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_filing_requests_status ON filing_requests(status, updated_at)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		filing_id TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		amount_minor BIGINT NOT NULL,
		currency TEXT NOT NULL,
		recipient TEXT NOT NULL,
		status TEXT NOT NULL,
		method TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_filing ON ledger_entries(filing_id)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		filing_id TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_filing ON alerts(filing_id)`,
	`CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		filing_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		evidence TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_filing ON audit_events(filing_id)`,
	`CREATE OR REPLACE FUNCTION statfiler_append_only() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION '% is append-only', TG_TABLE_NAME;
	END;
	$$ LANGUAGE plpgsql`,
}

var appendOnlyTables = []string{"ledger_entries", "alerts", "audit_events"}

func appendOnlyTriggers() []string {
	var stmts []string
	for _, table := range appendOnlyTables {
		name := table + "_append_only"
		stmts = append(stmts,
			`DROP TRIGGER IF EXISTS `+name+` ON `+table,
			`CREATE TRIGGER `+name+` BEFORE UPDATE OR DELETE ON `+table+`
			FOR EACH ROW EXECUTE FUNCTION statfiler_append_only()`)
	}
	return stmts
}

// Store implements the pipeline store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and ensures the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := append(append([]string{}, schemaStatements...), appendOnlyTriggers()...)
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Store) CreateFiling(ctx context.Context, req filing.Request) error {
	if req.Status == "" {
		req.Status = filing.StatusPending
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = time.Now()
	}
	var certifiedAt *time.Time
	if !req.CertifiedAt.IsZero() {
		t := req.CertifiedAt.UTC()
		certifiedAt = &t
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO filing_requests
			(id, entity_name, principal_address, management_type, professional, organizer_name,
			 status, tracking_number, error_log, certified_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		req.ID, req.EntityName, req.PrincipalAddress, req.ManagementType, req.Professional, req.OrganizerName,
		string(req.Status), nullable(req.TrackingNumber), nullable(req.ErrorLog), certifiedAt, req.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert filing %s: %w", req.ID, err)
	}
	return nil
}

func (s *Store) GetFiling(ctx context.Context, id string) (filing.Request, error) {
	var (
		req                filing.Request
		status             string
		tracking, errorLog *string
		certifiedAt        *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, entity_name, principal_address, management_type, professional, organizer_name,
		       status, tracking_number, error_log, certified_at, updated_at
		FROM filing_requests WHERE id = $1`, id).Scan(
		&req.ID, &req.EntityName, &req.PrincipalAddress, &req.ManagementType, &req.Professional, &req.OrganizerName,
		&status, &tracking, &errorLog, &certifiedAt, &req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return filing.Request{}, fmt.Errorf("%w: %s", filing.ErrFilingNotFound, id)
	}
	if err != nil {
		return filing.Request{}, fmt.Errorf("get filing %s: %w", id, err)
	}
	req.Status = filing.Status(status)
	if tracking != nil {
		req.TrackingNumber = *tracking
	}
	if errorLog != nil {
		req.ErrorLog = *errorLog
	}
	if certifiedAt != nil {
		req.CertifiedAt = certifiedAt.UTC()
	}
	req.UpdatedAt = req.UpdatedAt.UTC()
	return req, nil
}

func (s *Store) conditional(ctx context.Context, id string, tag pgconn.CommandTag, err error) error {
	if err != nil {
		return fmt.Errorf("update filing %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM filing_requests WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", filing.ErrFilingNotFound, id)
	}
	return fmt.Errorf("%w: %s", filing.ErrStatusConflict, id)
}

func (s *Store) TransitionStatus(ctx context.Context, id string, from, to filing.Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE filing_requests SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3 AND COALESCE(tracking_number, '') = ''`,
		string(to), id, string(from))
	return s.conditional(ctx, id, tag, err)
}

func (s *Store) MarkCertified(ctx context.Context, id, tracking string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE filing_requests
		SET status = $1, tracking_number = $2, certified_at = $3, error_log = NULL, updated_at = now()
		WHERE id = $4 AND status = $5`,
		string(filing.StatusCertified), tracking, at.UTC(), id, string(filing.StatusCalibComplete))
	return s.conditional(ctx, id, tag, err)
}

func (s *Store) MarkPendingManual(ctx context.Context, id, errorLog string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE filing_requests SET status = $1, error_log = $2, updated_at = now()
		WHERE id = $3 AND status = $4`,
		string(filing.StatusPendingManual), errorLog, id, string(filing.StatusCalibComplete))
	return s.conditional(ctx, id, tag, err)
}

func (s *Store) ListFilingIDs(ctx context.Context, status filing.Status, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM filing_requests
		WHERE status = $1 AND COALESCE(tracking_number, '') = ''
		ORDER BY updated_at, id LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list filings: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list filings: %w", err)
	}
	return ids, nil
}

func (s *Store) InsertLedgerEntry(ctx context.Context, e filing.LedgerEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_entries
			(id, filing_id, transaction_type, amount_minor, currency, recipient, status, method, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.FilingID, e.TransactionType, e.AmountMinor, e.Currency, e.Recipient,
		string(e.Status), e.Method, e.Reference, e.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (s *Store) InsertAlert(ctx context.Context, a filing.Alert) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alerts (id, type, filing_id, error, created_at) VALUES ($1, $2, $3, $4, $5)`,
		a.ID, string(a.Type), a.FilingID, a.Error, a.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *Store) InsertAuditEvent(ctx context.Context, ev filing.AuditEvent) error {
	evidence := ev.Evidence
	if evidence == nil {
		evidence = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_events (id, filing_id, task_id, phase, detail, evidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.FilingID, ev.TaskID, string(ev.Phase), ev.Detail, evidence, ev.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *Store) LedgerEntries(ctx context.Context, filingID string) ([]filing.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, filing_id, transaction_type, amount_minor, currency, recipient, status, method, reference, created_at
		FROM ledger_entries WHERE filing_id = $1 ORDER BY created_at, id`, filingID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []filing.LedgerEntry
	for rows.Next() {
		var (
			e      filing.LedgerEntry
			status string
		)
		if err := rows.Scan(&e.ID, &e.FilingID, &e.TransactionType, &e.AmountMinor, &e.Currency, &e.Recipient,
			&status, &e.Method, &e.Reference, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Status = filing.LedgerStatus(status)
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Alerts(ctx context.Context, filingID string) ([]filing.Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, filing_id, error, created_at
		FROM alerts WHERE filing_id = $1 ORDER BY created_at, id`, filingID)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []filing.Alert
	for rows.Next() {
		var (
			a   filing.Alert
			typ string
		)
		if err := rows.Scan(&a.ID, &typ, &a.FilingID, &a.Error, &a.Timestamp); err != nil {
			return nil, err
		}
		a.Type = filing.AlertType(typ)
		a.Timestamp = a.Timestamp.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) AuditEvents(ctx context.Context, filingID string) ([]filing.AuditEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, filing_id, task_id, phase, detail, evidence, created_at
		FROM audit_events WHERE filing_id = $1 ORDER BY created_at, id`, filingID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []filing.AuditEvent
	for rows.Next() {
		var (
			ev    filing.AuditEvent
			phase string
		)
		if err := rows.Scan(&ev.ID, &ev.FilingID, &ev.TaskID, &phase, &ev.Detail, &ev.Evidence, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.Phase = filing.Status(phase)
		ev.Timestamp = ev.Timestamp.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}
