// Package sqlstore is the SQLite backend. It runs on either the pure-Go
// modernc driver ("sqlite") or the cgo mattn driver ("sqlite3").
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"statfiler/internal/filing"
)

// timeLayout has fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements the pipeline store on SQLite.
type Store struct {
	db     *sql.DB
	driver string
	path   string
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, driver, path string) (*Store, error) {
	if path == "" {
		path = "statfiler.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	var dsn string
	switch driver {
	case "sqlite3":
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	case "sqlite":
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	default:
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway and a single
	// connection avoids SQLITE_BUSY under concurrent batch runs.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, driver: driver, path: path}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := append(append([]string{}, schemaStatements...), appendOnlyTriggers()...)
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *Store) CreateFiling(ctx context.Context, req filing.Request) error {
	if req.Status == "" {
		req.Status = filing.StatusPending
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = time.Now()
	}
	var certifiedAt any
	if !req.CertifiedAt.IsZero() {
		certifiedAt = formatTime(req.CertifiedAt)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO filing_requests
			(id, entity_name, principal_address, management_type, professional, organizer_name,
			 status, tracking_number, error_log, certified_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.EntityName, req.PrincipalAddress, req.ManagementType, req.Professional, req.OrganizerName,
		string(req.Status), nullString(req.TrackingNumber), nullString(req.ErrorLog), certifiedAt, formatTime(req.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert filing %s: %w", req.ID, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Store) GetFiling(ctx context.Context, id string) (filing.Request, error) {
	var (
		req                          filing.Request
		status, updatedAt            string
		tracking, errorLog, certifAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, entity_name, principal_address, management_type, professional, organizer_name,
		       status, tracking_number, error_log, certified_at, updated_at
		FROM filing_requests WHERE id = ?`, id).Scan(
		&req.ID, &req.EntityName, &req.PrincipalAddress, &req.ManagementType, &req.Professional, &req.OrganizerName,
		&status, &tracking, &errorLog, &certifAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return filing.Request{}, fmt.Errorf("%w: %s", filing.ErrFilingNotFound, id)
	}
	if err != nil {
		return filing.Request{}, fmt.Errorf("get filing %s: %w", id, err)
	}
	req.Status = filing.Status(status)
	req.TrackingNumber = tracking.String
	req.ErrorLog = errorLog.String
	if certifAt.Valid {
		req.CertifiedAt = parseTime(certifAt.String)
	}
	req.UpdatedAt = parseTime(updatedAt)
	return req, nil
}

// conditional runs a single-row guarded UPDATE and maps zero affected rows
// to not-found or conflict.
func (s *Store) conditional(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update filing %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM filing_requests WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", filing.ErrFilingNotFound, id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", filing.ErrStatusConflict, id)
}

func (s *Store) TransitionStatus(ctx context.Context, id string, from, to filing.Status) error {
	return s.conditional(ctx, id, `
		UPDATE filing_requests SET status = ?, updated_at = ?
		WHERE id = ? AND status = ? AND COALESCE(tracking_number, '') = ''`,
		string(to), formatTime(time.Now()), id, string(from))
}

func (s *Store) MarkCertified(ctx context.Context, id, tracking string, at time.Time) error {
	return s.conditional(ctx, id, `
		UPDATE filing_requests
		SET status = ?, tracking_number = ?, certified_at = ?, error_log = NULL, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(filing.StatusCertified), tracking, formatTime(at), formatTime(time.Now()), id, string(filing.StatusCalibComplete))
}

func (s *Store) MarkPendingManual(ctx context.Context, id, errorLog string) error {
	return s.conditional(ctx, id, `
		UPDATE filing_requests SET status = ?, error_log = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(filing.StatusPendingManual), errorLog, formatTime(time.Now()), id, string(filing.StatusCalibComplete))
}

func (s *Store) ListFilingIDs(ctx context.Context, status filing.Status, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM filing_requests
		WHERE status = ? AND COALESCE(tracking_number, '') = ''
		ORDER BY updated_at, id LIMIT ?`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list filings: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) InsertLedgerEntry(ctx context.Context, e filing.LedgerEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries
			(id, filing_id, transaction_type, amount_minor, currency, recipient, status, method, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.FilingID, e.TransactionType, e.AmountMinor, e.Currency, e.Recipient,
		string(e.Status), e.Method, e.Reference, formatTime(e.Timestamp))
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (s *Store) InsertAlert(ctx context.Context, a filing.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, type, filing_id, error, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, string(a.Type), a.FilingID, a.Error, formatTime(a.Timestamp))
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *Store) InsertAuditEvent(ctx context.Context, ev filing.AuditEvent) error {
	evidence, err := json.Marshal(nonNil(ev.Evidence))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, filing_id, task_id, phase, detail, evidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.FilingID, ev.TaskID, string(ev.Phase), ev.Detail, string(evidence), formatTime(ev.Timestamp))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (s *Store) LedgerEntries(ctx context.Context, filingID string) ([]filing.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filing_id, transaction_type, amount_minor, currency, recipient, status, method, reference, created_at
		FROM ledger_entries WHERE filing_id = ? ORDER BY created_at, id`, filingID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []filing.LedgerEntry
	for rows.Next() {
		var (
			e          filing.LedgerEntry
			status, ts string
		)
		if err := rows.Scan(&e.ID, &e.FilingID, &e.TransactionType, &e.AmountMinor, &e.Currency, &e.Recipient,
			&status, &e.Method, &e.Reference, &ts); err != nil {
			return nil, err
		}
		e.Status = filing.LedgerStatus(status)
		e.Timestamp = parseTime(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Alerts(ctx context.Context, filingID string) ([]filing.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, filing_id, error, created_at
		FROM alerts WHERE filing_id = ? ORDER BY created_at, id`, filingID)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []filing.Alert
	for rows.Next() {
		var (
			a       filing.Alert
			typ, ts string
		)
		if err := rows.Scan(&a.ID, &typ, &a.FilingID, &a.Error, &ts); err != nil {
			return nil, err
		}
		a.Type = filing.AlertType(typ)
		a.Timestamp = parseTime(ts)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) AuditEvents(ctx context.Context, filingID string) ([]filing.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filing_id, task_id, phase, detail, evidence, created_at
		FROM audit_events WHERE filing_id = ? ORDER BY created_at, id`, filingID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []filing.AuditEvent
	for rows.Next() {
		var (
			ev                  filing.AuditEvent
			phase, evidence, ts string
		)
		if err := rows.Scan(&ev.ID, &ev.FilingID, &ev.TaskID, &phase, &ev.Detail, &evidence, &ts); err != nil {
			return nil, err
		}
		ev.Phase = filing.Status(phase)
		ev.Timestamp = parseTime(ts)
		if err := json.Unmarshal([]byte(evidence), &ev.Evidence); err != nil {
			return nil, fmt.Errorf("decode evidence for audit event %s: %w", ev.ID, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
