package sqlstore

import "strings"

// schemaStatements create the tables on first open. Ledger, alert and audit
// rows are protected by triggers so that no code path, including ad hoc
// SQL, can rewrite history.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS filing_requests (
		id TEXT PRIMARY KEY,
		entity_name TEXT NOT NULL,
		principal_address TEXT NOT NULL,
		management_type TEXT NOT NULL DEFAULT '',
		professional INTEGER NOT NULL DEFAULT 0,
		organizer_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'PENDING',
		tracking_number TEXT,
		error_log TEXT,
		certified_at TEXT,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_filing_requests_status ON filing_requests(status, updated_at)`,

	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		filing_id TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		amount_minor INTEGER NOT NULL,
		currency TEXT NOT NULL,
		recipient TEXT NOT NULL,
		status TEXT NOT NULL,
		method TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_filing ON ledger_entries(filing_id)`,

	`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		filing_id TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_filing ON alerts(filing_id)`,

	`CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		filing_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		evidence TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_filing ON audit_events(filing_id)`,
}

var appendOnlyTables = []string{"ledger_entries", "alerts", "audit_events"}

func appendOnlyTriggers() []string {
	var stmts []string
	for _, table := range appendOnlyTables {
		for _, op := range []string{"UPDATE", "DELETE"} {
			stmts = append(stmts,
				`CREATE TRIGGER IF NOT EXISTS `+table+`_no_`+strings.ToLower(op)+` BEFORE `+op+` ON `+table+`
				BEGIN SELECT RAISE(ABORT, '`+table+` is append-only'); END`)
		}
	}
	return stmts
}
