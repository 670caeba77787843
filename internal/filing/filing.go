// Package filing holds the records the pipeline reads and writes: filing
// requests, ledger entries, alert records and audit events.
package filing

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a Filing Request.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusCalibComplete Status = "CALIB_COMPLETE"
	StatusCertified     Status = "CERTIFIED"
	StatusPendingManual Status = "PENDING_MANUAL"
)

// Terminal reports whether no automated transition leaves this status.
func (s Status) Terminal() bool {
	return s == StatusCertified || s == StatusPendingManual
}

// ManagementType is the statutory management structure of the entity.
type ManagementType string

const (
	MemberManaged  ManagementType = "MEMBER_MANAGED"
	ManagerManaged ManagementType = "MANAGER_MANAGED"
)

// ParseManagementType normalizes case and separators ("manager-managed",
// "Manager Managed") and reports whether the result is one of the two
// enumerated values.
func ParseManagementType(raw string) (ManagementType, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	switch ManagementType(s) {
	case MemberManaged:
		return MemberManaged, true
	case ManagerManaged:
		return ManagerManaged, true
	}
	return "", false
}

// Request is a single entity-formation submission. ManagementType is kept
// raw because upstream forms do not guarantee a valid value.
type Request struct {
	ID               string    `json:"id"`
	EntityName       string    `json:"entity_name"`
	PrincipalAddress string    `json:"principal_address"`
	ManagementType   string    `json:"management_type"`
	Professional     bool      `json:"professional"`
	OrganizerName    string    `json:"organizer_name"`
	Status           Status    `json:"status"`
	TrackingNumber   string    `json:"tracking_number,omitempty"`
	ErrorLog         string    `json:"error_log,omitempty"`
	CertifiedAt      time.Time `json:"certified_at,omitempty"`
	UpdatedAt        time.Time `json:"updated_at,omitempty"`
}

// HasTrackingNumber reports whether the portal already accepted this filing.
func (r Request) HasTrackingNumber() bool {
	return strings.TrimSpace(r.TrackingNumber) != ""
}

// LedgerStatus is the settlement outcome recorded on a ledger entry.
type LedgerStatus string

const (
	LedgerCleared LedgerStatus = "CLEARED"
	LedgerFailed  LedgerStatus = "FAILED"
)

// TransactionStateFilingFee is the only transaction type this pipeline writes.
const TransactionStateFilingFee = "STATE_FILING_FEE"

// LedgerEntry is an append-only financial record. Amount is in minor units
// (cents) of Currency.
type LedgerEntry struct {
	ID              string       `json:"id"`
	FilingID        string       `json:"filing_id"`
	TransactionType string       `json:"transaction_type"`
	AmountMinor     int64        `json:"amount_minor"`
	Currency        string       `json:"currency"`
	Recipient       string       `json:"recipient"`
	Status          LedgerStatus `json:"status"`
	Method          string       `json:"method"`
	Reference       string       `json:"reference,omitempty"`
	Timestamp       time.Time    `json:"timestamp"`
}

// AlertType separates real filing failures from drift detected by the
// synthetic health check.
type AlertType string

const (
	AlertFilingFailure   AlertType = "FILING_FAILURE"
	AlertSelectorFailure AlertType = "SELECTOR_FAILURE"
)

// Alert is a write-once record for human triage.
type Alert struct {
	ID        string    `json:"id"`
	Type      AlertType `json:"type"`
	FilingID  string    `json:"filing_id,omitempty"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditEvent is a write-once record of a pipeline phase for a filing.
type AuditEvent struct {
	ID        string    `json:"id"`
	FilingID  string    `json:"filing_id"`
	TaskID    string    `json:"task_id"`
	Phase     Status    `json:"phase"`
	Detail    string    `json:"detail,omitempty"`
	Evidence  []string  `json:"evidence,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
