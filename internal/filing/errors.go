package filing

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrFilingNotFound = errors.New("filing request not found")
	// ErrStatusConflict is returned by compare-and-set status transitions when
	// the row is no longer in the expected state.
	ErrStatusConflict       = errors.New("filing status changed concurrently")
	ErrAwaitingManualReview = errors.New("filing is awaiting manual review")
	// ErrInterruptedRun marks a filing left in CALIB_COMPLETE by a run that
	// never finished; the portal may already have accepted it.
	ErrInterruptedRun = errors.New("previous run was interrupted after calibration")
	ErrEvidenceExists = errors.New("evidence object already exists")
)

// Statutory rules a StatutoryViolation can name.
const (
	RuleAddress = "physical_address"
	RuleSuffix  = "entity_suffix"
	RuleName    = "entity_name"
)

// StatutoryViolation is a user-correctable input error. It is never retried.
type StatutoryViolation struct {
	Rule    string
	Field   string
	Message string
}

func (e *StatutoryViolation) Error() string {
	return fmt.Sprintf("statutory violation (%s): %s", e.Rule, e.Message)
}

// DomIntegrityError means the value read back from the portal form differs
// from the value the pipeline intended to file.
type DomIntegrityError struct {
	Field string
	Want  string
	Got   string
}

func (e *DomIntegrityError) Error() string {
	return fmt.Sprintf("dom integrity check failed for %s: want %q, got %q", e.Field, e.Want, e.Got)
}

// SubmissionFailure is returned after every submit attempt failed.
type SubmissionFailure struct {
	Attempts int
	Last     error
}

func (e *SubmissionFailure) Error() string {
	return fmt.Sprintf("submission failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *SubmissionFailure) Unwrap() error { return e.Last }

// ConfirmationTimeout is returned when no tracking number appeared within
// the confirmation wait.
type ConfirmationTimeout struct {
	After time.Duration
	Err   error
}

func (e *ConfirmationTimeout) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("confirmation not received within %s: %v", e.After, e.Err)
	}
	return fmt.Sprintf("confirmation not received within %s", e.After)
}

func (e *ConfirmationTimeout) Unwrap() error { return e.Err }

// SettlementError is logged but never fails a filing; the statutory act has
// already happened by the time settlement runs.
type SettlementError struct {
	Stage string
	Err   error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement %s: %v", e.Stage, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }

// SelectorNotFoundError reports selector drift: none of the locators for a
// logical field matched the page.
type SelectorNotFoundError struct {
	Field string
	Tried []string
}

func (e *SelectorNotFoundError) Error() string {
	return fmt.Sprintf("selector for %s not found (tried %s)", e.Field, strings.Join(e.Tried, ", "))
}

// NavigationError is fatal for the run in which it occurs.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate to %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// IsStatutoryViolation is a convenience wrapper around errors.As.
func IsStatutoryViolation(err error) bool {
	var v *StatutoryViolation
	return errors.As(err, &v)
}
