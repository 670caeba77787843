package filing

import "github.com/google/uuid"

// NewID returns a random identifier for ledger entries, alerts, audit
// events and pipeline tasks.
func NewID() string {
	return uuid.NewString()
}
