// Package memstore keeps everything in process memory. Used by tests and
// one-off dry runs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"statfiler/internal/filing"
)

// Store is a mutex-guarded in-memory store.
type Store struct {
	mu      sync.Mutex
	filings map[string]filing.Request
	ledger  []filing.LedgerEntry
	alerts  []filing.Alert
	audit   []filing.AuditEvent
}

// New returns an empty store.
func New() *Store {
	return &Store{filings: make(map[string]filing.Request)}
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateFiling(ctx context.Context, req filing.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.filings[req.ID]; ok {
		return fmt.Errorf("insert filing %s: duplicate id", req.ID)
	}
	if req.Status == "" {
		req.Status = filing.StatusPending
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = time.Now().UTC()
	}
	s.filings[req.ID] = req
	return nil
}

func (s *Store) GetFiling(ctx context.Context, id string) (filing.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.filings[id]
	if !ok {
		return filing.Request{}, fmt.Errorf("%w: %s", filing.ErrFilingNotFound, id)
	}
	return req, nil
}

// update applies fn to the filing if guard accepts it.
func (s *Store) update(id string, guard func(filing.Request) bool, fn func(*filing.Request)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.filings[id]
	if !ok {
		return fmt.Errorf("%w: %s", filing.ErrFilingNotFound, id)
	}
	if !guard(req) {
		return fmt.Errorf("%w: %s", filing.ErrStatusConflict, id)
	}
	fn(&req)
	req.UpdatedAt = time.Now().UTC()
	s.filings[id] = req
	return nil
}

func (s *Store) TransitionStatus(ctx context.Context, id string, from, to filing.Status) error {
	return s.update(id,
		func(r filing.Request) bool { return r.Status == from && !r.HasTrackingNumber() },
		func(r *filing.Request) { r.Status = to })
}

func (s *Store) MarkCertified(ctx context.Context, id, tracking string, at time.Time) error {
	return s.update(id,
		func(r filing.Request) bool { return r.Status == filing.StatusCalibComplete },
		func(r *filing.Request) {
			r.Status = filing.StatusCertified
			r.TrackingNumber = tracking
			r.CertifiedAt = at.UTC()
			r.ErrorLog = ""
		})
}

func (s *Store) MarkPendingManual(ctx context.Context, id, errorLog string) error {
	return s.update(id,
		func(r filing.Request) bool { return r.Status == filing.StatusCalibComplete },
		func(r *filing.Request) {
			r.Status = filing.StatusPendingManual
			r.ErrorLog = errorLog
		})
}

func (s *Store) ListFilingIDs(ctx context.Context, status filing.Status, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	var matched []filing.Request
	for _, r := range s.filings {
		if r.Status == status && !r.HasTrackingNumber() {
			matched = append(matched, r)
		}
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.Before(matched[j].UpdatedAt)
		}
		return strings.Compare(matched[i].ID, matched[j].ID) < 0
	})
	ids := make([]string, 0, limit)
	for _, r := range matched {
		if len(ids) == limit {
			break
		}
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (s *Store) InsertLedgerEntry(ctx context.Context, e filing.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.ledger {
		if existing.ID == e.ID {
			return fmt.Errorf("insert ledger entry: duplicate id %s", e.ID)
		}
	}
	s.ledger = append(s.ledger, e)
	return nil
}

func (s *Store) InsertAlert(ctx context.Context, a filing.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *Store) InsertAuditEvent(ctx context.Context, ev filing.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.Evidence = append([]string(nil), ev.Evidence...)
	s.audit = append(s.audit, ev)
	return nil
}

func (s *Store) LedgerEntries(ctx context.Context, filingID string) ([]filing.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []filing.LedgerEntry
	for _, e := range s.ledger {
		if e.FilingID == filingID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) Alerts(ctx context.Context, filingID string) ([]filing.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []filing.Alert
	for _, a := range s.alerts {
		if a.FilingID == filingID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) AuditEvents(ctx context.Context, filingID string) ([]filing.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []filing.AuditEvent
	for _, ev := range s.audit {
		if ev.FilingID == filingID {
			ev.Evidence = append([]string(nil), ev.Evidence...)
			out = append(out, ev)
		}
	}
	return out, nil
}
