package duplicate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/normalize"
)

// mockGateway serves a fixed record set, filtering the way a real gateway
// narrows candidates.
type mockGateway struct {
	records    []ExistingRecordRef
	exactErr   error
	companyErr error
	panicMsg   string

	mu           sync.Mutex
	exactCalls   []ExactKey
	companyCalls []string
}

func (g *mockGateway) FindByExactKey(_ context.Context, key ExactKey) ([]ExistingRecordRef, error) {
	g.mu.Lock()
	g.exactCalls = append(g.exactCalls, key)
	g.mu.Unlock()
	if g.panicMsg != "" {
		panic(g.panicMsg)
	}
	if g.exactErr != nil {
		return nil, g.exactErr
	}
	var out []ExistingRecordRef
	for _, r := range g.records {
		e, p, d := normalize.Email(r.Email), normalize.Phone(r.Phone), normalize.DomainFromEmail(r.Email)
		if (key.Email != "" && key.Email == e) || (key.Phone != "" && key.Phone == p) || (key.Domain != "" && key.Domain == d) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (g *mockGateway) FindByApproximateCompany(_ context.Context, company string) ([]ExistingRecordRef, error) {
	g.mu.Lock()
	g.companyCalls = append(g.companyCalls, company)
	g.mu.Unlock()
	if g.companyErr != nil {
		return nil, g.companyErr
	}
	var out []ExistingRecordRef
	for _, r := range g.records {
		if r.Company != "" {
			out = append(out, r)
		}
	}
	return out, nil
}

// mockStore is an in-memory WarningStore.
type mockStore struct {
	mu        sync.Mutex
	warnings  map[string]*Warning
	audit     map[string][]AuditLogEntry
	createErr error
	// createPanic makes CreateWarning panic with this value.
	createPanic any
	getErr    error
	saveErr   error
	// saveFailures makes the first n SaveDecision calls fail with saveErr.
	saveFailures int
	saveCalls    int
}

func newMockStore() *mockStore {
	return &mockStore{warnings: map[string]*Warning{}, audit: map[string][]AuditLogEntry{}}
}

func (s *mockStore) CreateWarning(_ context.Context, w *Warning) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createPanic != nil {
		panic(s.createPanic)
	}
	if s.createErr != nil {
		return s.createErr
	}
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	cp := *w
	s.warnings[w.ID] = &cp
	return nil
}

func (s *mockStore) GetWarning(_ context.Context, id string) (*Warning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	w, ok := s.warnings[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (s *mockStore) SaveDecision(_ context.Context, id string, update DecisionUpdate, entry *AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if s.saveErr != nil && (s.saveFailures == 0 || s.saveCalls <= s.saveFailures) {
		return s.saveErr
	}
	w, ok := s.warnings[id]
	if !ok {
		return &NotFoundError{Entity: "warning", ID: id}
	}
	at := update.DecidedAt
	w.DecisionMade = true
	w.UserDecision = update.Decision
	w.DecisionAt = &at
	w.ProceedReason = update.Reason
	s.audit[id] = append(s.audit[id], *entry)
	return nil
}

func (s *mockStore) ListAuditLog(_ context.Context, warningID string) ([]AuditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditLogEntry(nil), s.audit[warningID]...), nil
}

func (s *mockStore) ListWarningSummaries(_ context.Context, r DateRange) ([]WarningSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []WarningSummary
	for _, w := range s.warnings {
		if w.CreatedAt.Before(r.From) || !w.CreatedAt.Before(r.To) {
			continue
		}
		out = append(out, WarningSummary{
			ID: w.ID, Severity: w.Severity, DecisionMade: w.DecisionMade,
			UserDecision: w.UserDecision, CreatedAt: w.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *mockStore) ListWarnings(_ context.Context, _ WarningFilter) ([]Warning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Warning
	for _, w := range s.warnings {
		out = append(out, *w)
	}
	return out, nil
}

func (s *mockStore) ListWarningsForRecord(_ context.Context, recordID string) ([]Warning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Warning
	for _, w := range s.warnings {
		for _, m := range w.Matches {
			if m.ExistingRecord.ID == recordID {
				out = append(out, *w)
				break
			}
		}
	}
	return out, nil
}

func (s *mockStore) only() *Warning {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.warnings {
		return w
	}
	return nil
}
