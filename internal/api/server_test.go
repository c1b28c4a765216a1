package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/duplicate"
)

const warningID = "0b7f4a34-7a43-4bb5-9c8f-6c1f0d3b1a10"

type fakeChecker struct {
	gotCandidate duplicate.CandidateInput
	gotUser      string
	gotAction    duplicate.Action
	result       *duplicate.CheckResult
	err          error
}

func (f *fakeChecker) CheckForDuplicates(_ context.Context, c duplicate.CandidateInput, userID string, action duplicate.Action) (*duplicate.CheckResult, error) {
	f.gotCandidate, f.gotUser, f.gotAction = c, userID, action
	if f.err != nil {
		return nil, f.err
	}
	if f.result == nil {
		return &duplicate.CheckResult{}, nil
	}
	return f.result, nil
}

type fakeDecisions struct {
	recordErr   error
	gotDecision duplicate.Decision
	gotUser     string
	gotReason   string
	warning     *duplicate.Warning
	audit       []duplicate.AuditLogEntry
	warningErr  error
	forRecord   []duplicate.Warning
	recordIDs   []string
}

func (f *fakeDecisions) RecordDecision(_ context.Context, id string, d duplicate.Decision, userID, reason string) (*duplicate.AuditLogEntry, error) {
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	f.gotDecision, f.gotUser, f.gotReason = d, userID, reason
	return &duplicate.AuditLogEntry{ID: "audit-1", WarningID: id, Decision: d}, nil
}

func (f *fakeDecisions) Warning(context.Context, string) (*duplicate.Warning, []duplicate.AuditLogEntry, error) {
	if f.warningErr != nil {
		return nil, nil, f.warningErr
	}
	return f.warning, f.audit, nil
}

func (f *fakeDecisions) WarningsForRecord(_ context.Context, recordID string) ([]duplicate.Warning, error) {
	f.recordIDs = append(f.recordIDs, recordID)
	return f.forRecord, nil
}

type fakeStats struct {
	got duplicate.DateRange
	err error
}

func (f *fakeStats) GetDuplicateStatistics(_ context.Context, r duplicate.DateRange) (*duplicate.Statistics, error) {
	f.got = r
	if f.err != nil {
		return nil, f.err
	}
	return &duplicate.Statistics{From: r.From, To: r.To, TotalWarnings: 4, ProceedCount: 1, ProceedRate: 25}, nil
}

type pingFunc func(context.Context) error

func (p pingFunc) Ping(ctx context.Context) error { return p(ctx) }

type fixture struct {
	checker   *fakeChecker
	decisions *fakeDecisions
	stats     *fakeStats
	handler   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{checker: &fakeChecker{}, decisions: &fakeDecisions{}, stats: &fakeStats{}}
	s := &server{
		checker:   f.checker,
		decisions: f.decisions,
		stats:     f.stats,
		now:       func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) },
	}
	f.handler = s.routes(Config{})
	return f
}

func (f *fixture) do(method, path, user, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		req.Header.Set(UserIDHeader, user)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestHealth_BackendDown(t *testing.T) {
	h := NewRouter(Config{Health: pingFunc(func(context.Context) error { return errors.New("connection refused") })})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestRequiresUserHeader(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/v1/duplicates/check"},
		{http.MethodPost, "/v1/duplicates/warnings/" + warningID + "/decision"},
		{http.MethodGet, "/v1/duplicates/statistics"},
		{http.MethodGet, "/v1/duplicates/warnings/" + warningID},
		{http.MethodGet, "/v1/duplicates/records/L1/warnings"},
	} {
		rec := f.do(tc.method, tc.path, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.path)
		assert.Contains(t, rec.Body.String(), UserIDHeader)
	}
}

func TestCheck(t *testing.T) {
	f := newFixture(t)
	f.checker.result = &duplicate.CheckResult{
		HasWarning: true,
		Severity:   duplicate.SeverityCritical,
		WarningID:  warningID,
		Message:    "Potential duplicate detected: same email address recently contacted by Jane Doe",
		Matches: []duplicate.Match{{
			MatchType:      duplicate.MatchEmail,
			Confidence:     1,
			Severity:       duplicate.SeverityCritical,
			ExistingRecord: duplicate.ExistingRecordRef{ID: "L1", SourceType: duplicate.SourceLead},
		}},
	}

	rec := f.do(http.MethodPost, "/v1/duplicates/check", "U2",
		`{"candidate":{"name":"John Smith","email":"john@acme.com","company":"Acme"},"action":"LEAD_CREATE"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "U2", f.checker.gotUser)
	assert.Equal(t, duplicate.ActionLeadCreate, f.checker.gotAction)
	assert.Equal(t, "john@acme.com", f.checker.gotCandidate.Email)

	got := decodeBody[duplicate.CheckResult](t, rec)
	assert.True(t, got.HasWarning)
	assert.Equal(t, warningID, got.WarningID)
	require.Len(t, got.Matches, 1)
	assert.Equal(t, duplicate.MatchEmail, got.Matches[0].MatchType)
}

func TestCheck_NoWarningHasEmptyMatches(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/v1/duplicates/check", "U2", `{"candidate":{"name":"Zed"},"action":"CONTACT_UPDATE"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, false, raw["hasWarning"])
	assert.Equal(t, []any{}, raw["matches"])
}

func TestCheck_BadRequests(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"empty body", "", ""},
		{"malformed", `{"candidate":`, ""},
		{"unknown field", `{"candidate":{},"action":"LEAD_CREATE","extra":1}`, ""},
		{"missing action", `{"candidate":{"name":"John"}}`, "action"},
		{"unknown action", `{"candidate":{"name":"John"},"action":"DELETE"}`, "action"},
		{"bad email", `{"candidate":{"email":"not-an-email"},"action":"LEAD_CREATE"}`, "candidate.email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(http.MethodPost, "/v1/duplicates/check", "U2", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			body := decodeBody[errorBody](t, rec)
			assert.NotEmpty(t, body.Error)
			if tt.wantField != "" {
				assert.Contains(t, body.Fields, tt.wantField)
			}
			assert.Empty(t, f.checker.gotUser, "checker must not run")
		})
	}
}

func TestCheck_EngineValidationError(t *testing.T) {
	f := newFixture(t)
	f.checker.err = &duplicate.ValidationError{Field: "candidate", Reason: "at least one of name, email, phone, or company is required"}

	rec := f.do(http.MethodPost, "/v1/duplicates/check", "U2", `{"candidate":{},"action":"LEAD_CREATE"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "at least one of name, email, phone, or company is required", body.Fields["candidate"])
}

func TestDecision(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/v1/duplicates/warnings/"+warningID+"/decision", "U2",
		`{"decision":"PROCEEDED","reason":"different person"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decodeBody[decisionResponse](t, rec)
	assert.True(t, got.Success)
	assert.Equal(t, "audit-1", got.AuditEntryID)
	assert.Equal(t, duplicate.DecisionProceeded, f.decisions.gotDecision)
	assert.Equal(t, "U2", f.decisions.gotUser)
	assert.Equal(t, "different person", f.decisions.gotReason)
}

func TestDecision_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"bad decision", `{"decision":"MAYBE"}`, nil, http.StatusBadRequest},
		{"validation", `{"decision":"MERGED"}`, &duplicate.ValidationError{Field: "warningId", Reason: "must be a UUID"}, http.StatusBadRequest},
		{"not found", `{"decision":"MERGED"}`, &duplicate.NotFoundError{Entity: "warning", ID: warningID}, http.StatusNotFound},
		{"storage", `{"decision":"MERGED"}`, errors.New("duplicate: save decision: connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.decisions.recordErr = tt.err
			rec := f.do(http.MethodPost, "/v1/duplicates/warnings/"+warningID+"/decision", "U2", tt.body)
			assert.Equal(t, tt.want, rec.Code)
			body := decodeBody[errorBody](t, rec)
			assert.NotEmpty(t, body.Error)
			assert.NotContains(t, body.Error, "connection reset")
		})
	}
}

func TestGetWarning(t *testing.T) {
	f := newFixture(t)
	f.decisions.warning = &duplicate.Warning{ID: warningID, Severity: duplicate.SeverityHigh}

	rec := f.do(http.MethodGet, "/v1/duplicates/warnings/"+warningID, "U2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.JSONEq(t, `[]`, string(raw["auditLog"]))
	assert.Contains(t, string(raw["warning"]), `"severity":"HIGH"`)

	f.decisions.warningErr = &duplicate.NotFoundError{Entity: "warning", ID: warningID}
	rec = f.do(http.MethodGet, "/v1/duplicates/warnings/"+warningID, "U2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordWarnings(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/v1/duplicates/records/L-100/warnings", "U2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"recordId":"L-100","warnings":[]}`, rec.Body.String())
	assert.Equal(t, []string{"L-100"}, f.decisions.recordIDs)
}

func TestStatistics(t *testing.T) {
	t.Run("explicit range", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(http.MethodGet, "/v1/duplicates/statistics?from=2026-09-01T00:00:00Z&to=2026-10-01T00:00:00Z", "U2", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), f.stats.got.From)
		assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), f.stats.got.To)
		got := decodeBody[duplicate.Statistics](t, rec)
		assert.Equal(t, 4, got.TotalWarnings)
		assert.Equal(t, 25.0, got.ProceedRate)
	})

	t.Run("defaults to the last 30 days", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(http.MethodGet, "/v1/duplicates/statistics", "U2", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC), f.stats.got.To)
		assert.Equal(t, time.Date(2026, 9, 18, 12, 0, 0, 0, time.UTC), f.stats.got.From)
	})

	t.Run("bad timestamps", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(http.MethodGet, "/v1/duplicates/statistics?from=yesterday&to=2026-13-01", "U2", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeBody[errorBody](t, rec)
		assert.Contains(t, body.Fields, "from")
		assert.Contains(t, body.Fields, "to")
	})

	t.Run("range rejected by aggregator", func(t *testing.T) {
		f := newFixture(t)
		f.stats.err = &duplicate.ValidationError{Field: "dateRange", Reason: "from must not be after to"}
		rec := f.do(http.MethodGet, "/v1/duplicates/statistics?from=2026-10-02T00:00:00Z&to=2026-10-01T00:00:00Z", "U2", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/v2/nothing", "U2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "route not found")
}

func TestCORSPreflight(t *testing.T) {
	h := NewRouter(Config{CORSOrigins: []string{"https://crm.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/v1/duplicates/check", nil)
	req.Header.Set("Origin", "https://crm.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", UserIDHeader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://crm.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
