package duplicate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresStore(mock, 0), mock
}

var recordColumns = []string{"id", "source_type", "name", "email", "phone", "company", "owner_id", "owner_name", "last_contact_date"}

var pgWarningColumns = []string{
	"id", "severity", "triggered_by_user_id", "action", "candidate", "matches", "created_at",
	"decision_made", "user_decision", "decision_at", "proceed_reason",
}

func TestNewPostgresStore_DefaultsMaxCandidates(t *testing.T) {
	s := NewPostgresStore(nil, 0)
	assert.Equal(t, 50, s.maxCandidates)
	s = NewPostgresStore(nil, 7)
	assert.Equal(t, 7, s.maxCandidates)
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE EXTENSION IF NOT EXISTS pg_trgm`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectPing().WillReturnError(fmt.Errorf("connection refused"))

	err := s.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: ping")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByExactKey_EmptyKey(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	recs, err := s.FindByExactKey(context.Background(), ExactKey{})
	require.NoError(t, err)
	assert.Nil(t, recs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByExactKey(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	contacted := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM leads r LEFT JOIN users u .* UNION ALL .* FROM pipeline_items r`).
		WithArgs("jane@acme.com", "5551234567", "", 50).
		WillReturnRows(mock.NewRows(recordColumns).
			AddRow("L1", "LEAD", "Jane Doe", "jane@acme.com", "", "Acme", "U1", "Alice", &contacted).
			AddRow("P1", "PIPELINE_ITEM", "J. Doe", "", "555-123-4567", "", "", "", (*time.Time)(nil)))

	recs, err := s.FindByExactKey(context.Background(), ExactKey{Email: "jane@acme.com", Phone: "5551234567"})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "L1", recs[0].ID)
	assert.Equal(t, SourceLead, recs[0].SourceType)
	assert.Equal(t, "Alice", recs[0].OwnerName)
	require.NotNil(t, recs[0].LastContactDate)
	assert.True(t, contacted.Equal(*recs[0].LastContactDate))

	assert.Equal(t, SourcePipelineItem, recs[1].SourceType)
	assert.Nil(t, recs[1].LastContactDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPhoneDigits_QueryUsesIndexedExpression(t *testing.T) {
	digits := `regexp_replace(regexp_replace(%s, '\(\s*0\s*\)', '', 'g'), '\D', '', 'g')`

	assert.Contains(t, exactKeyQuery, fmt.Sprintf(digits, "r.phone")+" = $2")
	assert.Contains(t, postgresMigration, "ON leads ("+fmt.Sprintf(digits, "phone")+")")
	assert.Contains(t, postgresMigration, "ON pipeline_items ("+fmt.Sprintf(digits, "phone")+")")
}

func TestPostgresStore_FindByExactKey_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UNION ALL`).
		WithArgs("", "", "acme.com", 50).
		WillReturnError(fmt.Errorf("connection reset by peer"))

	_, err := s.FindByExactKey(context.Background(), ExactKey{Domain: "acme.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "find by exact key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByApproximateCompany_EscapesLike(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`similarity\(LOWER\(r.company\), \$1\)`).
		WithArgs("100%_co", `100\%\_co%`, 50).
		WillReturnRows(mock.NewRows(recordColumns))

	recs, err := s.FindByApproximateCompany(context.Background(), "100%_co")
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByApproximateCompany_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	recs, err := s.FindByApproximateCompany(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, recs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func sampleWarning() *Warning {
	return &Warning{
		ID:                "0b7f4a34-7a43-4bb5-9c8f-6c1f0d3b1a10",
		Severity:          SeverityCritical,
		TriggeredByUserID: "U2",
		Action:            ActionLeadCreate,
		CandidateSnapshot: CandidateInput{Name: "John Smith", Email: "john@acme.com"},
		Matches: []Match{{
			MatchType:      MatchEmail,
			Confidence:     1.0,
			Severity:       SeverityCritical,
			ExistingRecord: ExistingRecordRef{ID: "L1", SourceType: SourceLead},
		}},
		CreatedAt: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
	}
}

func TestPostgresStore_CreateWarning(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	w := sampleWarning()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO duplicate_warnings`).
		WithArgs(w.ID, "CRITICAL", "U2", "LEAD_CREATE", pgxmock.AnyArg(), pgxmock.AnyArg(), w.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"duplicate_warning_matches"}, matchIndexColumns).
		WillReturnResult(1)
	mock.ExpectCommit()

	require.NoError(t, s.CreateWarning(context.Background(), w))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateWarning_AssignsIDAndTime(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	w := sampleWarning()
	w.ID = ""
	w.CreatedAt = time.Time{}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO duplicate_warnings`).
		WithArgs(pgxmock.AnyArg(), "CRITICAL", "U2", "LEAD_CREATE", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"duplicate_warning_matches"}, matchIndexColumns).
		WillReturnResult(1)
	mock.ExpectCommit()

	require.NoError(t, s.CreateWarning(context.Background(), w))
	assert.NoError(t, ValidateWarningID(w.ID))
	assert.False(t, w.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateWarning_CopyFails(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	w := sampleWarning()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO duplicate_warnings`).
		WithArgs(w.ID, "CRITICAL", "U2", "LEAD_CREATE", pgxmock.AnyArg(), pgxmock.AnyArg(), w.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"duplicate_warning_matches"}, matchIndexColumns).
		WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	err := s.CreateWarning(context.Background(), w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index warning matches")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetWarning_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM duplicate_warnings WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	w, err := s.GetWarning(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, w)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetWarning(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	decided := created.Add(time.Minute)

	mock.ExpectQuery(`FROM duplicate_warnings WHERE id = \$1`).
		WithArgs("W1").
		WillReturnRows(mock.NewRows(pgWarningColumns).AddRow(
			"W1", "HIGH", "U2", "PIPELINE_CREATE",
			[]byte(`{"name":"John Smith"}`),
			[]byte(`[{"matchType":"COMPANY_NAME","confidence":0.9,"severity":"HIGH","existingRecord":{"id":"P1","sourceType":"PIPELINE_ITEM"}}]`),
			created, true, "MERGED", &decided, "same customer",
		))

	w, err := s.GetWarning(context.Background(), "W1")
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, SeverityHigh, w.Severity)
	assert.Equal(t, ActionPipelineCreate, w.Action)
	assert.Equal(t, "John Smith", w.CandidateSnapshot.Name)
	require.Len(t, w.Matches, 1)
	assert.Equal(t, MatchCompanyName, w.Matches[0].MatchType)
	assert.Equal(t, SourcePipelineItem, w.Matches[0].ExistingRecord.SourceType)
	assert.True(t, w.DecisionMade)
	assert.Equal(t, DecisionMerged, w.UserDecision)
	assert.Equal(t, "same customer", w.ProceedReason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveDecision(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2026, 10, 18, 9, 5, 0, 0, time.UTC)
	entry := &AuditLogEntry{ID: "A1", WarningID: "W1", UserID: "U2", Decision: DecisionProceeded, Reason: "different branch", Timestamp: at}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE duplicate_warnings`).
		WithArgs("PROCEEDED", at, "different branch", "W1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO duplicate_audit_log`).
		WithArgs("A1", "W1", "U2", "PROCEEDED", "different branch", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.SaveDecision(context.Background(), "W1",
		DecisionUpdate{Decision: DecisionProceeded, DecidedAt: at, Reason: "different branch"}, entry)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveDecision_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2026, 10, 18, 9, 5, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE duplicate_warnings`).
		WithArgs("CANCELLED", at, "", "W404").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.SaveDecision(context.Background(), "W404",
		DecisionUpdate{Decision: DecisionCancelled, DecidedAt: at}, &AuditLogEntry{ID: "A1"})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "W404", nf.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAuditLog(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	t1 := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM duplicate_audit_log WHERE warning_id = \$1 ORDER BY created_at`).
		WithArgs("W1").
		WillReturnRows(mock.NewRows([]string{"id", "warning_id", "user_id", "decision", "reason", "created_at"}).
			AddRow("A1", "W1", "U2", "PROCEEDED", "", t1).
			AddRow("A2", "W1", "U2", "CANCELLED", "changed mind", t1.Add(time.Minute)))

	entries, err := s.ListAuditLog(context.Background(), "W1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, DecisionProceeded, entries[0].Decision)
	assert.Equal(t, DecisionCancelled, entries[1].Decision)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListWarningSummaries(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	from := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	mock.ExpectQuery(`FROM duplicate_warnings WHERE created_at >= \$1 AND created_at < \$2`).
		WithArgs(from, to).
		WillReturnRows(mock.NewRows([]string{"id", "severity", "decision_made", "user_decision", "created_at"}).
			AddRow("W1", "LOW", false, "", from).
			AddRow("W2", "CRITICAL", true, "MERGED", from.Add(time.Hour)))

	out, err := s.ListWarningSummaries(context.Background(), DateRange{From: from, To: to})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, SeverityLow, out[0].Severity)
	assert.Equal(t, DecisionMerged, out[1].UserDecision)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListWarnings_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	from := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`created_at >= \$1 AND severity = \$2 AND triggered_by_user_id = \$3 AND NOT decision_made ORDER BY created_at DESC, id LIMIT \$4 OFFSET \$5`).
		WithArgs(from, "HIGH", "U2", 10, 20).
		WillReturnRows(mock.NewRows(pgWarningColumns))

	out, err := s.ListWarnings(context.Background(), WarningFilter{
		From: from, Severity: SeverityHigh, UserID: "U2", Pending: true, Limit: 10, Offset: 20,
	})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListWarnings_DefaultLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE true ORDER BY created_at DESC, id LIMIT \$1`).
		WithArgs(100).
		WillReturnRows(mock.NewRows(pgWarningColumns))

	_, err := s.ListWarnings(context.Background(), WarningFilter{})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListWarningsForRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT warning_id FROM duplicate_warning_matches WHERE record_id = \$1`).
		WithArgs("L1").
		WillReturnError(errors.New("boom"))

	_, err := s.ListWarningsForRecord(context.Background(), "L1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list warnings for record")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `a\\b\%c\_d`, escapeLike(`a\b%c_d`))
	assert.Equal(t, "acme", escapeLike("acme"))
}
