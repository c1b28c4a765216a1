package duplicate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/normalize"
)

// SQLiteStore implements Store and CandidateGateway on a single SQLite file.
// It backs local development and tests; production uses PostgresStore.
type SQLiteStore struct {
	db            *sql.DB
	maxCandidates int
	norm          *normalize.Normalizer
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// busy_timeout and foreign_keys are also set on the DSN so that every pooled
// connection carries them.
func NewSQLite(dsn string, maxCandidates int) (*SQLiteStore, error) {
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	if maxCandidates < 1 {
		maxCandidates = 50
	}
	return &SQLiteStore{db: db, maxCandidates: maxCandidates, norm: normalize.Default()}, nil
}

// UseNormalizer sets the vocabularies used to pick the company search token.
func (s *SQLiteStore) UseNormalizer(n *normalize.Normalizer) {
	if n != nil {
		s.norm = n
	}
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS users (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS leads (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL DEFAULT '',
	phone             TEXT NOT NULL DEFAULT '',
	company           TEXT NOT NULL DEFAULT '',
	owner_id          TEXT REFERENCES users(id),
	last_contact_date TEXT,
	created_at        TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE TABLE IF NOT EXISTS pipeline_items (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL DEFAULT '',
	phone             TEXT NOT NULL DEFAULT '',
	company           TEXT NOT NULL DEFAULT '',
	owner_id          TEXT REFERENCES users(id),
	last_contact_date TEXT,
	created_at        TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_leads_email ON leads(LOWER(TRIM(email)));
CREATE INDEX IF NOT EXISTS idx_pipeline_items_email ON pipeline_items(LOWER(TRIM(email)));

CREATE TABLE IF NOT EXISTS duplicate_warnings (
	id                   TEXT PRIMARY KEY,
	severity             TEXT NOT NULL,
	triggered_by_user_id TEXT NOT NULL,
	action               TEXT NOT NULL,
	candidate            TEXT NOT NULL,
	matches              TEXT NOT NULL,
	created_at           TEXT NOT NULL,
	decision_made        INTEGER NOT NULL DEFAULT 0,
	user_decision        TEXT NOT NULL DEFAULT '',
	decision_at          TEXT,
	proceed_reason       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_duplicate_warnings_created_at ON duplicate_warnings(created_at);

CREATE TABLE IF NOT EXISTS duplicate_warning_matches (
	warning_id  TEXT NOT NULL REFERENCES duplicate_warnings(id),
	record_id   TEXT NOT NULL,
	source_type TEXT NOT NULL,
	match_type  TEXT NOT NULL,
	confidence  REAL NOT NULL,
	severity    TEXT NOT NULL,
	PRIMARY KEY (warning_id, record_id)
);

CREATE INDEX IF NOT EXISTS idx_duplicate_warning_matches_record ON duplicate_warning_matches(record_id);

CREATE TABLE IF NOT EXISTS duplicate_audit_log (
	id         TEXT PRIMARY KEY,
	warning_id TEXT NOT NULL REFERENCES duplicate_warnings(id),
	user_id    TEXT NOT NULL,
	decision   TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_duplicate_audit_log_warning ON duplicate_audit_log(warning_id, created_at);
`

// Migrate creates tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteTimeLayout is fixed-width so stored timestamps sort as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		// Rows written by SQLite defaults use millisecond precision.
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	return t, err
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- Candidate gateway ---

// SQLite has no regexp_replace; the separators people type are stripped
// instead. Spaces go first so "( 0 )" collapses to the "(0)" trunk prefix,
// which normalize.Phone also drops.
const sqlitePhoneExpr = `REPLACE(REPLACE(REPLACE(REPLACE(REPLACE(REPLACE(REPLACE(REPLACE(r.phone,
	' ', ''), '(0)', ''), '-', ''), '(', ''), ')', ''), '.', ''), '+', ''), '/', '')`

// The domain is the text after the last "@": RTRIM strips every character
// up to and including it from the right, leaving the local part.
const sqliteDomainExpr = `CASE WHEN INSTR(r.email, '@') > 0
	THEN LOWER(TRIM(SUBSTR(r.email, LENGTH(RTRIM(r.email, REPLACE(r.email, '@', ''))) + 1))) ELSE '' END`

func sqliteRecordSelect(table string, source SourceType, score, where string) string {
	return fmt.Sprintf(`SELECT r.id, '%s' AS source_type, r.name, r.email, r.phone, r.company,
		COALESCE(r.owner_id, '') AS owner_id, COALESCE(u.name, '') AS owner_name, r.last_contact_date,
		%s AS score
	FROM %s r LEFT JOIN users u ON u.id = r.owner_id
	WHERE %s`, source, score, table, where)
}

func sqliteCandidateQuery(score, where, limitParam string) string {
	return `SELECT id, source_type, name, email, phone, company, owner_id, owner_name, last_contact_date FROM (` +
		sqliteRecordSelect("leads", SourceLead, score, where) +
		"\n\tUNION ALL\n\t" +
		sqliteRecordSelect("pipeline_items", SourcePipelineItem, score, where) +
		`) ORDER BY score DESC, id LIMIT ` + limitParam
}

var (
	sqliteExactKeyQuery = sqliteCandidateQuery("1",
		`(?1 <> '' AND LOWER(TRIM(r.email)) = ?1)
		OR (?2 <> '' AND `+sqlitePhoneExpr+` = ?2)
		OR (?3 <> '' AND `+sqliteDomainExpr+` = ?3)`,
		"?4")

	// Companies containing the whole normalized name rank ahead of those that
	// only share the search token.
	sqliteCompanyQuery = sqliteCandidateQuery(`(LOWER(r.company) LIKE ?2 ESCAPE '\')`,
		`LOWER(r.company) LIKE ?1 ESCAPE '\'`, "?3")
)

// FindByExactKey matches on normalized email, phone digits, and email domain.
func (s *SQLiteStore) FindByExactKey(ctx context.Context, key ExactKey) ([]ExistingRecordRef, error) {
	if key.Empty() {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, sqliteExactKeyQuery, key.Email, key.Phone, key.Domain, s.maxCandidates)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find by exact key")
	}
	return collectSQLiteRecords(rows, "sqlite: find by exact key")
}

// FindByApproximateCompany matches companies containing the most distinctive
// token of the normalized name. Scoring does the real comparison.
func (s *SQLiteStore) FindByApproximateCompany(ctx context.Context, normalizedCompany string) ([]ExistingRecordRef, error) {
	token := s.norm.CompanyKeyToken(normalizedCompany)
	if token == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, sqliteCompanyQuery,
		"%"+escapeLike(token)+"%", "%"+escapeLike(normalizedCompany)+"%", s.maxCandidates)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find by approximate company")
	}
	return collectSQLiteRecords(rows, "sqlite: find by approximate company")
}

func collectSQLiteRecords(rows *sql.Rows, op string) ([]ExistingRecordRef, error) {
	defer rows.Close()
	var out []ExistingRecordRef
	for rows.Next() {
		var (
			rec         ExistingRecordRef
			source      string
			lastContact sql.NullString
		)
		if err := rows.Scan(&rec.ID, &source, &rec.Name, &rec.Email, &rec.Phone, &rec.Company,
			&rec.OwnerID, &rec.OwnerName, &lastContact); err != nil {
			return nil, eris.Wrap(err, op+" scan")
		}
		lc, err := parseNullTime(lastContact)
		if err != nil {
			return nil, eris.Wrapf(err, "%s: parse last_contact_date of %s", op, rec.ID)
		}
		rec.SourceType = SourceType(source)
		rec.LastContactDate = lc
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), op+" iterate")
}

// --- Warning store ---

// CreateWarning inserts the warning and indexes its matched record IDs in one
// transaction.
func (s *SQLiteStore) CreateWarning(ctx context.Context, w *Warning) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}

	candidateJSON, err := json.Marshal(w.CandidateSnapshot)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal candidate")
	}
	matchesJSON, err := json.Marshal(w.Matches)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal matches")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create warning")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO duplicate_warnings (id, severity, triggered_by_user_id, action, candidate, matches, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID, string(w.Severity), w.TriggeredByUserID, string(w.Action),
		string(candidateJSON), string(matchesJSON), formatTime(w.CreatedAt),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert warning")
	}

	for _, m := range w.Matches {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO duplicate_warning_matches (warning_id, record_id, source_type, match_type, confidence, severity)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			w.ID, m.ExistingRecord.ID, string(m.ExistingRecord.SourceType),
			string(m.MatchType), m.Confidence, string(m.Severity),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: index match %s", m.ExistingRecord.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit create warning")
}

const sqliteWarningColumns = `id, severity, triggered_by_user_id, action, candidate, matches, created_at,
	decision_made, user_decision, decision_at, proceed_reason`

// GetWarning returns nil, nil when absent.
func (s *SQLiteStore) GetWarning(ctx context.Context, id string) (*Warning, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteWarningColumns+` FROM duplicate_warnings WHERE id = ?`, id)
	w, err := scanWarning(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get warning %s", id)
	}
	return w, nil
}

// SaveDecision overwrites the decision fields and appends the audit entry.
func (s *SQLiteStore) SaveDecision(ctx context.Context, id string, update DecisionUpdate, entry *AuditLogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save decision")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE duplicate_warnings SET decision_made = 1, user_decision = ?, decision_at = ?, proceed_reason = ?
		 WHERE id = ?`,
		string(update.Decision), formatTime(update.DecidedAt), update.Reason, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update decision %s", id)
	}
	if err := checkRowsAffected(res, "warning", id); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO duplicate_audit_log (id, warning_id, user_id, decision, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.WarningID, entry.UserID, string(entry.Decision), entry.Reason, formatTime(entry.Timestamp),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert audit entry %s", id)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save decision")
}

// ListAuditLog returns entries oldest first.
func (s *SQLiteStore) ListAuditLog(ctx context.Context, warningID string) ([]AuditLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, warning_id, user_id, decision, reason, created_at
		 FROM duplicate_audit_log WHERE warning_id = ? ORDER BY created_at, rowid`,
		warningID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit log")
	}
	defer rows.Close()

	var out []AuditLogEntry
	for rows.Next() {
		var (
			e                 AuditLogEntry
			decision, created string
		)
		if err := rows.Scan(&e.ID, &e.WarningID, &e.UserID, &decision, &e.Reason, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit entry")
		}
		if e.Timestamp, err = parseTime(created); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse audit timestamp %s", e.ID)
		}
		e.Decision = Decision(decision)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list audit log iterate")
}

// ListWarningSummaries returns the warnings created in [r.From, r.To).
func (s *SQLiteStore) ListWarningSummaries(ctx context.Context, r DateRange) ([]WarningSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, severity, decision_made, user_decision, created_at
		 FROM duplicate_warnings WHERE created_at >= ? AND created_at < ? ORDER BY created_at`,
		formatTime(r.From), formatTime(r.To),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list warning summaries")
	}
	defer rows.Close()

	var out []WarningSummary
	for rows.Next() {
		var (
			ws                          WarningSummary
			severity, decision, created string
		)
		if err := rows.Scan(&ws.ID, &severity, &ws.DecisionMade, &decision, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan warning summary")
		}
		if ws.CreatedAt, err = parseTime(created); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse created_at of %s", ws.ID)
		}
		ws.Severity, ws.UserDecision = Severity(severity), Decision(decision)
		out = append(out, ws)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list warning summaries iterate")
}

// ListWarnings returns full warnings, newest first.
func (s *SQLiteStore) ListWarnings(ctx context.Context, f WarningFilter) ([]Warning, error) {
	query := `SELECT ` + sqliteWarningColumns + ` FROM duplicate_warnings WHERE 1=1`
	var args []any

	if !f.From.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, formatTime(f.To))
	}
	if f.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(f.Severity))
	}
	if f.UserID != "" {
		query += ` AND triggered_by_user_id = ?`
		args = append(args, f.UserID)
	}
	if f.Pending {
		query += ` AND decision_made = 0`
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list warnings")
	}
	return collectSQLiteWarnings(rows, "sqlite: list warnings")
}

// ListWarningsForRecord returns warnings that matched recordID, newest first.
func (s *SQLiteStore) ListWarningsForRecord(ctx context.Context, recordID string) ([]Warning, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteWarningColumns+` FROM duplicate_warnings
		 WHERE id IN (SELECT warning_id FROM duplicate_warning_matches WHERE record_id = ?)
		 ORDER BY created_at DESC, id`,
		recordID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list warnings for record")
	}
	return collectSQLiteWarnings(rows, "sqlite: list warnings for record")
}

func collectSQLiteWarnings(rows *sql.Rows, op string) ([]Warning, error) {
	defer rows.Close()
	var out []Warning
	for rows.Next() {
		w, err := scanWarning(rows)
		if err != nil {
			return nil, eris.Wrap(err, op+" scan")
		}
		out = append(out, *w)
	}
	return out, eris.Wrap(rows.Err(), op+" iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return &NotFoundError{Entity: entity, ID: id}
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanWarning(row scannable) (*Warning, error) {
	var (
		w                                   Warning
		severity, action, decision, created string
		candidateJSON, matchesJSON          string
		decisionAt                          sql.NullString
	)
	err := row.Scan(&w.ID, &severity, &w.TriggeredByUserID, &action, &candidateJSON, &matchesJSON,
		&created, &w.DecisionMade, &decision, &decisionAt, &w.ProceedReason)
	if err != nil {
		return nil, err
	}
	w.Severity, w.Action, w.UserDecision = Severity(severity), Action(action), Decision(decision)
	if w.CreatedAt, err = parseTime(created); err != nil {
		return nil, eris.Wrap(err, "parse created_at")
	}
	if w.DecisionAt, err = parseNullTime(decisionAt); err != nil {
		return nil, eris.Wrap(err, "parse decision_at")
	}
	if err := json.Unmarshal([]byte(candidateJSON), &w.CandidateSnapshot); err != nil {
		return nil, eris.Wrap(err, "unmarshal candidate")
	}
	if err := json.Unmarshal([]byte(matchesJSON), &w.Matches); err != nil {
		return nil, eris.Wrap(err, "unmarshal matches")
	}
	return &w, nil
}
