package duplicate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/db"
)

// PostgresStore reads candidate records from the CRM's leads and
// pipeline_items tables and keeps warnings alongside them.
type PostgresStore struct {
	pool          db.Pool
	maxCandidates int
}

// NewPostgresStore wraps an open pool. maxCandidates bounds each gateway
// query; values below 1 mean 50.
func NewPostgresStore(pool db.Pool, maxCandidates int) *PostgresStore {
	if maxCandidates < 1 {
		maxCandidates = 50
	}
	return &PostgresStore{pool: pool, maxCandidates: maxCandidates}
}

// OpenPostgres connects to connString and returns a store over the new pool.
func OpenPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig, maxCandidates int) (*PostgresStore, error) {
	pool, err := db.NewPool(ctx, connString, poolCfg, nil)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open")
	}
	return NewPostgresStore(pool, maxCandidates), nil
}

// The CRM tables are created only when absent so a fresh database is usable
// for development; in production they already exist and only the indexes
// are added.
const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS users (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS leads (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name              TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL DEFAULT '',
	phone             TEXT NOT NULL DEFAULT '',
	company           TEXT NOT NULL DEFAULT '',
	owner_id          TEXT REFERENCES users(id),
	last_contact_date TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pipeline_items (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name              TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL DEFAULT '',
	phone             TEXT NOT NULL DEFAULT '',
	company           TEXT NOT NULL DEFAULT '',
	owner_id          TEXT REFERENCES users(id),
	last_contact_date TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_email_norm ON leads (LOWER(TRIM(email)));
DROP INDEX IF EXISTS idx_leads_phone_norm;
CREATE INDEX IF NOT EXISTS idx_leads_phone_digits ON leads (regexp_replace(regexp_replace(phone, '\(\s*0\s*\)', '', 'g'), '\D', '', 'g'));
CREATE INDEX IF NOT EXISTS idx_leads_email_domain ON leads (substring(LOWER(TRIM(email)) from '@([^@]*)$'));
CREATE INDEX IF NOT EXISTS idx_leads_company_trgm ON leads USING gin (LOWER(company) gin_trgm_ops);
CREATE INDEX IF NOT EXISTS idx_pipeline_items_email_norm ON pipeline_items (LOWER(TRIM(email)));
DROP INDEX IF EXISTS idx_pipeline_items_phone_norm;
CREATE INDEX IF NOT EXISTS idx_pipeline_items_phone_digits ON pipeline_items (regexp_replace(regexp_replace(phone, '\(\s*0\s*\)', '', 'g'), '\D', '', 'g'));
CREATE INDEX IF NOT EXISTS idx_pipeline_items_email_domain ON pipeline_items (substring(LOWER(TRIM(email)) from '@([^@]*)$'));
CREATE INDEX IF NOT EXISTS idx_pipeline_items_company_trgm ON pipeline_items USING gin (LOWER(company) gin_trgm_ops);

CREATE TABLE IF NOT EXISTS duplicate_warnings (
	id                   TEXT PRIMARY KEY,
	severity             TEXT NOT NULL,
	triggered_by_user_id TEXT NOT NULL,
	action               TEXT NOT NULL,
	candidate            JSONB NOT NULL,
	matches              JSONB NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	decision_made        BOOLEAN NOT NULL DEFAULT false,
	user_decision        TEXT NOT NULL DEFAULT '',
	decision_at          TIMESTAMPTZ,
	proceed_reason       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_duplicate_warnings_created_at ON duplicate_warnings(created_at);
CREATE INDEX IF NOT EXISTS idx_duplicate_warnings_user ON duplicate_warnings(triggered_by_user_id);

CREATE TABLE IF NOT EXISTS duplicate_warning_matches (
	warning_id  TEXT NOT NULL REFERENCES duplicate_warnings(id),
	record_id   TEXT NOT NULL,
	source_type TEXT NOT NULL,
	match_type  TEXT NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL,
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
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_duplicate_audit_log_warning ON duplicate_audit_log(warning_id, created_at);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Migrate creates tables and indexes.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Candidate gateway ---

// recordSelect renders one branch of the candidate UNION for a CRM table.
// where may reference the table through the alias r.
func recordSelect(table string, source SourceType, score, where string) string {
	return fmt.Sprintf(`SELECT r.id, '%s' AS source_type, r.name, r.email, r.phone, r.company,
		COALESCE(r.owner_id, '') AS owner_id, COALESCE(u.name, '') AS owner_name, r.last_contact_date,
		%s AS score
	FROM %s r LEFT JOIN users u ON u.id = r.owner_id
	WHERE %s`, source, score, table, where)
}

func candidateQuery(score, where, limitParam string) string {
	return `SELECT id, source_type, name, email, phone, company, owner_id, owner_name, last_contact_date FROM (` +
		recordSelect("leads", SourceLead, score, where) +
		"\n\tUNION ALL\n\t" +
		recordSelect("pipeline_items", SourcePipelineItem, score, where) +
		`) c ORDER BY c.score DESC, c.id LIMIT ` + limitParam
}

var (
	exactKeyQuery = candidateQuery("1.0",
		`($1 <> '' AND LOWER(TRIM(r.email)) = $1)
		OR ($2 <> '' AND regexp_replace(regexp_replace(r.phone, '\(\s*0\s*\)', '', 'g'), '\D', '', 'g') = $2)
		OR ($3 <> '' AND substring(LOWER(TRIM(r.email)) from '@([^@]*)$') = $3)`,
		"$4")

	approximateCompanyQuery = candidateQuery("similarity(LOWER(r.company), $1)",
		`LOWER(r.company) % $1 OR LOWER(r.company) LIKE $2`,
		"$3")
)

// FindByExactKey matches on normalized email, phone digits, and email domain.
func (s *PostgresStore) FindByExactKey(ctx context.Context, key ExactKey) ([]ExistingRecordRef, error) {
	if key.Empty() {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, exactKeyQuery, key.Email, key.Phone, key.Domain, s.maxCandidates)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find by exact key")
	}
	return collectRecords(rows, "postgres: find by exact key")
}

// FindByApproximateCompany uses pg_trgm similarity plus a prefix match on the
// lowercased company, best scores first.
func (s *PostgresStore) FindByApproximateCompany(ctx context.Context, normalizedCompany string) ([]ExistingRecordRef, error) {
	if normalizedCompany == "" {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, approximateCompanyQuery,
		normalizedCompany, escapeLike(normalizedCompany)+"%", s.maxCandidates)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find by approximate company")
	}
	return collectRecords(rows, "postgres: find by approximate company")
}

func collectRecords(rows pgx.Rows, op string) ([]ExistingRecordRef, error) {
	defer rows.Close()
	var out []ExistingRecordRef
	for rows.Next() {
		var (
			rec    ExistingRecordRef
			source string
		)
		if err := rows.Scan(&rec.ID, &source, &rec.Name, &rec.Email, &rec.Phone, &rec.Company,
			&rec.OwnerID, &rec.OwnerName, &rec.LastContactDate); err != nil {
			return nil, eris.Wrap(err, op+" scan")
		}
		rec.SourceType = SourceType(source)
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), op+" iterate")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

// --- Warning store ---

const warningColumns = `id, severity, triggered_by_user_id, action, candidate, matches, created_at,
	decision_made, user_decision, decision_at, proceed_reason`

var matchIndexColumns = []string{"warning_id", "record_id", "source_type", "match_type", "confidence", "severity"}

// CreateWarning inserts the warning and indexes its matched record IDs in one
// transaction.
func (s *PostgresStore) CreateWarning(ctx context.Context, w *Warning) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}

	candidateJSON, err := json.Marshal(w.CandidateSnapshot)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal candidate")
	}
	matchesJSON, err := json.Marshal(w.Matches)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal matches")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin create warning")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO duplicate_warnings (id, severity, triggered_by_user_id, action, candidate, matches, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.ID, string(w.Severity), w.TriggeredByUserID, string(w.Action), candidateJSON, matchesJSON, w.CreatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert warning")
	}

	rows := make([][]any, 0, len(w.Matches))
	for _, m := range w.Matches {
		rows = append(rows, []any{
			w.ID, m.ExistingRecord.ID, string(m.ExistingRecord.SourceType),
			string(m.MatchType), m.Confidence, string(m.Severity),
		})
	}
	if _, err := db.CopyFrom(ctx, tx, "duplicate_warning_matches", matchIndexColumns, rows); err != nil {
		return eris.Wrap(err, "postgres: index warning matches")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit create warning")
}

// GetWarning returns nil, nil when absent.
func (s *PostgresStore) GetWarning(ctx context.Context, id string) (*Warning, error) {
	w, err := scanPgWarning(s.pool.QueryRow(ctx, `SELECT `+warningColumns+` FROM duplicate_warnings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get warning %s", id)
	}
	return w, nil
}

// SaveDecision overwrites the decision fields and appends the audit entry.
func (s *PostgresStore) SaveDecision(ctx context.Context, id string, update DecisionUpdate, entry *AuditLogEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save decision")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE duplicate_warnings
		 SET decision_made = true, user_decision = $1, decision_at = $2, proceed_reason = $3
		 WHERE id = $4`,
		string(update.Decision), update.DecidedAt, update.Reason, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update decision %s", id)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "warning", ID: id}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO duplicate_audit_log (id, warning_id, user_id, decision, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.WarningID, entry.UserID, string(entry.Decision), entry.Reason, entry.Timestamp,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert audit entry %s", id)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit save decision")
}

// ListAuditLog returns entries oldest first.
func (s *PostgresStore) ListAuditLog(ctx context.Context, warningID string) ([]AuditLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, warning_id, user_id, decision, reason, created_at
		 FROM duplicate_audit_log WHERE warning_id = $1 ORDER BY created_at, id`,
		warningID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit log")
	}
	defer rows.Close()

	var out []AuditLogEntry
	for rows.Next() {
		var (
			e        AuditLogEntry
			decision string
		)
		if err := rows.Scan(&e.ID, &e.WarningID, &e.UserID, &decision, &e.Reason, &e.Timestamp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit entry")
		}
		e.Decision = Decision(decision)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list audit log iterate")
}

// ListWarningSummaries returns the warnings created in [r.From, r.To).
func (s *PostgresStore) ListWarningSummaries(ctx context.Context, r DateRange) ([]WarningSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, severity, decision_made, user_decision, created_at
		 FROM duplicate_warnings WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at`,
		r.From, r.To,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list warning summaries")
	}
	defer rows.Close()

	var out []WarningSummary
	for rows.Next() {
		var (
			ws                 WarningSummary
			severity, decision string
		)
		if err := rows.Scan(&ws.ID, &severity, &ws.DecisionMade, &decision, &ws.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan warning summary")
		}
		ws.Severity, ws.UserDecision = Severity(severity), Decision(decision)
		out = append(out, ws)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list warning summaries iterate")
}

// ListWarnings returns full warnings, newest first.
func (s *PostgresStore) ListWarnings(ctx context.Context, f WarningFilter) ([]Warning, error) {
	query := `SELECT ` + warningColumns + ` FROM duplicate_warnings WHERE true`
	args := []any{}
	argIdx := 1

	if !f.From.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, f.From)
		argIdx++
	}
	if !f.To.IsZero() {
		query += fmt.Sprintf(` AND created_at < $%d`, argIdx)
		args = append(args, f.To)
		argIdx++
	}
	if f.Severity != "" {
		query += fmt.Sprintf(` AND severity = $%d`, argIdx)
		args = append(args, string(f.Severity))
		argIdx++
	}
	if f.UserID != "" {
		query += fmt.Sprintf(` AND triggered_by_user_id = $%d`, argIdx)
		args = append(args, f.UserID)
		argIdx++
	}
	if f.Pending {
		query += ` AND NOT decision_made`
	}
	query += ` ORDER BY created_at DESC, id`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if f.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list warnings")
	}
	return collectWarnings(rows, "postgres: list warnings")
}

// ListWarningsForRecord returns warnings that matched recordID, newest first.
func (s *PostgresStore) ListWarningsForRecord(ctx context.Context, recordID string) ([]Warning, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+warningColumns+` FROM duplicate_warnings
		 WHERE id IN (SELECT warning_id FROM duplicate_warning_matches WHERE record_id = $1)
		 ORDER BY created_at DESC, id`,
		recordID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list warnings for record")
	}
	return collectWarnings(rows, "postgres: list warnings for record")
}

func collectWarnings(rows pgx.Rows, op string) ([]Warning, error) {
	defer rows.Close()
	var out []Warning
	for rows.Next() {
		w, err := scanPgWarning(rows)
		if err != nil {
			return nil, eris.Wrap(err, op+" scan")
		}
		out = append(out, *w)
	}
	return out, eris.Wrap(rows.Err(), op+" iterate")
}

func scanPgWarning(row pgx.Row) (*Warning, error) {
	var (
		w                          Warning
		severity, action, decision string
		candidateJSON, matchesJSON []byte
	)
	err := row.Scan(&w.ID, &severity, &w.TriggeredByUserID, &action, &candidateJSON, &matchesJSON,
		&w.CreatedAt, &w.DecisionMade, &decision, &w.DecisionAt, &w.ProceedReason)
	if err != nil {
		return nil, err
	}
	w.Severity, w.Action, w.UserDecision = Severity(severity), Action(action), Decision(decision)
	if err := json.Unmarshal(candidateJSON, &w.CandidateSnapshot); err != nil {
		return nil, eris.Wrap(err, "unmarshal candidate")
	}
	if err := json.Unmarshal(matchesJSON, &w.Matches); err != nil {
		return nil, eris.Wrap(err, "unmarshal matches")
	}
	return &w, nil
}
