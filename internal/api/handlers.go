package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/duplicate"
)

// defaultStatsWindow is the range reported when the caller omits "from".
const defaultStatsWindow = 30 * 24 * time.Hour

type candidateBody struct {
	Name    string `json:"name" validate:"max=200"`
	Email   string `json:"email" validate:"omitempty,email,max=320"`
	Phone   string `json:"phone" validate:"max=50"`
	Company string `json:"company" validate:"max=200"`
	Title   string `json:"title" validate:"max=200"`
}

type checkRequest struct {
	Candidate candidateBody `json:"candidate"`
	Action    string        `json:"action" validate:"required,oneof=LEAD_CREATE LEAD_UPDATE PIPELINE_CREATE PIPELINE_UPDATE CONTACT_CREATE CONTACT_UPDATE"`
}

type decisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=PROCEEDED CANCELLED MERGED"`
	Reason   string `json:"reason" validate:"max=1000"`
}

type decisionResponse struct {
	Success      bool   `json:"success"`
	AuditEntryID string `json:"auditEntryId,omitempty"`
}

type warningResponse struct {
	Warning  *duplicate.Warning        `json:"warning"`
	AuditLog []duplicate.AuditLogEntry `json:"auditLog"`
}

type recordWarningsResponse struct {
	RecordID string              `json:"recordId"`
	Warnings []duplicate.Warning `json:"warnings"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleCheck(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[checkRequest](r)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	c := req.Candidate
	res, err := s.checker.CheckForDuplicates(r.Context(), duplicate.CandidateInput{
		Name:    c.Name,
		Email:   c.Email,
		Phone:   c.Phone,
		Company: c.Company,
		Title:   c.Title,
	}, userID(r), duplicate.Action(req.Action))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if res.Matches == nil {
		res.Matches = []duplicate.Match{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleDecision(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[decisionRequest](r)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	entry, err := s.decisions.RecordDecision(r.Context(),
		chi.URLParam(r, "warningID"), duplicate.Decision(req.Decision), userID(r), req.Reason)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decisionResponse{Success: true, AuditEntryID: entry.ID})
}

func (s *server) handleGetWarning(w http.ResponseWriter, r *http.Request) {
	warning, audit, err := s.decisions.Warning(r.Context(), chi.URLParam(r, "warningID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if audit == nil {
		audit = []duplicate.AuditLogEntry{}
	}
	writeJSON(w, http.StatusOK, warningResponse{Warning: warning, AuditLog: audit})
}

func (s *server) handleRecordWarnings(w http.ResponseWriter, r *http.Request) {
	recordID := chi.URLParam(r, "recordID")
	ws, err := s.decisions.WarningsForRecord(r.Context(), recordID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if ws == nil {
		ws = []duplicate.Warning{}
	}
	writeJSON(w, http.StatusOK, recordWarningsResponse{RecordID: recordID, Warnings: ws})
}

// handleStatistics reads "from" and "to" as RFC 3339 timestamps. A missing
// "to" means now and a missing "from" means 30 days before "to".
func (s *server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fields := map[string]string{}

	rng := duplicate.DateRange{To: s.now().UTC()}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fields["to"] = "must be an RFC 3339 timestamp"
		}
		rng.To = t.UTC()
	}
	rng.From = rng.To.Add(-defaultStatsWindow)
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fields["from"] = "must be an RFC 3339 timestamp"
		}
		rng.From = t.UTC()
	}
	if len(fields) > 0 {
		writeErr(w, r, &bindError{msg: "invalid query parameters", fields: fields})
		return
	}

	stats, err := s.stats.GetDuplicateStatistics(r.Context(), rng)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
