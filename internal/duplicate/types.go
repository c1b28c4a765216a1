// Package duplicate detects when a contact, lead, or pipeline record about to
// be written already exists, grades the risk, and records what the user chose
// to do about it.
package duplicate

import "time"

// SourceType discriminates the CRM entity an existing record came from.
type SourceType string

// Source types.
const (
	SourceLead         SourceType = "LEAD"
	SourcePipelineItem SourceType = "PIPELINE_ITEM"
)

// MatchType names the signal that linked a candidate to an existing record.
type MatchType string

// Match types.
const (
	MatchEmail             MatchType = "EMAIL"
	MatchPhone             MatchType = "PHONE"
	MatchCompanyName       MatchType = "COMPANY_NAME"
	MatchCompanyDomain     MatchType = "COMPANY_DOMAIN"
	MatchPersonName        MatchType = "PERSON_NAME"
	MatchPersonNameCompany MatchType = "PERSON_NAME_COMPANY"
)

// priority breaks confidence ties when picking a record's representative
// match. Higher wins.
func (t MatchType) priority() int {
	switch t {
	case MatchEmail:
		return 6
	case MatchPhone:
		return 5
	case MatchCompanyDomain:
		return 4
	case MatchPersonNameCompany:
		return 3
	case MatchCompanyName:
		return 2
	case MatchPersonName:
		return 1
	default:
		return 0
	}
}

// Severity is the risk tier of a match or warning.
type Severity string

// Severities, most to least severe.
const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Severities lists every tier from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// Rank orders severities: LOW is 1, CRITICAL is 4, anything unknown is 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is a known tier.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// Action is the business operation that triggered a check.
type Action string

// Actions.
const (
	ActionLeadCreate     Action = "LEAD_CREATE"
	ActionLeadUpdate     Action = "LEAD_UPDATE"
	ActionPipelineCreate Action = "PIPELINE_CREATE"
	ActionPipelineUpdate Action = "PIPELINE_UPDATE"
	ActionContactCreate  Action = "CONTACT_CREATE"
	ActionContactUpdate  Action = "CONTACT_UPDATE"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionLeadCreate, ActionLeadUpdate,
		ActionPipelineCreate, ActionPipelineUpdate,
		ActionContactCreate, ActionContactUpdate:
		return true
	}
	return false
}

// Decision is the user's resolution of a warning.
type Decision string

// Decisions.
const (
	DecisionProceeded Decision = "PROCEEDED"
	DecisionCancelled Decision = "CANCELLED"
	DecisionMerged    Decision = "MERGED"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	switch d {
	case DecisionProceeded, DecisionCancelled, DecisionMerged:
		return true
	}
	return false
}

// CandidateInput is the record being checked. Empty fields are absent.
type CandidateInput struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Company string `json:"company,omitempty"`
	Title   string `json:"title,omitempty"`
}

// ExistingRecordRef is a lead or pipeline item already in the CRM, reduced to
// the fields matching needs.
type ExistingRecordRef struct {
	ID              string     `json:"id"`
	SourceType      SourceType `json:"sourceType"`
	Name            string     `json:"name,omitempty"`
	Email           string     `json:"email,omitempty"`
	Phone           string     `json:"phone,omitempty"`
	Company         string     `json:"company,omitempty"`
	OwnerID         string     `json:"ownerId,omitempty"`
	OwnerName       string     `json:"ownerName,omitempty"`
	LastContactDate *time.Time `json:"lastContactDate,omitempty"`
}

// Match pairs the candidate with one existing record.
type Match struct {
	MatchType      MatchType         `json:"matchType"`
	Confidence     float64           `json:"confidence"`
	Severity       Severity          `json:"severity"`
	ExistingRecord ExistingRecordRef `json:"existingRecord"`
	MatchDetails   map[string]any    `json:"matchDetails,omitempty"`
}

// Warning is the persisted outcome of a check that found at least one match.
// Only the decision fields change after creation.
type Warning struct {
	ID                string         `json:"id"`
	Severity          Severity       `json:"severity"`
	TriggeredByUserID string         `json:"triggeredByUserId"`
	Action            Action         `json:"action"`
	CandidateSnapshot CandidateInput `json:"candidateSnapshot"`
	Matches           []Match        `json:"matches"`
	CreatedAt         time.Time      `json:"createdAt"`
	DecisionMade      bool           `json:"decisionMade"`
	UserDecision      Decision       `json:"userDecision,omitempty"`
	DecisionAt        *time.Time     `json:"decisionAt,omitempty"`
	ProceedReason     string         `json:"proceedReason,omitempty"`
}

// AuditLogEntry records one decision call. Entries are never updated.
type AuditLogEntry struct {
	ID        string    `json:"id"`
	WarningID string    `json:"warningId"`
	UserID    string    `json:"userId"`
	Decision  Decision  `json:"decision"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DecisionUpdate carries the mutable decision fields of a warning.
type DecisionUpdate struct {
	Decision  Decision
	DecidedAt time.Time
	Reason    string
}

// CheckResult is what a caller gets back from a duplicate check.
type CheckResult struct {
	HasWarning bool     `json:"hasWarning"`
	Severity   Severity `json:"severity,omitempty"`
	WarningID  string   `json:"warningId,omitempty"`
	Message    string   `json:"message,omitempty"`
	Matches    []Match  `json:"matches"`
}

// DateRange is the half-open interval [From, To).
type DateRange struct {
	From time.Time
	To   time.Time
}

// WarningSummary is the slice of a warning statistics need.
type WarningSummary struct {
	ID           string
	Severity     Severity
	DecisionMade bool
	UserDecision Decision
	CreatedAt    time.Time
}

// WarningFilter narrows ListWarnings. Zero fields do not filter.
type WarningFilter struct {
	From     time.Time
	To       time.Time
	Severity Severity
	// Pending limits to undecided warnings when true.
	Pending bool
	UserID  string
	Limit   int
	Offset  int
}

// Statistics summarizes warnings and decisions over a date range.
type Statistics struct {
	From              time.Time        `json:"from"`
	To                time.Time        `json:"to"`
	TotalWarnings     int              `json:"totalWarnings"`
	ProceedCount      int              `json:"proceedCount"`
	CancelledCount    int              `json:"cancelledCount"`
	MergedCount       int              `json:"mergedCount"`
	PendingCount      int              `json:"pendingCount"`
	ProceedRate       float64          `json:"proceedRate"`
	SeverityBreakdown map[Severity]int `json:"severityBreakdown"`
}
