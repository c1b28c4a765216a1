package duplicate

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/resilience"
)

// Recorder applies user decisions to warnings. Unlike detection, every
// failure here is returned to the caller: a lost decision would leave a gap
// in the audit trail.
type Recorder struct {
	store WarningStore
	retry resilience.RetryConfig
	now   func() time.Time
}

// NewRecorder creates a Recorder. Transient storage errors are retried per
// retry before being returned.
func NewRecorder(store WarningStore, retry resilience.RetryConfig) *Recorder {
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("duplicate", "record_decision")
	}
	return &Recorder{store: store, retry: retry, now: time.Now}
}

// RecordDecision stores decision as the warning's current decision and
// appends an audit entry. A warning that already has a decision is
// overwritten; the audit log keeps every call.
func (r *Recorder) RecordDecision(ctx context.Context, warningID string, decision Decision, userID, reason string) (*AuditLogEntry, error) {
	if err := ValidateWarningID(warningID); err != nil {
		return nil, err
	}
	if !decision.Valid() {
		return nil, invalid("decision", "must be PROCEEDED, CANCELLED, or MERGED")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, invalid("userId", "is required")
	}

	w, err := resilience.DoVal(ctx, r.retry, func(ctx context.Context) (*Warning, error) {
		return r.store.GetWarning(ctx, warningID)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "duplicate: load warning %s", warningID)
	}
	if w == nil {
		return nil, &NotFoundError{Entity: "warning", ID: warningID}
	}

	log := zap.L().With(
		zap.String("warning_id", warningID),
		zap.String("user_id", userID),
		zap.String("decision", string(decision)),
	)
	if w.DecisionMade {
		log.Info("duplicate: overwriting earlier decision", zap.String("previous", string(w.UserDecision)))
	}

	now := r.now().UTC()
	reason = strings.TrimSpace(reason)
	entry := &AuditLogEntry{
		ID:        uuid.New().String(),
		WarningID: warningID,
		UserID:    userID,
		Decision:  decision,
		Reason:    reason,
		Timestamp: now,
	}
	update := DecisionUpdate{Decision: decision, DecidedAt: now, Reason: reason}

	err = resilience.Do(ctx, r.retry, func(ctx context.Context) error {
		return r.store.SaveDecision(ctx, warningID, update, entry)
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, eris.Wrapf(err, "duplicate: save decision for %s", warningID)
	}

	log.Info("duplicate: decision recorded")
	return entry, nil
}

// Warning returns a warning with its audit trail, or a *NotFoundError.
func (r *Recorder) Warning(ctx context.Context, warningID string) (*Warning, []AuditLogEntry, error) {
	if err := ValidateWarningID(warningID); err != nil {
		return nil, nil, err
	}
	w, err := r.store.GetWarning(ctx, warningID)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "duplicate: load warning %s", warningID)
	}
	if w == nil {
		return nil, nil, &NotFoundError{Entity: "warning", ID: warningID}
	}
	audit, err := r.store.ListAuditLog(ctx, warningID)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "duplicate: load audit log %s", warningID)
	}
	return w, audit, nil
}

// WarningsForRecord lists warnings that matched the given lead or pipeline
// item, newest first.
func (r *Recorder) WarningsForRecord(ctx context.Context, recordID string) ([]Warning, error) {
	if strings.TrimSpace(recordID) == "" {
		return nil, invalid("recordId", "is required")
	}
	ws, err := r.store.ListWarningsForRecord(ctx, recordID)
	if err != nil {
		return nil, eris.Wrapf(err, "duplicate: list warnings for record %s", recordID)
	}
	return ws, nil
}
