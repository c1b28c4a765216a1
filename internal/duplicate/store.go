package duplicate

import "context"

// ExactKey carries normalized values for indexed equality lookups. Empty
// fields are not searched.
type ExactKey struct {
	Email  string
	Phone  string
	Domain string
}

// Empty reports whether there is nothing to look up.
func (k ExactKey) Empty() bool {
	return k.Email == "" && k.Phone == "" && k.Domain == ""
}

// CandidateGateway narrows the CRM to a bounded set of records worth scoring.
// Implementations never scan the full corpus.
type CandidateGateway interface {
	// FindByExactKey returns records whose normalized email, phone, or email
	// domain equals a non-empty field of key.
	FindByExactKey(ctx context.Context, key ExactKey) ([]ExistingRecordRef, error)
	// FindByApproximateCompany returns records whose company resembles the
	// normalized company name.
	FindByApproximateCompany(ctx context.Context, normalizedCompany string) ([]ExistingRecordRef, error)
}

// WarningStore persists warnings and their decision history.
type WarningStore interface {
	// CreateWarning inserts w, assigning ID and CreatedAt when unset.
	CreateWarning(ctx context.Context, w *Warning) error
	// GetWarning returns nil, nil when the warning does not exist.
	GetWarning(ctx context.Context, id string) (*Warning, error)
	// SaveDecision updates the decision fields and appends entry in one
	// transaction. A missing warning yields a *NotFoundError.
	SaveDecision(ctx context.Context, id string, update DecisionUpdate, entry *AuditLogEntry) error
	ListAuditLog(ctx context.Context, warningID string) ([]AuditLogEntry, error)
	ListWarningSummaries(ctx context.Context, r DateRange) ([]WarningSummary, error)
	ListWarnings(ctx context.Context, f WarningFilter) ([]Warning, error)
	ListWarningsForRecord(ctx context.Context, recordID string) ([]Warning, error)
}

// Store is a WarningStore with a lifecycle, as the command wiring needs it.
type Store interface {
	WarningStore
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
