package duplicate

import "time"

// SeverityClassifier grades a match from its confidence and how recently the
// existing record was contacted. Keeping High < Critical preserves both
// monotonicity guarantees: severity never drops as confidence rises, or as
// the last contact moves closer.
type SeverityClassifier struct {
	Critical     float64
	High         float64
	RecentWindow time.Duration
}

// DefaultSeverityClassifier uses 0.9 / 0.65 and a 90 day window.
func DefaultSeverityClassifier() SeverityClassifier {
	return SeverityClassifier{
		Critical:     0.9,
		High:         0.65,
		RecentWindow: 90 * 24 * time.Hour,
	}
}

// Classify maps a match to a tier:
//
//	confidence >= Critical, recent     CRITICAL
//	confidence >= Critical, not recent MEDIUM
//	confidence >= High, recent         HIGH
//	otherwise                          LOW
func (c SeverityClassifier) Classify(confidence float64, lastContact *time.Time, now time.Time) Severity {
	recent := c.Recent(lastContact, now)
	switch {
	case confidence >= c.Critical && recent:
		return SeverityCritical
	case confidence >= c.Critical:
		return SeverityMedium
	case confidence >= c.High && recent:
		return SeverityHigh
	default:
		return SeverityLow
	}
}

// Recent reports whether lastContact falls within the window before now. A
// contact date in the future counts as recent; a missing one does not.
func (c SeverityClassifier) Recent(lastContact *time.Time, now time.Time) bool {
	if lastContact == nil {
		return false
	}
	return now.Sub(*lastContact) <= c.RecentWindow
}
