package duplicate

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// Aggregator computes warning and decision statistics. It only reads.
type Aggregator struct {
	store WarningStore
	now   func() time.Time
}

// NewAggregator creates an Aggregator.
func NewAggregator(store WarningStore) *Aggregator {
	return &Aggregator{store: store, now: time.Now}
}

// GetDuplicateStatistics summarizes warnings created in [r.From, r.To). A zero
// To means now. ProceedRate is a percentage and is 0 when there are no
// warnings. The severity breakdown counts warnings, with every tier present.
func (a *Aggregator) GetDuplicateStatistics(ctx context.Context, r DateRange) (*Statistics, error) {
	if r.To.IsZero() {
		r.To = a.now().UTC()
	}
	if r.From.After(r.To) {
		return nil, invalid("dateRange", "from must not be after to")
	}

	summaries, err := a.store.ListWarningSummaries(ctx, r)
	if err != nil {
		return nil, eris.Wrap(err, "duplicate: list warning summaries")
	}

	stats := &Statistics{
		From:              r.From,
		To:                r.To,
		TotalWarnings:     len(summaries),
		SeverityBreakdown: make(map[Severity]int, len(Severities)),
	}
	for _, s := range Severities {
		stats.SeverityBreakdown[s] = 0
	}

	for _, w := range summaries {
		if w.Severity.Valid() {
			stats.SeverityBreakdown[w.Severity]++
		}
		if !w.DecisionMade {
			stats.PendingCount++
			continue
		}
		switch w.UserDecision {
		case DecisionProceeded:
			stats.ProceedCount++
		case DecisionCancelled:
			stats.CancelledCount++
		case DecisionMerged:
			stats.MergedCount++
		}
	}

	if stats.TotalWarnings > 0 {
		stats.ProceedRate = float64(stats.ProceedCount) / float64(stats.TotalWarnings) * 100
	}
	return stats, nil
}
