package duplicate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putWarning(st *mockStore, id string, sev Severity, created time.Time, decision Decision) {
	w := &Warning{ID: id, Severity: sev, CreatedAt: created}
	if decision != "" {
		w.DecisionMade = true
		w.UserDecision = decision
	}
	st.warnings[id] = w
}

func TestStatistics_NoWarnings(t *testing.T) {
	a := NewAggregator(newMockStore())

	stats, err := a.GetDuplicateStatistics(context.Background(), DateRange{From: testNow.AddDate(0, -1, 0), To: testNow})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalWarnings)
	assert.Equal(t, 0.0, stats.ProceedRate)
	assert.Len(t, stats.SeverityBreakdown, 4)
	for _, s := range Severities {
		assert.Equal(t, 0, stats.SeverityBreakdown[s])
	}
}

func TestStatistics_MixedDecisions(t *testing.T) {
	st := newMockStore()
	from := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	putWarning(st, "W1", SeverityCritical, from, DecisionProceeded)
	putWarning(st, "W2", SeverityCritical, from.Add(time.Hour), DecisionCancelled)
	putWarning(st, "W3", SeverityHigh, from.Add(2*time.Hour), DecisionMerged)
	putWarning(st, "W4", SeverityLow, from.Add(3*time.Hour), "")
	putWarning(st, "W5", SeverityHigh, to, DecisionProceeded)
	putWarning(st, "W6", SeverityMedium, from.Add(-time.Second), DecisionProceeded)

	stats, err := NewAggregator(st).GetDuplicateStatistics(context.Background(), DateRange{From: from, To: to})
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalWarnings)
	assert.Equal(t, 1, stats.ProceedCount)
	assert.Equal(t, 1, stats.CancelledCount)
	assert.Equal(t, 1, stats.MergedCount)
	assert.Equal(t, 1, stats.PendingCount)
	assert.InDelta(t, 25.0, stats.ProceedRate, 1e-9)
	assert.Equal(t, map[Severity]int{
		SeverityCritical: 2,
		SeverityHigh:     1,
		SeverityMedium:   0,
		SeverityLow:      1,
	}, stats.SeverityBreakdown)
}

func TestStatistics_DefaultsToNow(t *testing.T) {
	st := newMockStore()
	putWarning(st, "W1", SeverityHigh, testNow.Add(-time.Hour), DecisionProceeded)
	a := NewAggregator(st)
	a.now = func() time.Time { return testNow }

	stats, err := a.GetDuplicateStatistics(context.Background(), DateRange{From: testNow.AddDate(0, 0, -1)})
	require.NoError(t, err)
	assert.Equal(t, testNow, stats.To)
	assert.Equal(t, 1, stats.TotalWarnings)
	assert.InDelta(t, 100.0, stats.ProceedRate, 1e-9)
}

func TestStatistics_FromAfterTo(t *testing.T) {
	_, err := NewAggregator(newMockStore()).GetDuplicateStatistics(context.Background(),
		DateRange{From: testNow, To: testNow.Add(-time.Hour)})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

type failingSummaries struct{ *mockStore }

func (failingSummaries) ListWarningSummaries(context.Context, DateRange) ([]WarningSummary, error) {
	return nil, errors.New("timeout")
}

func TestStatistics_StoreError(t *testing.T) {
	_, err := NewAggregator(failingSummaries{newMockStore()}).GetDuplicateStatistics(context.Background(),
		DateRange{From: testNow.Add(-time.Hour), To: testNow})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list warning summaries")
}
