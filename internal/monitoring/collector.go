// Package monitoring watches how users respond to duplicate warnings and
// raises webhook alerts when the numbers drift.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/duplicate"
)

// MetricsSnapshot is a point-in-time view of warning activity.
type MetricsSnapshot struct {
	Warnings  int `json:"warnings"`
	Critical  int `json:"critical"`
	Proceeded int `json:"proceeded"`
	Cancelled int `json:"cancelled"`
	Merged    int `json:"merged"`
	Pending   int `json:"pending"`
	// ProceedRate is a percentage of all warnings in the window.
	ProceedRate float64 `json:"proceed_rate"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Decided is the number of warnings that received a decision.
func (s *MetricsSnapshot) Decided() int {
	return s.Proceeded + s.Cancelled + s.Merged
}

// StatsSource computes warning statistics for a date range.
type StatsSource interface {
	GetDuplicateStatistics(ctx context.Context, r duplicate.DateRange) (*duplicate.Statistics, error)
}

// Collector turns warning statistics into snapshots.
type Collector struct {
	stats StatsSource
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(stats StatsSource) *Collector {
	return &Collector{stats: stats, now: time.Now}
}

// Collect gathers a snapshot over the last lookbackHours.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	now := c.now().UTC()
	s, err := c.stats.GetDuplicateStatistics(ctx, duplicate.DateRange{
		From: now.Add(-time.Duration(lookbackHours) * time.Hour),
		To:   now,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: collect statistics")
	}

	return &MetricsSnapshot{
		Warnings:      s.TotalWarnings,
		Critical:      s.SeverityBreakdown[duplicate.SeverityCritical],
		Proceeded:     s.ProceedCount,
		Cancelled:     s.CancelledCount,
		Merged:        s.MergedCount,
		Pending:       s.PendingCount,
		ProceedRate:   s.ProceedRate,
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}, nil
}
