package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/config"
)

// Watcher periodically snapshots warning activity and delivers the alerts it
// triggers. An alert type that was delivered stays muted for the repeat
// window, since the lookback window usually spans many ticks and would
// otherwise re-send the same breach every interval.
type Watcher struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
	repeat    time.Duration
	log       *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	delivered map[AlertType]time.Time
}

// NewWatcher builds a watcher from the monitoring config. A non-positive
// interval means five minutes; a non-positive repeat window means every
// breach is delivered.
func NewWatcher(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Watcher {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Watcher{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
		repeat:    time.Duration(cfg.RepeatAfterMins) * time.Minute,
		log:       zap.L().With(zap.String("component", "monitoring.watcher")),
		now:       time.Now,
		delivered: make(map[AlertType]time.Time),
	}
}

// Run checks once immediately and then on every tick until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	w.log.Info("watching duplicate warnings",
		zap.Duration("interval", w.interval),
		zap.Int("lookback_hours", w.lookback),
		zap.Duration("repeat_after", w.repeat),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			w.log.Info("watcher stopped")
			return
		}
		w.Check(ctx)

		select {
		case <-ctx.Done():
			w.log.Info("watcher stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check runs one collect-evaluate-deliver cycle and returns how many alerts
// were delivered. Muted alert types are skipped.
func (w *Watcher) Check(ctx context.Context) int {
	snap, err := w.collector.Collect(ctx, w.lookback)
	if err != nil {
		w.log.Error("monitoring: collect failed", zap.Error(err))
		return 0
	}

	due := w.unmuted(w.alerter.Evaluate(snap))
	if len(due) == 0 {
		return 0
	}

	sent := 0
	for _, a := range due {
		if err := w.alerter.Deliver(ctx, a); err != nil {
			continue
		}
		w.markDelivered(a.Type)
		sent++
	}
	w.log.Info("monitoring: check complete",
		zap.Int("warnings", snap.Warnings),
		zap.Int("alerts_due", len(due)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}

func (w *Watcher) unmuted(alerts []Alert) []Alert {
	if w.repeat <= 0 {
		return alerts
	}
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()

	out := alerts[:0]
	for _, a := range alerts {
		if last, ok := w.delivered[a.Type]; ok && now.Sub(last) < w.repeat {
			w.log.Debug("monitoring: alert muted", zap.String("type", string(a.Type)), zap.Time("last_sent", last))
			continue
		}
		out = append(out, a)
	}
	return out
}

func (w *Watcher) markDelivered(t AlertType) {
	w.mu.Lock()
	w.delivered[t] = w.now()
	w.mu.Unlock()
}
