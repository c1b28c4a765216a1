package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertProceedRate     AlertType = "proceed_rate"
	AlertPendingBacklog  AlertType = "pending_backlog"
	AlertCriticalWarning AlertType = "critical_warning_volume"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// A zero threshold disables its alert.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	decided := snap.Decided()
	if a.cfg.ProceedRateThreshold > 0 && decided >= a.cfg.MinDecisions && decided > 0 &&
		snap.ProceedRate > a.cfg.ProceedRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertProceedRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Proceed rate %.1f%% exceeds threshold %.1f%% (%d proceeded / %d warnings in last %dh)",
				snap.ProceedRate, a.cfg.ProceedRateThreshold,
				snap.Proceeded, snap.Warnings, snap.LookbackHours,
			),
			Details: map[string]any{
				"proceed_rate": snap.ProceedRate,
				"threshold":    a.cfg.ProceedRateThreshold,
				"proceeded":    snap.Proceeded,
				"decided":      decided,
			},
			Timestamp: now,
		})
	}

	if a.cfg.PendingThreshold > 0 && snap.Pending > a.cfg.PendingThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertPendingBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d warnings awaiting a decision in last %dh (threshold %d)",
				snap.Pending, snap.LookbackHours, a.cfg.PendingThreshold,
			),
			Details: map[string]any{
				"pending":   snap.Pending,
				"threshold": a.cfg.PendingThreshold,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CriticalThreshold > 0 && snap.Critical > a.cfg.CriticalThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertCriticalWarning,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d critical duplicate warnings in last %dh (threshold %d)",
				snap.Critical, snap.LookbackHours, a.cfg.CriticalThreshold,
			),
			Details: map[string]any{
				"critical":  snap.Critical,
				"warnings":  snap.Warnings,
				"threshold": a.cfg.CriticalThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// Deliver posts one alert to the webhook. Failures are logged and returned.
func (a *Alerter) Deliver(ctx context.Context, alert Alert) error {
	if a.cfg.WebhookURL == "" {
		return eris.New("monitoring: no webhook configured")
	}
	if err := a.sendWebhook(ctx, alert); err != nil {
		zap.L().Error("monitoring: failed to send alert",
			zap.String("type", string(alert.Type)),
			zap.Error(err),
		)
		return err
	}
	zap.L().Info("monitoring: alert sent",
		zap.String("type", string(alert.Type)),
		zap.String("severity", alert.Severity),
	)
	return nil
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
