package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Gateway    GatewayConfig    `yaml:"gateway" mapstructure:"gateway"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Matching   MatchingConfig   `yaml:"matching" mapstructure:"matching"`
	Severity   SeverityConfig   `yaml:"severity" mapstructure:"severity"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database holding warnings, audit entries, and
// (unless the gateway says otherwise) the leads and pipeline items.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// GatewayConfig selects where existing leads and pipeline items are read
// from: "store" (the configured database) or "salesforce".
type GatewayConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MatchingConfig tunes candidate narrowing and scoring.
type MatchingConfig struct {
	MinConfidence         float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
	CompanyMatchThreshold float64 `yaml:"company_match_threshold" mapstructure:"company_match_threshold"`
	PersonCompanyCap      float64 `yaml:"person_company_cap" mapstructure:"person_company_cap"`
	MaxCandidates         int     `yaml:"max_candidates" mapstructure:"max_candidates"`
	GatewayTimeoutMs      int     `yaml:"gateway_timeout_ms" mapstructure:"gateway_timeout_ms"`
	ListsPath             string  `yaml:"lists_path" mapstructure:"lists_path"`
}

// GatewayTimeout returns the per-check budget for candidate lookups.
func (m MatchingConfig) GatewayTimeout() time.Duration {
	return time.Duration(m.GatewayTimeoutMs) * time.Millisecond
}

// SeverityConfig holds the severity tier boundaries.
type SeverityConfig struct {
	CriticalConfidence float64 `yaml:"critical_confidence" mapstructure:"critical_confidence"`
	HighConfidence     float64 `yaml:"high_confidence" mapstructure:"high_confidence"`
	RecentContactDays  int     `yaml:"recent_contact_days" mapstructure:"recent_contact_days"`
}

// ResilienceConfig configures retries for decision writes and the circuit
// breaker in front of candidate lookups.
type ResilienceConfig struct {
	RetryMaxAttempts        int `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryInitialBackoffMs   int `yaml:"retry_initial_backoff_ms" mapstructure:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs       int `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
	CircuitFailureThreshold int `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetTimeoutSecs int `yaml:"circuit_reset_timeout_secs" mapstructure:"circuit_reset_timeout_secs"`
}

// Retry converts the retry settings, keeping library defaults for zeros.
func (r ResilienceConfig) Retry() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	if r.RetryMaxAttempts > 0 {
		cfg.MaxAttempts = r.RetryMaxAttempts
	}
	if r.RetryInitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(r.RetryInitialBackoffMs) * time.Millisecond
	}
	if r.RetryMaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(r.RetryMaxBackoffMs) * time.Millisecond
	}
	return cfg
}

// Circuit converts the breaker settings, keeping library defaults for zeros.
func (r ResilienceConfig) Circuit() resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultCircuitBreakerConfig()
	if r.CircuitFailureThreshold > 0 {
		cfg.FailureThreshold = r.CircuitFailureThreshold
	}
	if r.CircuitResetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(r.CircuitResetTimeoutSecs) * time.Second
	}
	return cfg
}

// SalesforceConfig holds JWT bearer credentials for the Salesforce gateway.
type SalesforceConfig struct {
	ClientID  string  `yaml:"client_id" mapstructure:"client_id"`
	Username  string  `yaml:"username" mapstructure:"username"`
	KeyPath   string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL  string  `yaml:"login_url" mapstructure:"login_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// MonitoringConfig configures the background decision-quality alerts run by
// the serve command. Alerts are only sent when WebhookURL is set.
type MonitoringConfig struct {
	Enabled             bool   `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL          string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int    `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	// ProceedRateThreshold is a percentage of warnings users proceeded past.
	ProceedRateThreshold float64 `yaml:"proceed_rate_threshold" mapstructure:"proceed_rate_threshold"`
	// MinDecisions is how many decided warnings the proceed-rate alert needs.
	MinDecisions      int `yaml:"min_decisions" mapstructure:"min_decisions"`
	PendingThreshold  int `yaml:"pending_threshold" mapstructure:"pending_threshold"`
	CriticalThreshold int `yaml:"critical_threshold" mapstructure:"critical_threshold"`
	// RepeatAfterMins mutes an alert type for this long after it is sent.
	RepeatAfterMins int `yaml:"repeat_after_mins" mapstructure:"repeat_after_mins"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DUPCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("gateway.driver", "store")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("matching.min_confidence", 0.5)
	v.SetDefault("matching.company_match_threshold", 0.8)
	v.SetDefault("matching.person_company_cap", 0.95)
	v.SetDefault("matching.max_candidates", 50)
	v.SetDefault("matching.gateway_timeout_ms", 2000)
	v.SetDefault("matching.lists_path", "")
	v.SetDefault("severity.critical_confidence", 0.9)
	v.SetDefault("severity.high_confidence", 0.65)
	v.SetDefault("severity.recent_contact_days", 90)
	v.SetDefault("resilience.retry_max_attempts", 3)
	v.SetDefault("resilience.retry_initial_backoff_ms", 100)
	v.SetDefault("resilience.retry_max_backoff_ms", 2000)
	v.SetDefault("resilience.circuit_failure_threshold", 5)
	v.SetDefault("resilience.circuit_reset_timeout_secs", 30)
	v.SetDefault("salesforce.client_id", "")
	v.SetDefault("salesforce.username", "")
	v.SetDefault("salesforce.key_path", "")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_limit", 5.0)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.proceed_rate_threshold", 60.0)
	v.SetDefault("monitoring.min_decisions", 10)
	v.SetDefault("monitoring.pending_threshold", 200)
	v.SetDefault("monitoring.critical_threshold", 0)
	v.SetDefault("monitoring.repeat_after_mins", 60)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is the command name
// ("serve", "check", "batch", "decide", "stats", "export", "migrate"). Every
// problem is reported, not just the first.
func (c *Config) Validate(mode string) error {
	switch mode {
	case "serve", "check", "batch", "decide", "stats", "export", "migrate":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for the postgres driver")
		}
	case "sqlite":
	default:
		add("store.driver must be postgres or sqlite, got %q", c.Store.Driver)
	}

	if mode != "migrate" {
		c.validateMatching(add)
	}

	if mode == "serve" || mode == "check" || mode == "batch" {
		switch c.Gateway.Driver {
		case "", "store":
		case "salesforce":
			if c.Salesforce.ClientID == "" {
				add("salesforce.client_id is required")
			}
			if c.Salesforce.Username == "" {
				add("salesforce.username is required")
			}
			if c.Salesforce.KeyPath == "" {
				add("salesforce.key_path is required")
			}
		default:
			add("gateway.driver must be store or salesforce, got %q", c.Gateway.Driver)
		}
	}

	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if mode == "serve" && c.Monitoring.Enabled {
		if c.Monitoring.WebhookURL == "" {
			add("monitoring.webhook_url is required when monitoring is enabled")
		}
		if c.Monitoring.ProceedRateThreshold < 0 || c.Monitoring.ProceedRateThreshold > 100 {
			add("monitoring.proceed_rate_threshold must be a percentage, got %v", c.Monitoring.ProceedRateThreshold)
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateMatching(add func(string, ...any)) {
	m, s := c.Matching, c.Severity
	if m.MinConfidence <= 0 || m.MinConfidence > 1 {
		add("matching.min_confidence must be in (0, 1], got %v", m.MinConfidence)
	}
	if m.CompanyMatchThreshold <= 0 || m.CompanyMatchThreshold > 1 {
		add("matching.company_match_threshold must be in (0, 1], got %v", m.CompanyMatchThreshold)
	}
	if m.PersonCompanyCap <= 0 || m.PersonCompanyCap > 1 {
		add("matching.person_company_cap must be in (0, 1], got %v", m.PersonCompanyCap)
	}
	if m.MaxCandidates <= 0 {
		add("matching.max_candidates must be positive, got %d", m.MaxCandidates)
	}
	if m.GatewayTimeoutMs <= 0 {
		add("matching.gateway_timeout_ms must be positive, got %d", m.GatewayTimeoutMs)
	}
	if s.HighConfidence <= 0 || s.HighConfidence >= s.CriticalConfidence || s.CriticalConfidence > 1 {
		add("severity thresholds must satisfy 0 < high_confidence < critical_confidence <= 1, got %v and %v",
			s.HighConfidence, s.CriticalConfidence)
	}
	if s.RecentContactDays <= 0 {
		add("severity.recent_contact_days must be positive, got %d", s.RecentContactDays)
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
