package main

import (
	"context"
	"os"
	"time"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/db"
	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/duplicate"
	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/normalize"
	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/resilience"
	sfpkg "github.com/yiddoyiddo/emg-crm-dupcheck/pkg/salesforce"
)

// appEnv holds the store and services the commands share.
type appEnv struct {
	Store      duplicate.Store
	Gateway    duplicate.CandidateGateway
	Engine     *duplicate.Engine
	Recorder   *duplicate.Recorder
	Aggregator *duplicate.Aggregator
	// Health is pinged by /health: the store, plus Salesforce when it is the
	// gateway.
	Health pingAll
}

// Close releases the store.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// pingAll is healthy when every member is.
type pingAll []pinger

func (p pingAll) Ping(ctx context.Context) error {
	for _, m := range p {
		if err := m.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// initEnv validates config for mode, opens and migrates the store, and wires
// the duplicate services. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env := &appEnv{
		Store:      st,
		Recorder:   duplicate.NewRecorder(st, retryConfig()),
		Aggregator: duplicate.NewAggregator(st),
		Health:     pingAll{st},
	}

	if mode != "serve" && mode != "check" && mode != "batch" {
		return env, nil
	}

	norm, err := initNormalizer()
	if err != nil {
		env.Close()
		return nil, err
	}

	gw, err := initGateway(st, norm)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Gateway = gw
	if sf, ok := gw.(*duplicate.SalesforceGateway); ok {
		env.Health = append(env.Health, sf)
	}

	breakerCfg := cfg.Resilience.Circuit()
	breakerCfg.OnStateChange = resilience.LogStateChanges("candidate_gateway")
	env.Engine = duplicate.NewEngine(gw, st, norm, resilience.NewCircuitBreaker(breakerCfg), engineOptions())
	return env, nil
}

func initStore(ctx context.Context) (duplicate.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "dupcheck.db"
		}
		return duplicate.NewSQLite(dsn, cfg.Matching.MaxCandidates)
	case "postgres":
		return duplicate.OpenPostgres(ctx, cfg.Store.DatabaseURL, &db.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		}, cfg.Matching.MaxCandidates)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initGateway picks where existing leads and pipeline items are read from.
// The store doubles as the gateway unless Salesforce is configured. norm
// decides which company token approximate lookups search for.
func initGateway(st duplicate.Store, norm *normalize.Normalizer) (duplicate.CandidateGateway, error) {
	switch cfg.Gateway.Driver {
	case "", "store":
		gw, ok := st.(duplicate.CandidateGateway)
		if !ok {
			return nil, eris.Errorf("store driver %s cannot serve candidate lookups", cfg.Store.Driver)
		}
		if s, ok := gw.(*duplicate.SQLiteStore); ok {
			s.UseNormalizer(norm)
		}
		return gw, nil
	case "salesforce":
		client, err := initSalesforce()
		if err != nil {
			return nil, err
		}
		return duplicate.NewSalesforceGateway(client, cfg.Matching.MaxCandidates, norm), nil
	default:
		return nil, eris.Errorf("unsupported gateway driver: %s", cfg.Gateway.Driver)
	}
}

func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (DUPCHECK_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf, sfpkg.WithRateLimit(cfg.Salesforce.RateLimit)), nil
}

func initNormalizer() (*normalize.Normalizer, error) {
	if cfg.Matching.ListsPath == "" {
		return normalize.Default(), nil
	}
	lists, err := normalize.LoadLists(cfg.Matching.ListsPath)
	if err != nil {
		return nil, err
	}
	zap.L().Info("loaded normalization lists", zap.String("path", cfg.Matching.ListsPath))
	return normalize.New(lists), nil
}

func engineOptions() duplicate.Options {
	m, s := cfg.Matching, cfg.Severity
	return duplicate.Options{
		MinConfidence:         m.MinConfidence,
		CompanyMatchThreshold: m.CompanyMatchThreshold,
		PersonCompanyCap:      m.PersonCompanyCap,
		GatewayTimeout:        m.GatewayTimeout(),
		Severity: duplicate.SeverityClassifier{
			Critical:     s.CriticalConfidence,
			High:         s.HighConfidence,
			RecentWindow: time.Duration(s.RecentContactDays) * 24 * time.Hour,
		},
	}
}

func retryConfig() resilience.RetryConfig {
	rc := cfg.Resilience.Retry()
	rc.OnRetry = resilience.RetryLogger("duplicate", "record_decision")
	return rc
}
