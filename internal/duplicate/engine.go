package duplicate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/normalize"
	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/resilience"
)

// Options tunes scoring and candidate narrowing.
type Options struct {
	// MinConfidence drops matches scoring below it.
	MinConfidence float64
	// CompanyMatchThreshold is the company similarity at which a name match
	// is boosted to PERSON_NAME_COMPANY.
	CompanyMatchThreshold float64
	// PersonCompanyCap bounds the boosted PERSON_NAME_COMPANY confidence.
	PersonCompanyCap float64
	// GatewayTimeout bounds the candidate lookups of a single check.
	GatewayTimeout time.Duration
	Severity       SeverityClassifier
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		MinConfidence:         0.5,
		CompanyMatchThreshold: 0.8,
		PersonCompanyCap:      0.95,
		GatewayTimeout:        2 * time.Second,
		Severity:              DefaultSeverityClassifier(),
	}
}

// Engine runs duplicate checks. It holds no per-call state and is safe for
// concurrent use.
type Engine struct {
	gateway CandidateGateway
	store   WarningStore
	norm    *normalize.Normalizer
	breaker *resilience.CircuitBreaker
	opts    Options
	now     func() time.Time
}

// NewEngine wires an engine. A nil normalizer uses the default lists and a
// nil breaker gets one with default settings.
func NewEngine(gateway CandidateGateway, store WarningStore, norm *normalize.Normalizer, breaker *resilience.CircuitBreaker, opts Options) *Engine {
	if norm == nil {
		norm = normalize.Default()
	}
	if breaker == nil {
		cfg := resilience.DefaultCircuitBreakerConfig()
		cfg.OnStateChange = resilience.LogStateChanges("candidate_gateway")
		breaker = resilience.NewCircuitBreaker(cfg)
	}
	return &Engine{
		gateway: gateway,
		store:   store,
		norm:    norm,
		breaker: breaker,
		opts:    opts,
		now:     time.Now,
	}
}

// CheckForDuplicates compares candidate against existing leads and pipeline
// items. Only caller mistakes come back as errors (*ValidationError). Any
// failure past validation is logged and reported as "no warning" so the
// caller's write is never blocked by detection.
func (e *Engine) CheckForDuplicates(ctx context.Context, candidate CandidateInput, userID string, action Action) (result *CheckResult, err error) {
	if err := validateCheck(candidate, userID, action); err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("action", string(action)), zap.String("user_id", userID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("duplicate: check panicked, failing open", zap.Any("panic", r), zap.Stack("stack"))
			result, err = noWarning(), nil
		}
	}()

	nc := e.normalizeCandidate(candidate)
	if !sufficient(candidate.Name, nc) {
		return noWarning(), nil
	}

	records, lookupErr := e.lookup(ctx, nc)
	if lookupErr != nil {
		log.Warn("duplicate: candidate lookup failed, failing open", zap.Error(lookupErr))
		return noWarning(), nil
	}

	now := e.now()
	matches := e.matchAll(nc, records, now)
	if len(matches) == 0 {
		return noWarning(), nil
	}

	w := &Warning{
		Severity:          maxSeverity(matches),
		TriggeredByUserID: userID,
		Action:            action,
		CandidateSnapshot: candidate,
		Matches:           matches,
	}
	if err := e.store.CreateWarning(ctx, w); err != nil {
		log.Error("duplicate: persist warning failed, failing open",
			zap.Int("matches", len(matches)),
			zap.Error(err),
		)
		return noWarning(), nil
	}

	log.Info("duplicate: warning raised",
		zap.String("warning_id", w.ID),
		zap.String("severity", string(w.Severity)),
		zap.Int("matches", len(matches)),
	)

	return &CheckResult{
		HasWarning: true,
		Severity:   w.Severity,
		WarningID:  w.ID,
		Message:    e.message(matches, now),
		Matches:    matches,
	}, nil
}

func noWarning() *CheckResult {
	return &CheckResult{Matches: []Match{}}
}

type normalized struct {
	name    string
	email   string
	phone   string
	domain  string
	company string
}

func (e *Engine) normalizeCandidate(c CandidateInput) normalized {
	return normalized{
		name:    e.norm.PersonName(c.Name),
		email:   normalize.Email(c.Email),
		phone:   normalize.Phone(c.Phone),
		domain:  normalize.DomainFromEmail(c.Email),
		company: e.norm.CompanyName(c.Company),
	}
}

// lookup runs the exact-key and approximate-company queries concurrently
// through the circuit breaker and unions the results by record ID.
func (e *Engine) lookup(ctx context.Context, nc normalized) ([]ExistingRecordRef, error) {
	if e.opts.GatewayTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.GatewayTimeout)
		defer cancel()
	}

	key := ExactKey{Email: nc.email, Phone: nc.phone}
	if nc.domain != "" && !e.norm.IsGenericDomain(nc.domain) {
		key.Domain = nc.domain
	}

	var exact, approx []ExistingRecordRef
	g, gctx := errgroup.WithContext(ctx)
	if !key.Empty() {
		g.Go(recovered(func() error {
			recs, err := resilience.ExecuteVal(gctx, e.breaker, func(ctx context.Context) ([]ExistingRecordRef, error) {
				return e.gateway.FindByExactKey(ctx, key)
			})
			if err != nil {
				return eris.Wrap(err, "duplicate: find by exact key")
			}
			exact = recs
			return nil
		}))
	}
	if nc.company != "" {
		g.Go(recovered(func() error {
			recs, err := resilience.ExecuteVal(gctx, e.breaker, func(ctx context.Context) ([]ExistingRecordRef, error) {
				return e.gateway.FindByApproximateCompany(ctx, nc.company)
			})
			if err != nil {
				return eris.Wrap(err, "duplicate: find by approximate company")
			}
			approx = recs
			return nil
		}))
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(exact)+len(approx))
	out := make([]ExistingRecordRef, 0, len(exact)+len(approx))
	for _, rec := range append(exact, approx...) {
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}
	return out, nil
}

// recovered turns a panic in a lookup goroutine into an error, since it
// cannot reach the recover in CheckForDuplicates.
func recovered(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = eris.Errorf("duplicate: gateway panic: %v", r)
			}
		}()
		return fn()
	}
}

// matchAll scores every record, keeps one match per record ID, grades each,
// and sorts by confidence descending then record ID ascending.
func (e *Engine) matchAll(nc normalized, records []ExistingRecordRef, now time.Time) []Match {
	best := make(map[string]Match, len(records))
	for _, rec := range records {
		m, ok := e.score(nc, rec)
		if !ok {
			continue
		}
		if prev, exists := best[rec.ID]; exists && !better(m, prev) {
			continue
		}
		best[rec.ID] = m
	}

	matches := make([]Match, 0, len(best))
	for _, m := range best {
		m.Severity = e.opts.Severity.Classify(m.Confidence, m.ExistingRecord.LastContactDate, now)
		matches = append(matches, m)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].ExistingRecord.ID < matches[j].ExistingRecord.ID
	})
	return matches
}

// better reports whether a should replace b as a record's representative.
func better(a, b Match) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.MatchType.priority() > b.MatchType.priority()
}

func maxSeverity(matches []Match) Severity {
	top := SeverityLow
	for _, m := range matches {
		if m.Severity.Rank() > top.Rank() {
			top = m.Severity
		}
	}
	return top
}

// message summarizes the most severe matches, naming the owning salesperson
// of the strongest one when known.
func (e *Engine) message(matches []Match, now time.Time) string {
	top := maxSeverity(matches)
	var lead *Match
	others := 0
	for i := range matches {
		if matches[i].Severity != top {
			continue
		}
		if lead == nil {
			lead = &matches[i]
			continue
		}
		others++
	}

	msg := "Potential duplicate detected: " + reason(lead.MatchType)
	rec := lead.ExistingRecord
	if rec.OwnerName != "" {
		if e.opts.Severity.Recent(rec.LastContactDate, now) {
			msg += " recently contacted by " + rec.OwnerName
		} else {
			msg += " owned by " + rec.OwnerName
		}
	}
	if others > 0 {
		msg += fmt.Sprintf(" (+%d more)", others)
	}
	return msg
}

func reason(t MatchType) string {
	switch t {
	case MatchEmail:
		return "same email address"
	case MatchPhone:
		return "same phone number"
	case MatchCompanyDomain:
		return "same company email domain"
	case MatchPersonNameCompany:
		return "similar contact at the same company"
	case MatchCompanyName:
		return "similar company"
	case MatchPersonName:
		return "similar contact name"
	default:
		return "similar record"
	}
}
