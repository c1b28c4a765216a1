package duplicate

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/normalize"
	sfpkg "github.com/yiddoyiddo/emg-crm-dupcheck/pkg/salesforce"
)

// SalesforceGateway reads candidates from Salesforce: unconverted Leads as
// LEAD records and open Opportunities as PIPELINE_ITEM records.
type SalesforceGateway struct {
	client sfpkg.Client
	norm   *normalize.Normalizer
	limit  int
}

// NewSalesforceGateway wraps a Salesforce client. maxCandidates bounds each
// SOQL query; values below 1 mean 50. norm picks the company token used for
// approximate lookups; nil means the built-in lists.
func NewSalesforceGateway(client sfpkg.Client, maxCandidates int, norm *normalize.Normalizer) *SalesforceGateway {
	if maxCandidates < 1 {
		maxCandidates = 50
	}
	if norm == nil {
		norm = normalize.Default()
	}
	return &SalesforceGateway{client: client, norm: norm, limit: maxCandidates}
}

// Ping checks the credentials can read Lead metadata.
func (g *SalesforceGateway) Ping(ctx context.Context) error {
	_, err := g.client.DescribeSObject(ctx, "Lead")
	return eris.Wrap(err, "salesforce gateway: ping")
}

// FindByExactKey matches leads by email, domain, or phone, and opportunities
// by account phone or website domain.
func (g *SalesforceGateway) FindByExactKey(ctx context.Context, key ExactKey) ([]ExistingRecordRef, error) {
	if key.Empty() {
		return nil, nil
	}
	return g.find(ctx, sfpkg.Filter{
		Email:  key.Email,
		Domain: key.Domain,
		Phones: sfpkg.PhoneVariants(key.Phone),
		Limit:  g.limit,
	})
}

// FindByApproximateCompany matches company and account names containing the
// most distinctive token of the normalized company. Generic words such as
// "company" or "group" are skipped so the LIMIT is not spent on noise.
func (g *SalesforceGateway) FindByApproximateCompany(ctx context.Context, normalizedCompany string) ([]ExistingRecordRef, error) {
	token := g.norm.CompanyKeyToken(normalizedCompany)
	if token == "" {
		return nil, nil
	}
	return g.find(ctx, sfpkg.Filter{CompanyContains: token, Limit: g.limit})
}

func (g *SalesforceGateway) find(ctx context.Context, f sfpkg.Filter) ([]ExistingRecordRef, error) {
	var (
		leads []sfpkg.Lead
		opps  []sfpkg.Opportunity
	)
	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		var err error
		leads, err = sfpkg.FindLeads(gctx, g.client, f)
		return err
	})
	grp.Go(func() error {
		var err error
		opps, err = sfpkg.FindOpportunities(gctx, g.client, f)
		return err
	})
	if err := grp.Wait(); err != nil {
		return nil, eris.Wrap(err, "salesforce gateway: find")
	}

	out := make([]ExistingRecordRef, 0, len(leads)+len(opps))
	for _, l := range leads {
		out = append(out, leadRef(l))
	}
	for _, o := range opps {
		out = append(out, opportunityRef(o))
	}
	return out, nil
}

func leadRef(l sfpkg.Lead) ExistingRecordRef {
	ref := ExistingRecordRef{
		ID:              l.ID,
		SourceType:      SourceLead,
		Name:            l.Name,
		Email:           l.Email,
		Phone:           l.Phone,
		Company:         l.Company,
		OwnerID:         l.OwnerID,
		LastContactDate: parseActivityDate(l.LastActivityDate),
	}
	if l.Owner != nil {
		ref.OwnerName = l.Owner.Name
	}
	return ref
}

// opportunityRef leaves Name empty: an opportunity's name describes the deal,
// not a person.
func opportunityRef(o sfpkg.Opportunity) ExistingRecordRef {
	ref := ExistingRecordRef{
		ID:              o.ID,
		SourceType:      SourcePipelineItem,
		OwnerID:         o.OwnerID,
		LastContactDate: parseActivityDate(o.LastActivityDate),
	}
	if o.Account != nil {
		ref.Company = o.Account.Name
		ref.Phone = o.Account.Phone
	}
	if o.Owner != nil {
		ref.OwnerName = o.Owner.Name
	}
	return ref
}

// parseActivityDate reads a Salesforce date field. Empty or malformed values
// mean no recorded contact.
func parseActivityDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil
	}
	return &t
}
