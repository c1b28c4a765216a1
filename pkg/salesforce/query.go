package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// UserRef is the Owner relationship on a record.
type UserRef struct {
	Name string `json:"Name" salesforce:"Name"`
}

// AccountRef is the Account relationship on an Opportunity.
type AccountRef struct {
	Name    string `json:"Name" salesforce:"Name"`
	Phone   string `json:"Phone" salesforce:"Phone"`
	Website string `json:"Website" salesforce:"Website"`
}

// Lead represents an unconverted Salesforce Lead.
type Lead struct {
	ID               string   `json:"Id" salesforce:"Id"`
	Name             string   `json:"Name" salesforce:"Name"`
	Email            string   `json:"Email" salesforce:"Email"`
	Phone            string   `json:"Phone" salesforce:"Phone"`
	Company          string   `json:"Company" salesforce:"Company"`
	OwnerID          string   `json:"OwnerId" salesforce:"OwnerId"`
	Owner            *UserRef `json:"Owner" salesforce:"Owner"`
	LastActivityDate string   `json:"LastActivityDate" salesforce:"LastActivityDate"`
}

// Opportunity represents an open Salesforce Opportunity, the CRM's pipeline
// item.
type Opportunity struct {
	ID               string      `json:"Id" salesforce:"Id"`
	Name             string      `json:"Name" salesforce:"Name"`
	AccountID        string      `json:"AccountId" salesforce:"AccountId"`
	Account          *AccountRef `json:"Account" salesforce:"Account"`
	OwnerID          string      `json:"OwnerId" salesforce:"OwnerId"`
	Owner            *UserRef    `json:"Owner" salesforce:"Owner"`
	LastActivityDate string      `json:"LastActivityDate" salesforce:"LastActivityDate"`
}

// leadFields are the SOQL fields selected for Lead queries.
var leadFields = []string{
	"Id", "Name", "Email", "Phone", "Company", "OwnerId", "Owner.Name", "LastActivityDate",
}

// opportunityFields are the SOQL fields selected for Opportunity queries.
var opportunityFields = []string{
	"Id", "Name", "AccountId", "Account.Name", "Account.Phone", "Account.Website",
	"OwnerId", "Owner.Name", "LastActivityDate",
}

// Filter selects records matching any of its non-empty fields.
type Filter struct {
	Email string
	// Domain matches email addresses (or account websites) at this domain.
	Domain string
	// Phones are literal phone strings to match exactly.
	Phones []string
	// CompanyContains matches company or account names containing it.
	CompanyContains string
	Limit           int
}

func (f Filter) empty() bool {
	return f.Email == "" && f.Domain == "" && len(f.Phones) == 0 && f.CompanyContains == ""
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return 50
	}
	return f.Limit
}

// FindLeads returns unconverted leads matching f. An empty filter queries
// nothing.
func FindLeads(ctx context.Context, c Client, f Filter) ([]Lead, error) {
	if f.empty() {
		return nil, nil
	}

	var or []string
	if f.Email != "" {
		or = append(or, fmt.Sprintf("Email = '%s'", escapeSoql(f.Email)))
	}
	if f.Domain != "" {
		or = append(or, fmt.Sprintf("Email LIKE '%%@%s'", escapeSoqlLike(f.Domain)))
	}
	if len(f.Phones) > 0 {
		or = append(or, fmt.Sprintf("Phone IN (%s)", quoteList(f.Phones)))
	}
	if f.CompanyContains != "" {
		or = append(or, fmt.Sprintf("Company LIKE '%%%s%%'", escapeSoqlLike(f.CompanyContains)))
	}

	soql := fmt.Sprintf(
		"SELECT %s FROM Lead WHERE IsConverted = false AND (%s) ORDER BY Id LIMIT %d",
		strings.Join(leadFields, ", "),
		strings.Join(or, " OR "),
		f.limit(),
	)

	var leads []Lead
	if err := c.Query(ctx, soql, &leads); err != nil {
		return nil, eris.Wrap(err, "sf: find leads")
	}
	return leads, nil
}

// FindOpportunities returns open opportunities whose account matches f.
// Opportunities carry no email, so Email is ignored and Domain is matched
// against the account website.
func FindOpportunities(ctx context.Context, c Client, f Filter) ([]Opportunity, error) {
	var or []string
	if f.Domain != "" {
		or = append(or, fmt.Sprintf("Account.Website LIKE '%%%s%%'", escapeSoqlLike(f.Domain)))
	}
	if len(f.Phones) > 0 {
		or = append(or, fmt.Sprintf("Account.Phone IN (%s)", quoteList(f.Phones)))
	}
	if f.CompanyContains != "" {
		or = append(or, fmt.Sprintf("Account.Name LIKE '%%%s%%'", escapeSoqlLike(f.CompanyContains)))
	}
	if len(or) == 0 {
		return nil, nil
	}

	soql := fmt.Sprintf(
		"SELECT %s FROM Opportunity WHERE IsClosed = false AND (%s) ORDER BY Id LIMIT %d",
		strings.Join(opportunityFields, ", "),
		strings.Join(or, " OR "),
		f.limit(),
	)

	var opps []Opportunity
	if err := c.Query(ctx, soql, &opps); err != nil {
		return nil, eris.Wrap(err, "sf: find opportunities")
	}
	return opps, nil
}

var (
	soqlEscaper     = strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	soqlLikeEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`, `%`, `\%`, `_`, `\_`)
)

// escapeSoql escapes backslashes and single quotes in SOQL string literals to
// prevent injection.
func escapeSoql(s string) string {
	return soqlEscaper.Replace(s)
}

// escapeSoqlLike also escapes LIKE wildcards.
func escapeSoqlLike(s string) string {
	return soqlLikeEscaper.Replace(s)
}

func quoteList(vals []string) string {
	quoted := make([]string, len(vals))
	for i, v := range vals {
		quoted[i] = "'" + escapeSoql(v) + "'"
	}
	return strings.Join(quoted, ", ")
}

// PhoneVariants returns the formats a phone number is commonly stored in,
// given its digits. SOQL cannot strip punctuation, so lookups match each
// variant literally. Ten-digit (and 1-prefixed eleven-digit) numbers get the
// North American layouts. Other international numbers also get the "(0)"
// trunk-prefix layouts for each possible country code length, since
// normalization drops the "(0)" and the stored string still carries it.
func PhoneVariants(digits string) []string {
	if digits == "" {
		return nil
	}
	out := []string{digits}
	national := digits
	if len(digits) == 11 && digits[0] == '1' {
		national = digits[1:]
		out = append(out, "+"+digits)
	}
	if len(national) == 10 {
		a, b, c := national[:3], national[3:6], national[6:]
		out = append(out,
			national,
			fmt.Sprintf("(%s) %s-%s", a, b, c),
			fmt.Sprintf("%s-%s-%s", a, b, c),
			fmt.Sprintf("%s.%s.%s", a, b, c),
			fmt.Sprintf("+1 %s-%s-%s", a, b, c),
			fmt.Sprintf("+1 (%s) %s-%s", a, b, c),
		)
	} else {
		out = append(out, "+"+digits)
		out = append(out, trunkVariants(digits)...)
	}
	return dedupe(out)
}

// trunkVariants renders international digits as "+44 (0)20..." style strings.
// National numbers (leading 0) and short numbers have no trunk prefix.
func trunkVariants(digits string) []string {
	if len(digits) < 11 || digits[0] == '0' {
		return nil
	}
	var out []string
	for cc := 1; cc <= 3; cc++ {
		code, rest := digits[:cc], digits[cc:]
		if rest[0] == '0' {
			continue
		}
		out = append(out,
			fmt.Sprintf("+%s (0)%s", code, rest),
			fmt.Sprintf("+%s (0) %s", code, rest),
			fmt.Sprintf("+%s(0)%s", code, rest),
		)
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
