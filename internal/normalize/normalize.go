// Package normalize turns raw CRM field values into canonical forms that can
// be compared across leads, pipeline items, and incoming candidates.
//
// Every function is total and idempotent: normalizing an already normalized
// value returns it unchanged.
package normalize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer applies a fixed set of Lists. It is immutable and safe for
// concurrent use.
type Normalizer struct {
	companySuffixes map[string]struct{}
	personTitles    map[string]struct{}
	personSuffixes  map[string]struct{}
	genericDomains  map[string]struct{}
	genericWords    map[string]struct{}
}

// New builds a Normalizer from the given vocabularies.
func New(lists Lists) *Normalizer {
	return &Normalizer{
		companySuffixes: tokenSet(lists.CompanySuffixes, cleanCompany),
		personTitles:    tokenSet(lists.PersonTitles, cleanPerson),
		personSuffixes:  tokenSet(lists.PersonSuffixes, cleanPerson),
		genericDomains:  tokenSet(lists.GenericEmailDomains, Email),
		genericWords:    tokenSet(lists.GenericCompanyWords, cleanCompany),
	}
}

var std = New(DefaultLists())

// Default returns the Normalizer built from DefaultLists.
func Default() *Normalizer { return std }

// CompanyName normalizes with the default lists.
func CompanyName(s string) string { return std.CompanyName(s) }

// PersonName normalizes with the default lists.
func PersonName(s string) string { return std.PersonName(s) }

// CompanyName lowercases, strips diacritics and punctuation (internal hyphens
// survive), drops a leading "the" and trailing legal-entity suffixes, and
// collapses whitespace.
//
//	"Microsoft Corp"          -> "microsoft"
//	"The Walt Disney Company" -> "walt disney company"
func (n *Normalizer) CompanyName(s string) string {
	tokens := strings.Fields(cleanCompany(s))
	for len(tokens) > 1 && tokens[0] == "the" {
		tokens = tokens[1:]
	}
	for len(tokens) > 1 && has(n.companySuffixes, tokens[len(tokens)-1]) {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}

// PersonName lowercases, strips diacritics, deletes apostrophes and hyphens,
// drops leading titles and trailing generational/professional suffixes, and
// collapses whitespace.
//
//	"Dr. Jane Doe Jr." -> "jane doe"
//	"O'Brien"          -> "obrien"
func (n *Normalizer) PersonName(s string) string {
	tokens := strings.Fields(cleanPerson(s))
	for len(tokens) > 1 && has(n.personTitles, tokens[0]) {
		tokens = tokens[1:]
	}
	for len(tokens) > 1 && has(n.personSuffixes, tokens[len(tokens)-1]) {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}

// CompanyKeyToken picks the token of a normalized company name to search
// on: the longest one that is not a generic company word. When every token is
// generic the first one is used.
//
//	"walt disney company" -> "disney"
//	"global services"     -> "global"
func (n *Normalizer) CompanyKeyToken(normalized string) string {
	tokens := strings.Fields(normalized)
	var best string
	for _, tok := range tokens {
		if !has(n.genericWords, tok) && len(tok) > len(best) {
			best = tok
		}
	}
	if best == "" && len(tokens) > 0 {
		best = tokens[0]
	}
	return best
}

// IsGenericDomain reports whether domain belongs to a shared consumer mail
// provider, where a common domain says nothing about a common employer.
func (n *Normalizer) IsGenericDomain(domain string) bool {
	return has(n.genericDomains, domain)
}

// Email trims and lowercases an address.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// trunkZero is the bracketed national trunk prefix written after a country
// code, as in "+44 (0) 20".
var trunkZero = regexp.MustCompile(`\(\s*0\s*\)`)

// Phone drops a bracketed "(0)" trunk prefix and keeps ASCII digits only.
//
//	"+44 (0) 7700 900123" -> "447700900123"
func Phone(s string) string {
	s = trunkZero.ReplaceAllString(s, "")
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DomainFromEmail returns the lowercase text after the last "@", or "" when
// there is none.
func DomainFromEmail(s string) string {
	s = Email(s)
	i := strings.LastIndex(s, "@")
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(s[i+1:])
}

// cleanCompany lowercases and folds punctuation for company names. Periods,
// commas, and apostrophes are deleted so "L.L.C." and "Inc." reduce to their
// bare tokens; a hyphen survives only between two letters or digits and "&"
// is spelled out.
func cleanCompany(s string) string {
	rs := []rune(fold(s))
	var b strings.Builder
	b.Grow(len(rs))
	for i, r := range rs {
		switch {
		case isAlnum(r):
			b.WriteRune(r)
		case r == '-' && i > 0 && i < len(rs)-1 && isAlnum(rs[i-1]) && isAlnum(rs[i+1]):
			b.WriteRune(r)
		case r == '&':
			b.WriteString(" and ")
		case r == '.' || r == ',' || isApostrophe(r):
		default:
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// cleanPerson lowercases and folds punctuation for person names. Apostrophes,
// hyphens, and periods are deleted outright ("Mary-Jane" -> "maryjane").
func cleanPerson(s string) string {
	var b strings.Builder
	for _, r := range fold(s) {
		switch {
		case isAlnum(r):
			b.WriteRune(r)
		case r == '-' || r == '.' || isApostrophe(r):
		default:
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// fold trims, lowercases, and removes combining marks (é -> e).
func fold(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if isASCII(s) {
		return s
	}
	// Chain keeps per-call state, so it is built fresh each time.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func tokenSet(entries []string, clean func(string) string) map[string]struct{} {
	set := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		for _, tok := range strings.Fields(clean(e)) {
			set[tok] = struct{}{}
		}
	}
	return set
}

func has(set map[string]struct{}, tok string) bool {
	_, ok := set[tok]
	return ok
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isApostrophe(r rune) bool {
	return r == '\'' || r == '’' || r == '`'
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
