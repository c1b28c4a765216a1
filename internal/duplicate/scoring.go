package duplicate

import (
	"math"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/normalize"
	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/similarity"
)

// score returns the representative match between the candidate and rec: the
// applicable match type with the highest confidence, ties going to the type
// with the higher priority. ok is false when nothing clears MinConfidence.
func (e *Engine) score(nc normalized, rec ExistingRecordRef) (m Match, ok bool) {
	ex := normalized{
		name:    e.norm.PersonName(rec.Name),
		email:   normalize.Email(rec.Email),
		phone:   normalize.Phone(rec.Phone),
		domain:  normalize.DomainFromEmail(rec.Email),
		company: e.norm.CompanyName(rec.Company),
	}

	details := map[string]any{}
	var candidates []Match
	add := func(t MatchType, confidence float64) {
		candidates = append(candidates, Match{MatchType: t, Confidence: confidence})
	}

	if nc.email != "" && nc.email == ex.email {
		add(MatchEmail, 1.0)
		details["email"] = ex.email
	}
	if nc.phone != "" && nc.phone == ex.phone {
		add(MatchPhone, 1.0)
		details["phone"] = ex.phone
	}
	if nc.domain != "" && nc.domain == ex.domain && !e.norm.IsGenericDomain(nc.domain) {
		add(MatchCompanyDomain, 1.0)
		details["domain"] = ex.domain
	}

	companySim := -1.0
	if nc.company != "" && ex.company != "" {
		companySim = similarity.Ratio(nc.company, ex.company)
		add(MatchCompanyName, companySim)
		details["candidateCompany"] = nc.company
		details["existingCompany"] = ex.company
		details["companySimilarity"] = round(companySim)
	}

	if nc.name != "" && ex.name != "" {
		nameSim := similarity.Ratio(nc.name, ex.name)
		add(MatchPersonName, nameSim)
		if companySim >= e.opts.CompanyMatchThreshold {
			add(MatchPersonNameCompany, e.personCompany(nameSim, companySim))
		}
		details["candidateName"] = nc.name
		details["existingName"] = ex.name
		details["nameSimilarity"] = round(nameSim)
		details["nameJaroWinkler"] = round(similarity.JaroWinkler(nc.name, ex.name))
		details["phoneticName"] = similarity.Phonetic(nc.name, ex.name)
	}

	for _, c := range candidates {
		if c.Confidence < e.opts.MinConfidence {
			continue
		}
		if !ok || better(c, m) {
			m, ok = c, true
		}
	}
	if !ok {
		return Match{}, false
	}

	m.Confidence = round(m.Confidence)
	m.ExistingRecord = rec
	m.MatchDetails = details
	return m, true
}

// personCompany blends name and company similarity when the companies match:
// min(cap, 0.75*name + 0.25*company + 0.10).
func (e *Engine) personCompany(nameSim, companySim float64) float64 {
	blended := 0.75*nameSim + 0.25*companySim + 0.10
	return math.Min(e.opts.PersonCompanyCap, blended)
}

// round trims float noise so stored and returned confidences compare cleanly.
func round(f float64) float64 {
	return math.Round(f*1e4) / 1e4
}
