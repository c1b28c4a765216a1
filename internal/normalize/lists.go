package normalize

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Lists holds the curated vocabularies used during normalization. Entries are
// matched per token after cleaning, so "L.L.C." and "llc" are equivalent and a
// multi-word entry such as "pty ltd" contributes each of its words.
type Lists struct {
	CompanySuffixes     []string `yaml:"company_suffixes"`
	PersonTitles        []string `yaml:"person_titles"`
	PersonSuffixes      []string `yaml:"person_suffixes"`
	GenericEmailDomains []string `yaml:"generic_email_domains"`
	// GenericCompanyWords are common in company names and say little about
	// which company is meant. Candidate narrowing avoids searching on them.
	GenericCompanyWords []string `yaml:"generic_company_words"`
}

// DefaultLists returns the built-in vocabularies.
func DefaultLists() Lists {
	return Lists{
		CompanySuffixes: []string{
			"corp", "corp.", "corporation",
			"inc", "inc.", "incorporated",
			"llc", "l.l.c.", "l.l.c",
			"ltd", "ltd.", "limited",
			"co", "co.",
			"plc", "p.l.c.",
			"lp", "l.p.", "llp", "l.l.p.", "pllc",
			"gmbh", "ag", "bv", "pty", "sarl",
		},
		PersonTitles: []string{
			"mr", "mrs", "ms", "miss", "mx",
			"dr", "prof", "sir", "dame", "lord", "lady",
			"rev", "hon", "capt", "col",
		},
		PersonSuffixes: []string{
			"jr", "sr", "ii", "iii", "iv", "v",
			"phd", "md", "esq", "cpa", "mba",
		},
		GenericEmailDomains: []string{
			"gmail.com", "googlemail.com",
			"yahoo.com", "yahoo.co.uk",
			"hotmail.com", "hotmail.co.uk", "outlook.com", "live.com", "msn.com",
			"icloud.com", "me.com", "aol.com",
			"protonmail.com", "proton.me", "gmx.com",
		},
		GenericCompanyWords: []string{
			"company", "companies", "and", "of", "the",
			"group", "holding", "holdings", "partners", "associates",
			"international", "intl", "global", "worldwide", "national",
			"services", "service", "solutions", "systems", "consulting",
			"technologies", "technology", "tech", "industries", "enterprises",
			"management", "capital", "trading",
		},
	}
}

// LoadLists reads vocabularies from a YAML file. Sections left empty in the
// file keep their defaults.
func LoadLists(path string) (Lists, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Lists{}, eris.Wrapf(err, "normalize: read lists %s", path)
	}

	var fromFile Lists
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return Lists{}, eris.Wrapf(err, "normalize: parse lists %s", path)
	}

	lists := DefaultLists()
	if len(fromFile.CompanySuffixes) > 0 {
		lists.CompanySuffixes = fromFile.CompanySuffixes
	}
	if len(fromFile.PersonTitles) > 0 {
		lists.PersonTitles = fromFile.PersonTitles
	}
	if len(fromFile.PersonSuffixes) > 0 {
		lists.PersonSuffixes = fromFile.PersonSuffixes
	}
	if fromFile.GenericEmailDomains != nil {
		lists.GenericEmailDomains = fromFile.GenericEmailDomains
	}
	if fromFile.GenericCompanyWords != nil {
		lists.GenericCompanyWords = fromFile.GenericCompanyWords
	}
	return lists, nil
}
