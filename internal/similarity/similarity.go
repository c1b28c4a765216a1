// Package similarity scores how alike two already-normalized strings are.
package similarity

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/antzucaro/matchr"
)

// Ratio returns 1 - editDistance(a, b) / max(len(a), len(b)), measured in
// runes. Two empty strings score 1 and an empty string against a non-empty
// one scores 0. The ratio is symmetric and case-sensitive.
func Ratio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	if maxLen == 0 {
		return 1.0
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(d)/float64(maxLen)
}

// JaroWinkler exposes the Jaro-Winkler similarity of a and b. It is recorded
// alongside a match for reviewers and never feeds confidence.
func JaroWinkler(a, b string) float64 {
	if a == "" || b == "" {
		if a == b {
			return 1.0
		}
		return 0
	}
	return matchr.JaroWinkler(a, b, false)
}

// Phonetic reports whether a and b sound alike: both have the same number of
// words and each word pair shares a Double Metaphone code ("jon smith" and
// "john smith" do).
func Phonetic(a, b string) bool {
	ta, tb := strings.Fields(a), strings.Fields(b)
	if len(ta) == 0 || len(ta) != len(tb) {
		return false
	}
	for i := range ta {
		if !codesOverlap(codes(ta[i]), codes(tb[i])) {
			return false
		}
	}
	return true
}

func codes(word string) []string {
	p, s := matchr.DoubleMetaphone(word)
	out := make([]string, 0, 2)
	if p != "" {
		out = append(out, p)
	}
	if s != "" && s != p {
		out = append(out, s)
	}
	return out
}

func codesOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
