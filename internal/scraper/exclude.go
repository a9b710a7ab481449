package scraper

import "strings"

// ContainsExcludedTerm returns true if any term appears (case-insensitive)
// in the combined title + company text.
//
// Checked before persisting; matching postings are counted as filtered.
func ContainsExcludedTerm(title, company string, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	combined := strings.ToLower(title + " " + company)
	for _, term := range terms {
		if term == "" {
			continue
		}
		if strings.Contains(combined, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
