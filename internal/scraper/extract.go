// Package scraper implements job-board listing extraction, filtering and
// ingestion into the job store.
package scraper

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"jobmate/alert-service/internal/model"
)

// Selectors locate the fields of a posting on the board's pages.
type Selectors struct {
	ListParent   string
	Item         string
	TitleLink    string
	Company      string
	ListSalary   string
	DetailSalary []string
}

// DefaultSelectors match workingnomads.com.
var DefaultSelectors = Selectors{
	ListParent: "div.jobs-list",
	Item:       ".job-wrapper",
	TitleLink:  "h4.hidden-xs a",
	Company:    ".job-company",
	ListSalary: `div[ng-show*="model.salary_range"] span.about-job-line-text`,
	DetailSalary: []string{
		".job-details-inner div:has(i.fa-money)",
		"div.job-detail-sidebar:has(i.fa-money)",
	},
}

var (
	whitespace   = regexp.MustCompile(`\s+`)
	sevenDigits  = regexp.MustCompile(`^\d{7}$`)
	companyNoise = []string{"full-time", "remote", "jobs"}
)

// extractItem reads one listing item. ok is false when the item has no title
// or link and must be dropped.
func extractItem(s *goquery.Selection, sel Selectors, baseURL string) (job model.ScrapedJob, ok bool) {
	link := s.Find(sel.TitleLink).First()
	title := strings.TrimSpace(link.Text())
	href, _ := link.Attr("href")
	href = strings.TrimSpace(href)
	if title == "" || href == "" {
		return job, false
	}

	job = model.ScrapedJob{
		Title:   title,
		URL:     absoluteURL(baseURL, href),
		Company: cleanCompany(s.Find(sel.Company).First().Text()),
		Salary:  model.Unknown,
		SiteURL: baseURL,
	}
	if job.Company == model.Unknown {
		job.Company = CompanyFromURL(job.URL)
	}

	s.Find(sel.ListSalary).EachWithBreak(func(_ int, span *goquery.Selection) bool {
		text := strings.TrimSpace(span.Text())
		if strings.Contains(text, "$") && len(text) > 5 {
			job.Salary = text
			return false
		}
		return true
	})
	return job, true
}

// cleanCompany collapses whitespace and rejects text that is really a job
// tag ("Full-time", "Remote", "N jobs") rather than a company name.
func cleanCompany(raw string) string {
	text := strings.TrimSpace(whitespace.ReplaceAllString(raw, " "))
	if utf8.RuneCountInString(text) <= 2 {
		return model.Unknown
	}
	lower := strings.ToLower(text)
	for _, noise := range companyNoise {
		if strings.Contains(lower, noise) {
			return model.Unknown
		}
	}
	return text
}

// CompanyFromURL guesses the company from a posting URL of the form
// ".../title-words-company-1234567": the segment before the 7-digit id,
// with its first letter upper-cased. It returns model.Unknown otherwise.
func CompanyFromURL(rawURL string) string {
	parts := strings.Split(rawURL, "-")
	for i, part := range parts {
		if i > 0 && sevenDigits.MatchString(part) {
			return upperFirst(parts[i-1])
		}
	}
	return model.Unknown
}

// salaryLine returns the first non-empty line of text that contains "$".
func salaryLine(text string) (string, bool) {
	if !strings.Contains(text, "$") {
		return "", false
	}
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" && strings.Contains(line, "$") {
			return line, true
		}
	}
	return strings.TrimSpace(text), true
}

func absoluteURL(baseURL, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return baseURL + href
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
