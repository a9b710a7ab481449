package scraper

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/alert-service/internal/model"
)

func TestCompanyFromURL(t *testing.T) {
	cases := map[string]string{
		"https://www.workingnomads.com/jobs/senior-go-developer-acme-1234567":  "Acme",
		"https://www.workingnomads.com/jobs/qa-engineer-globex-7654321-remote": "Globex",
		"https://www.workingnomads.com/jobs/no-id-here":                        model.Unknown,
		"https://www.workingnomads.com/jobs/short-id-123456":                   model.Unknown,
		"1234567-leading-id": model.Unknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, CompanyFromURL(in), in)
	}
}

func TestCleanCompany(t *testing.T) {
	assert.Equal(t, "Acme Corp", cleanCompany("  Acme \n\t Corp "))
	assert.Equal(t, model.Unknown, cleanCompany("IO"))
	assert.Equal(t, model.Unknown, cleanCompany("Full-Time"))
	assert.Equal(t, model.Unknown, cleanCompany("100% Remote"))
	assert.Equal(t, model.Unknown, cleanCompany("12 jobs"))
}

func TestSalaryLine(t *testing.T) {
	line, ok := salaryLine("\n  Salary \n  $80k - $90k / year\n  Full-time")
	require.True(t, ok)
	assert.Equal(t, "$80k - $90k / year", line)

	_, ok = salaryLine("Competitive")
	assert.False(t, ok)
}

func TestExtractItem(t *testing.T) {
	html := `<div class="job-wrapper">
		<h4 class="hidden-xs"><a href="/jobs/go-dev-initech-1234567"> Go Dev </a></h4>
		<div class="job-company">Full-time</div>
		<div ng-show="model.salary_range"><span class="about-job-line-text">$5</span></div>
		<div ng-show="model.salary_range"><span class="about-job-line-text">$100k - $130k</span></div>
	</div>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	job, ok := extractItem(doc.Find(".job-wrapper"), DefaultSelectors, "https://board.test")
	require.True(t, ok)
	assert.Equal(t, model.ScrapedJob{
		Title:   "Go Dev",
		Company: "Initech",
		URL:     "https://board.test/jobs/go-dev-initech-1234567",
		Salary:  "$100k - $130k",
		SiteURL: "https://board.test",
	}, job)
}

func TestExtractItem_MissingTitleDropped(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<div class="job-wrapper"><h4 class="hidden-xs"><a href="/jobs/x"></a></h4></div>`))
	require.NoError(t, err)

	_, ok := extractItem(doc.Find(".job-wrapper"), DefaultSelectors, "https://board.test")
	assert.False(t, ok)
}

func TestContainsExcludedTerm(t *testing.T) {
	terms := []string{"crypto", "", "Gambling"}
	assert.True(t, ContainsExcludedTerm("Crypto Trader", "Acme", terms))
	assert.True(t, ContainsExcludedTerm("Engineer", "gambling ltd", terms))
	assert.False(t, ContainsExcludedTerm("Go Developer", "Acme", terms))
	assert.False(t, ContainsExcludedTerm("Crypto Trader", "Acme", nil))
}
