package notifier

import (
	"fmt"
	"html"
	"strings"

	"jobmate/alert-service/internal/model"
)

// FormatMessage renders the Telegram HTML message announcing jobs for
// keyword. At most maxJobs postings are listed; the rest are summarised as
// "…and K more". Every user-supplied value is HTML-escaped.
func FormatMessage(keyword string, jobs []model.Job, maxJobs int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔔 <b>New jobs for %s</b> (%d)\n",
		html.EscapeString(strings.ToUpper(keyword)), len(jobs))

	shown := jobs
	if maxJobs > 0 && len(shown) > maxJobs {
		shown = shown[:maxJobs]
	}
	for i, j := range shown {
		fmt.Fprintf(&sb, "\n%d. <b>%s</b>\n", i+1, html.EscapeString(j.Title))
		if known(j.Company) {
			fmt.Fprintf(&sb, "🏢 %s\n", html.EscapeString(j.Company))
		}
		if known(j.Salary) {
			fmt.Fprintf(&sb, "💰 %s\n", html.EscapeString(j.Salary))
		}
		fmt.Fprintf(&sb, "<a href=\"%s\">View posting</a>\n", html.EscapeString(j.URL))
	}

	if more := len(jobs) - len(shown); more > 0 {
		fmt.Fprintf(&sb, "\n…and %d more\n", more)
	}
	return sb.String()
}

func known(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && !strings.EqualFold(s, model.Unknown)
}
