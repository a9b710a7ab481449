// Package model defines shared data structures for the alert service.
package model

import (
	"strings"
	"time"
)

// Unknown is the placeholder stored when a field could not be extracted.
const Unknown = "unknown"

// ScrapedJob is a posting as extracted from the job board, before it is
// assigned an id by the job store.
type ScrapedJob struct {
	Title   string `json:"title"`
	Company string `json:"company"`
	URL     string `json:"url"`
	Salary  string `json:"salary"`
	SiteURL string `json:"siteUrl"`
}

// Job mirrors a row of the jobs table. URL is the unique key; titles are not.
type Job struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Company   string    `json:"company"`
	URL       string    `json:"url"`
	Salary    string    `json:"salary"`
	SiteURL   string    `json:"siteUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

// Subscription mirrors a row of the subscriptions table, keyed by
// (ChatID, Keyword). LastJobID is the watermark: the highest job id already
// delivered for this keyword and chat.
type Subscription struct {
	ChatID    int64     `json:"chatId"`
	Keyword   string    `json:"keyword"`
	Frequency Frequency `json:"frequency"`
	LastJobID int64     `json:"lastJobId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Matches reports whether j is a notification candidate for s: newer than
// the watermark and containing the keyword in its title, case-insensitively.
func (s Subscription) Matches(j Job) bool {
	if j.ID <= s.LastJobID {
		return false
	}
	return strings.Contains(strings.ToLower(j.Title), strings.ToLower(s.Keyword))
}
