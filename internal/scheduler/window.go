package scheduler

import (
	"time"

	"jobmate/alert-service/internal/model"
)

// Window decides which runs are due at a given instant for deployments that
// call a single cron endpoint on a fixed interval. A run is due while the
// local clock is within Width after its hour starts.
type Window struct {
	Location   *time.Location
	ScrapeHour int
	NotifyHour int
	WeeklyDay  time.Weekday
	Width      time.Duration
}

// Plan lists the runs due at an instant, with the local time it was
// computed for.
type Plan struct {
	Local       time.Time
	Scrape      bool
	Frequencies []model.Frequency
}

// Empty reports whether nothing is due.
func (p Plan) Empty() bool { return !p.Scrape && len(p.Frequencies) == 0 }

// Message is a short human-readable description of the plan.
func (p Plan) Message() string {
	switch {
	case p.Scrape:
		return "Scraping started"
	case len(p.Frequencies) == 2:
		return "Daily + Weekly started"
	case len(p.Frequencies) == 1:
		return "Daily started"
	}
	return "No action"
}

// Plan computes the runs due at now.
func (w Window) Plan(now time.Time) Plan {
	local := now.In(w.Location)
	p := Plan{Local: local}

	if w.within(local, w.ScrapeHour) {
		p.Scrape = true
		return p
	}
	if w.within(local, w.NotifyHour) {
		p.Frequencies = append(p.Frequencies, model.FrequencyDaily)
		if local.Weekday() == w.WeeklyDay {
			p.Frequencies = append(p.Frequencies, model.FrequencyWeekly)
		}
	}
	return p
}

func (w Window) within(local time.Time, hour int) bool {
	start := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, w.Location)
	since := local.Sub(start)
	return since >= 0 && since < w.Width
}
