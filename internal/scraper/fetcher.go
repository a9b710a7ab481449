package scraper

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cockroachdb/errors"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"jobmate/alert-service/internal/config"
	"jobmate/alert-service/internal/model"
)

// ErrListingUnavailable is returned when the first listing page cannot be
// loaded or lacks the listing container. It aborts the run.
var ErrListingUnavailable = errors.New("job listing unavailable")

// Listing is the raw result of walking the listing pages. Jobs may contain
// the same URL more than once when pages overlap.
type Listing struct {
	Jobs    []model.ScrapedJob
	Dropped int // items without a title or link
	Pages   int
}

// BoardFetcher loads listing and detail pages with colly.
type BoardFetcher struct {
	cfg     config.ScrapeConfig
	sel     Selectors
	listing *colly.Collector
	detail  *colly.Collector
	log     *zap.SugaredLogger
}

// NewBoardFetcher builds a fetcher with separate collectors (and HTTP
// clients) for listing and detail pages so their timeouts stay independent.
func NewBoardFetcher(cfg config.ScrapeConfig, sel Selectors, log *zap.SugaredLogger) *BoardFetcher {
	newCollector := func(timeout time.Duration) *colly.Collector {
		c := colly.NewCollector(
			colly.UserAgent(cfg.UserAgent),
			colly.AllowURLRevisit(),
		)
		c.SetRequestTimeout(timeout)
		return c
	}
	return &BoardFetcher{
		cfg:     cfg,
		sel:     sel,
		listing: newCollector(cfg.ListingTimeout),
		detail:  newCollector(cfg.DetailTimeout),
		log:     log,
	}
}

// Listing walks pages 1..N until the number of distinct postings stops
// growing for StableAttempts pages, a page comes back empty, or MaxItems
// distinct postings have been seen.
func (f *BoardFetcher) Listing(ctx context.Context) (*Listing, error) {
	out := &Listing{}
	distinct := make(map[string]struct{})
	stable := 0

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			if page == 1 {
				return nil, err
			}
			break
		}

		pageURL, err := f.pageURL(page)
		if err != nil {
			return nil, err
		}
		jobs, dropped, found, err := f.fetchPage(pageURL)
		if page == 1 {
			if err != nil {
				return nil, errors.Mark(errors.Wrapf(err, "load %s", pageURL), ErrListingUnavailable)
			}
			if !found {
				return nil, errors.Wrapf(ErrListingUnavailable, "%s has no %q", pageURL, f.sel.ListParent)
			}
		} else if err != nil || !found {
			f.log.Warnw("listing page failed, keeping what was loaded", "page", page, "url", pageURL, "error", err)
			break
		}

		out.Pages = page
		out.Dropped += dropped
		before := len(distinct)
		for _, j := range jobs {
			out.Jobs = append(out.Jobs, j)
			distinct[j.URL] = struct{}{}
		}
		f.log.Debugw("listing page loaded", "page", page, "items", len(jobs), "distinct", len(distinct))

		if len(jobs) == 0 && dropped == 0 {
			break
		}
		if len(distinct) >= f.cfg.MaxItems {
			break
		}
		if len(distinct) == before {
			stable++
			if stable >= f.cfg.StableAttempts {
				break
			}
		} else {
			stable = 0
		}
	}
	return out, nil
}

func (f *BoardFetcher) fetchPage(pageURL string) (jobs []model.ScrapedJob, dropped int, found bool, err error) {
	c := f.listing.Clone()
	c.OnHTML(f.sel.ListParent, func(e *colly.HTMLElement) {
		if found {
			return
		}
		found = true
		e.DOM.Find(f.sel.Item).Each(func(_ int, s *goquery.Selection) {
			job, ok := extractItem(s, f.sel, f.cfg.BaseURL)
			if !ok {
				dropped++
				return
			}
			jobs = append(jobs, job)
		})
	})
	err = c.Visit(pageURL)
	return jobs, dropped, found, err
}

// DetailSalary visits a posting page and returns the first salary line
// found, or model.Unknown when the page has none.
func (f *BoardFetcher) DetailSalary(ctx context.Context, postingURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return model.Unknown, err
	}

	salary := ""
	c := f.detail.Clone()
	c.OnHTML("body", func(e *colly.HTMLElement) {
		for _, sel := range f.sel.DetailSalary {
			e.DOM.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
				line, ok := salaryLine(s.Text())
				if ok {
					salary = line
				}
				return !ok
			})
			if salary != "" {
				return
			}
		}
	})
	if err := c.Visit(postingURL); err != nil {
		return model.Unknown, errors.Wrapf(err, "detail %s", postingURL)
	}
	if salary == "" {
		return model.Unknown, nil
	}
	return salary, nil
}

func (f *BoardFetcher) pageURL(page int) (string, error) {
	if page == 1 {
		return f.cfg.ListingURL, nil
	}
	u, err := url.Parse(f.cfg.ListingURL)
	if err != nil {
		return "", errors.Wrapf(err, "parse listing url %q", f.cfg.ListingURL)
	}
	q := u.Query()
	q.Set(f.cfg.PageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
