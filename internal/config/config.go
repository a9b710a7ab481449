// Package config loads and validates runtime configuration at startup.
// Fail-fast: if a required variable is missing or malformed, Load returns an
// error and the process exits.
//
// Values come from (lowest to highest precedence) built-in defaults, an
// optional file named by CONFIG_FILE, and environment variables.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the alert service.
type Config struct {
	Port     string
	GRPCPort string

	DatabaseURL string
	RedisURL    string

	TelegramToken         string
	TelegramWebhookURL    string // empty → long polling
	TelegramWebhookSecret string

	Scrape ScrapeConfig

	NotifyMaxJobs int // postings listed per message

	Timezone      *time.Location
	ScrapeHour    int
	NotifyHour    int
	WeeklyDay     time.Weekday
	TriggerWindow time.Duration
	CronEnabled   bool
	CronSecret    string

	SessionBackend string // "redis" or "memory"
	SessionTTL     time.Duration

	LogJSON  bool
	LogLevel string
}

// ScrapeConfig configures the job-board scraper.
type ScrapeConfig struct {
	BaseURL         string
	ListingURL      string
	PageParam       string
	UserAgent       string
	MaxItems        int
	StableAttempts  int
	DetailLookups   int // 0 = unlimited
	DetailWorkers   int
	DetailPerSecond float64
	ListingTimeout  time.Duration
	DetailTimeout   time.Duration
	RunTimeout      time.Duration
	LeaseTTL        time.Duration
	ExcludeTerms    []string
}

const defaultBaseURL = "https://www.workingnomads.com"

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("grpc_port", "9090")

	v.SetDefault("scrape_base_url", defaultBaseURL)
	v.SetDefault("scrape_listing_url", defaultBaseURL+"/jobs?postedDate=1")
	v.SetDefault("scrape_page_param", "page")
	v.SetDefault("scrape_user_agent", "Mozilla/5.0 (compatible; jobmate-alert/1.0)")
	v.SetDefault("scrape_max_items", 500)
	v.SetDefault("scrape_stable_attempts", 3)
	v.SetDefault("scrape_detail_lookups", 100)
	v.SetDefault("scrape_detail_workers", 3)
	v.SetDefault("scrape_detail_per_second", 2.0)
	v.SetDefault("scrape_listing_timeout", "60s")
	v.SetDefault("scrape_detail_timeout", "40s")
	v.SetDefault("scrape_run_timeout", "30m")
	v.SetDefault("scrape_lease_ttl", "45m")
	v.SetDefault("scrape_exclude_terms", "")

	v.SetDefault("notify_max_jobs", 5)

	v.SetDefault("timezone", "Asia/Baku")
	v.SetDefault("scrape_hour", 1)
	v.SetDefault("notify_hour", 10)
	v.SetDefault("weekly_day", "monday")
	v.SetDefault("trigger_window", "15m")
	v.SetDefault("cron_enabled", true)

	v.SetDefault("session_backend", "redis")
	v.SetDefault("session_ttl", "30m")

	v.SetDefault("log_json", false)
	v.SetDefault("log_level", "info")
}

// Load reads configuration from the environment (and CONFIG_FILE when set)
// and returns a validated Config.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	SetDefaults(v)

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}

	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:                  v.GetString("port"),
		GRPCPort:              v.GetString("grpc_port"),
		DatabaseURL:           v.GetString("database_url"),
		RedisURL:              v.GetString("redis_url"),
		TelegramToken:         v.GetString("telegram_bot_token"),
		TelegramWebhookURL:    v.GetString("telegram_webhook_url"),
		TelegramWebhookSecret: v.GetString("telegram_webhook_secret"),
		CronEnabled:           v.GetBool("cron_enabled"),
		CronSecret:            v.GetString("cron_secret"),
		SessionBackend:        strings.ToLower(v.GetString("session_backend")),
		LogJSON:               v.GetBool("log_json"),
		LogLevel:              v.GetString("log_level"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.TelegramToken == "" {
		return nil, errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.TelegramWebhookURL != "" && cfg.TelegramWebhookSecret == "" {
		return nil, errors.New("TELEGRAM_WEBHOOK_SECRET is required when TELEGRAM_WEBHOOK_URL is set")
	}

	var err error
	if cfg.Scrape, err = scrapeConfig(v); err != nil {
		return nil, err
	}

	if cfg.NotifyMaxJobs, err = positiveInt(v, "notify_max_jobs"); err != nil {
		return nil, err
	}

	tz := v.GetString("timezone")
	if cfg.Timezone, err = time.LoadLocation(tz); err != nil {
		return nil, errors.Wrapf(err, "TIMEZONE %q", tz)
	}
	if cfg.ScrapeHour, err = hour(v, "scrape_hour"); err != nil {
		return nil, err
	}
	if cfg.NotifyHour, err = hour(v, "notify_hour"); err != nil {
		return nil, err
	}
	if cfg.WeeklyDay, err = ParseWeekday(v.GetString("weekly_day")); err != nil {
		return nil, err
	}
	if cfg.TriggerWindow, err = positiveDuration(v, "trigger_window"); err != nil {
		return nil, err
	}

	switch cfg.SessionBackend {
	case "redis", "memory":
	default:
		return nil, errors.Newf("SESSION_BACKEND must be redis or memory, got %q", cfg.SessionBackend)
	}
	if cfg.SessionTTL, err = positiveDuration(v, "session_ttl"); err != nil {
		return nil, err
	}

	return cfg, nil
}

func scrapeConfig(v *viper.Viper) (ScrapeConfig, error) {
	sc := ScrapeConfig{
		BaseURL:         strings.TrimRight(v.GetString("scrape_base_url"), "/"),
		ListingURL:      v.GetString("scrape_listing_url"),
		PageParam:       v.GetString("scrape_page_param"),
		UserAgent:       v.GetString("scrape_user_agent"),
		DetailPerSecond: v.GetFloat64("scrape_detail_per_second"),
		ExcludeTerms:    splitList(v.GetString("scrape_exclude_terms")),
	}
	if sc.BaseURL == "" || sc.ListingURL == "" {
		return sc, errors.New("SCRAPE_BASE_URL and SCRAPE_LISTING_URL must not be empty")
	}
	if sc.DetailPerSecond <= 0 {
		return sc, errors.Newf("SCRAPE_DETAIL_PER_SECOND must be positive, got %q", v.GetString("scrape_detail_per_second"))
	}

	var err error
	if sc.MaxItems, err = positiveInt(v, "scrape_max_items"); err != nil {
		return sc, err
	}
	if sc.StableAttempts, err = positiveInt(v, "scrape_stable_attempts"); err != nil {
		return sc, err
	}
	if sc.DetailWorkers, err = positiveInt(v, "scrape_detail_workers"); err != nil {
		return sc, err
	}
	sc.DetailLookups = v.GetInt("scrape_detail_lookups")
	if sc.DetailLookups < 0 {
		return sc, errors.Newf("SCRAPE_DETAIL_LOOKUPS must be >= 0, got %d", sc.DetailLookups)
	}
	if sc.ListingTimeout, err = positiveDuration(v, "scrape_listing_timeout"); err != nil {
		return sc, err
	}
	if sc.DetailTimeout, err = positiveDuration(v, "scrape_detail_timeout"); err != nil {
		return sc, err
	}
	if sc.RunTimeout, err = positiveDuration(v, "scrape_run_timeout"); err != nil {
		return sc, err
	}
	if sc.LeaseTTL, err = positiveDuration(v, "scrape_lease_ttl"); err != nil {
		return sc, err
	}
	return sc, nil
}

// ParseWeekday accepts an English weekday name, case-insensitive.
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == name {
			return d, nil
		}
	}
	return time.Sunday, errors.Newf("WEEKLY_DAY must be a weekday name, got %q", s)
}

func positiveInt(v *viper.Viper, key string) (int, error) {
	n := v.GetInt(key)
	if n < 1 {
		return 0, errors.Newf("%s must be a positive integer, got %q", strings.ToUpper(key), v.GetString(key))
	}
	return n, nil
}

func hour(v *viper.Viper, key string) (int, error) {
	raw := v.GetString(key)
	h := v.GetInt(key)
	if h < 0 || h > 23 || (h == 0 && strings.TrimSpace(raw) != "0") {
		return 0, errors.Newf("%s must be an hour between 0 and 23, got %q", strings.ToUpper(key), raw)
	}
	return h, nil
}

func positiveDuration(v *viper.Viper, key string) (time.Duration, error) {
	d := v.GetDuration(key)
	if d <= 0 {
		return 0, errors.Newf("%s must be a positive duration, got %q", strings.ToUpper(key), v.GetString(key))
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
