// Package api implements the HTTP surface of the alert service.
//
// Routes:
//
//	GET    /health                  → liveness
//	POST   /api/subscribe           → create or replace a subscription
//	DELETE /api/unsubscribe         → remove a subscription
//	GET    /api/subscriptions       → list a chat's subscriptions
//	GET    /api/scrape              → start a scrape (?wait=true blocks)
//	GET    /api/cron_scrape         → alias of /api/scrape
//	GET    /api/cron_daily          → notify the daily tier
//	GET    /api/cron_weekly         → notify the weekly tier
//	GET    /api/cron                → run whatever the clock says is due
//
// Trigger routes require "Authorization: Bearer <CRON_SECRET>" when a secret
// is configured.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"jobmate/alert-service/internal/model"
	"jobmate/alert-service/internal/notifier"
	"jobmate/alert-service/internal/scheduler"
	"jobmate/alert-service/internal/scraper"
	"jobmate/alert-service/internal/subscription"
)

// Subscriptions is the subscription service used by the handlers.
type Subscriptions interface {
	Subscribe(ctx context.Context, chatID int64, keyword string, freq model.Frequency) (string, error)
	Unsubscribe(ctx context.Context, chatID int64, keyword string) (string, error)
	List(ctx context.Context, chatID int64) ([]model.Subscription, error)
}

// Runs starts scrape and notify runs.
type Runs interface {
	Scrape(ctx context.Context) (*scraper.Stats, error)
	ScrapeAsync(ctx context.Context) (string, error)
	Notify(ctx context.Context, freq model.Frequency) (*notifier.Summary, error)
	NotifyAsync(ctx context.Context, freqs ...model.Frequency) (string, error)
}

// Handler holds shared dependencies.
type Handler struct {
	subs       Subscriptions
	runs       Runs
	window     scheduler.Window
	cronSecret string
	now        func() time.Time
	log        *zap.SugaredLogger
}

// NewHandler returns a configured Handler.
func NewHandler(subs Subscriptions, runs Runs, window scheduler.Window, cronSecret string, log *zap.SugaredLogger) *Handler {
	return &Handler{
		subs:       subs,
		runs:       runs,
		window:     window,
		cronSecret: cronSecret,
		now:        time.Now,
		log:        log,
	}
}

// RegisterRoutes mounts every API route on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/subscribe", h.handleSubscribe)
	mux.HandleFunc("/api/unsubscribe", h.handleUnsubscribe)
	mux.HandleFunc("/api/subscriptions", h.handleSubscriptions)

	mux.HandleFunc("/api/scrape", h.trigger(h.handleScrape))
	mux.HandleFunc("/api/cron_scrape", h.trigger(h.handleScrape))
	mux.HandleFunc("/api/cron_daily", h.trigger(h.notifyTier(model.FrequencyDaily)))
	mux.HandleFunc("/api/cron_weekly", h.trigger(h.notifyTier(model.FrequencyWeekly)))
	mux.HandleFunc("/api/cron", h.trigger(h.handleCron))
}

// ─── Subscriptions ───────────────────────────────────────────────────────────

// subscriptionRequest accepts the legacy ch_id field alongside chat_id.
type subscriptionRequest struct {
	ChatID    flexID `json:"chat_id"`
	ChID      flexID `json:"ch_id"`
	Keyword   string `json:"keyword"`
	Frequency string `json:"frequency"`
}

func (req subscriptionRequest) chatID() (int64, error) {
	raw := string(req.ChatID)
	if raw == "" {
		raw = string(req.ChID)
	}
	return subscription.ParseChatID(raw)
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body subscriptionRequest
	if err := decodeBody(w, r, &body); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	chatID, err := body.chatID()
	if err != nil {
		h.writeError(w, "subscribe", err)
		return
	}
	freq, err := model.ParseFrequency(body.Frequency)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	kw, err := h.subs.Subscribe(r.Context(), chatID, body.Keyword, freq)
	if err != nil {
		h.writeError(w, "subscribe", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"status":    "success",
		"message":   "Subscribed",
		"chat_id":   strconv.FormatInt(chatID, 10),
		"keyword":   kw,
		"frequency": freq,
	})
}

func (h *Handler) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body subscriptionRequest
	if err := decodeBody(w, r, &body); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	chatID, err := body.chatID()
	if err != nil {
		h.writeError(w, "unsubscribe", err)
		return
	}

	kw, err := h.subs.Unsubscribe(r.Context(), chatID, body.Keyword)
	if err != nil {
		h.writeError(w, "unsubscribe", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Unsubscribed",
		"keyword": kw,
	})
}

func (h *Handler) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chatID, err := subscription.ParseChatID(r.URL.Query().Get("chat_id"))
	if err != nil {
		h.writeError(w, "list subscriptions", err)
		return
	}
	subs, err := h.subs.List(r.Context(), chatID)
	if err != nil {
		h.writeError(w, "list subscriptions", err)
		return
	}
	if subs == nil {
		subs = []model.Subscription{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "success",
		"subscriptions": subs,
	})
}

// ─── Triggers ────────────────────────────────────────────────────────────────

// trigger wraps a run endpoint with the GET check and bearer authentication.
func (h *Handler) trigger(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.cronSecret != "" {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) != 1 {
				jsonError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (h *Handler) handleScrape(w http.ResponseWriter, r *http.Request) {
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		stats, err := h.runs.Scrape(r.Context())
		if err != nil {
			h.writeRunError(w, "Scraping", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "success",
			"message": "Scraping complete",
			"stats":   stats,
		})
		return
	}

	runID, err := h.runs.ScrapeAsync(r.Context())
	if err != nil {
		h.writeRunError(w, "Scraping", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Scraping started",
		"run_id":  runID,
	})
}

func (h *Handler) notifyTier(freq model.Frequency) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := h.runs.Notify(r.Context(), freq)
		if err != nil {
			h.writeRunError(w, freq.Label()+" notification", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "success",
			"message": freq.Label() + " notifications sent",
			"summary": sum,
		})
	}
}

func (h *Handler) handleCron(w http.ResponseWriter, r *http.Request) {
	plan := h.window.Plan(h.now())
	resp := map[string]any{
		"status":  "success",
		"message": plan.Message(),
		"hour":    plan.Local.Hour(),
		"minute":  plan.Local.Minute(),
	}

	var (
		runID string
		err   error
	)
	switch {
	case plan.Scrape:
		runID, err = h.runs.ScrapeAsync(r.Context())
	case len(plan.Frequencies) > 0:
		runID, err = h.runs.NotifyAsync(r.Context(), plan.Frequencies...)
	default:
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if err != nil {
		h.writeRunError(w, plan.Message(), err)
		return
	}
	resp["run_id"] = runID
	writeJSON(w, http.StatusOK, resp)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// writeError maps service errors to status codes.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	var ve *subscription.ValidationError
	switch {
	case errors.As(err, &ve):
		jsonError(w, ve.Msg, http.StatusBadRequest)
	case errors.Is(err, subscription.ErrNotFound):
		jsonError(w, "subscription not found", http.StatusNotFound)
	default:
		h.log.Errorw("request failed", "op", op, "error", err)
		jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeRunError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, scheduler.ErrBusy) {
		jsonError(w, what+" already in progress", http.StatusTooManyRequests)
		return
	}
	h.log.Errorw("run failed", "run", what, "error", err)
	jsonError(w, what+" failed", http.StatusInternalServerError)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"status": "error", "message": msg})
}

// flexID decodes a JSON string or number into its decimal text.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.Wrap(err, "chat id must be a string or number")
	}
	*f = flexID(n.String())
	return nil
}
