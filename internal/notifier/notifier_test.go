package notifier

import (
	"context"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"jobmate/alert-service/internal/model"
	"jobmate/alert-service/internal/retry"
)

// memStore is an in-memory stand-in for both the job and subscription stores.
type memStore struct {
	jobs     []model.Job
	subs     []model.Subscription
	listErr  error
	findErr  map[string]error
	markErrs int // AdvanceWatermark fails this many times first
	writes   int
}

func (m *memStore) ListByFrequency(_ context.Context, f model.Frequency) ([]model.Subscription, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.Subscription
	for _, s := range m.subs {
		if s.Frequency == f {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) FindNewMatching(_ context.Context, keyword string, after int64) ([]model.Job, error) {
	if err := m.findErr[keyword]; err != nil {
		return nil, err
	}
	var out []model.Job
	for _, j := range m.jobs {
		if j.ID > after && strings.Contains(strings.ToLower(j.Title), strings.ToLower(keyword)) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memStore) AdvanceWatermark(_ context.Context, chatID int64, keyword string, id int64) (bool, error) {
	m.writes++
	if m.markErrs > 0 {
		m.markErrs--
		return false, errors.New("deadlock detected")
	}
	for i := range m.subs {
		s := &m.subs[i]
		if s.ChatID == chatID && s.Keyword == keyword && s.LastJobID < id {
			s.LastJobID = id
			return true, nil
		}
	}
	return false, nil
}

type fakeSender struct {
	sent  map[int64][]string
	fails map[int64][]error // consumed in order per chat
}

func (f *fakeSender) SendHTML(_ context.Context, chatID int64, text string) error {
	if errs := f.fails[chatID]; len(errs) > 0 {
		f.fails[chatID] = errs[1:]
		return errs[0]
	}
	if f.sent == nil {
		f.sent = map[int64][]string{}
	}
	f.sent[chatID] = append(f.sent[chatID], text)
	return nil
}

var instant = retry.Policy{Attempts: 3}

func newNotifier(t *testing.T, st *memStore, s *fakeSender) *Notifier {
	return New(st, st, s, 5, zaptest.NewLogger(t).Sugar()).WithPolicy(instant)
}

func threeJobs() []model.Job {
	return []model.Job{
		{ID: 1, Title: "Python Dev", URL: "https://x/1"},
		{ID: 2, Title: "Go Dev", URL: "https://x/2"},
		{ID: 3, Title: "Python Lead", URL: "https://x/3"},
	}
}

func TestRun_DeliversAndAdvancesWatermark(t *testing.T) {
	st := &memStore{
		jobs: threeJobs(),
		subs: []model.Subscription{{ChatID: 10, Keyword: "python", Frequency: model.FrequencyDaily}},
	}
	sender := &fakeSender{}
	n := newNotifier(t, st, sender)

	sum, err := n.Run(context.Background(), model.FrequencyDaily)
	require.NoError(t, err)

	require.Len(t, sender.sent[10], 1)
	msg := sender.sent[10][0]
	assert.Contains(t, msg, "Python Dev")
	assert.Contains(t, msg, "Python Lead")
	assert.NotContains(t, msg, "Go Dev")
	assert.Equal(t, int64(3), st.subs[0].LastJobID)
	assert.Equal(t, 1, sum.Notified)
	assert.Equal(t, 2, sum.JobsDelivered)
}

func TestRun_NoNewJobsNoMessageNoWrites(t *testing.T) {
	st := &memStore{
		jobs: threeJobs(),
		subs: []model.Subscription{{ChatID: 10, Keyword: "python", Frequency: model.FrequencyDaily, LastJobID: 3}},
	}
	sender := &fakeSender{}
	n := newNotifier(t, st, sender)

	sum, err := n.Run(context.Background(), model.FrequencyDaily)
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
	assert.Zero(t, st.writes)
	assert.Equal(t, 1, sum.Skipped)
}

func TestRun_ExhaustedRetriesKeepWatermark(t *testing.T) {
	transient := errors.New("connection reset")
	st := &memStore{
		jobs: threeJobs(),
		subs: []model.Subscription{{ChatID: 10, Keyword: "python", Frequency: model.FrequencyDaily}},
	}
	sender := &fakeSender{fails: map[int64][]error{10: {transient, transient, transient}}}
	n := newNotifier(t, st, sender)

	sum, err := n.Run(context.Background(), model.FrequencyDaily)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Zero(t, st.subs[0].LastJobID, "undelivered jobs stay eligible")
	assert.Zero(t, st.writes)

	// The next run delivers the same postings once the chat is reachable.
	sum, err = n.Run(context.Background(), model.FrequencyDaily)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Notified)
	assert.Equal(t, 2, sum.JobsDelivered)
	require.Len(t, sender.sent[10], 1)
	assert.Contains(t, sender.sent[10][0], "https://x/1")
	assert.Contains(t, sender.sent[10][0], "https://x/3")
	assert.NotContains(t, sender.sent[10][0], "https://x/2")
	assert.Equal(t, int64(3), st.subs[0].LastJobID)
}

func TestRun_RetrySucceedsOnThirdAttempt(t *testing.T) {
	transient := errors.New("429 too many requests")
	st := &memStore{
		jobs: threeJobs(),
		subs: []model.Subscription{{ChatID: 10, Keyword: "go", Frequency: model.FrequencyDaily}},
	}
	sender := &fakeSender{fails: map[int64][]error{10: {transient, transient}}}
	n := newNotifier(t, st, sender)

	sum, err := n.Run(context.Background(), model.FrequencyDaily)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Notified)
	assert.Equal(t, int64(2), st.subs[0].LastJobID)
}

func TestRun_PermanentFailureKeepsSubscriptionAndContinues(t *testing.T) {
	st := &memStore{
		jobs: threeJobs(),
		subs: []model.Subscription{
			{ChatID: 10, Keyword: "python", Frequency: model.FrequencyWeekly},
			{ChatID: 20, Keyword: "go", Frequency: model.FrequencyWeekly},
		},
	}
	sender := &fakeSender{fails: map[int64][]error{
		10: {retry.Permanent(errors.New("Forbidden: bot was blocked by the user"))},
	}}
	n := newNotifier(t, st, sender)

	sum, err := n.Run(context.Background(), model.FrequencyWeekly)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Notified)
	assert.Len(t, st.subs, 2)
	assert.Zero(t, st.subs[0].LastJobID)
	assert.Equal(t, int64(2), st.subs[1].LastJobID)
	assert.Len(t, sender.fails[10], 0, "a permanent error is not retried")
}

func TestRun_QueryErrorSkipsSubscriber(t *testing.T) {
	st := &memStore{
		jobs:    threeJobs(),
		findErr: map[string]error{"python": errors.New("statement timeout")},
		subs: []model.Subscription{
			{ChatID: 10, Keyword: "python", Frequency: model.FrequencyDaily},
			{ChatID: 20, Keyword: "go", Frequency: model.FrequencyDaily},
		},
	}
	sender := &fakeSender{}
	n := newNotifier(t, st, sender)

	sum, err := n.Run(context.Background(), model.FrequencyDaily)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Notified)
	assert.Zero(t, st.subs[0].LastJobID)
}

func TestRun_WatermarkWriteRetried(t *testing.T) {
	st := &memStore{
		jobs:     threeJobs(),
		markErrs: 2,
		subs:     []model.Subscription{{ChatID: 10, Keyword: "python", Frequency: model.FrequencyDaily}},
	}
	n := newNotifier(t, st, &fakeSender{})

	sum, err := n.Run(context.Background(), model.FrequencyDaily)
	require.NoError(t, err)
	assert.Equal(t, 3, st.writes)
	assert.Equal(t, int64(3), st.subs[0].LastJobID)
	assert.Zero(t, sum.WatermarkFailures)
}

func TestRun_OnlyRequestedTier(t *testing.T) {
	st := &memStore{
		jobs: threeJobs(),
		subs: []model.Subscription{
			{ChatID: 10, Keyword: "python", Frequency: model.FrequencyDaily},
			{ChatID: 20, Keyword: "python", Frequency: model.FrequencyWeekly},
		},
	}
	sender := &fakeSender{}
	n := newNotifier(t, st, sender)

	sum, err := n.Run(context.Background(), model.FrequencyWeekly)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Subscribers)
	assert.NotContains(t, sender.sent, int64(10))
	assert.Contains(t, sender.sent, int64(20))
}

func TestRun_LoadErrorIsFatal(t *testing.T) {
	st := &memStore{listErr: errors.New("relation does not exist")}
	_, err := newNotifier(t, st, &fakeSender{}).Run(context.Background(), model.FrequencyDaily)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load daily subscriptions")
}
