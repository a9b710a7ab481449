package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/alert-service/internal/model"
)

// ── ParseFrequency ─────────────────────────────────────────────────────────

func TestParseFrequency_ValidValues(t *testing.T) {
	for in, want := range map[string]model.Frequency{
		"daily":   model.FrequencyDaily,
		"weekly":  model.FrequencyWeekly,
		" Daily ": model.FrequencyDaily,
		"WEEKLY":  model.FrequencyWeekly,
	} {
		got, err := model.ParseFrequency(in)
		require.NoError(t, err, "ParseFrequency(%q)", in)
		assert.Equal(t, want, got)
	}
}

func TestParseFrequency_Invalid(t *testing.T) {
	for _, in := range []string{"", "monthly", "freq_daily", "hourly"} {
		_, err := model.ParseFrequency(in)
		assert.Error(t, err, "ParseFrequency(%q)", in)
	}
}

func TestFrequencyLabel(t *testing.T) {
	assert.Equal(t, "Daily", model.FrequencyDaily.Label())
	assert.Equal(t, "Weekly", model.FrequencyWeekly.Label())
}

// ── Subscription.Matches ───────────────────────────────────────────────────

func TestMatches_KeywordAndWatermark(t *testing.T) {
	jobs := []model.Job{
		{ID: 1, Title: "Python Dev"},
		{ID: 2, Title: "Go Dev"},
		{ID: 3, Title: "Python Lead"},
	}
	sub := model.Subscription{Keyword: "python", LastJobID: 0}

	var got []int64
	for _, j := range jobs {
		if sub.Matches(j) {
			got = append(got, j.ID)
		}
	}
	assert.Equal(t, []int64{1, 3}, got)

	sub.LastJobID = 3
	for _, j := range jobs {
		assert.False(t, sub.Matches(j), "job %d should be below the watermark", j.ID)
	}
}

func TestMatches_CaseInsensitiveSubstring(t *testing.T) {
	sub := model.Subscription{Keyword: "CyBer"}
	assert.True(t, sub.Matches(model.Job{ID: 9, Title: "Senior CYBERSECURITY Analyst"}))
	assert.False(t, sub.Matches(model.Job{ID: 9, Title: "Cy ber"}))
}
