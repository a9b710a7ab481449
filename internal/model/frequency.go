package model

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Frequency is the notification tier of a subscription. Values mirror the
// CHECK constraint on subscriptions.frequency.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// Frequencies lists every tier in the order they are offered to users.
var Frequencies = []Frequency{FrequencyDaily, FrequencyWeekly}

// ParseFrequency converts raw input to a Frequency. Input is trimmed and
// case-folded; anything other than daily or weekly is rejected.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FrequencyDaily, FrequencyWeekly:
		return f, nil
	}
	return "", errors.Newf("unknown frequency %q (expected daily or weekly)", s)
}

// Label is the human-readable name used in bot replies.
func (f Frequency) Label() string {
	switch f {
	case FrequencyDaily:
		return "Daily"
	case FrequencyWeekly:
		return "Weekly"
	}
	return string(f)
}
