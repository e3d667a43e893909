package domain

import (
	"fmt"
	"regexp"
	"time"
)

var runIDRegex = regexp.MustCompile(`^video_(\d{8}_\d{6})$`)

// runIDLayout is the timestamp layout embedded in run identifiers.
const runIDLayout = "20060102_150405"

// RunID identifies one generation run. It is derived from the run's start
// timestamp so that persisted decomposition and result documents sort
// chronologically.
type RunID string

// NewRunID derives a run identifier from the given start time.
func NewRunID(t time.Time) RunID {
	return RunID("video_" + t.Format(runIDLayout))
}

// ParseRunID validates a run identifier string.
func ParseRunID(s string) (RunID, error) {
	m := runIDRegex.FindStringSubmatch(s)
	if m == nil {
		return "", fmt.Errorf("invalid run ID format: %q (expected video_YYYYMMDD_HHMMSS)", s)
	}
	if _, err := time.Parse(runIDLayout, m[1]); err != nil {
		return "", fmt.Errorf("invalid run ID timestamp: %q", s)
	}
	return RunID(s), nil
}

// String returns the canonical string representation.
func (id RunID) String() string {
	return string(id)
}

// Time extracts the start timestamp embedded in the identifier.
func (id RunID) Time() (time.Time, error) {
	m := runIDRegex.FindStringSubmatch(string(id))
	if m == nil {
		return time.Time{}, fmt.Errorf("invalid run ID: %q", id)
	}
	return time.Parse(runIDLayout, m[1])
}
