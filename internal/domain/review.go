package domain

import "time"

// ReviewStatus is the outcome category of a visual review.
type ReviewStatus string

const (
	ReviewPassed        ReviewStatus = "passed"
	ReviewFailed        ReviewStatus = "failed"
	ReviewNeedsRevision ReviewStatus = "needs_revision"
)

// Review score thresholds. A review is accepted only when the reviewer set the
// passed flag and the score clears PassThreshold; scores between the two
// thresholds mean the script is close enough to revise rather than restart.
const (
	PassThreshold     = 0.8
	RevisionThreshold = 0.5
)

// DeriveStatus maps the reviewer's raw (passed, score) pair onto a status.
func DeriveStatus(passed bool, score float64) ReviewStatus {
	switch {
	case passed && score >= PassThreshold:
		return ReviewPassed
	case score >= RevisionThreshold:
		return ReviewNeedsRevision
	default:
		return ReviewFailed
	}
}

// ReviewFeedback is the result of one review call. It is created fresh per
// review, never mutated, and consumed as input to the next generation attempt.
type ReviewFeedback struct {
	Status      ReviewStatus       `json:"status"`
	Score       float64            `json:"score"`
	Issues      []string           `json:"issues,omitempty"`
	Suggestions []string           `json:"suggestions,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	ReviewedAt  time.Time          `json:"reviewed_at"`
}

// Passed reports whether the review accepted the output.
func (f ReviewFeedback) Passed() bool {
	return f.Status == ReviewPassed
}

// FailedFeedback builds a zero-score FAILED feedback, used when validation or
// preview capture short-circuits a review round.
func FailedFeedback(issue string, suggestions ...string) ReviewFeedback {
	return ReviewFeedback{
		Status:      ReviewFailed,
		Score:       0.0,
		Issues:      []string{issue},
		Suggestions: suggestions,
		ReviewedAt:  time.Now(),
	}
}
