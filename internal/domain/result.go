package domain

import "time"

// ExecutionResult is the terminal record of one executor invocation.
type ExecutionResult struct {
	Success   bool          `json:"success"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Artifacts []string      `json:"artifacts,omitempty"`
}

// SubProcessOutcome records how one sub-process fared across its iteration loop.
type SubProcessOutcome struct {
	Type       SubProcess `json:"type"`
	Accepted   bool       `json:"accepted"`
	Iterations int        `json:"iterations"`
	Score      float64    `json:"score,omitempty"`
	FailReason string     `json:"fail_reason,omitempty"`

	// Script is the accepted contribution; empty unless Accepted. A rejected
	// attempt must never reach the final concatenation.
	Script string `json:"script,omitempty"`
}

// RunError is one structured error entry in a run result.
type RunError struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
}

// RunResult is the aggregate record of one generateVideo call. It is built
// incrementally over the run, persisted at the end, and never mutated by
// callers.
type RunResult struct {
	RunID           RunID               `json:"run_id"`
	Success         bool                `json:"success"`
	OutputPath      string              `json:"output_path,omitempty"`
	Description     string              `json:"description"`
	Outcomes        []SubProcessOutcome `json:"outcomes"`
	TotalIterations int                 `json:"total_iterations"`
	Elapsed         time.Duration       `json:"elapsed"`
	Errors          []RunError          `json:"errors,omitempty"`
	FinalScore      *float64            `json:"final_score,omitempty"`
	FinalReview     *ReviewFeedback     `json:"final_review,omitempty"`
}

// AddError appends a structured error entry.
func (r *RunResult) AddError(phase, message string) {
	r.Errors = append(r.Errors, RunError{Phase: phase, Message: message})
}
