package shared

import (
	"errors"
	"fmt"
	"time"

	"github.com/eatly-ai/eatly/internal/domain"
)

// ErrProviderNotConfigured is returned when no provider credential is set.
var ErrProviderNotConfigured = errors.New("provider API key not configured")

// ValidationError reports a missing or empty required input.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return e.Field + " is required"
}

// ProviderError wraps a failed call to the conversational-AI provider.
type ProviderError struct {
	Op     string
	Status int
	// Name classifies the status, e.g. RateLimitError. Empty when unknown.
	Name    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 && e.Name != "" {
		return fmt.Sprintf("OpenAI API Error: %d %s %s", e.Status, e.Name, e.Message)
	}
	if e.Status > 0 {
		return fmt.Sprintf("OpenAI API Error: %d %s", e.Status, e.Message)
	}
	return fmt.Sprintf("provider request failed during %s: %s", e.Op, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// JobFailedError reports a run that ended in a terminal state other than completed.
type JobFailedError struct {
	JobID   string
	State   domain.JobState
	Code    string
	Message string
}

func (e *JobFailedError) Error() string {
	msg := fmt.Sprintf("run %s finished with status %s", e.JobID, e.State)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// TimeoutError reports a run that did not finish within the polling budget.
type TimeoutError struct {
	JobID     string
	Polls     int
	Elapsed   time.Duration
	LastState domain.JobState
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for run %s: still %s after %d polls (%s)",
		e.JobID, e.LastState, e.Polls, e.Elapsed.Round(time.Millisecond))
}

// InvariantViolation reports a run status this service does not recognize.
// It signals a provider contract change and is never retried.
type InvariantViolation struct {
	JobID    string
	RawState string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("run %s reported unrecognized status %q", e.JobID, e.RawState)
}
