package domain

// JobState is the lifecycle state of a provider run.
type JobState string

const (
	JobQueued     JobState = "queued"
	JobInProgress JobState = "in_progress"
	JobCancelling JobState = "cancelling"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
	JobCancelled  JobState = "cancelled"
	JobExpired    JobState = "expired"
	// JobUnknown marks a status outside the recognized set.
	JobUnknown JobState = "unknown"
)

// ParseJobState maps a raw provider status onto a JobState.
func ParseJobState(raw string) JobState {
	switch s := JobState(raw); s {
	case JobQueued, JobInProgress, JobCancelling,
		JobCompleted, JobFailed, JobCancelled, JobExpired:
		return s
	default:
		return JobUnknown
	}
}

// IsTerminal reports whether no further transitions will happen.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled, JobExpired:
		return true
	}
	return false
}

// IsActive reports whether the run is still being worked on.
func (s JobState) IsActive() bool {
	switch s {
	case JobQueued, JobInProgress, JobCancelling:
		return true
	}
	return false
}

// JobError is the provider's explanation for an unsuccessful run.
type JobError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Job is a single provider run over a conversation.
type Job struct {
	ID             string
	ConversationID string
	State          JobState
	// RawState keeps the provider's status verbatim, which matters when State is JobUnknown.
	RawState  string
	LastError JobError
}
