package external

import "errors"

// JobStatus is the remote service's view of a job. Created and Inprogress
// mean "poll again later"; the other three are decisions.
type JobStatus string

const (
	StatusCreated      JobStatus = "Created"
	StatusInprogress   JobStatus = "Inprogress"
	StatusPass         JobStatus = "Pass"
	StatusFail         JobStatus = "Fail"
	StatusFailCanRetry JobStatus = "FailCanRetry"
)

func (s JobStatus) IsValid() bool {
	switch s {
	case StatusCreated, StatusInprogress, StatusPass, StatusFail, StatusFailCanRetry:
		return true
	default:
		return false
	}
}

// Settled reports whether the remote side is done with the job.
func (s JobStatus) Settled() bool {
	return s == StatusPass || s == StatusFail || s == StatusFailCanRetry
}

var ErrJobNotFound = errors.New("external job not found")

type Job struct {
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
}

type CreateJobRequest struct {
	RequestID string `json:"requestId" binding:"required"`
	Attempt   int    `json:"attempt" binding:"required,min=1"`
}
