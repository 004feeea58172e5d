package events

// EventType names one entry of the closed workflow event catalog.
// The version suffix is part of the wire contract and never reused.
type EventType string

const (
	TypeRequestDiscovered  EventType = "request.discovered.v1"
	TypeSubmissionPrepared EventType = "submission.prepared.v1"
	TypeJobSubmitted       EventType = "job.submitted.v1"
	TypeJobPollRequested   EventType = "job.pollrequested.v1"
	TypeJobTerminal        EventType = "job.terminal.v1"
	TypeRequestCompleted   EventType = "request.completed.v1"
)

// check to see if the event type is a known catalog constant

func (t EventType) IsValid() bool {
	switch t {
	case TypeRequestDiscovered, TypeSubmissionPrepared, TypeJobSubmitted,
		TypeJobPollRequested, TypeJobTerminal, TypeRequestCompleted:
		return true
	default:
		return false
	}
}

// TerminalStatus is the remote outcome recorded by job.terminal.v1.
// FailCanRetry is only terminal once the retry budget is spent; a stored
// terminal event carrying it indicates a producer bug and is coerced to Fail
// downstream.
type TerminalStatus string

const (
	TerminalPass         TerminalStatus = "Pass"
	TerminalFail         TerminalStatus = "Fail"
	TerminalFailCanRetry TerminalStatus = "FailCanRetry"
)

func (s TerminalStatus) IsValid() bool {
	switch s {
	case TerminalPass, TerminalFail, TerminalFailCanRetry:
		return true
	default:
		return false
	}
}

// FinalStatus is the outcome written back to the intake store by
// request.completed.v1. Only Pass and Fail exist; there is no final retry.
type FinalStatus string

const (
	FinalPass FinalStatus = "Pass"
	FinalFail FinalStatus = "Fail"
)

func (s FinalStatus) IsValid() bool {
	return s == FinalPass || s == FinalFail
}
