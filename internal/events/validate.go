package events

import "strings"

// ValidatePayload performs minimal required-field validation on decoded
// payloads before they are appended or acted on.
func ValidatePayload(t EventType, payload any) error {
	if !t.IsValid() {
		return ErrInvalidEventType
	}

	trim := func(s string) string { return strings.TrimSpace(s) }

	switch t {
	case TypeRequestDiscovered:
		p, ok := asDiscovered(payload)
		if !ok {
			return ErrPayloadTypeMismatch
		}
		if trim(p.RequestID) == "" || trim(p.PartitionKey) == "" || trim(p.RowKey) == "" {
			return ErrInvalidPayload
		}
		return nil

	case TypeSubmissionPrepared:
		p, ok := asPrepared(payload)
		if !ok {
			return ErrPayloadTypeMismatch
		}
		if trim(p.RequestID) == "" || p.Attempt < 1 {
			return ErrInvalidPayload
		}
		return nil

	case TypeJobSubmitted:
		p, ok := asSubmitted(payload)
		if !ok {
			return ErrPayloadTypeMismatch
		}
		if trim(p.RequestID) == "" || trim(p.ExternalJobID) == "" || p.Attempt < 1 {
			return ErrInvalidPayload
		}
		return nil

	case TypeJobPollRequested:
		p, ok := asPollRequested(payload)
		if !ok {
			return ErrPayloadTypeMismatch
		}
		if trim(p.RequestID) == "" || trim(p.ExternalJobID) == "" || p.Attempt < 1 {
			return ErrInvalidPayload
		}
		return nil

	case TypeJobTerminal:
		p, ok := asTerminal(payload)
		if !ok {
			return ErrPayloadTypeMismatch
		}
		if trim(p.RequestID) == "" || !p.TerminalStatus.IsValid() {
			return ErrInvalidPayload
		}
		return nil

	case TypeRequestCompleted:
		p, ok := asCompleted(payload)
		if !ok {
			return ErrPayloadTypeMismatch
		}
		if trim(p.RequestID) == "" || !p.FinalStatus.IsValid() {
			return ErrInvalidPayload
		}
		return nil

	default:
		return ErrInvalidEventType
	}
}

func asDiscovered(payload any) (RequestDiscoveredPayload, bool) {
	switch v := payload.(type) {
	case RequestDiscoveredPayload:
		return v, true
	case *RequestDiscoveredPayload:
		return *v, true
	default:
		return RequestDiscoveredPayload{}, false
	}
}

func asPrepared(payload any) (SubmissionPreparedPayload, bool) {
	switch v := payload.(type) {
	case SubmissionPreparedPayload:
		return v, true
	case *SubmissionPreparedPayload:
		return *v, true
	default:
		return SubmissionPreparedPayload{}, false
	}
}

func asSubmitted(payload any) (JobSubmittedPayload, bool) {
	switch v := payload.(type) {
	case JobSubmittedPayload:
		return v, true
	case *JobSubmittedPayload:
		return *v, true
	default:
		return JobSubmittedPayload{}, false
	}
}

func asPollRequested(payload any) (JobPollRequestedPayload, bool) {
	switch v := payload.(type) {
	case JobPollRequestedPayload:
		return v, true
	case *JobPollRequestedPayload:
		return *v, true
	default:
		return JobPollRequestedPayload{}, false
	}
}

func asTerminal(payload any) (JobTerminalPayload, bool) {
	switch v := payload.(type) {
	case JobTerminalPayload:
		return v, true
	case *JobTerminalPayload:
		return *v, true
	default:
		return JobTerminalPayload{}, false
	}
}

func asCompleted(payload any) (RequestCompletedPayload, bool) {
	switch v := payload.(type) {
	case RequestCompletedPayload:
		return v, true
	case *RequestCompletedPayload:
		return *v, true
	default:
		return RequestCompletedPayload{}, false
	}
}
