package events

import (
	"encoding/json"
	"fmt"
)

// EncodePayload marshals a typed payload after checking it matches the event
// type. Accepts the struct or a pointer to it.
func EncodePayload(t EventType, payload any) (json.RawMessage, error) {
	if !t.IsValid() {
		return nil, ErrInvalidEventType
	}

	ok := false

	switch t {
	case TypeRequestDiscovered:
		switch payload.(type) {
		case RequestDiscoveredPayload, *RequestDiscoveredPayload:
			ok = true
		}
	case TypeSubmissionPrepared:
		switch payload.(type) {
		case SubmissionPreparedPayload, *SubmissionPreparedPayload:
			ok = true
		}
	case TypeJobSubmitted:
		switch payload.(type) {
		case JobSubmittedPayload, *JobSubmittedPayload:
			ok = true
		}
	case TypeJobPollRequested:
		switch payload.(type) {
		case JobPollRequestedPayload, *JobPollRequestedPayload:
			ok = true
		}
	case TypeJobTerminal:
		switch payload.(type) {
		case JobTerminalPayload, *JobTerminalPayload:
			ok = true
		}
	case TypeRequestCompleted:
		switch payload.(type) {
		case RequestCompletedPayload, *RequestCompletedPayload:
			ok = true
		}
	}

	if !ok {
		return nil, ErrPayloadTypeMismatch
	}

	b, err := json.Marshal(payload)

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	return json.RawMessage(b), nil
}

// DecodePayload unmarshals an opaque stored payload into the typed struct for
// its event type. Stored events keep payloads as raw JSON so the store stays
// decoupled from the catalog; handlers filter by type first and decode on
// demand.
func DecodePayload(t EventType, raw json.RawMessage) (any, error) {
	if !t.IsValid() {
		return nil, ErrInvalidEventType
	}
	if len(raw) == 0 {
		return nil, ErrInvalidPayload
	}

	switch t {
	case TypeRequestDiscovered:
		var p RequestDiscoveredPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return p, nil

	case TypeSubmissionPrepared:
		var p SubmissionPreparedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return p, nil

	case TypeJobSubmitted:
		var p JobSubmittedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return p, nil

	case TypeJobPollRequested:
		var p JobPollRequestedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return p, nil

	case TypeJobTerminal:
		var p JobTerminalPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return p, nil

	case TypeRequestCompleted:
		var p RequestCompletedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return p, nil

	default:
		return nil, ErrInvalidEventType
	}
}
