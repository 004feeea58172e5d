package events

import "encoding/json"

// Payloads are kept minimal and ID-based; handlers reload whatever else they
// need from the stream. Field names are part of the wire contract.

type RequestDiscoveredPayload struct {
	RequestID    string `json:"requestId"`
	PartitionKey string `json:"partitionKey"`
	RowKey       string `json:"rowKey"`
}

type SubmissionPreparedPayload struct {
	RequestID    string `json:"requestId"`
	PartitionKey string `json:"partitionKey"`
	RowKey       string `json:"rowKey"`
	Attempt      int    `json:"attempt"`
}

type JobSubmittedPayload struct {
	RequestID     string `json:"requestId"`
	PartitionKey  string `json:"partitionKey"`
	RowKey        string `json:"rowKey"`
	ExternalJobID string `json:"externalJobId"`
	Attempt       int    `json:"attempt"`
}

type JobPollRequestedPayload struct {
	RequestID     string `json:"requestId"`
	ExternalJobID string `json:"externalJobId"`
	Attempt       int    `json:"attempt"`
}

type JobTerminalPayload struct {
	RequestID      string         `json:"requestId"`
	ExternalJobID  string         `json:"externalJobId"`
	TerminalStatus TerminalStatus `json:"terminalStatus"`
	Attempt        int            `json:"attempt"`
}

type RequestCompletedPayload struct {
	RequestID   string      `json:"requestId"`
	FinalStatus FinalStatus `json:"finalStatus"`
}

// Helper to convert a payload to json.RawMessage

func marshalRaw(p any) (json.RawMessage, error) {
	b, err := json.Marshal(p)

	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func (p RequestDiscoveredPayload) JSON() (json.RawMessage, error)  { return marshalRaw(p) }
func (p SubmissionPreparedPayload) JSON() (json.RawMessage, error) { return marshalRaw(p) }
func (p JobSubmittedPayload) JSON() (json.RawMessage, error)       { return marshalRaw(p) }
func (p JobPollRequestedPayload) JSON() (json.RawMessage, error)   { return marshalRaw(p) }
func (p JobTerminalPayload) JSON() (json.RawMessage, error)        { return marshalRaw(p) }
func (p RequestCompletedPayload) JSON() (json.RawMessage, error)   { return marshalRaw(p) }
