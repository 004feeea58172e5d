package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// RequestID is the canonical workflow identifier "{partitionKey}|{rowKey}".
// It doubles as the event stream id for the request.
type RequestID struct {
	PartitionKey string
	RowKey       string
}

var ErrInvalidRequestID = errors.New("invalid request id")

func NewRequestID(partitionKey, rowKey string) (RequestID, error) {
	if partitionKey == "" || rowKey == "" {
		return RequestID{}, fmt.Errorf("%w: partition key and row key are required", ErrInvalidRequestID)
	}
	if strings.Contains(partitionKey, "|") || strings.Contains(rowKey, "|") {
		return RequestID{}, fmt.Errorf("%w: keys must not contain the separator", ErrInvalidRequestID)
	}

	return RequestID{PartitionKey: partitionKey, RowKey: rowKey}, nil
}

// ParseRequestID expects exactly one separator with non-empty sides.
func ParseRequestID(s string) (RequestID, error) {
	parts := strings.Split(s, "|")

	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return RequestID{}, fmt.Errorf("%w: %q", ErrInvalidRequestID, s)
	}

	return RequestID{PartitionKey: parts[0], RowKey: parts[1]}, nil
}

func (r RequestID) String() string {
	return r.PartitionKey + "|" + r.RowKey
}

func (r RequestID) IsZero() bool {
	return r.PartitionKey == "" && r.RowKey == ""
}
