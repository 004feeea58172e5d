package workflow

import (
	"errors"
	"testing"
)

func TestNewRequestID(t *testing.T) {
	id, err := NewRequestID("pA", "rK")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.String() != "pA|rK" {
		t.Fatalf("expected pA|rK, got %s", id.String())
	}

	if _, err := NewRequestID("", "rK"); !errors.Is(err, ErrInvalidRequestID) {
		t.Fatalf("expected ErrInvalidRequestID for empty partition key, got %v", err)
	}
	if _, err := NewRequestID("pA", ""); !errors.Is(err, ErrInvalidRequestID) {
		t.Fatalf("expected ErrInvalidRequestID for empty row key, got %v", err)
	}
	if _, err := NewRequestID("p|A", "rK"); !errors.Is(err, ErrInvalidRequestID) {
		t.Fatalf("expected ErrInvalidRequestID for separator in key, got %v", err)
	}
}

func TestParseRequestID(t *testing.T) {
	id, err := ParseRequestID("pA|rK")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.PartitionKey != "pA" || id.RowKey != "rK" {
		t.Fatalf("expected pA/rK, got %s/%s", id.PartitionKey, id.RowKey)
	}

	bad := []string{"", "pA", "pA|", "|rK", "pA|rK|x", "||"}
	for _, s := range bad {
		if _, err := ParseRequestID(s); !errors.Is(err, ErrInvalidRequestID) {
			t.Fatalf("expected ErrInvalidRequestID for %q, got %v", s, err)
		}
	}
}
