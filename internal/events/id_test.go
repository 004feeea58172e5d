package events

import (
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestDeterministicID_SameInputsSameID(t *testing.T) {
	corr := strPtr("corr-1")
	caus := strPtr("caus-1")

	a, err := DeterministicID("pA|rK", TypeSubmissionPrepared, corr, caus, "attempt:1")
	if err != nil {
		t.Fatalf("DeterministicID error: %v", err)
	}

	b, err := DeterministicID("pA|rK", TypeSubmissionPrepared, corr, caus, "attempt:1")
	if err != nil {
		t.Fatalf("DeterministicID error: %v", err)
	}

	if a != b {
		t.Fatalf("expected identical ids, got %s and %s", a, b)
	}
}

func TestDeterministicID_DiscriminatorChangesID(t *testing.T) {
	a, err := DeterministicID("pA|rK", TypeSubmissionPrepared, nil, nil, "attempt:1")
	if err != nil {
		t.Fatalf("DeterministicID error: %v", err)
	}

	b, err := DeterministicID("pA|rK", TypeSubmissionPrepared, nil, nil, "attempt:2")
	if err != nil {
		t.Fatalf("DeterministicID error: %v", err)
	}

	if a == b {
		t.Fatalf("expected distinct ids for distinct discriminators, both were %s", a)
	}
}

func TestDeterministicID_NilAndEmptyOptionalCollapse(t *testing.T) {
	a, err := DeterministicID("pA|rK", TypeRequestDiscovered, nil, nil, "")
	if err != nil {
		t.Fatalf("DeterministicID error: %v", err)
	}

	b, err := DeterministicID("pA|rK", TypeRequestDiscovered, strPtr(""), strPtr(""), "")
	if err != nil {
		t.Fatalf("DeterministicID error: %v", err)
	}

	if a != b {
		t.Fatalf("nil and empty optionals should normalize identically, got %s and %s", a, b)
	}
}

func TestDeterministicID_URLSafe(t *testing.T) {
	id, err := DeterministicID("pA|rK", TypeJobTerminal, strPtr("c"), nil, "attempt:3|job:J-1|status:Pass")
	if err != nil {
		t.Fatalf("DeterministicID error: %v", err)
	}

	if strings.ContainsAny(id, "+/=") {
		t.Fatalf("id %q is not url-safe unpadded base64", id)
	}
}

func TestDeterministicID_RequiredInputs(t *testing.T) {
	if _, err := DeterministicID("", TypeRequestDiscovered, nil, nil, ""); err == nil {
		t.Fatalf("expected error for empty aggregate id")
	}

	if _, err := DeterministicID("pA|rK", EventType(""), nil, nil, ""); err == nil {
		t.Fatalf("expected error for empty event type")
	}
}
