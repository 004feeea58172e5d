package handlers

import (
	"context"
	"errors"
	"testing"
)

func TestRepublisher_ReplaysWholeStream(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()
	requestID := "pA|rK"

	history := te.seedSubmitted(t, requestID, "pA", "rK", 1, "J-001")

	n, err := NewRepublisher(te.deps).Republish(ctx, requestID)

	if err != nil || n != len(history) {
		t.Fatalf("Republish = (%d, %v), want (%d, nil)", n, err, len(history))
	}

	published := te.bus.events()

	if len(published) != len(history) {
		t.Fatalf("published %d events, want %d", len(published), len(history))
	}
	for i := range history {
		if published[i].EventID != history[i].EventID {
			t.Fatalf("published[%d] id = %s, want %s", i, published[i].EventID, history[i].EventID)
		}
		if published[i].Type != history[i].EventType {
			t.Fatalf("published[%d] type = %s, want %s", i, published[i].Type, history[i].EventType)
		}
	}
}

func TestRepublisher_UnknownStream(t *testing.T) {
	te := newTestEnv(t)

	if _, err := NewRepublisher(te.deps).Republish(context.Background(), "pZ|missing"); !errors.Is(err, ErrStreamNotFound) {
		t.Fatalf("err = %v, want ErrStreamNotFound", err)
	}
}
