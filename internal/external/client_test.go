package external

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateJob_SendsIdempotencyKey(t *testing.T) {
	var gotKey string
	var gotBody CreateJobRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/jobs" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}

		gotKey = r.Header.Get("X-Idempotency-Key")

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Job{JobID: "J-001", Status: StatusCreated})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)

	job, err := c.CreateJob(context.Background(), "pA|rK", 2)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if job.JobID != "J-001" {
		t.Fatalf("expected J-001, got %s", job.JobID)
	}
	if job.Status != StatusCreated {
		t.Fatalf("expected Created, got %s", job.Status)
	}
	if gotKey != "pA|rK|2" {
		t.Fatalf("expected idempotency key pA|rK|2, got %s", gotKey)
	}
	if gotBody.RequestID != "pA|rK" || gotBody.Attempt != 2 {
		t.Fatalf("unexpected body %+v", gotBody)
	}
}

func TestCreateJob_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)

	if _, err := c.CreateJob(context.Background(), "pA|rK", 1); err == nil {
		t.Fatalf("expected error on 5xx")
	}
}

func TestGetStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jobs/J-001" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Job{JobID: "J-001", Status: StatusPass})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)

	status, err := c.GetStatus(context.Background(), "J-001")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != StatusPass {
		t.Fatalf("expected Pass, got %s", status)
	}

	if _, err := c.GetStatus(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}
