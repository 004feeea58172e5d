package ops_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/geocoder89/steward/internal/domain/intake"
	"github.com/geocoder89/steward/internal/domain/workflow"
	"github.com/geocoder89/steward/internal/ops"
)

type fakeIntakeRepo struct {
	insertFn func(ctx context.Context, partitionKey, rowKey string) (intake.Row, error)
	getFn    func(ctx context.Context, partitionKey, rowKey string) (intake.Row, error)
}

func (f *fakeIntakeRepo) Insert(ctx context.Context, partitionKey, rowKey string) (intake.Row, error) {
	if f.insertFn != nil {
		return f.insertFn(ctx, partitionKey, rowKey)
	}
	return intake.Row{}, nil
}

func (f *fakeIntakeRepo) Get(ctx context.Context, partitionKey, rowKey string) (intake.Row, error) {
	if f.getFn != nil {
		return f.getFn(ctx, partitionKey, rowKey)
	}
	return intake.Row{}, intake.ErrRowNotFound
}

func TestSeedIntake(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name           string
		body           string
		repoSetup      func(*fakeIntakeRepo)
		wantStatusCode int
	}{
		{
			name: "success",
			body: `{"partitionKey": "batch-7", "rowKey": "row-1"}`,
			repoSetup: func(f *fakeIntakeRepo) {
				f.insertFn = func(ctx context.Context, partitionKey, rowKey string) (intake.Row, error) {
					return intake.Row{
						PartitionKey: partitionKey,
						RowKey:       rowKey,
						Status:       workflow.StatusUnprocessed,
						ETag:         "etag-1",
						CreatedAt:    now,
						UpdatedAt:    now,
					}, nil
				}
			},
			wantStatusCode: http.StatusCreated,
		},
		{
			name:           "missing_row_key",
			body:           `{"partitionKey": "batch-7"}`,
			repoSetup:      nil, // repo must not be called
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "separator_in_key",
			body:           `{"partitionKey": "batch|7", "rowKey": "row-1"}`,
			repoSetup:      nil,
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name: "duplicate_row",
			body: `{"partitionKey": "batch-7", "rowKey": "row-1"}`,
			repoSetup: func(f *fakeIntakeRepo) {
				f.insertFn = func(ctx context.Context, partitionKey, rowKey string) (intake.Row, error) {
					return intake.Row{}, intake.ErrRowExists
				}
			},
			wantStatusCode: http.StatusConflict,
		},
		{
			name: "repo_error",
			body: `{"partitionKey": "batch-7", "rowKey": "row-1"}`,
			repoSetup: func(f *fakeIntakeRepo) {
				f.insertFn = func(ctx context.Context, partitionKey, rowKey string) (intake.Row, error) {
					return intake.Row{}, errors.New("db error")
				}
			},
			wantStatusCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeIntakeRepo{}

			if tt.repoSetup != nil {
				tt.repoSetup(repo)
			}

			h := ops.NewIntakeHandler(repo)

			r := setupRouter(http.MethodPost, "/admin/intake", h.Seed)

			req := httptest.NewRequest(http.MethodPost, "/admin/intake", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}

func TestGetIntakeRow_IfNoneMatchVariants(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	repo := &fakeIntakeRepo{}
	repo.getFn = func(ctx context.Context, partitionKey, rowKey string) (intake.Row, error) {
		return intake.Row{
			PartitionKey: partitionKey,
			RowKey:       rowKey,
			Status:       workflow.StatusPass,
			ETag:         "etag-9",
			CreatedAt:    now,
			UpdatedAt:    now,
		}, nil
	}

	h := ops.NewIntakeHandler(repo)
	r := setupRouter(http.MethodGet, "/admin/intake/:partitionKey/:rowKey", h.Get)

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/admin/intake/batch-7/row-1", nil))

	etag := first.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag on first response")
	}

	tests := []struct {
		name           string
		ifNoneMatch    string
		wantStatusCode int
	}{
		{name: "exact_match", ifNoneMatch: etag, wantStatusCode: http.StatusNotModified},
		{name: "weak_form_matches", ifNoneMatch: "W/" + etag, wantStatusCode: http.StatusNotModified},
		{name: "wildcard_matches", ifNoneMatch: "*", wantStatusCode: http.StatusNotModified},
		{name: "list_with_match", ifNoneMatch: `"stale", ` + etag, wantStatusCode: http.StatusNotModified},
		{name: "no_match", ifNoneMatch: `"stale"`, wantStatusCode: http.StatusOK},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/intake/batch-7/row-1", nil)
			req.Header.Set("If-None-Match", tt.ifNoneMatch)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d", w.Code, tt.wantStatusCode)
			}
		})
	}
}

func TestGetIntakeRow(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name           string
		url            string
		repoSetup      func(*fakeIntakeRepo)
		wantStatusCode int
	}{
		{
			name: "success",
			url:  "/admin/intake/batch-7/row-1",
			repoSetup: func(f *fakeIntakeRepo) {
				f.getFn = func(ctx context.Context, partitionKey, rowKey string) (intake.Row, error) {
					return intake.Row{
						PartitionKey: partitionKey,
						RowKey:       rowKey,
						Status:       workflow.StatusPass,
						ETag:         "etag-9",
						CreatedAt:    now,
						UpdatedAt:    now,
					}, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "not_found",
			url:            "/admin/intake/batch-7/missing",
			repoSetup:      nil,
			wantStatusCode: http.StatusNotFound,
		},
		{
			name: "repo_error",
			url:  "/admin/intake/batch-7/row-1",
			repoSetup: func(f *fakeIntakeRepo) {
				f.getFn = func(ctx context.Context, partitionKey, rowKey string) (intake.Row, error) {
					return intake.Row{}, errors.New("db error")
				}
			},
			wantStatusCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeIntakeRepo{}

			if tt.repoSetup != nil {
				tt.repoSetup(repo)
			}

			h := ops.NewIntakeHandler(repo)

			r := setupRouter(http.MethodGet, "/admin/intake/:partitionKey/:rowKey", h.Get)

			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}

			if tt.name != "success" {
				return
			}

			if w.Header().Get("ETag") == "" {
				t.Fatal("expected ETag header on row response")
			}

			var row intake.Row
			if err := json.Unmarshal(w.Body.Bytes(), &row); err != nil {
				t.Fatalf("failed to unmarshal row: %v", err)
			}
			if row.Status != workflow.StatusPass {
				t.Fatalf("got status %q, want Pass", row.Status)
			}
		})
	}
}
