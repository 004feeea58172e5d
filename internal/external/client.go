package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/geocoder89/steward/internal/observability"
)

// Client talks to the remote job service. Both calls are safe to repeat:
// CreateJob carries an idempotency key derived from (requestId, attempt), so
// a retried submission returns the job created the first time.
type Client struct {
	baseURL string
	httpc   *http.Client
	prom    *observability.Prom
}

func NewClient(baseURL string, prom *observability.Prom) *Client {
	return &Client{
		baseURL: baseURL,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
		prom: prom,
	}
}

func (c *Client) observe(op string, fn func() error) error {
	if c.prom != nil {
		return c.prom.ObserveExternal(op, fn)
	}
	return fn()
}

// IdempotencyKeyFor is the key the remote service dedupes submissions on.
func IdempotencyKeyFor(requestID string, attempt int) string {
	return requestID + "|" + strconv.Itoa(attempt)
}

func (c *Client) CreateJob(ctx context.Context, requestID string, attempt int) (Job, error) {
	body, err := json.Marshal(CreateJobRequest{RequestID: requestID, Attempt: attempt})

	if err != nil {
		return Job{}, err
	}

	var out Job

	err = c.observe("create_job", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(body))
		if err != nil {
			return err
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Idempotency-Key", IdempotencyKeyFor(requestID, attempt))

		res, err := c.httpc.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()

		if res.StatusCode != http.StatusCreated && res.StatusCode != http.StatusOK {
			return fmt.Errorf("create job: unexpected status %d", res.StatusCode)
		}

		return json.NewDecoder(res.Body).Decode(&out)
	})

	if err != nil {
		return Job{}, err
	}

	if out.JobID == "" {
		return Job{}, fmt.Errorf("create job: empty job id in response")
	}

	return out, nil
}

func (c *Client) GetStatus(ctx context.Context, jobID string) (JobStatus, error) {
	var out Job

	err := c.observe("get_status", func() error {
		target := c.baseURL + "/jobs/" + url.PathEscape(jobID)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}

		res, err := c.httpc.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()

		if res.StatusCode == http.StatusNotFound {
			return ErrJobNotFound
		}
		if res.StatusCode != http.StatusOK {
			return fmt.Errorf("get status: unexpected status %d", res.StatusCode)
		}

		return json.NewDecoder(res.Body).Decode(&out)
	})

	if err != nil {
		return "", err
	}

	// unknown status values pass through raw, the poll handler decides
	return out.Status, nil
}
