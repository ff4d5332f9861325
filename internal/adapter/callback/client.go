// Package callback implements the Callback Client (C3): HTTP PUT delivery of
// job status to the tenant platform, grounded line-for-line on
// original_source/TTS/.../backend/core/webhook_handler.py's set_inprogress /
// set_completed / set_failed trio (requests.put with status/output query
// params, multipart outputFile for completed artifacts).
package callback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/ai-infra/jobpipeline/internal/adapter/observability"
	"github.com/ai-infra/jobpipeline/internal/domain"
)

// circuitBreakerThreshold and circuitBreakerCooldown bound how many
// consecutive webhook failures trip a flavor's breaker and how long it stays
// open before allowing a half-open probe, shielding a down tenant endpoint
// from a steady stream of doomed HTTP attempts.
const (
	circuitBreakerThreshold = 5
	circuitBreakerCooldown  = 30 * time.Second
)

// Client implements domain.CallbackClient over net/http with a bounded
// per-request timeout. It never retries internally (spec.md §4.3); retries
// are the Result Consumer/replay path's responsibility. Outbound calls are
// shielded by a per-flavor circuit breaker so a tenant endpoint that is down
// doesn't accumulate a blocking HTTP attempt per result message.
type Client struct {
	BaseURL string
	Jobs    domain.JobStore
	Flavor  string // used for metrics labeling and as the circuit breaker name
	HTTP    *http.Client
	CB      *observability.CircuitBreaker
}

// New constructs a Client with the given tenant base URL and per-request timeout.
func New(baseURL string, jobs domain.JobStore, flavor string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: baseURL,
		Jobs:    jobs,
		Flavor:  flavor,
		HTTP:    &http.Client{Timeout: timeout},
		CB:      observability.GetCircuitBreaker("callback."+flavor, circuitBreakerThreshold, circuitBreakerCooldown),
	}
}

// SetInProgress notifies the tenant platform that a job has started. Per
// spec.md §4.3 the client never raises network/timeout errors to the caller;
// it always returns nil and records the observed outcome on the Job Store.
func (c *Client) SetInProgress(ctx domain.Context, id string) error {
	return c.put(ctx, id, domain.WebhookInProgress, "", "")
}

// SetCompleted notifies the tenant platform of a completed job. When
// artifactPath is non-empty the result is attached as multipart file field
// "outputFile"; otherwise resultInline is sent as the output query parameter.
func (c *Client) SetCompleted(ctx domain.Context, id string, resultInline string, artifactPath string) error {
	return c.put(ctx, id, domain.WebhookCompleted, resultInline, artifactPath)
}

// SetFailed notifies the tenant platform that a job has failed.
func (c *Client) SetFailed(ctx domain.Context, id string, errMsg string) error {
	return c.put(ctx, id, domain.WebhookFailed, "", "")
}

func (c *Client) put(ctx domain.Context, id string, verb domain.WebhookVerb, resultInline string, artifactPath string) error {
	req, err := c.buildRequest(ctx, id, verb, resultInline, artifactPath)
	if err != nil {
		// A request we couldn't even build (e.g. missing artifact file) still
		// counts as a failed delivery attempt, recorded the same as a network error.
		c.record(ctx, id, verb, 0)
		return nil
	}

	var statusCode int
	err = c.CB.Call(func() error {
		resp, doErr := c.HTTP.Do(req)
		if doErr != nil {
			return doErr
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, resp.Body)
		statusCode = resp.StatusCode
		if resp.StatusCode >= 500 {
			return fmt.Errorf("tenant endpoint returned %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		slog.Warn("webhook delivery failed", slog.String("job_id", id), slog.String("verb", string(verb)), slog.Any("error", err))
		c.record(ctx, id, verb, statusCode)
		return nil
	}

	c.record(ctx, id, verb, statusCode)
	return nil
}

func (c *Client) buildRequest(ctx domain.Context, id string, verb domain.WebhookVerb, resultInline string, artifactPath string) (*http.Request, error) {
	target := fmt.Sprintf("%s/api/Request/%s", c.BaseURL, id)

	if verb == domain.WebhookCompleted && artifactPath != "" {
		return c.buildMultipartRequest(ctx, target, verb, artifactPath)
	}

	output := "{}"
	if verb == domain.WebhookCompleted && resultInline != "" {
		output = resultInline
	}
	q := url.Values{}
	q.Set("status", fmt.Sprintf("%d", domain.TenantStatusCode(verb)))
	q.Set("output", output)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("op=callback.build_request: %w", err)
	}
	req.Header.Set("Accept", "*/*")
	return req, nil
}

func (c *Client) buildMultipartRequest(ctx domain.Context, target string, verb domain.WebhookVerb, artifactPath string) (*http.Request, error) {
	f, err := os.Open(artifactPath)
	if err != nil {
		return nil, fmt.Errorf("op=callback.open_artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("outputFile", filenameOf(artifactPath))
	if err != nil {
		return nil, fmt.Errorf("op=callback.multipart_field: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("op=callback.multipart_copy: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("op=callback.multipart_close: %w", err)
	}

	q := url.Values{}
	q.Set("status", fmt.Sprintf("%d", domain.TenantStatusCode(verb)))
	q.Set("output", "{}")

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target+"?"+q.Encode(), &buf)
	if err != nil {
		return nil, fmt.Errorf("op=callback.build_request: %w", err)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

func filenameOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// record persists the webhook status code and, for terminal verbs, bumps
// webhook_retry_count, then records the same outcome as a metric.
func (c *Client) record(ctx domain.Context, id string, verb domain.WebhookVerb, statusCode int) {
	if err := c.Jobs.RecordWebhookAttempt(ctx, id, statusCode, verb.CountsAsRetry()); err != nil {
		slog.Error("record webhook attempt failed", slog.String("job_id", id), slog.Any("error", err))
	}
	outcome := "failure"
	if statusCode == http.StatusOK {
		outcome = "success"
	}
	observability.RecordWebhookAttempt(c.Flavor, string(verb), outcome)
}
