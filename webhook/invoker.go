// Package webhook invokes remote workflows exposed as webhook endpoints,
// the way workflow automation platforms publish them. Parameters travel as
// query parameters for GET endpoints and as a JSON body for POST endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deepnoodle-ai/relay"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Options configures an Invoker.
type Options struct {
	// Endpoint is the base URL of the webhook host, e.g.
	// "https://automation.example.com/webhook". The workflow ID is appended
	// as a path segment. Required.
	Endpoint string

	// Method is how parameters are delivered: "GET" sends them as query
	// parameters, "POST" as a JSON body. Defaults to POST.
	Method string

	// AuthToken, when set, is sent verbatim in the Authorization header.
	AuthToken string

	// Timeout bounds each HTTP request. Defaults to 10 seconds.
	Timeout time.Duration

	// MaxInFlight caps concurrent requests from this invoker. This is the
	// transport's own ceiling, independent of any batch concurrency the
	// orchestrator applies. Defaults to 16.
	MaxInFlight int64

	// RequestsPerSecond rate-limits outgoing requests when positive.
	RequestsPerSecond float64

	// HTTPClient overrides the default client.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Invoker calls webhook-published workflows over HTTP. It implements
// relay.Invoker and is safe for concurrent use.
type Invoker struct {
	endpoint  string
	method    string
	authToken string
	timeout   time.Duration
	client    *http.Client
	slots     *semaphore.Weighted
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// Confirm the interface is implemented correctly.
var _ relay.Invoker = (*Invoker)(nil)

// New creates a webhook Invoker.
func New(opts Options) (*Invoker, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if _, err := url.Parse(opts.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodPost
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fmt.Errorf("unsupported HTTP method: %q", opts.Method)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 16
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Invoker{
		endpoint:  strings.TrimRight(opts.Endpoint, "/"),
		method:    method,
		authToken: opts.AuthToken,
		timeout:   opts.Timeout,
		client:    opts.HTTPClient,
		slots:     semaphore.NewWeighted(opts.MaxInFlight),
		limiter:   limiter,
		logger:    opts.Logger,
	}, nil
}

// Invoke performs one webhook call for the execution. Responses with a 2xx
// status parse to the result payload: JSON bodies decode as-is, anything
// else is wrapped as {"message", "content"}. Rate limits (429) and server
// errors (5xx) classify transient; other 4xx responses classify permanent;
// a 2xx with a malformed JSON body classifies unknown.
func (inv *Invoker) Invoke(ctx context.Context, execution *relay.Execution) (any, error) {
	release, err := inv.acquire(ctx)
	if err != nil {
		return nil, relay.Classify(err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	req, err := inv.buildInvokeRequest(ctx, execution)
	if err != nil {
		return nil, relay.WrapFailure(relay.FailurePermanent, err)
	}

	inv.logger.Debug("invoking webhook",
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"method", inv.method,
		"url", req.URL.Redacted())

	resp, err := inv.client.Do(req)
	if err != nil {
		return nil, relay.Classify(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, relay.WrapFailure(relay.FailureTransient, err)
	}
	return inv.handleResponse(resp, body)
}

// buildInvokeRequest assembles the HTTP request for one attempt. The
// idempotency key is the execution ID and stays stable across retries; the
// request ID is fresh per attempt so individual tries can be told apart in
// the remote system's logs.
func (inv *Invoker) buildInvokeRequest(ctx context.Context, execution *relay.Execution) (*http.Request, error) {
	workflowURL, err := url.JoinPath(inv.endpoint, execution.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to build workflow URL: %w", err)
	}

	var req *http.Request
	switch inv.method {
	case http.MethodGet:
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, workflowURL, nil)
		if err != nil {
			return nil, err
		}
		query := req.URL.Query()
		for key, value := range execution.Parameters {
			query.Set(key, fmt.Sprint(value))
		}
		req.URL.RawQuery = query.Encode()
	case http.MethodPost:
		parameters := execution.Parameters
		if parameters == nil {
			parameters = map[string]any{}
		}
		payload, err := json.Marshal(parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal parameters: %w", err)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, workflowURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if inv.authToken != "" {
		req.Header.Set("Authorization", inv.authToken)
	}
	req.Header.Set("X-Idempotency-Key", execution.ID)
	req.Header.Set("X-Request-Id", uuid.NewString())
	return req, nil
}

// handleResponse maps one HTTP response to a result or a classified failure.
func (inv *Invoker) handleResponse(resp *http.Response, body []byte) (any, error) {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if len(body) == 0 {
			return map[string]any{"message": "request succeeded"}, nil
		}
		if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
			var result any
			if err := json.Unmarshal(body, &result); err != nil {
				return nil, relay.NewFailure(relay.FailureUnknown,
					"webhook returned malformed JSON: %v", err)
			}
			return result, nil
		}
		// A successful response that is not JSON is still a result.
		return map[string]any{
			"message": "request succeeded",
			"content": string(body),
		}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, relay.NewFailure(relay.FailureTransient,
			"webhook returned %s: %s", resp.Status, excerpt(body))
	case resp.StatusCode >= 400:
		return nil, relay.NewFailure(relay.FailurePermanent,
			"webhook returned %s: %s", resp.Status, excerpt(body))
	default:
		return nil, relay.NewFailure(relay.FailureUnknown,
			"webhook returned unexpected status %s", resp.Status)
	}
}

// GetStatus asks the webhook host for its view of an execution. Webhook
// hosts differ in what they expose, so the answer degrades to StatusFailed
// when the host is unreachable or does not know the execution, rather than
// returning an error. Callers that need to distinguish "failed" from
// "unknown to the host" must consult the host directly.
func (inv *Invoker) GetStatus(ctx context.Context, executionID string) (relay.Status, error) {
	statusURL, err := url.JoinPath(inv.endpoint, "executions", executionID)
	if err != nil {
		return relay.StatusFailed, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return relay.StatusFailed, nil
	}
	if inv.authToken != "" {
		req.Header.Set("Authorization", inv.authToken)
	}
	resp, err := inv.client.Do(req)
	if err != nil {
		inv.logger.Debug("status request failed", "execution_id", executionID, "error", err)
		return relay.StatusFailed, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return relay.StatusFailed, nil
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return relay.StatusFailed, nil
	}
	return mapRemoteStatus(payload.Status), nil
}

// mapRemoteStatus folds the status vocabulary used by webhook hosts onto
// the relay statuses.
func mapRemoteStatus(remote string) relay.Status {
	switch strings.ToLower(remote) {
	case "new", "pending", "queued":
		return relay.StatusPending
	case "running", "waiting":
		return relay.StatusRunning
	case "success", "succeeded", "completed":
		return relay.StatusSucceeded
	case "canceled", "cancelled":
		return relay.StatusCancelled
	case "timeout", "timed_out":
		return relay.StatusTimedOut
	default:
		return relay.StatusFailed
	}
}

// Cancel sends a best-effort cancellation to the webhook host. True means
// the host acknowledged the request, nothing more.
func (inv *Invoker) Cancel(ctx context.Context, executionID string) (bool, error) {
	cancelURL, err := url.JoinPath(inv.endpoint, "executions", executionID, "cancel")
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cancelURL, nil)
	if err != nil {
		return false, err
	}
	if inv.authToken != "" {
		req.Header.Set("Authorization", inv.authToken)
	}
	resp, err := inv.client.Do(req)
	if err != nil {
		return false, relay.Classify(err)
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// HealthCheck probes the webhook host's health endpoint.
func (inv *Invoker) HealthCheck(ctx context.Context) bool {
	healthURL, err := url.JoinPath(inv.endpoint, "healthz")
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := inv.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// acquire takes an in-flight slot and waits out the rate limiter.
func (inv *Invoker) acquire(ctx context.Context) (func(), error) {
	if err := inv.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if inv.limiter != nil {
		if err := inv.limiter.Wait(ctx); err != nil {
			inv.slots.Release(1)
			return nil, err
		}
	}
	return func() { inv.slots.Release(1) }, nil
}

// excerpt trims a response body for inclusion in an error message.
func excerpt(body []byte) string {
	const limit = 256
	text := strings.TrimSpace(string(body))
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}
