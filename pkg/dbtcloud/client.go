// Package dbtcloud implements a client for the dbt Cloud v2
// Administrative API.
package dbtcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the API endpoint used when no base URL or
	// regional host is configured.
	DefaultBaseURL = "https://cloud.getdbt.com/api/v2"

	// DefaultTimeout bounds each HTTP request.
	DefaultTimeout = 30 * time.Second

	// OrderByCreatedDesc sorts runs most recent first.
	OrderByCreatedDesc = "-created_at"

	// environmentsPageSize is the page size used when listing
	// environments.
	environmentsPageSize = 100
)

// Config configures a Client.
type Config struct {
	// Token authenticates requests ("Token <value>" scheme).
	Token string
	// AccountID scopes every request.
	AccountID int64
	// BaseURL overrides the default API endpoint. Takes precedence
	// over Host.
	BaseURL string
	// Host is a regional hostname (e.g. emea.dbt.com), normalized to
	// https://<host>/api/v2.
	Host string
	// Timeout bounds each HTTP request. Defaults to DefaultTimeout.
	Timeout time.Duration
	// RequestsPerSecond throttles outgoing requests across all
	// workers. Zero disables throttling.
	RequestsPerSecond float64
	// Retry controls backoff for transient failures. The zero value
	// selects DefaultRetryConfig.
	Retry RetryConfig
}

// Client calls the dbt Cloud v2 Administrative API. It is safe for
// concurrent use.
type Client struct {
	log        logrus.FieldLogger
	baseURL    string
	token      string
	accountID  int64
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      RetryConfig
}

// NewClient validates the configuration and returns a ready Client.
func NewClient(log logrus.FieldLogger, cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, &ConfigurationError{Message: "client configuration is required"}
	}

	if cfg.Token == "" {
		return nil, &ConfigurationError{Message: "api token is required"}
	}

	if cfg.AccountID <= 0 {
		return nil, &ConfigurationError{Message: fmt.Sprintf("account id must be positive, got %d", cfg.AccountID)}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}

	limit := rate.Inf
	burst := 1

	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)

		if burst = int(cfg.RequestsPerSecond); burst < 1 {
			burst = 1
		}
	}

	return &Client{
		log:        log.WithField("component", "dbtcloud"),
		baseURL:    ResolveBaseURL(cfg.BaseURL, cfg.Host),
		token:      cfg.Token,
		accountID:  cfg.AccountID,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		retry:      retry,
	}, nil
}

// ResolveBaseURL determines the API base URL from an explicit URL or a
// regional host. An empty pair resolves to DefaultBaseURL.
func ResolveBaseURL(baseURL, host string) string {
	if baseURL != "" {
		return strings.TrimRight(baseURL, "/")
	}

	if host = strings.TrimSpace(host); host != "" {
		if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
			host = "https://" + host
		}

		return strings.TrimRight(host, "/") + "/api/v2"
	}

	return DefaultBaseURL
}

// responseStatus is the status block present on every API response.
type responseStatus struct {
	Code             int    `json:"code"`
	IsSuccess        bool   `json:"is_success"`
	UserMessage      string `json:"user_message"`
	DeveloperMessage string `json:"developer_message"`
}

// envelope wraps every JSON payload the API returns.
type envelope struct {
	Status responseStatus  `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// ListEnvironments returns every environment in the account, paging
// through the collection until a short page.
func (c *Client) ListEnvironments(ctx context.Context) ([]Environment, error) {
	endpoint := fmt.Sprintf("accounts/%d/environments/", c.accountID)

	var all []Environment

	for offset := 0; ; offset += environmentsPageSize {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(environmentsPageSize))

		if offset > 0 {
			params.Set("offset", strconv.Itoa(offset))
		}

		var page []Environment
		if err := c.getJSON(ctx, endpoint, params, &page); err != nil {
			return nil, fmt.Errorf("listing environments: %w", err)
		}

		all = append(all, page...)

		if len(page) < environmentsPageSize {
			break
		}
	}

	c.log.WithField("environments", len(all)).Debug("Listed environments")

	return all, nil
}

// ListRuns returns at most limit runs for the environment, ordered by
// the given sort key (OrderByCreatedDesc when empty).
//
// The run-listing endpoint accepts only environment_id, order_by,
// limit and offset. Date-range parameters (created_at__gte and
// friends) are rejected by the server with HTTP 400, so time filtering
// always happens client-side on the returned page.
func (c *Client) ListRuns(ctx context.Context, environmentID int64, limit int, orderBy string) ([]Run, error) {
	if limit <= 0 {
		return nil, &ConfigurationError{Message: fmt.Sprintf("run limit must be positive, got %d", limit)}
	}

	if orderBy == "" {
		orderBy = OrderByCreatedDesc
	}

	params := url.Values{}
	params.Set("environment_id", strconv.FormatInt(environmentID, 10))
	params.Set("order_by", orderBy)
	params.Set("limit", strconv.Itoa(limit))

	endpoint := fmt.Sprintf("accounts/%d/runs/", c.accountID)

	var runs []Run
	if err := c.getJSON(ctx, endpoint, params, &runs); err != nil {
		return nil, fmt.Errorf("listing runs for environment %d: %w", environmentID, err)
	}

	return runs, nil
}

// GetRun returns the detail record for a run, optionally including its
// steps.
func (c *Client) GetRun(ctx context.Context, runID int64, includeSteps bool) (*Run, error) {
	params := url.Values{}
	if includeSteps {
		params.Set("include_related", "run_steps")
	}

	endpoint := fmt.Sprintf("accounts/%d/runs/%d/", c.accountID, runID)

	var run Run
	if err := c.getJSON(ctx, endpoint, params, &run); err != nil {
		return nil, fmt.Errorf("fetching run %d: %w", runID, err)
	}

	return &run, nil
}

// GetStepLog returns the log text of one step of a run. With debug set
// the step's debug output is preferred over its regular output.
func (c *Client) GetStepLog(ctx context.Context, runID int64, stepIndex int, debug bool) (string, error) {
	run, err := c.GetRun(ctx, runID, true)
	if err != nil {
		return "", err
	}

	for i := range run.RunSteps {
		if run.RunSteps[i].Index == stepIndex {
			return run.RunSteps[i].LogText(debug), nil
		}
	}

	return "", fmt.Errorf("run %d has no step with index %d", runID, stepIndex)
}

// GetRunArtifact fetches a named artifact produced by a run. The
// artifact endpoint returns raw content rather than the JSON envelope.
func (c *Client) GetRunArtifact(ctx context.Context, runID int64, path string) ([]byte, error) {
	endpoint := fmt.Sprintf("accounts/%d/runs/%d/artifacts/%s",
		c.accountID, runID, strings.TrimLeft(path, "/"))

	body, err := c.getRaw(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching artifact %s for run %d: %w", path, runID, err)
	}

	return body, nil
}

// getJSON issues a GET and decodes the envelope's data into out,
// retrying transient failures.
func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	return c.withRetry(ctx, endpoint, func(ctx context.Context) error {
		body, err := c.doGet(ctx, endpoint, params)
		if err != nil {
			return err
		}

		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return fmt.Errorf("decoding response envelope: %w", err)
		}

		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decoding response data: %w", err)
		}

		return nil
	})
}

// getRaw issues a GET and returns the raw response body, retrying
// transient failures.
func (c *Client) getRaw(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	var body []byte

	err := c.withRetry(ctx, endpoint, func(ctx context.Context) error {
		b, err := c.doGet(ctx, endpoint, params)
		if err != nil {
			return err
		}

		body = b

		return nil
	})

	return body, err
}

// doGet performs a single request attempt and maps failures to the
// package's typed errors.
func (c *Client) doGet(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.baseURL + "/" + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	switch {
	case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
		return body, nil
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, &ServerError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	case resp.StatusCode >= http.StatusBadRequest:
		reqErr := &RequestError{StatusCode: resp.StatusCode}
		reqErr.Message, reqErr.Detail = errorDetail(body)

		return nil, reqErr
	default:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

// errorDetail extracts the user message and validation detail from an
// error response body. Validation failures carry the offending detail
// as a bare string in data.
func errorDetail(body []byte) (message, detail string) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", ""
	}

	message = env.Status.UserMessage

	var s string
	if err := json.Unmarshal(env.Data, &s); err == nil {
		detail = s
	} else if env.Status.DeveloperMessage != "" {
		detail = env.Status.DeveloperMessage
	}

	return message, detail
}

// errorMessage extracts just the user message from an error response
// body.
func errorMessage(body []byte) string {
	msg, _ := errorDetail(body)

	return msg
}
