package scheduling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"DRaaS-Chain/pkg/logger"
)

// DefaultHTTPTimeout is used when no http.Client is supplied.
const DefaultHTTPTimeout = 15 * time.Second

const maxResponseBytes = 8 << 20

// Config configures a scheduler client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	// Headers are added to every request, e.g. the tunnel bypass header the
	// scheduler is usually exposed behind.
	Headers   map[string]string
	RateLimit float64
	RateBurst int
	Retry     *RetryPolicy
}

// Client wraps the HTTP interactions with the scheduler API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	headers    map[string]string
	limiter    *rate.Limiter
	retry      RetryPolicy
	log        *slog.Logger
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("scheduler base url is required")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid scheduler base url %q: scheme must be http or https", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultHTTPTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	burst := cfg.RateBurst
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		if burst <= 0 {
			burst = 1
		}
	}

	policy := DefaultRetryPolicy()
	if cfg.Retry != nil {
		policy = *cfg.Retry
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	return &Client{
		baseURL:    parsed,
		httpClient: httpClient,
		headers:    headers,
		limiter:    rate.NewLimiter(limit, burst),
		retry:      policy,
		log:        logger.Named("scheduling"),
	}, nil
}

// SubmitCode uploads a code package and returns the submission identifier.
// The request is attempted exactly once: a repeated submission would create a
// second billable deployment.
func (c *Client) SubmitCode(ctx context.Context, upload Upload) (string, error) {
	if len(upload.Content) == 0 {
		return "", submissionFailed(errors.New("empty code package"))
	}
	fileName := upload.FileName
	if fileName == "" {
		fileName = "code.zip"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("code", path.Base(fileName))
	if err != nil {
		return "", submissionFailed(fmt.Errorf("encode code part: %w", err))
	}
	if _, err := part.Write(upload.Content); err != nil {
		return "", submissionFailed(fmt.Errorf("encode code part: %w", err))
	}
	if err := writer.WriteField("type", string(upload.Type)); err != nil {
		return "", submissionFailed(fmt.Errorf("encode type field: %w", err))
	}
	if err := writer.Close(); err != nil {
		return "", submissionFailed(fmt.Errorf("encode multipart body: %w", err))
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/upload_code", nil, &body)
	if err != nil {
		return "", submissionFailed(err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp submitResponse
	if err := c.do(req, &resp); err != nil {
		return "", submissionFailed(err)
	}
	if strings.TrimSpace(resp.DeploymentID) == "" {
		return "", submissionFailed(errors.New("scheduler response did not include a deployment id"))
	}
	c.log.Info("code package submitted",
		slog.String("deployment_id", resp.DeploymentID),
		slog.String("agent", resp.Agent),
		slog.String("runtime", string(upload.Type)))
	return resp.DeploymentID, nil
}

// ListAgents returns every agent the scheduler currently tracks, keyed by id.
func (c *Client) ListAgents(ctx context.Context) (map[string]Agent, error) {
	var records map[string]agentRecord
	if err := c.getJSON(ctx, "/agents", nil, &records); err != nil {
		return nil, transientFetch("list_agents", err)
	}
	agents := make(map[string]Agent, len(records))
	for id, record := range records {
		agent, err := record.toAgent(id)
		if err != nil {
			return nil, transientFetch("list_agents", err)
		}
		agents[id] = agent
	}
	return agents, nil
}

// ListDeployments returns every deployment the scheduler tracks, keyed by id.
func (c *Client) ListDeployments(ctx context.Context) (map[string]Deployment, error) {
	var records map[string]deploymentRecord
	if err := c.getJSON(ctx, "/deployments", nil, &records); err != nil {
		return nil, transientFetch("list_deployments", err)
	}
	deployments := make(map[string]Deployment, len(records))
	for id, record := range records {
		deployment, err := record.toDeployment(id)
		if err != nil {
			return nil, transientFetch("list_deployments", err)
		}
		deployments[id] = deployment
	}
	return deployments, nil
}

// FetchDeploymentDetail returns logs, status and published ports of one
// deployment.
func (c *Client) FetchDeploymentDetail(ctx context.Context, deploymentID string) (DeploymentDetail, error) {
	if strings.TrimSpace(deploymentID) == "" {
		return DeploymentDetail{}, transientFetch("deployment_logs", errors.New("deployment id is required"))
	}
	query := url.Values{"deployment_id": {deploymentID}}
	var record detailRecord
	if err := c.getJSON(ctx, "/deployment_logs", query, &record); err != nil {
		return DeploymentDetail{}, transientFetch("deployment_logs", err)
	}
	detail, err := record.toDetail(deploymentID)
	if err != nil {
		return DeploymentDetail{}, transientFetch("deployment_logs", err)
	}
	return detail, nil
}

// CancelDeployment asks the scheduler to stop a deployment on the given agent
// and returns the status the agent reported.
func (c *Client) CancelDeployment(ctx context.Context, deploymentID, agentIP string) (string, error) {
	payload, err := json.Marshal(cancelRequest{DeploymentID: deploymentID, AgentIP: agentIP})
	if err != nil {
		return "", cancelFailed(deploymentID, fmt.Errorf("encode request: %w", err))
	}

	var resp cancelResponse
	err = c.withRetry(ctx, "cancel_deployment", func() error {
		req, err := c.newRequest(ctx, http.MethodPost, "/cancel_deployment", nil, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		return c.do(req, &resp)
	})
	if err != nil {
		return "", cancelFailed(deploymentID, err)
	}
	return resp.Status, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	return c.withRetry(ctx, strings.TrimPrefix(endpoint, "/"), func() error {
		req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
		if err != nil {
			return err
		}
		return c.do(req, out)
	})
}

func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	return withRetry(ctx, c.retry, func(attempt int, err error) {
		c.log.Warn("retrying scheduler request",
			slog.String("operation", op),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
	}, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return fn()
	})
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &transportError{err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var body errorBody
		if len(data) > 0 && json.Unmarshal(data, &body) == nil {
			apiErr.Status = body.Status
			apiErr.Message = body.text()
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
