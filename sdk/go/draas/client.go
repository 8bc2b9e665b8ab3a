// Package draas is a client for the DRaaS console HTTP API.
package draas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Uploads of large packages may need a longer one.
const DefaultHTTPTimeout = 60 * time.Second

// DefaultPollInterval is used by WaitSession when no interval is given.
const DefaultPollInterval = time.Second

// Client wraps the HTTP interactions with the console REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// APIError represents a failure reported by the console.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("draas api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("draas api error (%d): %s", e.StatusCode, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// NewClient instantiates a client for the console API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken sets the bearer token sent with /api/v1 requests. An empty
// token sends none.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// Health reports whether the console is up and has a signing wallet.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var health Health
	err := c.call(ctx, http.MethodGet, "/healthz", nil, "", &health)
	return health, err
}

// Agents returns the agents of the console's latest snapshot.
func (c *Client) Agents(ctx context.Context) (AgentList, error) {
	var list AgentList
	err := c.call(ctx, http.MethodGet, "/api/v1/agents", nil, "", &list)
	return list, err
}

// Deployments returns the deployments of the console's latest snapshot.
func (c *Client) Deployments(ctx context.Context) (DeploymentList, error) {
	var list DeploymentList
	err := c.call(ctx, http.MethodGet, "/api/v1/deployments", nil, "", &list)
	return list, err
}

// Refresh asks the console to poll the scheduler now.
func (c *Client) Refresh(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/api/v1/refresh", nil, "", nil)
}

// Select makes id the selected deployment and returns its detail.
func (c *Client) Select(ctx context.Context, id string) (Selection, error) {
	var sel Selection
	err := c.call(ctx, http.MethodPost, "/api/v1/deployments/"+url.PathEscape(id)+"/select", nil, "", &sel)
	return sel, err
}

// Selected returns the selected deployment.
func (c *Client) Selected(ctx context.Context) (Selection, error) {
	var sel Selection
	err := c.call(ctx, http.MethodGet, "/api/v1/deployments/selected", nil, "", &sel)
	return sel, err
}

// RefreshSelected refetches the detail of the selected deployment.
func (c *Client) RefreshSelected(ctx context.Context) (Selection, error) {
	var sel Selection
	err := c.call(ctx, http.MethodPost, "/api/v1/deployments/selected/refresh", nil, "", &sel)
	return sel, err
}

// ClearSelection drops the selected deployment.
func (c *Client) ClearSelection(ctx context.Context) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/deployments/selected", nil, "", nil)
}

// ResetState clears the console's snapshots, selection and finished session.
// It fails with UPLOAD_IN_PROGRESS while an upload is active.
func (c *Client) ResetState(ctx context.Context) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/state", nil, "", nil)
}

// CancelSelected cancels the selected deployment.
func (c *Client) CancelSelected(ctx context.Context) (CancelResult, error) {
	var result CancelResult
	err := c.call(ctx, http.MethodPost, "/api/v1/deployments/selected/cancel", nil, "", &result)
	return result, err
}

// Upload starts an upload session for a code package. The console accepts
// the package and continues the session in the background; use Session or
// WaitSession to follow it.
func (c *Client) Upload(ctx context.Context, fileName, runtime string, content io.Reader) (Session, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("type", runtime); err != nil {
		return Session{}, fmt.Errorf("encode request: %w", err)
	}
	part, err := form.CreateFormFile("code", fileName)
	if err != nil {
		return Session{}, fmt.Errorf("encode request: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return Session{}, fmt.Errorf("encode request: %w", err)
	}
	if err := form.Close(); err != nil {
		return Session{}, fmt.Errorf("encode request: %w", err)
	}

	var session Session
	err = c.call(ctx, http.MethodPost, "/api/v1/uploads", &body, form.FormDataContentType(), &session)
	return session, err
}

// Session returns the console's current upload session.
func (c *Client) Session(ctx context.Context) (Session, error) {
	var session Session
	err := c.call(ctx, http.MethodGet, "/api/v1/session", nil, "", &session)
	return session, err
}

// Acknowledge dismisses a terminal session and returns it.
func (c *Client) Acknowledge(ctx context.Context) (Session, error) {
	var session Session
	err := c.call(ctx, http.MethodDelete, "/api/v1/session", nil, "", &session)
	return session, err
}

// WaitSession polls the session until it settles or fails. A non-positive
// interval selects DefaultPollInterval.
func (c *Client) WaitSession(ctx context.Context, interval time.Duration) (Session, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		session, err := c.Session(ctx)
		if err != nil {
			return session, err
		}
		if session.Terminal() || session.Phase == PhaseIdle {
			return session, nil
		}
		select {
		case <-ctx.Done():
			return session, ctx.Err()
		case <-ticker.C:
		}
	}
}

// UnpaidPayments lists submissions whose fee was never settled.
func (c *Client) UnpaidPayments(ctx context.Context) ([]Payment, error) {
	var resp struct {
		Payments []Payment `json:"payments"`
	}
	err := c.call(ctx, http.MethodGet, "/api/v1/payments/unpaid", nil, "", &resp)
	return resp.Payments, err
}

func (c *Client) call(ctx context.Context, method, endpoint string, body io.Reader, contentType string, out any) error {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr}); err != nil {
				_ = json.Unmarshal(data, &apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
