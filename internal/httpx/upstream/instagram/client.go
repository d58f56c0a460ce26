// Package instagram is a typed client for the Instagram Graph API content
// publishing surface: two-phase container/publish calls, media info lookups
// and long-lived token refresh.
package instagram

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
)

const (
	defaultBaseURL    = "https://graph.instagram.com"
	defaultAPIVersion = "v21.0"
	defaultTimeout    = 15 * time.Second

	correlationHeader = "X-Correlation-ID"
)

// Client is an Instagram Graph API client for content publishing
type Client struct {
	baseURL     string
	apiVersion  string
	httpClient  *http.Client
	backoff     Backoff
	maxAttempts int
}

// ClientOption is a function that configures the Client
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithAPIVersion sets the API version
func WithAPIVersion(version string) ClientOption {
	return func(c *Client) {
		c.apiVersion = version
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithBackoff sets the transport retry backoff
func WithBackoff(b Backoff) ClientOption {
	return func(c *Client) {
		c.backoff = b
	}
}

// WithMaxAttempts bounds transport retries per call
func WithMaxAttempts(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// New creates a new Instagram API client
func New(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		apiVersion: defaultAPIVersion,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		backoff:     DefaultBackoff(),
		maxAttempts: 5,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ContainerStatus represents the status of a media container
type ContainerStatus string

const (
	ContainerStatusExpired    ContainerStatus = "EXPIRED"
	ContainerStatusError      ContainerStatus = "ERROR"
	ContainerStatusFinished   ContainerStatus = "FINISHED"
	ContainerStatusInProgress ContainerStatus = "IN_PROGRESS"
	ContainerStatusPublished  ContainerStatus = "PUBLISHED"
)

// CreateImageContainerInput represents input for a single-image container
type CreateImageContainerInput struct {
	UserID        string
	AccessToken   string
	ImageURL      string
	Caption       string
	CorrelationID string
}

// CreateImageContainer creates a feed image container.
// Step 1 of the single-post publishing flow.
func (c *Client) CreateImageContainer(ctx context.Context, in CreateImageContainerInput) (string, error) {
	params := url.Values{}
	params.Set("access_token", in.AccessToken)
	params.Set("image_url", in.ImageURL)
	if in.Caption != "" {
		params.Set("caption", in.Caption)
	}

	var out struct {
		ID string `json:"id"`
	}
	endpoint := fmt.Sprintf("%s/%s/%s/media", c.baseURL, c.apiVersion, in.UserID)
	if err := c.call(ctx, http.MethodPost, endpoint, params, in.CorrelationID, &out); err != nil {
		return "", err
	}

	return out.ID, nil
}

// CreateCarouselItemContainerInput represents input for one carousel child
type CreateCarouselItemContainerInput struct {
	UserID        string
	AccessToken   string
	ImageURL      string
	CorrelationID string
}

// CreateCarouselItemContainer creates a captionless child container for a
// carousel post
func (c *Client) CreateCarouselItemContainer(ctx context.Context, in CreateCarouselItemContainerInput) (string, error) {
	params := url.Values{}
	params.Set("access_token", in.AccessToken)
	params.Set("image_url", in.ImageURL)
	params.Set("is_carousel_item", "true")

	var out struct {
		ID string `json:"id"`
	}
	endpoint := fmt.Sprintf("%s/%s/%s/media", c.baseURL, c.apiVersion, in.UserID)
	if err := c.call(ctx, http.MethodPost, endpoint, params, in.CorrelationID, &out); err != nil {
		return "", err
	}

	return out.ID, nil
}

// CreateCarouselContainerInput represents input for the carousel parent
type CreateCarouselContainerInput struct {
	UserID        string
	AccessToken   string
	Children      []string
	Caption       string
	CorrelationID string
}

// CreateCarouselContainer creates the parent container referencing child
// containers in their final display order
func (c *Client) CreateCarouselContainer(ctx context.Context, in CreateCarouselContainerInput) (string, error) {
	params := url.Values{}
	params.Set("access_token", in.AccessToken)
	params.Set("media_type", "CAROUSEL")
	params.Set("children", strings.Join(in.Children, ","))
	if in.Caption != "" {
		params.Set("caption", in.Caption)
	}

	var out struct {
		ID string `json:"id"`
	}
	endpoint := fmt.Sprintf("%s/%s/%s/media", c.baseURL, c.apiVersion, in.UserID)
	if err := c.call(ctx, http.MethodPost, endpoint, params, in.CorrelationID, &out); err != nil {
		return "", err
	}

	return out.ID, nil
}

// GetContainerStatusInput represents input for checking container readiness
type GetContainerStatusInput struct {
	ContainerID   string
	AccessToken   string
	CorrelationID string
}

// GetContainerStatusOutput represents container readiness state
type GetContainerStatusOutput struct {
	ID           string          `json:"id"`
	Status       ContainerStatus `json:"status_code"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// GetContainerStatus checks whether a container is ready to publish
func (c *Client) GetContainerStatus(ctx context.Context, in GetContainerStatusInput) (*GetContainerStatusOutput, error) {
	params := url.Values{}
	params.Set("access_token", in.AccessToken)
	params.Set("fields", "status_code,error_message")

	var out GetContainerStatusOutput
	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, c.apiVersion, in.ContainerID)
	if err := c.call(ctx, http.MethodGet, endpoint, params, in.CorrelationID, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// PublishContainerInput represents input for publishing a container
type PublishContainerInput struct {
	UserID        string
	AccessToken   string
	ContainerID   string
	CorrelationID string
}

// PublishContainer publishes a finished container and returns the media id.
// Step 2 of the two-phase publishing flow.
func (c *Client) PublishContainer(ctx context.Context, in PublishContainerInput) (string, error) {
	params := url.Values{}
	params.Set("access_token", in.AccessToken)
	params.Set("creation_id", in.ContainerID)

	var out struct {
		ID string `json:"id"`
	}
	endpoint := fmt.Sprintf("%s/%s/%s/media_publish", c.baseURL, c.apiVersion, in.UserID)
	if err := c.call(ctx, http.MethodPost, endpoint, params, in.CorrelationID, &out); err != nil {
		return "", err
	}

	return out.ID, nil
}

// GetMediaInfoInput represents input for a media lookup
type GetMediaInfoInput struct {
	MediaID       string
	AccessToken   string
	CorrelationID string
}

// MediaInfo represents published media details
type MediaInfo struct {
	ID         string `json:"id"`
	Permalink  string `json:"permalink,omitempty"`
	StatusCode string `json:"status_code,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
}

// GetMediaInfo retrieves details of a published media
func (c *Client) GetMediaInfo(ctx context.Context, in GetMediaInfoInput) (*MediaInfo, error) {
	params := url.Values{}
	params.Set("access_token", in.AccessToken)
	params.Set("fields", "id,permalink,status_code,timestamp")

	var out MediaInfo
	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, c.apiVersion, in.MediaID)
	if err := c.call(ctx, http.MethodGet, endpoint, params, in.CorrelationID, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// RefreshLongLivedTokenInput represents input for a token refresh
type RefreshLongLivedTokenInput struct {
	AccessToken   string
	CorrelationID string
}

// RefreshLongLivedTokenOutput represents the refreshed token
type RefreshLongLivedTokenOutput struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"` // seconds
}

// RefreshLongLivedToken exchanges a valid long-lived token for a fresh one
func (c *Client) RefreshLongLivedToken(ctx context.Context, in RefreshLongLivedTokenInput) (*RefreshLongLivedTokenOutput, error) {
	params := url.Values{}
	params.Set("grant_type", "ig_refresh_token")
	params.Set("access_token", in.AccessToken)

	var out RefreshLongLivedTokenOutput
	endpoint := fmt.Sprintf("%s/refresh_access_token", c.baseURL)
	if err := c.call(ctx, http.MethodGet, endpoint, params, in.CorrelationID, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// call executes a request with bounded transport retries. Only transient
// failures are retried; rate limit retry_after hints are honored.
func (c *Client) call(ctx context.Context, method, endpoint string, params url.Values, correlationID string, out interface{}) error {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := wait(ctx, c.backoff.DelayForError(attempt, lastErr)); err != nil {
				return err
			}
		}

		err := c.do(ctx, method, endpoint, params, correlationID, attempt, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}
	}

	return lastErr
}

func retryable(err error) bool {
	var apiErr *APIError
	if asAPIError(err, &apiErr) {
		return apiErr.Retryable()
	}
	return isNetworkError(err)
}

// do executes a single HTTP attempt and decodes the response
func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, correlationID string, attempt int, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if correlationID != "" {
		req.Header.Set(correlationHeader, fmt.Sprintf("%s/%d", correlationID, attempt))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return c.apiError(resp, body)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}

func (c *Client) apiError(resp *http.Response, body []byte) error {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		apiErr := &APIError{
			Message:    fmt.Sprintf("API error (status %d): %s", resp.StatusCode, string(body)),
			HTTPStatus: resp.StatusCode,
		}
		apiErr.Kind = classify(resp.StatusCode, apiErr)
		return apiErr
	}

	apiErr := errResp.Error
	apiErr.HTTPStatus = resp.StatusCode
	apiErr.RetryAfter = retryAfterHint(resp)
	apiErr.Kind = classify(resp.StatusCode, &apiErr)
	return &apiErr
}

func retryAfterHint(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
