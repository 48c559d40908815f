package moderation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Static errors for the HTTP classifier.
var (
	// ErrEndpointRequired is returned when the classifier endpoint is not provided.
	ErrEndpointRequired = errors.New("moderation: endpoint is required")
	// ErrInvalidEndpoint is returned when the endpoint is not an absolute http(s) URL.
	ErrInvalidEndpoint = errors.New("moderation: endpoint must be an http or https URL")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("moderation: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("moderation: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("moderation: request failed")
	// ErrInvalidResponse is returned when the response carries no usable probability.
	ErrInvalidResponse = errors.New("moderation: invalid response")
)

// Classifier scores an image file. The probability is in [0, 1]; higher
// means more likely to be disallowed.
type Classifier interface {
	Probability(ctx context.Context, imagePath string) (float64, error)
}

// HTTPClassifier calls a remote classification endpoint.
type HTTPClassifier struct {
	apiKey      string
	endpoint    string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// Compile-time check that HTTPClassifier implements Classifier.
var _ Classifier = (*HTTPClassifier)(nil)

// ClientOption is a function that configures an HTTPClassifier.
type ClientOption func(*HTTPClassifier)

// WithAPIKey sets the bearer token sent with each request.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClassifier) {
		hc.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClassifier) {
		hc.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClassifier) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClassifier) {
		hc.baseBackoff = d
	}
}

type classifyRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type classifyResponse struct {
	Probability *float64 `json:"probability"`
	Error       string   `json:"error,omitempty"`
}

// NewHTTPClassifier creates a classifier posting to endpoint.
func NewHTTPClassifier(endpoint string, opts ...ClientOption) (*HTTPClassifier, error) {
	if endpoint == "" {
		return nil, ErrEndpointRequired
	}
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}

	c := &HTTPClassifier{
		endpoint:    endpoint,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Probability uploads the image and returns the classifier's score.
func (c *HTTPClassifier) Probability(ctx context.Context, imagePath string) (float64, error) {
	data, err := os.ReadFile(imagePath) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return 0, fmt.Errorf("moderation: read image: %w", err)
	}

	body, err := json.Marshal(classifyRequest{ImageBase64: base64.StdEncoding.EncodeToString(data)})
	if err != nil {
		return 0, fmt.Errorf("moderation: marshal request: %w", err)
	}

	var resp classifyResponse
	if err := c.doRequestWithRetry(ctx, body, &resp); err != nil {
		return 0, err
	}

	if resp.Error != "" {
		return 0, fmt.Errorf("%w: %s", ErrInvalidResponse, resp.Error)
	}
	if resp.Probability == nil {
		return 0, fmt.Errorf("%w: missing probability", ErrInvalidResponse)
	}
	p := *resp.Probability
	if p < 0 || p > 1 {
		return 0, fmt.Errorf("%w: probability %v out of range", ErrInvalidResponse, p)
	}
	return p, nil
}

// doRequestWithRetry performs the request with exponential backoff retry.
func (c *HTTPClassifier) doRequestWithRetry(ctx context.Context, body []byte, result any) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("moderation: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := c.doRequest(ctx, body, result)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("moderation: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClassifier) doRequest(ctx context.Context, body []byte, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("moderation: create request: %w", err)
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("moderation: context cancelled: %w", ctx.Err())
		}
		return &retryableError{err: fmt.Errorf("moderation: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("moderation: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))}
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
