package scanmatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"path"
	"time"
)

const (
	// DefaultFetchTimeout is the default HTTP request timeout for map fetches.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3

	// defaultBaseBackoff is the base delay for exponential backoff.
	defaultBaseBackoff = 500 * time.Millisecond

	// maxResponseBytes limits the response body to 50 MB to prevent OOM.
	maxResponseBytes = 50 << 20
)

// FetchOption configures FetchOccupancyMap behavior.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.baseBackoff = d
	}
}

// WithHTTPClient overrides the default HTTP client (useful for testing).
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) {
		c.client = client
	}
}

// FetchOccupancyMap fetches a map descriptor YAML from the given URL, then
// the raster it references, and returns the decoded ProbabilityGrid. It
// retries transient failures with exponential backoff.
//
// The raster reference in the descriptor is resolved against the descriptor
// URL, so relative image paths work the same way they do on disk.
func FetchOccupancyMap(descriptorURL string, opts ...FetchOption) (*ProbabilityGrid, error) {
	return FetchOccupancyMapWithContext(context.Background(), descriptorURL, opts...)
}

// FetchOccupancyMapWithContext is like FetchOccupancyMap but accepts a context for cancellation.
func FetchOccupancyMapWithContext(ctx context.Context, descriptorURL string, opts ...FetchOption) (*ProbabilityGrid, error) {
	if descriptorURL == "" {
		return nil, fmt.Errorf("fetch map: descriptor URL is empty")
	}

	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}

	var lastErr error
	for attempt := range cfg.maxRetries {
		if attempt > 0 {
			backoff := cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch map: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		data, err := doFetch(ctx, client, descriptorURL, "application/x-yaml")
		if err != nil {
			lastErr = err
			continue
		}

		desc, err := parseMapDescriptor(data, descriptorURL)
		if err != nil {
			// Descriptor errors are not transient; do not retry.
			return nil, fmt.Errorf("fetch map: %w", err)
		}

		imageURL, err := resolveImageURL(descriptorURL, desc.Image)
		if err != nil {
			return nil, fmt.Errorf("fetch map: %w", err)
		}

		raw, err := doFetch(ctx, client, imageURL.String(), "*/*")
		if err != nil {
			lastErr = err
			continue
		}

		gray, err := decodeGrayImage(bytes.NewReader(raw), path.Ext(imageURL.Path))
		if err != nil {
			return nil, fmt.Errorf("fetch map: decoding map image %s: %w", imageURL, err)
		}
		return desc.grid(gray), nil
	}

	return nil, fmt.Errorf("fetch map: all %d attempts failed: %w", cfg.maxRetries, lastErr)
}

// resolveImageURL resolves the descriptor's image reference against the
// descriptor URL itself.
func resolveImageURL(descriptorURL, image string) (*url.URL, error) {
	base, err := url.Parse(descriptorURL)
	if err != nil {
		return nil, fmt.Errorf("parsing descriptor URL: %w", err)
	}
	ref, err := url.Parse(image)
	if err != nil {
		return nil, fmt.Errorf("parsing image reference %q: %w", image, err)
	}
	return base.ResolveReference(ref), nil
}

// doFetch performs a single HTTP GET and returns the response body bytes.
func doFetch(ctx context.Context, client *http.Client, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}

	return body, nil
}
