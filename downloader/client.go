package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/corpix/uarand"
	"github.com/sethvargo/go-retry"

	"boardcrawl/logging"
)

const (
	downloadRetries     = 4
	downloadBaseBackoff = 2 * time.Second
)

// StatusError is returned for non-2xx responses
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}

// Retryable reports whether the request is worth repeating: throttling and
// server errors are, other client errors are not.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// HTTPClient downloads media files
type HTTPClient struct {
	httpClient  *http.Client
	maxRetries  uint64
	baseBackoff time.Duration
	referer     string
}

// NewHTTPClient creates a media client. There is no overall timeout since
// videos may take minutes; a stalled server is cut off by the header timeout.
func NewHTTPClient() *HTTPClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = 30 * time.Second

	return &HTTPClient{
		httpClient:  &http.Client{Transport: transport},
		maxRetries:  downloadRetries,
		baseBackoff: downloadBaseBackoff,
	}
}

// WithReferer returns a copy of the client that sends referer with every
// request. Many boards refuse hotlinked media without it.
func (c *HTTPClient) WithReferer(referer string) *HTTPClient {
	clone := *c
	clone.referer = referer
	return &clone
}

func (c *HTTPClient) newRequest(ctx context.Context, method, targetURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", uarand.GetRandom())
	req.Header.Set("Accept", "*/*")
	if c.referer != "" {
		req.Header.Set("Referer", c.referer)
	}
	return req, nil
}

// ProbeContentType sends a HEAD request and returns the Content-Type header
func (c *HTTPClient) ProbeContentType(ctx context.Context, targetURL string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodHead, targetURL)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HEAD request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &StatusError{URL: targetURL, StatusCode: resp.StatusCode}
	}
	return resp.Header.Get("Content-Type"), nil
}

// DownloadFile streams targetURL into path and returns the number of bytes
// written. Data goes to path+".part" first and is renamed on success.
func (c *HTTPClient) DownloadFile(ctx context.Context, targetURL, path string) (int64, error) {
	log := logging.For("HTTPClient")

	var written int64
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.baseBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		n, err := c.downloadOnce(ctx, targetURL, path)
		if err == nil {
			written = n
			return nil
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		log.Warnf("⚠️ Download of %s failed, retrying: %v", targetURL, err)
		return retry.RetryableError(err)
	})
	if err != nil {
		return 0, err
	}

	return written, nil
}

func (c *HTTPClient) downloadOnce(ctx context.Context, targetURL, path string) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, targetURL)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &StatusError{URL: targetURL, StatusCode: resp.StatusCode}
	}

	partPath := path + ".part"
	out, err := os.Create(partPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	n, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(partPath)
		return 0, fmt.Errorf("failed to write %s: %w", path, errors.Join(copyErr, closeErr))
	}

	if err := os.Rename(partPath, path); err != nil {
		os.Remove(partPath)
		return 0, fmt.Errorf("failed to rename %s: %w", partPath, err)
	}

	return n, nil
}
