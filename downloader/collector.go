package downloader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/corpix/uarand"
	"github.com/gocolly/colly"

	"boardcrawl/cf"
	"boardcrawl/logging"
	"boardcrawl/parser"
)

const (
	pageFetchAttempts   = 3
	pageBaseTimeout     = 15 * time.Second
	pageTimeoutIncrease = 5 * time.Second
)

// PageClient fetches static pages with colly
type PageClient struct {
	collector   *colly.Collector
	attempts    int
	baseTimeout time.Duration
	sleep       Sleeper
}

// NewPageClient creates a page client with browser-like headers
func NewPageClient() *PageClient {
	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(pageBaseTimeout)

	return &PageClient{
		collector:   collector,
		attempts:    pageFetchAttempts,
		baseTimeout: pageBaseTimeout,
		sleep:       sleepContext,
	}
}

// FetchHTML fetches targetURL and returns its body as UTF-8. Timeouts are
// retried with a growing request timeout; challenge pages and HTTP errors
// are returned at once.
func (c *PageClient) FetchHTML(ctx context.Context, targetURL string) (string, error) {
	log := logging.For("PageClient")

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		timeout := c.baseTimeout + time.Duration(attempt)*pageTimeoutIncrease
		html, err := c.fetchOnce(targetURL, timeout)
		if err == nil {
			return html, nil
		}
		if _, ok := cf.IsChallenge(err); ok {
			return "", err
		}
		if !isTimeout(err) {
			return "", err
		}

		lastErr = err
		backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
		log.Warnf("⚠️ Timeout fetching %s (attempt %d/%d), retrying in %v", targetURL, attempt+1, c.attempts, backoff)
		if err := c.sleep(ctx, backoff); err != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("failed after %d attempts: %w", c.attempts, lastErr)
}

func (c *PageClient) fetchOnce(targetURL string, timeout time.Duration) (string, error) {
	log := logging.For("PageClient")

	// callbacks accumulate on a collector, so every fetch gets a fresh clone
	collector := c.collector.Clone()
	collector.UserAgent = uarand.GetRandom()
	collector.SetRequestTimeout(timeout)

	var html string
	var fetchErr error

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7")
		r.Headers.Set("Cache-Control", "no-cache")
	})

	collector.OnResponse(func(r *colly.Response) {
		if _, err := cf.DecompressResponse(r); err != nil {
			log.Warnf("Failed to decompress response: %v", err)
		}

		if isCF, info, _ := cf.DetectFromColly(r); isCF {
			fetchErr = cf.NewChallengeError(targetURL, info)
			return
		}

		// colly already converted bodies whose header declares a charset
		decoded, err := parser.DecodeHTML(r.Body, "")
		if err != nil {
			fetchErr = err
			return
		}
		html = decoded
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			if isCF, info, _ := cf.DetectFromColly(r); isCF {
				fetchErr = cf.NewChallengeError(targetURL, info)
				return
			}
			fetchErr = fmt.Errorf("unexpected status code %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = fmt.Errorf("request failed: %w", err)
	})

	visitErr := collector.Visit(targetURL)
	collector.Wait()

	if fetchErr != nil {
		return "", fetchErr
	}
	if visitErr != nil {
		return "", fmt.Errorf("request failed: %w", visitErr)
	}
	if html == "" {
		return "", errors.New("empty response body")
	}
	return html, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Client.Timeout") || strings.Contains(msg, "timeout")
}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
