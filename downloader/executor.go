package downloader

import (
	"context"
	"fmt"

	"boardcrawl/cf"
	"boardcrawl/logging"
)

// RequestExecutor decides the best method to fetch a page (colly vs browser)
// and handles the fallback
type RequestExecutor struct {
	pages    *PageClient
	headless bool
	// browserFetch is replaced in tests
	browserFetch func(ctx context.Context, targetURL, waitSelector string) (string, error)
}

// NewRequestExecutor creates a new request executor
func NewRequestExecutor(headless bool) *RequestExecutor {
	e := &RequestExecutor{
		pages:    NewPageClient(),
		headless: headless,
	}
	e.browserFetch = e.fetchWithBrowser
	return e
}

// FetchHTML fetches HTML with automatic colly→browser fallback
func (e *RequestExecutor) FetchHTML(ctx context.Context, targetURL string, waitSelector string) (string, error) {
	log := logging.For("Executor")
	log.Debugf("Fetching: %s", targetURL)

	// Try the static client first (fast and efficient)
	html, err := e.pages.FetchHTML(ctx, targetURL)
	if err == nil {
		return html, nil
	}

	if chErr, ok := cf.IsChallenge(err); ok {
		log.Warnf("⚠️ Challenge detected at %s", targetURL)
		return "", chErr
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	log.Infof("Static fetch failed (%v), trying browser fallback...", err)
	return e.browserFetch(ctx, targetURL, waitSelector)
}

// fetchWithBrowser falls back to browser-based fetching
func (e *RequestExecutor) fetchWithBrowser(ctx context.Context, targetURL string, waitSelector string) (string, error) {
	session, err := NewBrowserSession(ctx, BrowserOptions{Headless: e.headless})
	if err != nil {
		return "", fmt.Errorf("failed to create browser session: %w", err)
	}
	defer session.Close()

	if _, err := session.Navigate(targetURL, waitSelector); err != nil {
		return "", err
	}

	html, err := session.GetHTML()
	if err != nil {
		return "", fmt.Errorf("failed to get HTML from browser: %w", err)
	}

	logging.For("Executor").Debugf("✓ Browser fetch successful")
	return html, nil
}
