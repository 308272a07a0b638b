package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/corpix/uarand"

	"boardcrawl/cf"
	"boardcrawl/config"
	"boardcrawl/logging"
)

const (
	firstClickWait = 15 * time.Second
	laterClickWait = 3 * time.Second
)

// BrowserOptions configures a browser session
type BrowserOptions struct {
	Headless bool
	// DownloadDir receives files the page downloads; empty leaves Chrome's default
	DownloadDir     string
	PageLoadTimeout time.Duration
}

// BrowserSession manages a chromedp browser context
type BrowserSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   BrowserOptions
}

// NewBrowserSession starts a browser. When opts.DownloadDir is set,
// downloads are allowed and routed there.
func NewBrowserSession(ctx context.Context, opts BrowserOptions) (*BrowserSession, error) {
	if opts.PageLoadTimeout <= 0 {
		opts.PageLoadTimeout = 60 * time.Second
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(uarand.GetRandom()),
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-gpu", true),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	session := &BrowserSession{
		ctx:    browserCtx,
		cancel: func() { cancelBrowser(); cancelAlloc() },
		opts:   opts,
	}

	if opts.DownloadDir != "" {
		dir, err := filepath.Abs(opts.DownloadDir)
		if err != nil {
			session.Close()
			return nil, fmt.Errorf("invalid download directory: %w", err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			session.Close()
			return nil, fmt.Errorf("failed to create download directory: %w", err)
		}

		err = chromedp.Run(browserCtx, browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(dir).
			WithEventsEnabled(true))
		if err != nil {
			session.Close()
			return nil, fmt.Errorf("failed to set download directory: %w", err)
		}
		logging.For("Browser").Debugf("Downloads routed to %s", dir)
	}

	return session, nil
}

// Navigate loads targetURL, waits for waitSelector (or the body) and returns
// how long the page took to load. Challenge pages yield a *cf.ChallengeError.
func (bs *BrowserSession) Navigate(targetURL string, waitSelector string) (time.Duration, error) {
	log := logging.For("Browser")

	ctx, cancel := context.WithTimeout(bs.ctx, bs.opts.PageLoadTimeout)
	defer cancel()

	wait := chromedp.WaitReady("body")
	if waitSelector != "" {
		wait = chromedp.WaitVisible(waitSelector, chromedp.ByQuery)
	}

	start := time.Now()
	if err := chromedp.Run(ctx, chromedp.Navigate(targetURL), wait); err != nil {
		return 0, fmt.Errorf("navigation failed: %w", err)
	}
	latency := time.Since(start)

	html, err := bs.GetHTML()
	if err != nil {
		log.Warnf("Could not get HTML for challenge detection: %v", err)
		return latency, nil
	}

	if isCF, info := cf.DetectHTML(html); isCF {
		log.Warnf("⚠️ Challenge detected in page %s", targetURL)
		return latency, cf.NewChallengeError(targetURL, info)
	}

	log.Debugf("✓ Loaded %s in %v", targetURL, latency)
	return latency, nil
}

// GetHTML returns the page HTML
func (bs *BrowserSession) GetHTML() (string, error) {
	ctx, cancel := context.WithTimeout(bs.ctx, 10*time.Second)
	defer cancel()

	var html string
	err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html))
	return html, err
}

// ClickFirst tries each strategy in order and clicks the first element
// found. The first strategy gets the page time to settle; fallbacks only
// wait briefly.
func (bs *BrowserSession) ClickFirst(ctx context.Context, strategies []config.ClickStrategy) (config.ClickStrategy, error) {
	log := logging.For("Browser")

	for i, strategy := range strategies {
		if err := ctx.Err(); err != nil {
			return config.ClickStrategy{}, err
		}

		wait := laterClickWait
		if i == 0 {
			wait = firstClickWait
		}

		sel, opt, err := strategyQuery(strategy)
		if err != nil {
			log.Warnf("Skipping click strategy %s: %v", strategy, err)
			continue
		}

		err = bs.runBounded(ctx, wait, chromedp.Click(sel, opt))
		if err == nil {
			log.Debugf("✓ Clicked %s", strategy)
			return strategy, nil
		}
		if ctx.Err() != nil {
			return config.ClickStrategy{}, ctx.Err()
		}
		log.Debugf("Click strategy %s failed: %v", strategy, err)
	}

	return config.ClickStrategy{}, ErrNoDownloadButton
}

func strategyQuery(s config.ClickStrategy) (string, chromedp.QueryOption, error) {
	switch s.Kind {
	case "css":
		return s.Value, chromedp.ByQuery, nil
	case "xpath":
		return s.Value, chromedp.BySearch, nil
	case "id":
		return s.Value, chromedp.ByID, nil
	case "class":
		return "." + strings.Join(strings.Fields(s.Value), "."), chromedp.ByQuery, nil
	}
	return "", nil, fmt.Errorf("unknown strategy kind %q", s.Kind)
}

// ProgressState reads the progress element with the given id. visible
// reports whether the element carries an inline style, which boards set
// while the download button is shown and clear while the download runs.
func (bs *BrowserSession) ProgressState(ctx context.Context, id, attr string) (bool, float64, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}

	var style, value string
	var hasStyle, hasValue bool
	err := bs.runBounded(ctx, 10*time.Second,
		chromedp.AttributeValue(id, "style", &style, &hasStyle, chromedp.ByID),
		chromedp.AttributeValue(id, attr, &value, &hasValue, chromedp.ByID),
	)
	if err != nil {
		return false, 0, fmt.Errorf("failed to read progress element: %w", err)
	}

	var progress float64
	if hasValue && value != "" {
		progress, err = strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return false, 0, fmt.Errorf("invalid progress value %q: %w", value, err)
		}
	}

	return hasStyle && style != "", progress, nil
}

// runBounded runs actions in the browser tab for at most d, stopping early
// when ctx is cancelled
func (bs *BrowserSession) runBounded(ctx context.Context, d time.Duration, actions ...chromedp.Action) error {
	return withinCaller(bs.ctx, ctx, d, func(runCtx context.Context) error {
		return chromedp.Run(runCtx, actions...)
	})
}

// withinCaller calls fn with a context derived from tab (chromedp needs
// the tab context) that expires after d or as soon as caller is done.
func withinCaller(tab, caller context.Context, d time.Duration, fn func(context.Context) error) error {
	runCtx, cancel := context.WithTimeout(tab, d)
	defer cancel()
	stop := context.AfterFunc(caller, cancel)
	defer stop()

	err := fn(runCtx)
	if cerr := caller.Err(); cerr != nil {
		return cerr
	}
	return err
}

// Close closes the browser session
func (bs *BrowserSession) Close() {
	if bs.cancel != nil {
		bs.cancel()
	}
}
