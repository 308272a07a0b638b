package downloader

import (
	"context"

	"boardcrawl/config"
	"boardcrawl/models"
)

// Listing extraction types
const (
	ListingHTMLSelector = "html_selector"
	ListingCustom       = "custom"
)

// Article extraction types
const (
	ArticleDirect         = "direct"
	ArticleBrowserArchive = "browser_archive"
)

// ListingExtractionMethod defines how to read rows from a listing page
type ListingExtractionMethod struct {
	// Type: "html_selector" or "custom"
	Type string

	// For Type="html_selector": selectors relative to the page and to each row
	Selectors config.Selectors

	// WaitSelector: CSS selector to wait for before extraction (browser fallback only)
	WaitSelector string

	// CustomParser receives the page HTML and returns its rows
	CustomParser func(html string) ([]models.ListingRow, error)
}

// SourceGroup is one kind of source tag on an article page. Files found by
// the group are named with its suffix, e.g. "-i" for images.
type SourceGroup struct {
	Selector string
	Suffix   string
}

// ArticleExtractionMethod defines how the media of an article is fetched
type ArticleExtractionMethod struct {
	// Type: "direct" or "browser_archive"
	Type string

	// TitleSelector locates the article title
	TitleSelector string

	// For Type="direct": source tags to download one by one
	Sources []SourceGroup

	// For Type="browser_archive": the button that produces a zip
	Download *config.BrowserDownload
}

// SitePlugin defines what a board adapter must provide.
// Sites provide ONLY extraction logic - the downloader handles ALL execution.
type SitePlugin interface {
	// GetSiteName returns the adapter identifier (e.g., "static", "archive")
	GetSiteName() string

	// GetDomain returns the board host
	GetDomain() string

	// NeedsBrowser returns true if articles must be opened in a real browser
	NeedsBrowser() bool

	// GetListingExtractionMethod returns HOW to read listing rows
	GetListingExtractionMethod() *ListingExtractionMethod

	// GetArticleExtractionMethod returns HOW to fetch article media
	GetArticleExtractionMethod() *ArticleExtractionMethod

	// ListingURL returns the URL of a listing page
	ListingURL(page int) string

	// NormalizeArticleURL converts a row link to an absolute article URL.
	// An empty result drops the row.
	NormalizeArticleURL(rawURL string) string

	// LocalName returns the base file name for an article's media
	LocalName(title, docID string) string
}

// HTMLFetcher fetches a page's HTML
type HTMLFetcher interface {
	FetchHTML(ctx context.Context, targetURL string, waitSelector string) (string, error)
}

// SeenFunc reports whether an article was already downloaded by an earlier run
type SeenFunc func(ctx context.Context, articleURL string) (bool, error)

// HistoryStore remembers scanned articles between runs
type HistoryStore interface {
	Seen(ctx context.Context, articleURL string) (bool, error)
	Record(ctx context.Context, article models.Article, status models.ScanStatus, files int) error
}

// ScanConfig holds configuration for a board scan
type ScanConfig struct {
	Settings         *config.Settings
	Board            *config.Board
	Site             SitePlugin
	History          HistoryStore
	ProgressCallback config.ProgressFunc
}
