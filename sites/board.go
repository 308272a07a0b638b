package sites

import (
	"context"
	"fmt"
	"net/url"

	"boardcrawl/config"
	"boardcrawl/downloader"
	"boardcrawl/logging"
	"boardcrawl/parser"
	"boardcrawl/store"
)

const (
	SiteStatic  = "static"
	SiteArchive = "archive"

	// maxTitleLength bounds the title part of local file names
	maxTitleLength = 50
)

// BoardSite implements the SitePlugin interface from a board's configuration
type BoardSite struct {
	board *config.Board
}

// Ensure BoardSite implements SitePlugin
var _ downloader.SitePlugin = (*BoardSite)(nil)

// NewBoardSite wraps board
func NewBoardSite(board *config.Board) *BoardSite {
	return &BoardSite{board: board}
}

// GetSiteName returns the site identifier
func (s *BoardSite) GetSiteName() string {
	return s.board.Site
}

// GetDomain returns the host of the board's root URL, or of its listing
func (s *BoardSite) GetDomain() string {
	if u, err := url.Parse(s.base()); err == nil {
		return u.Hostname()
	}
	return ""
}

// NeedsBrowser is true for boards whose media comes out of a browser download
func (s *BoardSite) NeedsBrowser() bool {
	return s.board.Site == SiteArchive
}

// GetListingExtractionMethod returns HOW to read listing rows
func (s *BoardSite) GetListingExtractionMethod() *downloader.ListingExtractionMethod {
	return &downloader.ListingExtractionMethod{
		Type:         downloader.ListingHTMLSelector,
		Selectors:    s.board.Selectors,
		WaitSelector: s.board.Selectors.Row,
	}
}

// GetArticleExtractionMethod returns HOW to get media out of an article
func (s *BoardSite) GetArticleExtractionMethod() *downloader.ArticleExtractionMethod {
	sel := s.board.Selectors

	if s.NeedsBrowser() {
		return &downloader.ArticleExtractionMethod{
			Type:          downloader.ArticleBrowserArchive,
			TitleSelector: sel.ArticleTitle,
			Download:      &s.board.BrowserDownload,
		}
	}

	return &downloader.ArticleExtractionMethod{
		Type:          downloader.ArticleDirect,
		TitleSelector: sel.ArticleTitle,
		Sources: []downloader.SourceGroup{
			{Selector: sel.Images, Suffix: "-i"},
			{Selector: sel.Videos, Suffix: "-v"},
			{Selector: sel.Links, Suffix: "-a"},
		},
	}
}

// ListingURL returns the URL of a listing page
func (s *BoardSite) ListingURL(page int) string {
	return s.board.PageURL(page)
}

// NormalizeArticleURL resolves a row link against the board. Links that do
// not end up as http(s) are dropped.
func (s *BoardSite) NormalizeArticleURL(raw string) string {
	if raw == "" {
		return ""
	}

	base, err := url.Parse(s.base())
	if err != nil {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

// LocalName converts an article to the base of its local file names
func (s *BoardSite) LocalName(title, docID string) string {
	title = parser.SanitizeName(title)
	if runes := []rune(title); len(runes) > maxTitleLength {
		title = string(runes[:maxTitleLength])
	}
	return parser.LocalName(title, docID, s.board.Tag)
}

func (s *BoardSite) base() string {
	if s.board.RootURL != "" {
		return s.board.RootURL
	}
	return s.board.ListingURL
}

// ScanBoard is the entry point called by the scan queue
func ScanBoard(ctx context.Context, settings *config.Settings, board *config.Board, progress config.ProgressFunc) error {
	history, err := store.Open(settings.HistoryPath)
	if err != nil {
		return err
	}
	defer history.Close()

	cfg := &downloader.ScanConfig{
		Settings:         settings,
		Board:            board,
		Site:             NewBoardSite(board),
		History:          downloader.NewHistory(history),
		ProgressCallback: progress,
	}

	results, err := downloader.NewManager(cfg).Run(ctx)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		logging.For("Sites").WithField("board", board.Name).Warnf("⚠️ %d of %d articles failed", failed, len(results))
	}
	if failed > 0 && failed == len(results) {
		return fmt.Errorf("all %d articles of %s failed", failed, board.Name)
	}
	return nil
}
