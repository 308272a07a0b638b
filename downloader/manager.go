package downloader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"boardcrawl/cf"
	"boardcrawl/config"
	"boardcrawl/logging"
	"boardcrawl/models"
	"boardcrawl/parser"
	"boardcrawl/store"
)

// Manager orchestrates the scan of one board
type Manager struct {
	config  *ScanConfig
	fetcher HTMLFetcher
	media   *MediaDownloader
	archive *ArchiveDownloader
	sleep   Sleeper

	// scan handles one attempt at one article; chosen from the site's
	// article extraction method
	scan func(ctx context.Context, article models.Article, attempt int) ([]string, error)
}

// NewManager creates a new board manager
func NewManager(cfg *ScanConfig) *Manager {
	m := &Manager{
		config:  cfg,
		fetcher: NewRequestExecutor(!cfg.Settings.ShowBrowser),
		media:   NewMediaDownloader(NewHTTPClient(), cfg.Settings.DownloadPath, cfg.Settings),
		sleep:   sleepContext,
	}

	method := cfg.Site.GetArticleExtractionMethod()
	if method != nil && method.Type == ArticleBrowserArchive {
		m.archive = NewArchiveDownloader(cfg.Settings, cfg.Board, cfg.Site)
		m.scan = m.archive.Download
	} else {
		m.scan = m.scanDirect
	}
	return m
}

// Run collects the board's articles and scans each of them. A challenge
// aborts the board; other article failures are recorded and skipped.
func (m *Manager) Run(ctx context.Context) ([]models.ScanResult, error) {
	board := m.config.Board
	log := logging.For("Manager").WithField("board", board.Name)

	log.Infof("Starting scan of %s (%s, %s)", board.Name, m.config.Site.GetSiteName(), m.config.Site.GetDomain())
	m.report("Collecting articles...", 0, 0, 0)

	var seen SeenFunc
	if m.config.History != nil {
		seen = m.config.History.Seen
	}

	articles, err := CollectArticles(ctx, board, m.config.Site, m.fetcher, seen)
	if err != nil {
		return nil, fmt.Errorf("failed to collect articles: %w", err)
	}

	total := len(articles)
	if total == 0 {
		log.Infof("No new articles")
		m.report("No new articles", 1.0, 0, 0)
		return nil, nil
	}
	log.Infof("%d articles to scan", total)

	results := make([]models.ScanResult, 0, total)
	for i, article := range articles {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		if i > 0 {
			if err := parser.RandomPause(ctx, board.ArticlePause); err != nil {
				return results, err
			}
		}

		m.report(fmt.Sprintf("Scanning %d/%d: %s", i+1, total, article.Title), float64(i)/float64(total), i, total)

		result := m.scanWithRetry(ctx, article)
		results = append(results, result)
		m.record(ctx, result)

		if _, ok := cf.IsChallenge(result.Err); ok {
			return results, result.Err
		}
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
	}

	completed := 0
	for _, r := range results {
		if r.Status == models.ScanCompleted {
			completed++
		}
	}
	log.Infof("✓ Board complete: %d/%d articles downloaded", completed, total)
	m.report(fmt.Sprintf("Done: %d/%d articles", completed, total), 1.0, total, total)

	return results, nil
}

// scanWithRetry scans one article, retrying with exponential backoff. The
// attempt number reaches the scanner so browser downloads wait longer.
func (m *Manager) scanWithRetry(ctx context.Context, article models.Article) (result models.ScanResult) {
	log := logging.For("Manager").WithField("article", article.DocID)

	attempts := m.config.Settings.ArticleAttempts
	if attempts <= 0 {
		attempts = config.DefaultArticleAttempts
	}

	result = models.ScanResult{Article: article, Status: models.ScanFailed}
	start := time.Now()
	defer func() { result.Elapsed = time.Since(start) }()

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			log.Infof("Retry %d/%d after %v", attempt+1, attempts, backoff)
			if err := m.sleep(ctx, backoff); err != nil {
				result.Err = err
				return result
			}
		}

		result.Attempts = attempt + 1
		files, err := m.scan(ctx, article, attempt+1)
		if err == nil {
			result.Status = models.ScanCompleted
			result.Files = files
			result.Err = nil
			log.Infof("✓ '%s': %d files", article.Title, len(files))
			return result
		}

		result.Err = err
		if _, ok := cf.IsChallenge(err); ok {
			log.Warnf("⚠️ Challenge while scanning %s", article.URL)
			return result
		}
		if ctx.Err() != nil {
			return result
		}
		log.Warnf("⚠️ Attempt %d/%d failed: %v", attempt+1, attempts, err)
	}

	log.Errorf("Giving up on '%s' (%s): %v", article.Title, article.URL, result.Err)
	return result
}

// scanDirect downloads every source of a static article page
func (m *Manager) scanDirect(ctx context.Context, article models.Article, _ int) ([]string, error) {
	method := m.config.Site.GetArticleExtractionMethod()
	if method == nil {
		return nil, errors.New("site has no article extraction method")
	}

	html, err := m.fetcher.FetchHTML(ctx, article.URL, "")
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := article.Title
	if method.TitleSelector != "" {
		if t := strings.TrimSpace(doc.Find(method.TitleSelector).First().Text()); t != "" {
			title = t
		}
	}
	localName := m.config.Site.LocalName(title, article.DocID)
	media := m.media.ForArticle(article.URL)

	var files []string
	for _, group := range method.Sources {
		if group.Selector == "" {
			continue
		}
		sources := ExtractSources(doc, group.Selector, article.URL, m.config.Board.IgnoredDomains)
		if len(sources) == 0 {
			continue
		}

		saved, err := media.DownloadSources(ctx, sources, localName+group.Suffix)
		files = append(files, saved...)
		if err != nil {
			return files, err
		}
	}

	return files, nil
}

func (m *Manager) report(status string, progress float64, done, total int) {
	if m.config.ProgressCallback != nil {
		m.config.ProgressCallback(status, progress, done, total)
	}
}

func (m *Manager) record(ctx context.Context, result models.ScanResult) {
	if m.config.History == nil || errors.Is(result.Err, context.Canceled) {
		return
	}
	if err := m.config.History.Record(ctx, result.Article, result.Status, len(result.Files)); err != nil {
		logging.For("Manager").Warnf("Could not record %s: %v", result.Article.URL, err)
	}
}

// storeHistory adapts store.History to HistoryStore
type storeHistory struct {
	h *store.History
}

// NewHistory wraps the sqlite history for use by the manager
func NewHistory(h *store.History) HistoryStore {
	return &storeHistory{h: h}
}

func (s *storeHistory) Seen(ctx context.Context, articleURL string) (bool, error) {
	return s.h.Seen(ctx, articleURL)
}

func (s *storeHistory) Record(ctx context.Context, article models.Article, status models.ScanStatus, files int) error {
	recordStatus := store.StatusFailed
	if status == models.ScanCompleted {
		recordStatus = store.StatusCompleted
	}
	return s.h.Record(ctx, store.ArticleRecord{
		URL:       article.URL,
		Board:     article.Board,
		Title:     article.Title,
		Status:    recordStatus,
		Files:     files,
		ScannedAt: time.Now(),
	})
}
