package downloader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"boardcrawl/cf"
	"boardcrawl/config"
	"boardcrawl/logging"
	"boardcrawl/models"
	"boardcrawl/parser"
)

// ErrNoDownloadButton is returned when no click strategy found its element.
var ErrNoDownloadButton = errors.New("no download button found")

const failedPrefix = "err-"

// archiveBrowser is the part of BrowserSession the archive flow uses
type archiveBrowser interface {
	Navigate(targetURL string, waitSelector string) (time.Duration, error)
	GetHTML() (string, error)
	ClickFirst(ctx context.Context, strategies []config.ClickStrategy) (config.ClickStrategy, error)
	ProgressState(ctx context.Context, id, attr string) (bool, float64, error)
	Close()
}

type browserFactory func(ctx context.Context, opts BrowserOptions) (archiveBrowser, error)

func newChromeBrowser(ctx context.Context, opts BrowserOptions) (archiveBrowser, error) {
	return NewBrowserSession(ctx, opts)
}

// ArchiveDownloader fetches articles whose media comes as a zip produced by
// a download button.
type ArchiveDownloader struct {
	settings   *config.Settings
	board      *config.Board
	site       SitePlugin
	destDir    string
	newBrowser browserFactory

	Completion CompletionPolicy
	Start      StartPolicy
	Sleep      Sleeper
}

// NewArchiveDownloader creates a downloader for board
func NewArchiveDownloader(settings *config.Settings, board *config.Board, site SitePlugin) *ArchiveDownloader {
	return &ArchiveDownloader{
		settings:   settings,
		board:      board,
		site:       site,
		destDir:    settings.DownloadPath,
		newBrowser: newChromeBrowser,
		Completion: DefaultCompletionPolicy(),
		Start:      DefaultStartPolicy(),
	}
}

// Download opens the article in a browser, clicks the download button and
// waits for the browser to finish writing into a staging directory. attempt
// (1-based) lengthens the wait on retries. On success the download is
// post-processed into the destination; on failure whatever arrived is moved
// there with an "err-" prefix.
func (d *ArchiveDownloader) Download(ctx context.Context, article models.Article, attempt int) ([]string, error) {
	log := logging.For("Archive").WithField("article", article.DocID)
	bd := d.board.BrowserDownload

	staging := filepath.Join(d.settings.DumpPath, article.DocID)
	if err := os.MkdirAll(staging, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	session, err := d.newBrowser(ctx, BrowserOptions{
		Headless:        !d.settings.ShowBrowser,
		DownloadDir:     staging,
		PageLoadTimeout: bd.PageLoadTimeoutDuration(),
	})
	if err != nil {
		removeEmptyDirs(staging)
		return nil, fmt.Errorf("failed to create browser session: %w", err)
	}
	defer session.Close()

	latency, err := session.Navigate(article.URL, bd.WaitSelector)
	if err != nil {
		d.salvage(staging)
		if _, ok := cf.IsChallenge(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load article: %w", err)
	}
	log.Debugf("Article loaded in %v", latency)

	title := d.pageTitle(session, article.Title)
	localName := d.site.LocalName(title, article.DocID)

	strategy, err := session.ClickFirst(ctx, bd.ClickStrategies)
	if err != nil {
		d.salvage(staging)
		return nil, err
	}
	log.Infof("Download started via %s", strategy)

	if bd.ProgressElement != "" {
		watcher := &StartWatcher{Policy: d.Start, Sleep: d.Sleep}
		probe := func(ctx context.Context) (bool, float64, error) {
			return session.ProgressState(ctx, bd.ProgressElement, bd.ProgressAttr)
		}
		if _, err := watcher.Wait(ctx, probe, latency); err != nil {
			d.salvage(staging)
			return nil, err
		}
	}

	completion := &CompletionWatcher{Dir: staging, Policy: d.Completion, Sleep: d.Sleep}
	result, err := completion.Wait(ctx, latency, attempt)
	if err != nil {
		d.salvage(staging)
		return nil, err
	}
	log.Infof("✓ Downloaded %d bytes in %v", result.Bytes, result.Elapsed)

	return d.Finalize(staging, localName)
}

// pageTitle reads the article title from the loaded page, falling back to
// the listing title
func (d *ArchiveDownloader) pageTitle(session archiveBrowser, fallback string) string {
	method := d.site.GetArticleExtractionMethod()
	if method == nil || method.TitleSelector == "" {
		return fallback
	}

	html, err := session.GetHTML()
	if err != nil {
		return fallback
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fallback
	}
	if title := strings.TrimSpace(doc.Find(method.TitleSelector).First().Text()); title != "" {
		return title
	}
	return fallback
}

// Finalize post-processes a completed download in staging: zips are
// extracted (in place for the flatten layout, into their own folder for the
// folder layout) and removed, and the files are moved to the destination
// named after localName. The staging directory is removed when empty.
func (d *ArchiveDownloader) Finalize(staging, localName string) ([]string, error) {
	log := logging.For("Archive")

	if err := os.MkdirAll(d.destDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create destination: %w", err)
	}

	names, err := parser.LocalFileList(staging)
	if err != nil {
		return nil, fmt.Errorf("failed to list staging directory: %w", err)
	}

	var results []string
	for _, name := range names {
		if !strings.EqualFold(filepath.Ext(name), ".zip") {
			continue
		}
		zipPath := filepath.Join(staging, name)

		if d.board.BrowserDownload.Layout == config.LayoutFolder {
			dir, err := d.extractToFolder(zipPath)
			if err != nil {
				return results, err
			}
			results = append(results, dir)
		} else {
			if _, err := parser.ExtractZip(zipPath, staging); err != nil {
				return results, fmt.Errorf("failed to extract %s: %w", name, err)
			}
		}

		if err := os.Remove(zipPath); err != nil {
			log.Warnf("Could not remove %s: %v", zipPath, err)
		}
	}

	moved, err := d.moveAll(staging, func(name string) string {
		if isPartialFile(name) {
			return failedPrefix + name
		}
		return localName + "-" + parser.TruncateName(name, parser.DefaultMaxNameLength)
	}, true)
	results = append(results, moved...)
	if err != nil {
		return results, err
	}

	removeEmptyDirs(staging)
	return results, nil
}

// extractToFolder extracts zipPath into
// <destination>/<entry count>-<tag>-<archive name>/
func (d *ArchiveDownloader) extractToFolder(zipPath string) (string, error) {
	count, err := parser.ZipEntryCount(zipPath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", zipPath, err)
	}

	dir := filepath.Join(d.destDir, folderName(count, d.board.Tag, filepath.Base(zipPath)))
	if _, err := parser.ExtractZip(zipPath, dir); err != nil {
		return "", fmt.Errorf("failed to extract %s: %w", zipPath, err)
	}

	if converted, err := parser.ConvertWebPInDir(dir); err != nil {
		logging.For("Archive").Warnf("⚠️ Some images in %s were not converted: %v", dir, err)
	} else if converted > 0 {
		logging.For("Archive").Debugf("Converted %d WebP images in %s", converted, dir)
	}
	return dir, nil
}

// folderName builds "%03d-<tag>-<name>" from an archive file name. Boards
// name archives like "board | gallery_title.zip"; only the last part is kept.
func folderName(count int, tag, archive string) string {
	name := strings.TrimSuffix(archive, filepath.Ext(archive))
	if _, tail := parser.SplitOnLast(name, "|"); tail != "" {
		name = tail
	}
	name = strings.Trim(strings.TrimSpace(name), "_")
	if _, tail := parser.SplitOnLast(name, "_"); tail != "" {
		name = tail
	}
	name = parser.SanitizeName(name)

	if tag = strings.Trim(tag, "-"); tag != "" {
		name = tag + "-" + name
	}
	return fmt.Sprintf("%03d-%s", count, name)
}

// salvage moves whatever a failed download left in staging to the
// destination with an "err-" prefix for manual inspection
func (d *ArchiveDownloader) salvage(staging string) {
	log := logging.For("Archive")

	moved, err := d.moveAll(staging, func(name string) string {
		return failedPrefix + name
	}, false)
	if err != nil {
		log.Warnf("⚠️ Could not move leftovers of %s: %v", staging, err)
	}
	if len(moved) > 0 {
		log.Warnf("⚠️ Moved %d leftover files to %s", len(moved), d.destDir)
	}
	removeEmptyDirs(staging)
}

// moveAll moves every regular file below staging into the destination,
// renamed by rename. Files in subdirectories are named after their path
// relative to staging. With convert set, WebP images become PNG first.
func (d *ArchiveDownloader) moveAll(staging string, rename func(string) string, convert bool) ([]string, error) {
	if err := os.MkdirAll(d.destDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create destination: %w", err)
	}

	var paths []string
	err := filepath.WalkDir(staging, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if entry.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var moved []string
	var errs []error
	for _, path := range paths {
		if convert && parser.IsWebP(path) {
			if converted, err := parser.ConvertWebPToPNG(path); err != nil {
				logging.For("Archive").Warnf("⚠️ Could not convert %s: %v", path, err)
			} else {
				path = converted
			}
		}

		rel, err := filepath.Rel(staging, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		// ch1/001.jpg and ch2/001.jpg must not land on the same name
		flat := strings.ReplaceAll(filepath.ToSlash(rel), "/", "-")

		dst := uniquePath(filepath.Join(d.destDir, rename(flat)))
		if err := parser.MoveFile(path, dst); err != nil {
			errs = append(errs, err)
			continue
		}
		moved = append(moved, dst)
	}

	return moved, errors.Join(errs...)
}

// uniquePath returns path, or path with a "-N" suffix before the extension
// when something already exists there
func uniquePath(path string) string {
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, i, ext)
		if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
	}
}

// removeEmptyDirs removes dir and its subdirectories, deepest first, as long
// as they are empty
func removeEmptyDirs(dir string) {
	var dirs []string
	filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err == nil && entry.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})

	slices.Reverse(dirs)
	for _, d := range dirs {
		if _, err := parser.RemoveIfEmpty(d); err != nil {
			logging.For("Archive").Debugf("Could not remove %s: %v", d, err)
		}
	}
}
