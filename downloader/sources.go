package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"boardcrawl/config"
	"boardcrawl/logging"
	"boardcrawl/parser"
)

// ExtractSources returns the media URLs of the tags matched by selector.
// Each tag contributes its src, else its href, else the src of its nested
// <source> elements. URLs are made absolute against articleURL and links
// into ignoredDomains are dropped.
func ExtractSources(doc *goquery.Document, selector, articleURL string, ignoredDomains []string) []string {
	log := logging.For("Sources")
	base, _ := url.Parse(articleURL)

	var sources []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		var raw []string
		if src, ok := s.Attr("src"); ok && strings.TrimSpace(src) != "" {
			raw = append(raw, src)
		} else if href, ok := s.Attr("href"); ok && strings.TrimSpace(href) != "" {
			raw = append(raw, href)
		} else {
			s.Find("source").Each(func(_ int, child *goquery.Selection) {
				if src, ok := child.Attr("src"); ok && strings.TrimSpace(src) != "" {
					raw = append(raw, src)
				}
			})
		}

		if len(raw) == 0 {
			log.Warnf("⚠️ Source tag without a source in %s", articleURL)
			return
		}

		for _, r := range raw {
			normalized := normalizeSource(r, base)
			if normalized == "" {
				continue
			}
			if inIgnoredDomain(normalized, ignoredDomains) {
				log.Debugf("Dropped %s (ignored domain)", normalized)
				continue
			}
			sources = append(sources, normalized)
		}
	})

	return sources
}

func normalizeSource(raw string, base *url.URL) string {
	raw = strings.TrimSpace(raw)
	raw, _, _ = strings.Cut(raw, "?type")
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if !u.IsAbs() && base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func inIgnoredDomain(rawURL string, domains []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range domains {
		d = strings.ToLower(strings.TrimPrefix(d, "."))
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// MediaDownloader saves source URLs into a directory
type MediaDownloader struct {
	client          *HTTPClient
	destDir         string
	candidates      []string
	ignoredPatterns []string
	limiter         *parser.RateLimiter
}

// NewMediaDownloader creates a downloader writing into destDir
func NewMediaDownloader(client *HTTPClient, destDir string, settings *config.Settings) *MediaDownloader {
	return &MediaDownloader{
		client:          client,
		destDir:         destDir,
		candidates:      settings.ExtensionCandidates,
		ignoredPatterns: settings.IgnoredFilePatterns,
		limiter:         parser.NewRateLimiter(settings.RequestIntervalDuration()),
	}
}

// ForArticle returns a copy that sends articleURL as referer. The rate
// limiter is shared.
func (d *MediaDownloader) ForArticle(articleURL string) *MediaDownloader {
	clone := *d
	clone.client = d.client.WithReferer(articleURL)
	return &clone
}

// DownloadSources downloads sources as <baseName>-000.<ext>,
// <baseName>-001.<ext> and so on, and returns the paths written. Single
// failures are logged; an error is returned only when nothing could be
// saved.
func (d *MediaDownloader) DownloadSources(ctx context.Context, sources []string, baseName string) ([]string, error) {
	log := logging.For("Media")

	if err := os.MkdirAll(d.destDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", d.destDir, err)
	}

	var files []string
	var errs []error
	index := 0

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return files, err
		}

		if parser.MatchesAny(source, d.ignoredPatterns) {
			log.Debugf("Ignored %s", source)
			continue
		}

		if err := d.limiter.Wait(ctx); err != nil {
			return files, err
		}

		ext, skip := d.extensionFor(ctx, source)
		if skip {
			log.Debugf("Skipped %s (text content)", source)
			continue
		}

		path := filepath.Join(d.destDir, fmt.Sprintf("%s-%03d.%s", baseName, index, ext))
		index++

		if _, err := d.client.DownloadFile(ctx, source, path); err != nil {
			log.Warnf("⚠️ Failed to download %s: %v", source, err)
			errs = append(errs, err)
			continue
		}

		if ext == "webp" || parser.IsWebP(path) {
			converted, err := parser.ConvertWebPToPNG(path)
			if err != nil {
				log.Warnf("⚠️ Could not convert %s: %v", path, err)
			} else {
				path = converted
			}
		}

		log.Debugf("✓ Saved %s", filepath.Base(path))
		files = append(files, path)
	}

	if len(files) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("no files saved: %w", errors.Join(errs...))
	}
	return files, nil
}

// extensionFor picks the file extension of source. skip is true for text
// responses, which are pages rather than media.
func (d *MediaDownloader) extensionFor(ctx context.Context, source string) (ext string, skip bool) {
	log := logging.For("Media")

	contentType, err := d.client.ProbeContentType(ctx, source)
	if err != nil {
		log.Debugf("HEAD %s failed: %v", source, err)
	}

	if contentType != "" {
		ext, category, ok := parser.ExtensionFromContentType(contentType, d.candidates)
		if category == "text" {
			return "", true
		}
		if ok {
			return ext, false
		}
	}

	if ext, ok := parser.ExtensionFromURL(source, d.candidates); ok {
		return ext, false
	}

	log.Warnf("⚠️ Unknown type for %s (%q), saving as .%s", source, contentType, parser.UnknownExtension)
	return parser.UnknownExtension, false
}
