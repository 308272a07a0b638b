package downloader

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"boardcrawl/cf"
	"boardcrawl/config"
	"boardcrawl/logging"
	"boardcrawl/models"
	"boardcrawl/parser"
)

const (
	pageLoadAttempts       = 3
	maxConsecutiveFailures = 5
)

// ErrTooManyPageFailures aborts a board whose listing keeps failing
var ErrTooManyPageFailures = errors.New("too many consecutive listing page failures")

var errEmptyListing = errors.New("listing page has no rows")

// timeNow is replaced in tests
var timeNow = time.Now

var digitsRe = regexp.MustCompile(`\d+`)

// CollectArticles walks the board's listing pages and returns the articles
// that fall inside the maturity window and pass every filter. seen may be
// nil. Reaching a row older than the window ends the whole board.
func CollectArticles(ctx context.Context, board *config.Board, site SitePlugin, fetch HTMLFetcher, seen SeenFunc) ([]models.Article, error) {
	log := logging.For("Listing").WithField("board", board.Name)
	method := site.GetListingExtractionMethod()
	now := timeNow()

	var articles []models.Article
	visited := make(map[string]bool)
	failures := 0
	lastPage := board.StartingPage + board.ScanningSpan - 1

	for page := board.StartingPage; page <= lastPage; page++ {
		if err := ctx.Err(); err != nil {
			return articles, err
		}

		pageURL := site.ListingURL(page)
		rows, err := loadListingPage(ctx, fetch, pageURL, method)
		if err != nil {
			if chErr, ok := cf.IsChallenge(err); ok {
				return articles, chErr
			}
			if ctx.Err() != nil {
				return articles, ctx.Err()
			}

			failures++
			log.Warnf("⚠️ Page %d failed (%d/%d): %v", page, failures, maxConsecutiveFailures, err)
			if failures >= maxConsecutiveFailures {
				return articles, fmt.Errorf("%w: last page %d", ErrTooManyPageFailures, page)
			}
			continue
		}
		failures = 0

		regular := 0
		tooOld := false
		for _, row := range rows {
			if row.Notice || slices.Contains(board.IgnoredRowTypes, row.Type) {
				continue
			}
			regular++

			article, verdict := evaluateRow(ctx, board, site, row, now, seen, visited)
			if verdict == rowTooOld {
				log.Infof("Reached '%s' (%s), older than %d days; stopping", row.Title, row.Timestamp, board.TooOldDay)
				tooOld = true
				break
			}
			if verdict != rowAccepted {
				log.Debugf("Skipped '%s': %s", row.Title, verdict)
				continue
			}

			article.Page = page
			visited[article.URL] = true
			articles = append(articles, article)
		}

		log.Infof("Page %d: %d rows, %d articles so far", page, regular, len(articles))

		if tooOld {
			break
		}
		if regular == 0 {
			log.Infof("Page %d has no regular rows; stopping", page)
			break
		}

		if page < lastPage {
			if err := parser.RandomPause(ctx, board.PagePause); err != nil {
				return articles, err
			}
		}
	}

	return articles, nil
}

// loadListingPage fetches and parses a listing page, reloading it while it
// comes back empty
func loadListingPage(ctx context.Context, fetch HTMLFetcher, pageURL string, method *ListingExtractionMethod) ([]models.ListingRow, error) {
	var lastErr error

	for attempt := 0; attempt < pageLoadAttempts; attempt++ {
		if attempt > 0 {
			logging.For("Listing").Debugf("Reloading %s (%d/%d)", pageURL, attempt+1, pageLoadAttempts)
		}

		html, err := fetch.FetchHTML(ctx, pageURL, method.WaitSelector)
		if err != nil {
			if _, ok := cf.IsChallenge(err); ok {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		rows, err := parseListing(html, method)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return rows, nil
		}
		lastErr = errEmptyListing
	}

	return nil, lastErr
}

// parseListing reads rows from a listing page
func parseListing(html string, method *ListingExtractionMethod) ([]models.ListingRow, error) {
	switch method.Type {
	case ListingCustom:
		if method.CustomParser == nil {
			return nil, errors.New("custom listing method without parser")
		}
		return method.CustomParser(html)
	case ListingHTMLSelector:
		return parseListingWithSelector(html, method.Selectors)
	default:
		return nil, fmt.Errorf("unknown extraction type: %s", method.Type)
	}
}

func parseListingWithSelector(html string, sel config.Selectors) ([]models.ListingRow, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var rows []models.ListingRow
	doc.Find(sel.Row).Each(func(_ int, s *goquery.Selection) {
		row := models.ListingRow{
			Title:    cellText(s, sel.Title),
			Likes:    cellText(s, sel.Likes),
			Category: cellText(s, sel.Category),
			Type:     cellText(s, sel.RowType),
		}

		if sel.Notice != "" && (s.Is(sel.Notice) || s.Find(sel.Notice).Length() > 0) {
			row.Notice = true
		}

		link := s
		if sel.Link != "" {
			link = s.Find(sel.Link).First()
		}
		row.URL, _ = link.Attr("href")
		if row.Title == "" {
			row.Title = strings.TrimSpace(link.Text())
		}

		if sel.DateAttr != "" {
			date := s
			if sel.Date != "" {
				date = s.Find(sel.Date).First()
			}
			row.Timestamp, _ = date.Attr(sel.DateAttr)
			row.Timestamp = strings.TrimSpace(row.Timestamp)
		} else {
			row.Timestamp = cellText(s, sel.Date)
		}

		rows = append(rows, row)
	})

	return rows, nil
}

func cellText(row *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(row.Find(selector).First().Text())
}

type rowVerdict string

const (
	rowAccepted    rowVerdict = "accepted"
	rowTooOld      rowVerdict = "too old"
	rowTooYoung    rowVerdict = "too young"
	rowBadDate     rowVerdict = "unreadable date"
	rowFewLikes    rowVerdict = "not enough likes"
	rowCategory    rowVerdict = "category not wanted"
	rowIgnoredName rowVerdict = "ignored title"
	rowBadURL      rowVerdict = "unusable link"
	rowDuplicate   rowVerdict = "already collected"
	rowSeen        rowVerdict = "already downloaded"
)

func evaluateRow(ctx context.Context, board *config.Board, site SitePlugin, row models.ListingRow, now time.Time, seen SeenFunc, visited map[string]bool) (models.Article, rowVerdict) {
	days, err := parser.DayDifference(row.Timestamp, now, board.DateLayouts...)
	if err != nil {
		return models.Article{}, rowBadDate
	}

	switch board.Classify(days) {
	case parser.TooYoung:
		return models.Article{}, rowTooYoung
	case parser.TooOld:
		return models.Article{}, rowTooOld
	}

	likes := parseCount(row.Likes)
	if board.MinLikes > 0 && likes < board.MinLikes {
		return models.Article{}, rowFewLikes
	}

	if len(board.Categories) > 0 && !slices.Contains(board.Categories, row.Category) {
		return models.Article{}, rowCategory
	}

	if parser.MatchesAny(row.Title, board.IgnoredTitles) {
		return models.Article{}, rowIgnoredName
	}

	articleURL := site.NormalizeArticleURL(row.URL)
	if articleURL == "" {
		return models.Article{}, rowBadURL
	}
	if visited[articleURL] {
		return models.Article{}, rowDuplicate
	}

	docID, err := parser.DocumentID(articleURL, board.DocIDPattern)
	if err != nil {
		return models.Article{}, rowBadURL
	}

	if seen != nil {
		done, err := seen(ctx, articleURL)
		if err != nil {
			logging.For("Listing").Warnf("History lookup failed for %s: %v", articleURL, err)
		} else if done {
			return models.Article{}, rowSeen
		}
	}

	return models.Article{
		Board:    board.Name,
		Title:    row.Title,
		URL:      articleURL,
		DocID:    docID,
		AgeDays:  days,
		Likes:    likes,
		Category: row.Category,
	}, rowAccepted
}

// parseCount reads the first number of "1,234" or "추천 12" style
// counters; anything without digits counts as zero
func parseCount(s string) int {
	digits := digitsRe.FindString(strings.ReplaceAll(s, ",", ""))
	if digits == "" {
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}
