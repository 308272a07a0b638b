package downloader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardcrawl/cf"
	"boardcrawl/config"
	"boardcrawl/parser"
)

func testBoard(span int) *config.Board {
	return &config.Board{
		Name:           "humor",
		StartingPage:   1,
		ScanningSpan:   span,
		MaturityWindow: parser.MaturityWindow{TooYoungDay: 1, TooOldDay: 5},
		MinLikes:       10,
		IgnoredTitles:  []string{"spam"},
	}
}

func TestCollectArticlesFilters(t *testing.T) {
	fixNow(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))

	site := newFakeSite()
	fetch := newFakeFetcher()
	fetch.pages[site.ListingURL(1)] = []string{listingPage(
		testRow{title: "Rules", href: "/view?no=1", date: "2020.01.01", likes: "0", notice: true},
		testRow{title: "fresh", href: "/view?no=100", date: "2024.03.10", likes: "50"},
		testRow{title: "good", href: "/view?no=101", date: "2024.03.07", likes: "20"},
		testRow{title: "few likes", href: "/view?no=104", date: "2024.03.07", likes: "2"},
		testRow{title: "buy spam now", href: "/view?no=105", date: "2024.03.07", likes: "99"},
		testRow{title: "good again", href: "/view?no=101", date: "2024.03.07", likes: "20"},
		testRow{title: "seen before", href: "/view?no=102", date: "2024.03.07", likes: "30"},
	)}
	fetch.pages[site.ListingURL(2)] = []string{listingPage(
		testRow{title: "good2", href: "/view?no=103", date: "2024.03.06", likes: "1,500"},
		testRow{title: "old", href: "/view?no=90", date: "2024.03.04", likes: "80"},
		testRow{title: "never read", href: "/view?no=91", date: "2024.03.07", likes: "80"},
	)}

	history := newFakeHistory("https://board.example/view?no=102")
	articles, err := CollectArticles(context.Background(), testBoard(3), site, fetch, history.Seen)
	require.NoError(t, err)

	require.Len(t, articles, 2)
	assert.Equal(t, "good", articles[0].Title)
	assert.Equal(t, "101", articles[0].DocID)
	assert.Equal(t, 3, articles[0].AgeDays)
	assert.Equal(t, 1, articles[0].Page)
	assert.Equal(t, "humor", articles[0].Board)

	assert.Equal(t, "good2", articles[1].Title)
	assert.Equal(t, 1500, articles[1].Likes)
	assert.Equal(t, 2, articles[1].Page)

	// the too-old row ended the board
	assert.Zero(t, fetch.callCount(site.ListingURL(3)))
}

func TestCollectArticlesReloadsEmptyPage(t *testing.T) {
	fixNow(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))

	site := newFakeSite()
	fetch := newFakeFetcher()
	fetch.pages[site.ListingURL(1)] = []string{
		"<html></html>",
		"<html></html>",
		listingPage(testRow{title: "late", href: "/view?no=7", date: "2024.03.07", likes: "10"}),
	}

	articles, err := CollectArticles(context.Background(), testBoard(1), site, fetch, nil)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, 3, fetch.callCount(site.ListingURL(1)))
}

func TestCollectArticlesStopsOnNoticeOnlyPage(t *testing.T) {
	fixNow(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))

	site := newFakeSite()
	fetch := newFakeFetcher()
	fetch.pages[site.ListingURL(1)] = []string{listingPage(
		testRow{title: "Rules", href: "/view?no=1", date: "2024.03.07", likes: "99", notice: true},
	)}
	fetch.pages[site.ListingURL(2)] = []string{listingPage(
		testRow{title: "unreached", href: "/view?no=2", date: "2024.03.07", likes: "99"},
	)}

	articles, err := CollectArticles(context.Background(), testBoard(2), site, fetch, nil)
	require.NoError(t, err)
	assert.Empty(t, articles)
	assert.Zero(t, fetch.callCount(site.ListingURL(2)))
}

func TestCollectArticlesConsecutiveFailures(t *testing.T) {
	site := newFakeSite()
	fetch := newFakeFetcher()
	for page := 1; page <= 10; page++ {
		fetch.errs[site.ListingURL(page)] = errors.New("connection reset")
	}

	_, err := CollectArticles(context.Background(), testBoard(10), site, fetch, nil)
	require.ErrorIs(t, err, ErrTooManyPageFailures)

	assert.Equal(t, pageLoadAttempts, fetch.callCount(site.ListingURL(1)))
	assert.Equal(t, pageLoadAttempts, fetch.callCount(site.ListingURL(5)))
	assert.Zero(t, fetch.callCount(site.ListingURL(6)))
}

func TestCollectArticlesFailedPageIsSkipped(t *testing.T) {
	fixNow(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))

	site := newFakeSite()
	fetch := newFakeFetcher()
	fetch.errs[site.ListingURL(1)] = errors.New("bad gateway")
	fetch.pages[site.ListingURL(2)] = []string{listingPage(
		testRow{title: "second page", href: "/view?no=8", date: "2024.03.07", likes: "10"},
	)}

	articles, err := CollectArticles(context.Background(), testBoard(2), site, fetch, nil)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "8", articles[0].DocID)
}

func TestCollectArticlesChallenge(t *testing.T) {
	site := newFakeSite()
	fetch := newFakeFetcher()
	fetch.errs[site.ListingURL(1)] = cf.NewChallengeError(site.ListingURL(1), &cf.Info{StatusCode: 403})

	_, err := CollectArticles(context.Background(), testBoard(3), site, fetch, nil)
	_, ok := cf.IsChallenge(err)
	assert.True(t, ok)
	assert.Equal(t, 1, fetch.callCount(site.ListingURL(1)))
}

func TestParseListingCustom(t *testing.T) {
	site := newFakeSite()
	site.listing = ListingExtractionMethod{Type: ListingCustom}

	_, err := parseListing("<html></html>", site.GetListingExtractionMethod())
	assert.Error(t, err)

	_, err = parseListing("<html></html>", &ListingExtractionMethod{Type: "javascript"})
	assert.Error(t, err)
}

func TestParseListingDateAttribute(t *testing.T) {
	html := `<ul><li class="row"><a href="/p/5">Title</a><time datetime="2024-03-01 10:00:00">3 days ago</time><span class="cat">pics</span></li></ul>`

	rows, err := parseListingWithSelector(html, config.Selectors{
		Row:      "li.row",
		Link:     "a",
		Date:     "time",
		DateAttr: "datetime",
		Category: ".cat",
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Title", rows[0].Title)
	assert.Equal(t, "/p/5", rows[0].URL)
	assert.Equal(t, "2024-03-01 10:00:00", rows[0].Timestamp)
	assert.Equal(t, "pics", rows[0].Category)
}

func TestParseCount(t *testing.T) {
	assert.Equal(t, 1234, parseCount("1,234"))
	assert.Equal(t, 12, parseCount("추천 12"))
	assert.Equal(t, 3, parseCount("3 / 40"))
	assert.Zero(t, parseCount("-"))
}
