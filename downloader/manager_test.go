package downloader

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardcrawl/cf"
	"boardcrawl/config"
	"boardcrawl/models"
	"boardcrawl/parser"
	"boardcrawl/store"
)

type progressCall struct {
	status      string
	progress    float64
	done, total int
}

func newTestManager(t *testing.T, fetch HTMLFetcher, history HistoryStore) (*Manager, *[]progressCall) {
	t.Helper()

	var calls []progressCall
	cfg := &ScanConfig{
		Settings: &config.Settings{
			DownloadPath:        t.TempDir(),
			ArticleAttempts:     3,
			ExtensionCandidates: parser.DefaultExtensionCandidates,
		},
		Board:   testBoard(1),
		Site:    newFakeSite(),
		History: history,
		ProgressCallback: func(status string, progress float64, done, total int) {
			calls = append(calls, progressCall{status, progress, done, total})
		},
	}

	m := NewManager(cfg)
	m.fetcher = fetch
	m.sleep = noSleep
	return m, &calls
}

func threeArticles(site *fakeSite, fetch *fakeFetcher) {
	fetch.pages[site.ListingURL(1)] = []string{listingPage(
		testRow{title: "a", href: "/view?no=1", date: "2024.03.07", likes: "10"},
		testRow{title: "b", href: "/view?no=2", date: "2024.03.07", likes: "10"},
		testRow{title: "c", href: "/view?no=3", date: "2024.03.07", likes: "10"},
	)}
}

func TestManagerRunRetriesAndRecords(t *testing.T) {
	fixNow(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))

	fetch := newFakeFetcher()
	history := newFakeHistory()
	m, calls := newTestManager(t, fetch, history)
	threeArticles(m.config.Site.(*fakeSite), fetch)

	attempts := map[string][]int{}
	m.scan = func(ctx context.Context, article models.Article, attempt int) ([]string, error) {
		attempts[article.DocID] = append(attempts[article.DocID], attempt)
		switch {
		case article.DocID == "2" && attempt < 3:
			return nil, errors.New("flaky")
		case article.DocID == "3":
			return nil, errors.New("broken")
		}
		return []string{article.DocID + ".jpg"}, nil
	}

	results, err := m.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, models.ScanCompleted, results[0].Status)
	assert.Equal(t, 1, results[0].Attempts)
	assert.Equal(t, []string{"1.jpg"}, results[0].Files)

	assert.Equal(t, models.ScanCompleted, results[1].Status)
	assert.Equal(t, 3, results[1].Attempts)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, []int{1, 2, 3}, attempts["2"])

	assert.Equal(t, models.ScanFailed, results[2].Status)
	assert.EqualError(t, results[2].Err, "broken")

	assert.Equal(t, models.ScanCompleted, history.records["https://board.example/view?no=1"])
	assert.Equal(t, models.ScanFailed, history.records["https://board.example/view?no=3"])

	last := (*calls)[len(*calls)-1]
	assert.Equal(t, 1.0, last.progress)
	assert.Equal(t, 3, last.done)
	assert.Equal(t, 3, last.total)
}

func TestManagerRunAbortsOnChallenge(t *testing.T) {
	fixNow(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))

	fetch := newFakeFetcher()
	m, _ := newTestManager(t, fetch, nil)
	threeArticles(m.config.Site.(*fakeSite), fetch)

	scanned := 0
	m.scan = func(ctx context.Context, article models.Article, attempt int) ([]string, error) {
		scanned++
		return nil, cf.NewChallengeError(article.URL, &cf.Info{StatusCode: 403})
	}

	results, err := m.Run(context.Background())
	_, ok := cf.IsChallenge(err)
	require.True(t, ok)
	assert.Len(t, results, 1)
	assert.Equal(t, 1, scanned)
}

func TestManagerRunNothingToDo(t *testing.T) {
	fixNow(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))

	fetch := newFakeFetcher()
	history := newFakeHistory(
		"https://board.example/view?no=1",
		"https://board.example/view?no=2",
		"https://board.example/view?no=3",
	)
	m, calls := newTestManager(t, fetch, history)
	threeArticles(m.config.Site.(*fakeSite), fetch)
	m.scan = func(context.Context, models.Article, int) ([]string, error) {
		t.Fatal("nothing should be scanned")
		return nil, nil
	}

	results, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, "No new articles", (*calls)[len(*calls)-1].status)
}

func TestManagerScanDirect(t *testing.T) {
	srv := newMediaServer(t)

	fetch := newFakeFetcher()
	m, _ := newTestManager(t, fetch, nil)
	site := m.config.Site.(*fakeSite)
	site.article = ArticleExtractionMethod{
		Type:          ArticleDirect,
		TitleSelector: "h3.title",
		Sources: []SourceGroup{
			{Selector: "div.content img", Suffix: "-i"},
			{Selector: "div.content video", Suffix: "-v"},
		},
	}

	articleURL := "https://board.example/view?no=5"
	fetch.pages[articleURL] = []string{`<html><h3 class="title">Funny cat</h3><div class="content">
		<img src="` + srv.URL + `/img.png">
		<video src="` + srv.URL + `/clip.mp4"></video>
	</div></html>`}

	files, err := m.scanDirect(context.Background(), models.Article{URL: articleURL, DocID: "5", Title: "listing"}, 1)
	require.NoError(t, err)

	dest := m.config.Settings.DownloadPath
	assert.Equal(t, []string{
		filepath.Join(dest, "Funny-cat-5-fk-i-000.png"),
		filepath.Join(dest, "Funny-cat-5-fk-v-000.mp4"),
	}, files)
}

func TestManagerPicksArchiveFlow(t *testing.T) {
	site := newFakeSite()
	site.article = ArticleExtractionMethod{Type: ArticleBrowserArchive}

	m := NewManager(&ScanConfig{Settings: &config.Settings{}, Board: testBoard(1), Site: site})
	assert.NotNil(t, m.archive)
}

func TestStoreHistoryAdapter(t *testing.T) {
	h, err := store.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer h.Close()

	ctx := context.Background()
	history := NewHistory(h)
	ok := models.Article{URL: "https://board.example/view?no=1", Board: "humor", Title: "a"}
	bad := models.Article{URL: "https://board.example/view?no=2", Board: "humor", Title: "b"}

	require.NoError(t, history.Record(ctx, ok, models.ScanCompleted, 2))
	require.NoError(t, history.Record(ctx, bad, models.ScanFailed, 0))

	seen, err := history.Seen(ctx, ok.URL)
	require.NoError(t, err)
	assert.True(t, seen)

	// failed articles are retried on the next run
	seen, err = history.Seen(ctx, bad.URL)
	require.NoError(t, err)
	assert.False(t, seen)
}
