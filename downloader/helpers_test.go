package downloader

import (
	"archive/zip"
	"context"
	"encoding/base64"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"boardcrawl/config"
	"boardcrawl/models"
	"boardcrawl/parser"
)

// 1x1 lossless WebP
const tinyWebP = "UklGRhoAAABXRUJQVlA4TA0AAAAvAAAAEAcQERGIiP4HAA=="

var testSelectors = config.Selectors{
	Row:    "tr.row",
	Notice: ".notice",
	Title:  "td.title",
	Link:   "td.title a",
	Date:   "td.date",
	Likes:  "td.likes",
}

type fakeSite struct {
	listURL string
	listing ListingExtractionMethod
	article ArticleExtractionMethod
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		listURL: "https://board.example/list?page=%d",
		listing: ListingExtractionMethod{Type: ListingHTMLSelector, Selectors: testSelectors},
		article: ArticleExtractionMethod{Type: ArticleDirect},
	}
}

func (s *fakeSite) GetSiteName() string { return "fake" }
func (s *fakeSite) GetDomain() string   { return "board.example" }
func (s *fakeSite) NeedsBrowser() bool  { return false }

func (s *fakeSite) GetListingExtractionMethod() *ListingExtractionMethod { return &s.listing }
func (s *fakeSite) GetArticleExtractionMethod() *ArticleExtractionMethod { return &s.article }

func (s *fakeSite) ListingURL(page int) string {
	return strings.ReplaceAll(s.listURL, "%d", strconv.Itoa(page))
}

func (s *fakeSite) NormalizeArticleURL(raw string) string {
	base, _ := url.Parse("https://board.example/")
	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return ""
	}
	return base.ResolveReference(u).String()
}

func (s *fakeSite) LocalName(title, docID string) string {
	return parser.LocalName(title, docID, "-fk")
}

// fakeFetcher serves canned pages. A URL with several pages returns them in
// turn and then keeps returning the last one.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string][]string
	errs  map[string]error
	calls map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: make(map[string][]string),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeFetcher) FetchHTML(ctx context.Context, targetURL, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.calls[targetURL]
	f.calls[targetURL]++

	if err, ok := f.errs[targetURL]; ok {
		return "", err
	}
	pages, ok := f.pages[targetURL]
	if !ok || len(pages) == 0 {
		return "", os.ErrNotExist
	}
	if n >= len(pages) {
		n = len(pages) - 1
	}
	return pages[n], nil
}

func (f *fakeFetcher) callCount(targetURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[targetURL]
}

type testRow struct {
	title, href, date, likes string
	notice                   bool
}

func listingPage(rows ...testRow) string {
	var b strings.Builder
	b.WriteString("<html><body><table>")
	for _, r := range rows {
		class := "row"
		if r.notice {
			class += " notice"
		}
		b.WriteString(`<tr class="` + class + `"><td class="title"><a href="` + r.href + `">` + r.title +
			`</a></td><td class="date">` + r.date + `</td><td class="likes">` + r.likes + `</td></tr>`)
	}
	b.WriteString("</table></body></html>")
	return b.String()
}

func fixNow(t *testing.T, now time.Time) {
	t.Helper()
	prev := timeNow
	timeNow = func() time.Time { return now }
	t.Cleanup(func() { timeNow = prev })
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// sizeSequence returns the given sizes in turn, repeating the last one
func sizeSequence(sizes ...int64) func() (int64, error) {
	i := 0
	return func() (int64, error) {
		s := sizes[i]
		if i < len(sizes)-1 {
			i++
		}
		return s, nil
	}
}

type fakeHistory struct {
	mu      sync.Mutex
	seen    map[string]bool
	records map[string]models.ScanStatus
}

func newFakeHistory(seen ...string) *fakeHistory {
	h := &fakeHistory{seen: make(map[string]bool), records: make(map[string]models.ScanStatus)}
	for _, u := range seen {
		h.seen[u] = true
	}
	return h
}

func (h *fakeHistory) Seen(_ context.Context, articleURL string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seen[articleURL], nil
}

func (h *fakeHistory) Record(_ context.Context, article models.Article, status models.ScanStatus, _ int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[article.URL] = status
	return nil
}

func writeTestZip(t *testing.T, path string, files map[string][]byte) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func webpBytes(t *testing.T) []byte {
	t.Helper()
	data, err := base64.StdEncoding.DecodeString(tinyWebP)
	require.NoError(t, err)
	return data
}
