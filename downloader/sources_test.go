package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardcrawl/config"
	"boardcrawl/parser"
)

func TestExtractSources(t *testing.T) {
	html := `<div class="content">
		<img src="//cdn.board.example/a.jpg?type=w800">
		<img src="/files/b.png">
		<video><source src="https://cdn.board.example/c.mp4"><source src="https://cdn.board.example/d.webm"></video>
		<a class="file" href="https://img.ads.example/x.jpg">ad</a>
		<img data-src="lazy.jpg">
		<a class="file" href="javascript:void(0)">broken</a>
	</div>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	sources := ExtractSources(doc, "div.content img, div.content video, div.content a.file",
		"https://board.example/view?no=5", []string{"ads.example"})

	assert.Equal(t, []string{
		"https://cdn.board.example/a.jpg",
		"https://board.example/files/b.png",
		"https://cdn.board.example/c.mp4",
		"https://cdn.board.example/d.webm",
	}, sources)
}

func newMediaServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	serve := func(path, contentType, body string) {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", contentType)
			w.Write([]byte(body))
		})
	}
	serve("/img.png", "image/png", "png-bytes")
	serve("/page", "text/html; charset=utf-8", "<html></html>")
	serve("/banner.png", "image/png", "banner")
	serve("/blob", "application/octet-stream", "blob")
	serve("/clip.mp4", "application/octet-stream", "mp4-bytes")
	mux.HandleFunc("/missing", http.NotFound)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloadSources(t *testing.T) {
	srv := newMediaServer(t)
	dest := t.TempDir()

	settings := &config.Settings{
		ExtensionCandidates: parser.DefaultExtensionCandidates,
		IgnoredFilePatterns: []string{"banner"},
	}
	media := NewMediaDownloader(NewHTTPClient(), dest, settings).ForArticle(srv.URL + "/view")

	sources := []string{
		srv.URL + "/img.png",
		srv.URL + "/page",
		srv.URL + "/banner.png",
		srv.URL + "/blob",
		srv.URL + "/clip.mp4",
		srv.URL + "/missing",
	}

	files, err := media.DownloadSources(context.Background(), sources, "cats-5-fk-i")
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dest, "cats-5-fk-i-000.png"),
		filepath.Join(dest, "cats-5-fk-i-001.tmp"),
		filepath.Join(dest, "cats-5-fk-i-002.mp4"),
	}, files)

	data, err := os.ReadFile(files[2])
	require.NoError(t, err)
	assert.Equal(t, "mp4-bytes", string(data))

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestDownloadSourcesAllFailed(t *testing.T) {
	srv := newMediaServer(t)
	media := NewMediaDownloader(NewHTTPClient(), t.TempDir(), &config.Settings{})

	_, err := media.DownloadSources(context.Background(), []string{srv.URL + "/missing"}, "x")
	assert.Error(t, err)
}

func TestDownloadSourcesConvertsWebP(t *testing.T) {
	data := webpBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/webp")
		w.Write(data)
	}))
	defer srv.Close()

	dest := t.TempDir()
	media := NewMediaDownloader(NewHTTPClient(), dest, &config.Settings{ExtensionCandidates: parser.DefaultExtensionCandidates})

	files, err := media.DownloadSources(context.Background(), []string{srv.URL + "/pic"}, "pic")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(dest, "pic-000.png"), files[0])
	assert.NoFileExists(t, filepath.Join(dest, "pic-000.webp"))
}
