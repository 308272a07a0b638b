package downloader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardcrawl/cf"
	"boardcrawl/config"
	"boardcrawl/models"
)

type fakeBrowser struct {
	html        string
	navigateErr error
	onClick     func() error
	progress    ProgressProbe
	closed      bool
}

func (b *fakeBrowser) Navigate(string, string) (time.Duration, error) {
	return 200 * time.Millisecond, b.navigateErr
}

func (b *fakeBrowser) GetHTML() (string, error) { return b.html, nil }

func (b *fakeBrowser) ClickFirst(ctx context.Context, strategies []config.ClickStrategy) (config.ClickStrategy, error) {
	if b.onClick == nil {
		return config.ClickStrategy{}, ErrNoDownloadButton
	}
	return strategies[0], b.onClick()
}

func (b *fakeBrowser) ProgressState(ctx context.Context, id, attr string) (bool, float64, error) {
	return b.progress(ctx)
}

func (b *fakeBrowser) Close() { b.closed = true }

func newTestArchive(t *testing.T, layout string, browser *fakeBrowser) (*ArchiveDownloader, string, string) {
	t.Helper()

	root := t.TempDir()
	dump := filepath.Join(root, "dump")
	dest := filepath.Join(root, "dest")

	settings := &config.Settings{DumpPath: dump, DownloadPath: dest}
	board := &config.Board{
		Name: "gallery",
		Tag:  "-hm",
		BrowserDownload: config.BrowserDownload{
			ClickStrategies: []config.ClickStrategy{{Kind: "id", Value: "dl-button"}},
			ProgressAttr:    "aria-valuenow",
			Layout:          layout,
		},
	}
	site := newFakeSite()
	site.article = ArticleExtractionMethod{Type: ArticleBrowserArchive, TitleSelector: "h1.t"}

	d := NewArchiveDownloader(settings, board, site)
	d.Sleep = noSleep
	d.newBrowser = func(ctx context.Context, opts BrowserOptions) (archiveBrowser, error) {
		assert.Equal(t, filepath.Join(dump, "77"), opts.DownloadDir)
		assert.True(t, opts.Headless)
		return browser, nil
	}
	return d, dump, dest
}

func TestArchiveDownloadFlatten(t *testing.T) {
	browser := &fakeBrowser{html: `<html><h1 class="t">Cute cats</h1></html>`}
	d, dump, dest := newTestArchive(t, config.LayoutFlatten, browser)
	staging := filepath.Join(dump, "77")

	browser.onClick = func() error {
		writeTestZip(t, filepath.Join(staging, "cats.zip"), map[string][]byte{
			"a.jpg":      []byte("jpeg"),
			"sub/b.webp": webpBytes(t),
		})
		return nil
	}

	files, err := d.Download(context.Background(), models.Article{URL: "https://board.example/g/77", DocID: "77", Title: "listing title"}, 1)
	require.NoError(t, err)
	assert.True(t, browser.closed)

	assert.ElementsMatch(t, []string{
		filepath.Join(dest, "Cute-cats-77-fk-a.jpg"),
		filepath.Join(dest, "Cute-cats-77-fk-sub-b.png"),
	}, files)
	for _, f := range files {
		assert.FileExists(t, f)
	}
	assert.NoDirExists(t, staging)
}

func TestArchiveDownloadWithProgress(t *testing.T) {
	browser := &fakeBrowser{}
	d, dump, dest := newTestArchive(t, config.LayoutFlatten, browser)
	d.board.BrowserDownload.ProgressElement = "progressbar"
	staging := filepath.Join(dump, "77")

	browser.onClick = func() error {
		require.NoError(t, os.WriteFile(filepath.Join(staging, "clip.mp4"), []byte("video"), 0644))
		return nil
	}
	browser.progress = probeSequence(probeSample{progress: 50}, probeSample{visible: true})

	files, err := d.Download(context.Background(), models.Article{DocID: "77", Title: "clip"}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dest, "clip-77-fk-clip.mp4")}, files)
}

func TestArchiveDownloadTimeoutSalvages(t *testing.T) {
	browser := &fakeBrowser{}
	d, dump, dest := newTestArchive(t, config.LayoutFlatten, browser)
	d.Completion.MinTimeout = 3 * time.Second
	staging := filepath.Join(dump, "77")

	browser.onClick = func() error {
		// the browser created its file but never wrote to it
		return os.WriteFile(filepath.Join(staging, "pack.zip.crdownload"), nil, 0644)
	}

	_, err := d.Download(context.Background(), models.Article{DocID: "77"}, 1)
	require.ErrorIs(t, err, ErrDownloadTimeout)

	assert.FileExists(t, filepath.Join(dest, "err-pack.zip.crdownload"))
	assert.NoDirExists(t, staging)
}

func TestArchiveDownloadNoButton(t *testing.T) {
	d, dump, _ := newTestArchive(t, config.LayoutFlatten, &fakeBrowser{})

	_, err := d.Download(context.Background(), models.Article{DocID: "77"}, 1)
	assert.ErrorIs(t, err, ErrNoDownloadButton)
	assert.NoDirExists(t, filepath.Join(dump, "77"))
}

func TestArchiveDownloadChallenge(t *testing.T) {
	browser := &fakeBrowser{navigateErr: cf.NewChallengeError("https://board.example/g/77", &cf.Info{StatusCode: 200})}
	d, dump, _ := newTestArchive(t, config.LayoutFlatten, browser)

	_, err := d.Download(context.Background(), models.Article{DocID: "77"}, 1)
	_, ok := cf.IsChallenge(err)
	assert.True(t, ok)
	assert.NoDirExists(t, filepath.Join(dump, "77"))
}

func TestArchiveDownloadBrowserFailureCleansStaging(t *testing.T) {
	d, dump, _ := newTestArchive(t, config.LayoutFlatten, &fakeBrowser{})
	d.newBrowser = func(context.Context, BrowserOptions) (archiveBrowser, error) {
		return nil, errors.New("chrome not found")
	}

	_, err := d.Download(context.Background(), models.Article{DocID: "77"}, 1)
	assert.ErrorContains(t, err, "chrome not found")
	assert.NoDirExists(t, filepath.Join(dump, "77"))
}

func TestFinalizeFolderLayout(t *testing.T) {
	d, dump, dest := newTestArchive(t, config.LayoutFolder, &fakeBrowser{})
	staging := filepath.Join(dump, "77")
	require.NoError(t, os.MkdirAll(staging, 0755))

	writeTestZip(t, filepath.Join(staging, "board | set_Cats.zip"), map[string][]byte{
		"1.jpg": []byte("one"),
		"2.jpg": []byte("two"),
	})

	results, err := d.Finalize(staging, "ignored")
	require.NoError(t, err)

	folder := filepath.Join(dest, "002-hm-Cats")
	assert.Equal(t, []string{folder}, results)
	assert.FileExists(t, filepath.Join(folder, "1.jpg"))
	assert.FileExists(t, filepath.Join(folder, "2.jpg"))
	assert.NoDirExists(t, staging)
}

func TestFinalizeKeepsSameNamedEntriesApart(t *testing.T) {
	d, dump, dest := newTestArchive(t, config.LayoutFlatten, &fakeBrowser{})
	staging := filepath.Join(dump, "77")
	require.NoError(t, os.MkdirAll(staging, 0755))

	writeTestZip(t, filepath.Join(staging, "cats.zip"), map[string][]byte{
		"ch1/001.jpg": []byte("first"),
		"ch2/001.jpg": []byte("second"),
	})

	results, err := d.Finalize(staging, "Cats-77-fk")
	require.NoError(t, err)

	first := filepath.Join(dest, "Cats-77-fk-ch1-001.jpg")
	second := filepath.Join(dest, "Cats-77-fk-ch2-001.jpg")
	assert.ElementsMatch(t, []string{first, second}, results)

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
	data, err = os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestFinalizeDoesNotOverwriteDestination(t *testing.T) {
	d, dump, dest := newTestArchive(t, config.LayoutFlatten, &fakeBrowser{})
	staging := filepath.Join(dump, "77")
	require.NoError(t, os.MkdirAll(staging, 0755))
	require.NoError(t, os.MkdirAll(dest, 0755))

	existing := filepath.Join(dest, "name-a.jpg")
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "a.jpg"), []byte("new"), 0644))

	results, err := d.Finalize(staging, "name")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dest, "name-a-1.jpg")}, results)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestFinalizeTruncatesLongNames(t *testing.T) {
	d, dump, dest := newTestArchive(t, config.LayoutFlatten, &fakeBrowser{})
	staging := filepath.Join(dump, "77")
	require.NoError(t, os.MkdirAll(staging, 0755))

	long := "0123456789012345678901234567890123456789012345678901234567890123456789.jpg"
	require.NoError(t, os.WriteFile(filepath.Join(staging, long), []byte("x"), 0644))

	results, err := d.Finalize(staging, "name")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, filepath.Join(dest, "name-"+long[:50]+".jpg"), results[0])
}

func TestFolderName(t *testing.T) {
	assert.Equal(t, "012-hm-Title-one", folderName(12, "-hm", "board | my_gallery_Title one.zip"))
	assert.Equal(t, "003-plain", folderName(3, "", "plain.zip"))
}
