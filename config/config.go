package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"boardcrawl/logging"
	"boardcrawl/parser"
)

const (
	DefaultConfigDir       = "~/.config/boardcrawl"
	configFileName         = "config.json"
	DefaultArticleAttempts = 3
)

// Settings is the content of config.json.
type Settings struct {
	DownloadPath         string        `json:"download_path"`
	DumpPath             string        `json:"dump_path"`
	LogPath              string        `json:"log_path"`
	LogLevel             string        `json:"log_level"`
	HistoryPath          string        `json:"history_path"`
	IgnoredTitlePatterns []string      `json:"ignored_title_patterns"`
	IgnoredFilePatterns  []string      `json:"ignored_file_patterns"`
	ExtensionCandidates  []string      `json:"extension_candidates"`
	StartDelay           parser.Window `json:"start_delay"`
	ArticleAttempts      int           `json:"article_attempts"`
	RequestInterval      float64       `json:"request_interval"` // seconds between media requests
	ShowBrowser          bool          `json:"show_browser"`
	Boards               []Board       `json:"boards"`
}

// Board is one listing to crawl.
type Board struct {
	Name         string `json:"name"`
	Site         string `json:"site"`
	Tag          string `json:"tag"`
	RootURL      string `json:"root_url"`
	ListingURL   string `json:"listing_url"`
	StartingPage int    `json:"starting_page"`
	ScanningSpan int    `json:"scanning_span"`
	parser.MaturityWindow
	MinLikes        int             `json:"min_likes"`
	Categories      []string        `json:"categories"`
	IgnoredRowTypes []string        `json:"ignored_row_types"`
	IgnoredDomains  []string        `json:"ignored_domains"`
	IgnoredTitles   []string        `json:"ignored_title_patterns"` // merged with the global patterns on load
	DateLayouts     []string        `json:"date_layouts"`
	DocIDPattern    string          `json:"doc_id_pattern"`
	PagePause       parser.Window   `json:"page_pause"`
	ArticlePause    parser.Window   `json:"article_pause"`
	Selectors       Selectors       `json:"selectors"`
	BrowserDownload BrowserDownload `json:"browser_download"`
}

// Selectors locate things on listing and article pages.
type Selectors struct {
	Row      string `json:"row"`
	Notice   string `json:"notice"`   // rows containing a match are skipped
	RowType  string `json:"row_type"` // text compared against ignored_row_types
	Title    string `json:"title"`
	Link     string `json:"link"`
	Date     string `json:"date"`
	DateAttr string `json:"date_attr"` // read the timestamp from this attribute instead of the text
	Likes    string `json:"likes"`
	Category string `json:"category"`

	ArticleTitle string `json:"article_title"`
	Images       string `json:"images"`
	Videos       string `json:"videos"`
	Links        string `json:"links"`
}

// ClickStrategy is one way of locating the download button.
type ClickStrategy struct {
	Kind  string `json:"kind"` // css, xpath, id or class
	Value string `json:"value"`
}

func (s ClickStrategy) String() string {
	return s.Kind + ":" + s.Value
}

// BrowserDownload configures boards whose media is fetched as a zip by
// clicking a button in a real browser.
type BrowserDownload struct {
	ClickStrategies []ClickStrategy `json:"click_strategies"`
	WaitSelector    string          `json:"wait_selector"`
	ProgressElement string          `json:"progress_element"` // id of a progress bar; enables start detection
	ProgressAttr    string          `json:"progress_attr"`
	Layout          string          `json:"layout"`            // flatten or folder
	PageLoadTimeout float64         `json:"page_load_timeout"` // seconds
}

const (
	LayoutFlatten = "flatten"
	LayoutFolder  = "folder"
)

// ErrBoardNotFound is returned by Settings.Board.
var ErrBoardNotFound = errors.New("board not found")

// Board returns the board named name.
func (s *Settings) Board(name string) (*Board, error) {
	for i := range s.Boards {
		if s.Boards[i].Name == name {
			return &s.Boards[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrBoardNotFound, name)
}

// PageURL returns the listing URL of page. A %d placeholder is replaced,
// otherwise the number is appended.
func (b *Board) PageURL(page int) string {
	if strings.Contains(b.ListingURL, "%d") {
		return strings.ReplaceAll(b.ListingURL, "%d", strconv.Itoa(page))
	}
	return b.ListingURL + strconv.Itoa(page)
}

// RequestIntervalDuration converts request_interval to a duration.
func (s *Settings) RequestIntervalDuration() time.Duration {
	return time.Duration(s.RequestInterval * float64(time.Second))
}

// PageLoadTimeoutDuration converts page_load_timeout to a duration, 120s by default.
func (b *BrowserDownload) PageLoadTimeoutDuration() time.Duration {
	if b.PageLoadTimeout <= 0 {
		return 120 * time.Second
	}
	return time.Duration(b.PageLoadTimeout * float64(time.Second))
}

// DefaultPath returns ~/.config/boardcrawl/config.json, expanded.
func DefaultPath() (string, error) {
	dir, err := parser.ExpandPath(DefaultConfigDir)
	if err != nil {
		return "", fmt.Errorf("cannot resolve configuration directory: %w", err)
	}
	return filepath.Join(dir, configFileName), nil
}

// Load reads settings from path (DefaultPath when empty), creating an empty
// template first if the file does not exist.
func Load(path string) (*Settings, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	path, err := parser.ExpandPath(path)
	if err != nil {
		return nil, err
	}

	if err := verifyConfigFile(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("error unmarshalling config file %s: %w", path, err)
	}

	if err := settings.applyDefaults(filepath.Dir(path)); err != nil {
		return nil, err
	}

	return &settings, nil
}

// Save writes settings to path as indented JSON.
func Save(path string, settings *Settings) error {
	if err := verifyConfigDirectory(filepath.Dir(path)); err != nil {
		return err
	}

	jsonData, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, jsonData, 0644)
}

func (s *Settings) applyDefaults(configDir string) error {
	if s.DownloadPath == "" {
		s.DownloadPath = "~/Downloads/boardcrawl"
	}
	if s.DumpPath == "" {
		s.DumpPath = filepath.Join(configDir, "dump")
	}
	if s.LogPath == "" {
		s.LogPath = filepath.Join(configDir, "boardcrawl.log")
	}
	if s.HistoryPath == "" {
		s.HistoryPath = filepath.Join(configDir, "history.db")
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.ArticleAttempts <= 0 {
		s.ArticleAttempts = DefaultArticleAttempts
	}
	if len(s.ExtensionCandidates) == 0 {
		s.ExtensionCandidates = parser.DefaultExtensionCandidates
	}

	for _, p := range []*string{&s.DownloadPath, &s.DumpPath, &s.LogPath, &s.HistoryPath} {
		expanded, err := parser.ExpandPath(*p)
		if err != nil {
			return fmt.Errorf("cannot expand path %s: %w", *p, err)
		}
		*p = expanded
	}

	for i := range s.Boards {
		b := &s.Boards[i]
		if b.StartingPage <= 0 {
			b.StartingPage = 1
		}
		if b.ScanningSpan <= 0 {
			b.ScanningSpan = 1
		}
		if b.BrowserDownload.Layout == "" {
			b.BrowserDownload.Layout = LayoutFlatten
		}
		if b.BrowserDownload.ProgressAttr == "" {
			b.BrowserDownload.ProgressAttr = "aria-valuenow"
		}
		b.IgnoredTitles = append(b.IgnoredTitles, s.IgnoredTitlePatterns...)
	}
	return nil
}

// check config directory exists or create it
func verifyConfigDirectory(configDirectory string) error {
	_, err := os.Stat(configDirectory)

	if os.IsNotExist(err) {
		if err := os.MkdirAll(configDirectory, 0755); err != nil {
			return fmt.Errorf("error creating directory %s: %w", configDirectory, err)
		}
		logging.For("Config").Infof("Directory %s created successfully.", configDirectory)
	} else if err != nil {
		return fmt.Errorf("error checking directory %s: %w", configDirectory, err)
	}

	return nil
}

// check config file exists or create an empty template
func verifyConfigFile(path string) error {
	if err := verifyConfigDirectory(filepath.Dir(path)); err != nil {
		return err
	}

	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		logging.For("Config").Infof("Config file not found, creating template at '%s'", path)

		templateData := &Settings{
			StartDelay: parser.Window{Min: 0, Max: 0},
			Boards:     []Board{},
		}
		if saveErr := Save(path, templateData); saveErr != nil {
			return fmt.Errorf("error creating config file: %w", saveErr)
		}
	} else if err != nil {
		return fmt.Errorf("error checking file existence: %w", err)
	}

	return nil
}
