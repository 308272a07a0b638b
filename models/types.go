package models

import "time"

// RequiredFields defines which board fields a site adapter needs.
// Validation rejects a board that leaves any of them empty.
type RequiredFields struct {
	ListingURL      bool `json:"listing_url"`      // Listing page URL, with or without %d
	RowSelector     bool `json:"row_selector"`     // Selector for listing rows
	LinkSelector    bool `json:"link_selector"`    // Selector for the article link inside a row
	DateSelector    bool `json:"date_selector"`    // Selector for the row timestamp
	SourceSelector  bool `json:"source_selector"`  // At least one media selector on the article
	ClickStrategies bool `json:"click_strategies"` // At least one download button strategy
}

// Site describes a site adapter.
// The DisplayName is shown to users, while Name is what boards refer to.
type Site struct {
	Name           string         `json:"name"`
	DisplayName    string         `json:"display_name"`
	RequiredFields RequiredFields `json:"required_fields"`
}

// SitesConfig lists every site adapter the binary knows about.
type SitesConfig struct {
	Sites []Site `json:"sites"`
}

// Find returns the site named name.
func (c *SitesConfig) Find(name string) (*Site, bool) {
	for i := range c.Sites {
		if c.Sites[i].Name == name {
			return &c.Sites[i], true
		}
	}
	return nil, false
}

// ListingRow is one row of a listing page as read from the HTML.
type ListingRow struct {
	Title     string
	URL       string
	Timestamp string
	Likes     string
	Category  string
	Type      string
	Notice    bool
}

// Article is a listing row that passed every filter and will be scanned.
type Article struct {
	Board    string
	Title    string
	URL      string
	DocID    string
	Page     int
	AgeDays  int
	Likes    int
	Category string
}

// ScanStatus is the outcome of scanning one article.
type ScanStatus string

const (
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
	ScanSkipped   ScanStatus = "skipped"
)

// ScanResult records what scanning an article produced.
type ScanResult struct {
	Article  Article
	Status   ScanStatus
	Files    []string
	Attempts int
	Elapsed  time.Duration
	Err      error
}
