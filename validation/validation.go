package validation

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"

	"boardcrawl/config"
	"boardcrawl/models"
)

var clickKinds = map[string]bool{"css": true, "xpath": true, "id": true, "class": true}

// ValidateBoard checks that a board carries every field its site requires,
// plus the settings every board needs regardless of site.
func ValidateBoard(board *config.Board, sites *models.SitesConfig) error {
	if board.Name == "" {
		return errors.New("board name is required")
	}
	if board.Site == "" {
		return fmt.Errorf("board %s: please select a site", board.Name)
	}

	site, ok := sites.Find(board.Site)
	if !ok {
		return fmt.Errorf("board %s: unknown site: %s", board.Name, board.Site)
	}
	rules := site.RequiredFields

	if rules.ListingURL {
		if board.ListingURL == "" {
			return fmt.Errorf("board %s: listing_url is required", board.Name)
		}
		if _, err := url.ParseRequestURI(board.PageURL(board.StartingPage)); err != nil {
			return fmt.Errorf("board %s: invalid listing_url: %w", board.Name, err)
		}
	}
	if rules.RowSelector && board.Selectors.Row == "" {
		return fmt.Errorf("board %s: selectors.row is required", board.Name)
	}
	if rules.LinkSelector && board.Selectors.Link == "" {
		return fmt.Errorf("board %s: selectors.link is required", board.Name)
	}
	if rules.DateSelector && board.Selectors.Date == "" {
		return fmt.Errorf("board %s: selectors.date is required", board.Name)
	}
	if rules.SourceSelector && board.Selectors.Images == "" && board.Selectors.Videos == "" && board.Selectors.Links == "" {
		return fmt.Errorf("board %s: at least one of selectors.images, selectors.videos or selectors.links is required", board.Name)
	}
	if rules.ClickStrategies && len(board.BrowserDownload.ClickStrategies) == 0 {
		return fmt.Errorf("board %s: browser_download.click_strategies is required", board.Name)
	}

	for _, s := range board.BrowserDownload.ClickStrategies {
		if !clickKinds[s.Kind] || s.Value == "" {
			return fmt.Errorf("board %s: invalid click strategy %q", board.Name, s.String())
		}
	}

	if !board.MaturityWindow.Valid() {
		return fmt.Errorf("board %s: too_old_day (%d) must exceed too_young_day (%d) by at least 2",
			board.Name, board.TooOldDay, board.TooYoungDay)
	}

	if board.DocIDPattern != "" {
		if _, err := regexp.Compile(board.DocIDPattern); err != nil {
			return fmt.Errorf("board %s: invalid doc_id_pattern: %w", board.Name, err)
		}
	}

	switch board.BrowserDownload.Layout {
	case "", config.LayoutFlatten, config.LayoutFolder:
	default:
		return fmt.Errorf("board %s: unknown browser_download.layout %q", board.Name, board.BrowserDownload.Layout)
	}

	return nil
}

// ValidateSettings validates every board and rejects duplicate names.
func ValidateSettings(settings *config.Settings, sites *models.SitesConfig) error {
	seen := make(map[string]bool, len(settings.Boards))
	var errs []error
	for i := range settings.Boards {
		b := &settings.Boards[i]
		if seen[b.Name] {
			errs = append(errs, fmt.Errorf("duplicate board name: %s", b.Name))
			continue
		}
		seen[b.Name] = true
		if err := ValidateBoard(b, sites); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
