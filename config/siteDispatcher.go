package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ProgressFunc reports scan progress: a status line, the fraction done,
// and how many articles have been handled out of the total found.
type ProgressFunc func(status string, progress float64, done, total int)

// SiteScanFunc is the function signature for site-specific board scans
type SiteScanFunc func(context.Context, *Settings, *Board, ProgressFunc) error

// ErrUnknownSite is returned when a board names a site nobody registered.
var ErrUnknownSite = errors.New("scan not supported for site")

var (
	registeredSites   = make(map[string]SiteScanFunc)
	registeredSitesMu sync.RWMutex
)

// RegisterSite registers a site's scan function.
// This should be called during initialization by the sites package.
func RegisterSite(siteName string, scanFunc SiteScanFunc) {
	registeredSitesMu.Lock()
	defer registeredSitesMu.Unlock()
	registeredSites[siteName] = scanFunc
}

// RegisteredSites returns the names of all registered sites, sorted.
func RegisteredSites() []string {
	registeredSitesMu.RLock()
	defer registeredSitesMu.RUnlock()

	names := make([]string, 0, len(registeredSites))
	for name := range registeredSites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExecuteSiteScan dispatches to the scan function registered for board.Site
func ExecuteSiteScan(ctx context.Context, settings *Settings, board *Board, progress ProgressFunc) error {
	registeredSitesMu.RLock()
	scanFunc, exists := registeredSites[board.Site]
	registeredSitesMu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownSite, board.Site)
	}

	return scanFunc(ctx, settings, board, progress)
}
