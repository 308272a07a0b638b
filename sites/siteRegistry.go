package sites

import (
	"boardcrawl/config"
)

// init() is called automatically when the package is imported.
// This registers every adapter's scan function with the scan queue.
func init() {
	config.RegisterSite(SiteStatic, ScanBoard)
	config.RegisterSite(SiteArchive, ScanBoard)
}
