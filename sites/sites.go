package sites

import (
	_ "embed"
	"encoding/json"

	"boardcrawl/logging"
	"boardcrawl/models"
)

//go:embed sites.json
var sitesJSON []byte

// LoadSitesConfig returns the descriptors of the built-in site adapters.
// Validation uses their required fields to check boards before a run.
//
// The function logs a parse error and returns an empty config rather than
// halting.
func LoadSitesConfig() models.SitesConfig {
	var sitesConfig models.SitesConfig
	if err := json.Unmarshal(sitesJSON, &sitesConfig); err != nil {
		logging.For("Sites").Errorf("error unmarshalling sites config: %v", err)
		return models.SitesConfig{}
	}
	return sitesConfig
}
