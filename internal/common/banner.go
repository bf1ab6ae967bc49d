package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and the resolved runtime settings
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("PortalWatch", Version)

	logger.Info().
		Str("version", CurrentVersion().String()).
		Str("portal_url", config.Page.PortalURL).
		Str("timezone", config.Daily.Timezone).
		Strs("digest_slots", config.Daily.Slots).
		Str("state_backend", config.Storage.StateBackend).
		Msg("PortalWatch starting")
}
