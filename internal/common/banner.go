package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and the resolved listen address
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("Seqlog", GetVersion())

	logger.Info().
		Str("environment", config.Environment).
		Str("sink", config.Storage.Sink).
		Str("files_dir", config.Storage.Files.Dir).
		Bool("badger", config.Storage.Badger.Enabled).
		Bool("cleanup_on_first_sight", config.Buffer.CleanupOnFirstSight).
		Msg("Configuration")
}
