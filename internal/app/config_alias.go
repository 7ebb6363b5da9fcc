package app

import (
	"time"

	"quotebot/internal/config"
)

// Config types show up in nearly every mapping and validation signature in
// this package; local aliases keep those free of package qualifiers.
type (
	Config        = config.Config
	ConfigManager = config.ConfigManager
)

var NewConfigManager = config.NewConfigManager

func parseDurationField(path, raw string) (time.Duration, error) {
	return config.ParseDurationField(path, raw)
}

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return config.ParseDurationOrDefault(path, raw, def)
}
