package fleet

import (
	"time"

	"github.com/HerbHall/upkeep/internal/schedule"
)

// Config holds the fleet module settings ("modules.fleet" plus the shared
// "schedule" section).
type Config struct {
	ScanInterval     time.Duration   `mapstructure:"scan_interval"`
	HistoryRetention time.Duration   `mapstructure:"history_retention"`
	SeedDemo         bool            `mapstructure:"seed_demo"`
	Schedule         schedule.Policy `mapstructure:"schedule"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ScanInterval:     time.Hour,
		HistoryRetention: 365 * 24 * time.Hour,
		Schedule:         schedule.DefaultPolicy(),
	}
}
