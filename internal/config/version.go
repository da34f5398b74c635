package config

import (
	"fmt"

	"tellmewhen/internal/logging"
	"tellmewhen/internal/version"
)

const (
	majorMismatchMessage = "Configuration was written for an incompatible release. Review it against the current documentation"
	minorMismatchMessage = "Configuration may be outdated. Review new options after startup."
)

// CheckVersionCompatibility compares the release a configuration file
// declares with the running one. A major mismatch is an error; minor and
// patch differences are logged.
func CheckVersionCompatibility(declared, current version.VersionInfo, logger *logging.Logger) error {
	logger = logging.OrNop(logger).Component("config")
	if declared.Major != current.Major {
		return fmt.Errorf("incompatible major version: %s -> %s. %s", formatVersion(declared), formatVersion(current), majorMismatchMessage)
	}
	if declared.Minor != current.Minor {
		logger.Warn(minorMismatchMessage, logging.Fields{
			"declared": formatVersion(declared),
			"current":  formatVersion(current),
		})
		return nil
	}
	if declared.Patch != current.Patch {
		logger.Info(fmt.Sprintf("Config declared for %s, running %s", formatVersion(declared), formatVersion(current)), nil)
	}
	return nil
}

func formatVersion(info version.VersionInfo) string {
	return fmt.Sprintf("%d.%d.%d", info.Major, info.Minor, info.Patch)
}
