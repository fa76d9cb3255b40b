package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CheckCompatibility reports whether a strategy built against
// strategyVersion can run on an engine at engineVersion.
//
// Rules:
//   - "main" on either side (development build) skips the check
//   - major and minor versions must match exactly
//   - patch versions may differ
func CheckCompatibility(engineVersion, strategyVersion string) error {
	engineVersion = strings.TrimPrefix(engineVersion, "v")
	strategyVersion = strings.TrimPrefix(strategyVersion, "v")

	if engineVersion == "main" || strategyVersion == "main" {
		return nil
	}

	engineSemver, err := semver.NewVersion(engineVersion)
	if err != nil {
		return fmt.Errorf("invalid engine version '%s': %w", engineVersion, err)
	}

	strategySemver, err := semver.NewVersion(strategyVersion)
	if err != nil {
		return fmt.Errorf("invalid strategy version '%s': %w", strategyVersion, err)
	}

	if engineSemver.Major() != strategySemver.Major() {
		return fmt.Errorf("major version mismatch: engine is %d.x.x but strategy requires %d.x.x",
			engineSemver.Major(), strategySemver.Major())
	}

	if engineSemver.Minor() != strategySemver.Minor() {
		return fmt.Errorf("minor version mismatch: engine is %d.%d.x but strategy requires %d.%d.x",
			engineSemver.Major(), engineSemver.Minor(),
			strategySemver.Major(), strategySemver.Minor())
	}

	return nil
}
