package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CheckCompatibility checks that version satisfies the constraint a configuration file
// declares in its "requires" field (for example ">= 0.2, < 1.0").
//
// Rules:
//   - An empty constraint always passes
//   - A "main" version (development build) always passes
//   - A leading "v" on the version is ignored
//
// Examples:
//   - Version 0.3.0, requires ">= 0.2" -> OK
//   - Version 0.3.0, requires "~0.3" -> OK
//   - Version 0.3.0, requires ">= 1.0" -> ERROR
//   - Version main, requires ">= 9.0" -> OK
func CheckCompatibility(version, constraint string) error {
	version = strings.TrimPrefix(version, "v")
	constraint = strings.TrimSpace(constraint)

	if constraint == "" || version == "main" {
		return nil
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid version constraint '%s': %w", constraint, err)
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid updater version '%s': %w", version, err)
	}

	if ok, reasons := c.Validate(v); !ok {
		msgs := make([]string, 0, len(reasons))
		for _, r := range reasons {
			msgs = append(msgs, r.Error())
		}

		return fmt.Errorf("updater %s does not satisfy '%s': %s", v, constraint, strings.Join(msgs, "; "))
	}

	return nil
}
