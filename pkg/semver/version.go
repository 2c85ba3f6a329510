// Package semver checks the protocol version page-agents announce when they
// connect against the range the orchestrator accepts.
package semver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "semver:version"

// ProtocolVersion is the envelope protocol version this module speaks. It is
// announced in the data of every Connect meta-event.
const ProtocolVersion = "1.0.0"

// DefaultConstraint accepts every 1.x agent.
const DefaultConstraint = ">= 1.0.0, < 2.0.0"

var majorOnlyRegex = regexp.MustCompile(`^\d+$`)

// IsMajorOnly reports whether a range is a bare major number, e.g. "1".
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(strings.TrimSpace(rangeStr))
}

// Checker validates versions against a constraint.
type Checker struct {
	raw        string
	major      int
	constraint *masterminds.Constraints
}

// NewChecker parses constraint. A bare major ("1") matches any version with
// that major; anything else must be a valid SemVer range.
func NewChecker(constraint string) (*Checker, error) {
	raw := strings.TrimSpace(constraint)
	if raw == "" {
		raw = DefaultConstraint
	}
	if IsMajorOnly(raw) {
		major, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%s - invalid major %q: %w", logPrefix, raw, err)
		}
		return &Checker{raw: raw, major: major}, nil
	}
	c, err := masterminds.NewConstraint(raw)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid constraint %q: %w", logPrefix, raw, err)
	}
	return &Checker{raw: raw, major: -1, constraint: c}, nil
}

// String returns the constraint text.
func (c *Checker) String() string {
	return c.raw
}

// Check reports whether version satisfies the constraint. An unparsable
// version is an error.
func (c *Checker) Check(version string) (bool, error) {
	v, err := masterminds.NewVersion(strings.TrimSpace(version))
	if err != nil {
		return false, fmt.Errorf("%s - invalid version %q: %w", logPrefix, version, err)
	}
	if c.constraint == nil {
		return int(v.Major()) == c.major, nil
	}
	return c.constraint.Check(v), nil
}
