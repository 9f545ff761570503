package tradelog

import (
	"fmt"
	"strconv"
	"strings"

	apperrors "marketsim/internal/errors"
)

// EngineVersion is stamped on every recorded session. A major bump means the
// log format or RNG changed incompatibly; a minor bump is additive.
const EngineVersion = "2.1.0"

// MinSupportedVersion is the oldest log this engine will replay.
const MinSupportedVersion = "2.0"

// Version is a parsed MAJOR.MINOR[.PATCH] string.
type Version struct {
	Major int
	Minor int
	Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// ParseVersion parses "MAJOR.MINOR" or "MAJOR.MINOR.PATCH".
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(s), "v"), ".")
	if len(parts) < 2 || len(parts) > 3 {
		return Version{}, apperrors.Wrapf(apperrors.ErrInvalidVersion, "malformed version %q", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, apperrors.Wrapf(apperrors.ErrInvalidVersion, "malformed version %q", s)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// IsReplayable applies the compatibility rule: the log's major must not
// exceed the minimum supported major, and with equal majors the log's minor
// must be at least the minimum supported minor.
func IsReplayable(logVersion, minSupported string) (bool, error) {
	lv, err := ParseVersion(logVersion)
	if err != nil {
		return false, err
	}
	mv, err := ParseVersion(minSupported)
	if err != nil {
		return false, err
	}
	if lv.Major > mv.Major {
		return false, nil
	}
	if lv.Major == mv.Major {
		return lv.Minor >= mv.Minor, nil
	}
	return true, nil
}
