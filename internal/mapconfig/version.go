package mapconfig

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is a major.minor.patch map configuration version.
type Version struct {
	Major, Minor, Patch int
}

var (
	MinVersion = Version{1, 0, 0}
	MaxVersion = Version{1, 8, 0}
)

// minKindVersion is the first version accepting each layer kind.
var minKindVersion = map[Kind]Version{
	KindMapnik: {1, 0, 0},
	KindTorque: {1, 1, 0},
	KindHTTP:   {1, 2, 0},
	KindPlain:  {1, 2, 0},
}

// ParseVersion accepts a full "major.minor.patch" version. Shorthands such
// as "1.2", prerelease and build suffixes are rejected.
func ParseVersion(s string) (Version, error) {
	sv := "v" + strings.TrimSpace(s)
	if !semver.IsValid(sv) || semver.Canonical(sv) != sv || semver.Prerelease(sv) != "" {
		return Version{}, fmt.Errorf("invalid version %q", s)
	}

	var nums [3]int
	for i, p := range strings.SplitN(sv[1:], ".", 3) {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q", s)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

func (v Version) Compare(o Version) int {
	return semver.Compare(v.semver(), o.semver())
}

func (v Version) Less(o Version) bool {
	return v.Compare(o) < 0
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func (v Version) semver() string { return "v" + v.String() }
