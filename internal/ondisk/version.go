package ondisk

import "fmt"

// DataVersion tags an on-disk schema generation. Values only ever
// increase; there is no concept of downgrading.
type DataVersion int

const (
	V0 DataVersion = iota
	V001
	V002
	V003
)

// DataVersionCurrent is the schema generation this binary writes and
// reads natively.
const DataVersionCurrent = V003

func (v DataVersion) String() string {
	switch v {
	case V0:
		return "V0"
	case V001:
		return "V001"
	case V002:
		return "V002"
	case V003:
		return "V003"
	default:
		return fmt.Sprintf("V?(%d)", int(v))
	}
}

// Next returns the next version in the upgrade chain, or false at the
// newest known version.
func (v DataVersion) Next() (DataVersion, bool) {
	if v >= DataVersionCurrent {
		return v, false
	}
	return v + 1, true
}

// MinCompatibleDataVersion is the oldest on-disk version this binary
// will open at all. Unlike the original source (which must stay
// compatible with openraft-v7-era deployments), this repo has no
// predecessor release, so the floor is the format's inception.
func MinCompatibleDataVersion() DataVersion { return V0 }
