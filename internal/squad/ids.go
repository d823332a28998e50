// Package squad defines the domain model for a managed game server:
// player and squad records, platform identity sets, and the closed
// union of domain events the synchronization pipeline produces.
package squad

import (
	"regexp"
	"sort"
	"strings"
)

// Platform names as they appear in "Online IDs:" fragments, lowercased.
const (
	PlatformSteam = "steam"
	PlatformEOS   = "eos"
)

// OnlineIDs maps a platform name to that platform's player identifier.
// A player is usually known under more than one platform at once.
type OnlineIDs map[string]string

var onlineIDPattern = regexp.MustCompile(`\s*([^\s:]+)\s*:\s*(\S+)`)

// ParseOnlineIDs parses the "platform: id" pairs embedded in roster and
// log lines, e.g. " EOS: 000…abc steam: 765…". Platform names are
// lowercased so lookups are case-insensitive across log formats.
func ParseOnlineIDs(raw string) OnlineIDs {
	ids := OnlineIDs{}
	for _, m := range onlineIDPattern.FindAllStringSubmatch(raw, -1) {
		ids[strings.ToLower(m[1])] = m[2]
	}
	return ids
}

// Match reports whether two identity sets refer to the same player: at
// least one platform present in both carries the same identifier.
func (ids OnlineIDs) Match(other OnlineIDs) bool {
	for platform, id := range ids {
		if otherID, ok := other[platform]; ok && otherID == id {
			return true
		}
	}
	return false
}

// Merge returns a new identity set containing every platform from ids,
// supplemented with platforms only other knows about.
func (ids OnlineIDs) Merge(other OnlineIDs) OnlineIDs {
	merged := make(OnlineIDs, len(ids)+len(other))
	for platform, id := range other {
		merged[platform] = id
	}
	for platform, id := range ids {
		merged[platform] = id
	}
	return merged
}

// Clone returns an independent copy of the identity set.
func (ids OnlineIDs) Clone() OnlineIDs {
	cloned := make(OnlineIDs, len(ids))
	for platform, id := range ids {
		cloned[platform] = id
	}
	return cloned
}

// String renders the identity set as "platform:id" pairs in stable
// platform order, for logs and Noop reasons.
func (ids OnlineIDs) String() string {
	platforms := make([]string, 0, len(ids))
	for platform := range ids {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)
	parts := make([]string, 0, len(platforms))
	for _, platform := range platforms {
		parts = append(parts, platform+":"+ids[platform])
	}
	return strings.Join(parts, " ")
}
