package protocol

import "sort"

type release struct {
	protocol int32
	name     string
}

// Java Edition releases since the Netty rewrite, sorted by protocol number.
// https://minecraft.wiki/w/Protocol_version_numbers
var releases = []release{
	{4, "1.7.2-1.7.5"},
	{5, "1.7.6-1.7.10"},
	{47, "1.8-1.8.9"},
	{107, "1.9"},
	{108, "1.9.1"},
	{109, "1.9.2"},
	{110, "1.9.3-1.9.4"},
	{210, "1.10-1.10.2"},
	{315, "1.11"},
	{316, "1.11.1-1.11.2"},
	{335, "1.12"},
	{338, "1.12.1"},
	{340, "1.12.2"},
	{393, "1.13"},
	{401, "1.13.1"},
	{404, "1.13.2"},
	{477, "1.14"},
	{480, "1.14.1"},
	{485, "1.14.2"},
	{490, "1.14.3"},
	{498, "1.14.4"},
	{573, "1.15"},
	{575, "1.15.1"},
	{578, "1.15.2"},
	{735, "1.16"},
	{736, "1.16.1"},
	{751, "1.16.2"},
	{753, "1.16.3"},
	{754, "1.16.4-1.16.5"},
	{755, "1.17"},
	{756, "1.17.1"},
	{757, "1.18-1.18.1"},
	{758, "1.18.2"},
	{759, "1.19"},
	{760, "1.19.1-1.19.2"},
	{761, "1.19.3"},
	{762, "1.19.4"},
	{763, "1.20-1.20.1"},
	{764, "1.20.2"},
	{765, "1.20.3-1.20.4"},
	{766, "1.20.5-1.20.6"},
	{767, "1.21-1.21.1"},
	{768, "1.21.2-1.21.3"},
	{769, "1.21.4"},
	{770, "1.21.5"},
	{771, "1.21.6"},
	{772, "1.21.7-1.21.8"},
	{773, "1.21.9-1.21.10"},
}

func lookup(protocol int32) (release, bool) {
	idx := sort.Search(len(releases), func(i int) bool {
		return releases[i].protocol >= protocol
	})

	if idx < len(releases) && releases[idx].protocol == protocol {
		return releases[idx], true
	}
	return release{}, false
}

// IsKnown reports whether protocol belongs to a released Java Edition version
func IsKnown(protocol int32) bool {
	_, ok := lookup(protocol)
	return ok
}

// VersionName returns the game versions using protocol or "unknown"
func VersionName(protocol int32) string {
	rel, ok := lookup(protocol)
	if !ok {
		return "unknown"
	}
	return rel.name
}

// Latest returns the newest protocol number in the table
func Latest() int32 {
	return releases[len(releases)-1].protocol
}
