// Package tracker computes which requested feeds are not yet in the sink.
package tracker

import (
	"github.com/lolpro11-org/gtfs-schema/internal/feed"
)

// Missing returns the descriptors in requested whose ID is not in stored,
// in requested order. Repeated IDs in requested are reported once.
func Missing(requested []feed.Descriptor, stored []string) []feed.Descriptor {
	have := make(map[string]struct{}, len(stored))
	for _, id := range stored {
		have[id] = struct{}{}
	}

	missing := make([]feed.Descriptor, 0)
	seen := make(map[string]struct{}, len(requested))
	for _, d := range requested {
		if _, ok := seen[d.ID]; ok {
			continue
		}
		seen[d.ID] = struct{}{}
		if _, ok := have[d.ID]; !ok {
			missing = append(missing, d)
		}
	}
	return missing
}

// Equal reports whether a and b contain the same set of IDs.
func Equal(a, b []feed.Descriptor) bool {
	as := idSet(a)
	bs := idSet(b)
	if len(as) != len(bs) {
		return false
	}
	for id := range as {
		if _, ok := bs[id]; !ok {
			return false
		}
	}
	return true
}

func idSet(descs []feed.Descriptor) map[string]struct{} {
	set := make(map[string]struct{}, len(descs))
	for _, d := range descs {
		set[d.ID] = struct{}{}
	}
	return set
}
