// Package feed defines the descriptors handed between the registry, the
// harvester and the fetcher.
package feed

import (
	"net/http"
	"sort"
)

// Descriptor identifies one static feed archive. ID is unique within a run.
type Descriptor struct {
	ID  string `yaml:"id" json:"id"`
	URL string `yaml:"url" json:"url"`
}

// IDs returns the IDs of descs in order.
func IDs(descs []Descriptor) []string {
	ids := make([]string, len(descs))
	for i, d := range descs {
		ids[i] = d.ID
	}
	return ids
}

// Dedupe drops descriptors whose ID was already seen, keeping the first
// occurrence. The dropped descriptors are returned as well.
func Dedupe(descs []Descriptor) (kept, dropped []Descriptor) {
	seen := make(map[string]struct{}, len(descs))
	kept = make([]Descriptor, 0, len(descs))
	for _, d := range descs {
		if _, ok := seen[d.ID]; ok {
			dropped = append(dropped, d)
			continue
		}
		seen[d.ID] = struct{}{}
		kept = append(kept, d)
	}
	return kept, dropped
}

// HeaderTable maps feed IDs to extra request headers (credentials, API keys).
// Feeds without an entry only receive the client's default headers.
type HeaderTable map[string]map[string]string

// For returns the extra headers configured for id. The result is never nil.
func (t HeaderTable) For(id string) http.Header {
	h := make(http.Header)
	for k, v := range t[id] {
		h.Set(k, v)
	}
	return h
}

// Feeds returns the IDs that have an entry, sorted.
func (t HeaderTable) Feeds() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
