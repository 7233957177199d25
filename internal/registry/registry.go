// Package registry reads feed descriptors from a directory of Transitland
// DMFR (Distributed Mobility Feed Registry) JSON files.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lolpro11-org/gtfs-schema/internal/feed"
)

// SpecGTFS is the DMFR spec value for static GTFS feeds.
const SpecGTFS = "gtfs"

type document struct {
	Feeds []dmfrFeed `json:"feeds"`
}

type dmfrFeed struct {
	ID   string   `json:"id"`
	Spec string   `json:"spec"`
	URLs dmfrURLs `json:"urls"`
}

type dmfrURLs struct {
	StaticCurrent  string   `json:"static_current"`
	StaticHistoric []string `json:"static_historic"`
}

// Parse returns the static GTFS descriptors in one DMFR document, in file
// order. Feeds of other specs and feeds with no static URL are skipped.
func Parse(data []byte) ([]feed.Descriptor, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode dmfr: %w", err)
	}

	var descs []feed.Descriptor
	for _, f := range doc.Feeds {
		if !strings.EqualFold(f.Spec, SpecGTFS) || f.ID == "" {
			continue
		}
		url := f.URLs.StaticCurrent
		if url == "" && len(f.URLs.StaticHistoric) > 0 {
			url = f.URLs.StaticHistoric[0]
		}
		if url == "" {
			continue
		}
		descs = append(descs, feed.Descriptor{ID: f.ID, URL: url})
	}
	return descs, nil
}

// Load parses every *.json file directly under dir, in lexical file order.
func Load(dir string) ([]feed.Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read registry dir: %w", err)
	}

	var descs []feed.Descriptor
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		found, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		descs = append(descs, found...)
	}
	return descs, nil
}
