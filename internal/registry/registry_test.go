package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lolpro11-org/gtfs-schema/internal/feed"
)

const octa = `{
  "$schema": "https://dmfr.transit.land/json-schema/dmfr.schema-v0.5.0.json",
  "feeds": [
    {"id": "f-9mu-orangecountytransportationauthority", "spec": "gtfs",
     "urls": {"static_current": "https://octa.example.com/gtfs.zip"}},
    {"id": "f-9mu-octa~rt", "spec": "gtfs-rt",
     "urls": {"realtime_vehicle_positions": "https://octa.example.com/vp"}},
    {"id": "f-old", "spec": "gtfs",
     "urls": {"static_historic": ["https://old.example.com/2019.zip", "https://old.example.com/2018.zip"]}},
    {"id": "f-empty", "spec": "gtfs", "urls": {}}
  ],
  "operators": [{"onestop_id": "o-9mu-octa", "name": "OCTA"}]
}`

func TestParse(t *testing.T) {
	descs, err := Parse([]byte(octa))
	require.NoError(t, err)

	assert.Equal(t, []feed.Descriptor{
		{ID: "f-9mu-orangecountytransportationauthority", URL: "https://octa.example.com/gtfs.zip"},
		{ID: "f-old", URL: "https://old.example.com/2019.zip"},
	}, descs)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse([]byte(`{"feeds": [`))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("b.dmfr.json", `{"feeds": [{"id": "f-b", "spec": "gtfs", "urls": {"static_current": "https://b.example.com/g.zip"}}]}`)
	write("a.dmfr.json", `{"feeds": [{"id": "f-a", "spec": "GTFS", "urls": {"static_current": "https://a.example.com/g.zip"}}]}`)
	write("README.md", "not a registry file")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.json"), 0o755))

	descs, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"f-a", "f-b"}, feed.IDs(descs))
}

func TestLoadBadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644))

	_, err := Load(dir)
	assert.ErrorContains(t, err, "broken.json")
}

func TestLoadMissingDir(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
