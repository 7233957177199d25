package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeKeepsFirst(t *testing.T) {
	kept, dropped := Dedupe([]Descriptor{
		{ID: "a", URL: "https://a/1"},
		{ID: "b", URL: "https://b"},
		{ID: "a", URL: "https://a/2"},
	})

	assert.Equal(t, []Descriptor{{ID: "a", URL: "https://a/1"}, {ID: "b", URL: "https://b"}}, kept)
	assert.Equal(t, []Descriptor{{ID: "a", URL: "https://a/2"}}, dropped)
}

func TestIDs(t *testing.T) {
	assert.Equal(t, []string{"x", "y"}, IDs([]Descriptor{{ID: "x"}, {ID: "y"}}))
	assert.Empty(t, IDs(nil))
}

func TestHeaderTable(t *testing.T) {
	table := HeaderTable{
		"f-dqc-wmata~rail": {"api_key": "secret"},
		"f-dp3-metra":      {"Authorization": "Basic abc", "username": "u"},
	}

	h := table.For("f-dqc-wmata~rail")
	assert.Equal(t, "secret", h.Get("api_key"))

	h = table.For("f-unknown")
	assert.NotNil(t, h)
	assert.Empty(t, h)

	assert.Equal(t, []string{"f-dp3-metra", "f-dqc-wmata~rail"}, table.Feeds())
}

func TestHeaderTableNil(t *testing.T) {
	var table HeaderTable
	assert.Empty(t, table.For("anything"))
}
