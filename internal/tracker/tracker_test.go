package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lolpro11-org/gtfs-schema/internal/feed"
)

func d(ids ...string) []feed.Descriptor {
	out := make([]feed.Descriptor, len(ids))
	for i, id := range ids {
		out[i] = feed.Descriptor{ID: id, URL: "https://example.com/" + id}
	}
	return out
}

func TestMissing(t *testing.T) {
	tests := []struct {
		name      string
		requested []feed.Descriptor
		stored    []string
		want      []feed.Descriptor
	}{
		{"empty sink", d("a", "b", "c"), nil, d("a", "b", "c")},
		{"all stored", d("a", "b"), []string{"b", "a"}, d()},
		{"partial", d("a", "b", "c"), []string{"b"}, d("a", "c")},
		{"extra stored ids ignored", d("a"), []string{"zzz", "a"}, d()},
		{"duplicates collapse", d("a", "b", "a"), []string{"b"}, d("a")},
		{"nothing requested", nil, []string{"a"}, d()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Missing(tt.requested, tt.stored))
		})
	}
}

func TestMissingDoesNotMutateInputs(t *testing.T) {
	requested := d("a", "b")
	stored := []string{"a"}

	Missing(requested, stored)

	assert.Equal(t, d("a", "b"), requested)
	assert.Equal(t, []string{"a"}, stored)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(d(), nil))
	assert.True(t, Equal(d("a", "b"), d("b", "a")))
	assert.True(t, Equal(d("a", "a"), d("a")))
	assert.False(t, Equal(d("a"), d("a", "b")))
	assert.False(t, Equal(d("a", "c"), d("a", "b")))
}
