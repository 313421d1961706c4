package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDedupSetOnlyGrows(t *testing.T) {
	set := NewDedupSet()
	require.True(t, set.MarkIfNew("https://example.org/first"))
	require.False(t, set.MarkIfNew("https://example.org/first"))
	require.True(t, set.MarkIfNew("https://example.org/second"))
	require.False(t, set.MarkIfNew(""), "empty links are never new")
	require.Equal(t, 2, set.Len())
	require.True(t, set.Contains("https://example.org/first"))
}
