package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestHashMatchesKnownDigest(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, helloDigest, got)
	require.Equal(t, got, Sum([]byte("hello world")))
}

func TestObjectPathShardsByDigest(t *testing.T) {
	t.Parallel()

	require.Equal(t, "run/site/b9/"+helloDigest+".html", ObjectPath("run", "site", helloDigest, ".html"))
	require.Equal(t, "run/site/00/x", ObjectPath("run", "site", "x", ""))
}
