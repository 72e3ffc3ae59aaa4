package sha256

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasherDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	assert.Equal(t, want, h.Hash([]byte("hello world")))
	assert.Equal(t, want, h.HashString("hello world"))
}

func TestHasherShort(t *testing.T) {
	t.Parallel()

	h := New()
	assert.Equal(t, "b94d27b9", h.Short("hello world", 8))
	assert.Len(t, h.Short("hello world", 0), 64)
	assert.Len(t, h.Short("hello world", 100), 64)
}
