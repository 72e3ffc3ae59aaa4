package crawler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodePath(t *testing.T) {
	t.Parallel()

	root := &Node{URL: "https://shop.example.com/", Name: ""}
	parent := &Node{URL: "https://shop.example.com/c/1", Name: "Pumps", Parent: root}
	child := &Node{URL: "https://shop.example.com/c/1/2", Name: " Gear pumps ", Parent: parent}

	assert.Equal(t, "Pumps > Gear pumps", child.Path())
	assert.Equal(t, "", root.Path())
	assert.Equal(t, "", (*Node)(nil).Path())
}

func TestItemDedupKeyPrecedence(t *testing.T) {
	t.Parallel()

	key, ok := Item{DetailURL: "https://Shop.example.com/p/1#x", Code: "C", Title: "T"}.DedupKey()
	assert.True(t, ok)
	assert.Equal(t, "https://shop.example.com/p/1", key)

	key, ok = Item{Code: " C-7 ", Title: "T"}.DedupKey()
	assert.True(t, ok)
	assert.Equal(t, "C-7", key)

	key, ok = Item{Title: "Seal kit"}.DedupKey()
	assert.True(t, ok)
	assert.Equal(t, "Seal kit", key)

	_, ok = Item{}.DedupKey()
	assert.False(t, ok)
}

func TestNewFetchResultReadsDeclaredMetadata(t *testing.T) {
	t.Parallel()

	headers := http.Header{}
	headers.Set("Content-Encoding", " GZIP ")
	headers.Set("Content-Type", `text/html; charset="ISO-8859-1"`)

	result := NewFetchResult("https://shop.example.com/", 200, headers, []byte("x"))
	assert.Equal(t, "gzip", result.ContentEncoding)
	assert.Equal(t, "iso-8859-1", result.Charset)

	assert.Equal(t, "", CharsetFromContentType("text/html"))
	assert.Equal(t, "windows-1252", CharsetFromContentType("text/html;;charset=windows-1252"))
	assert.Equal(t, "", NewFetchResult("u", 200, nil, nil).Charset)
}

func TestCheckStatus(t *testing.T) {
	t.Parallel()

	assert.NoError(t, CheckStatus(FetchResult{StatusCode: http.StatusOK}))
	err := CheckStatus(FetchResult{URL: "https://shop.example.com/x", StatusCode: http.StatusNotFound})
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Contains(t, err.Error(), "status 404")
}
