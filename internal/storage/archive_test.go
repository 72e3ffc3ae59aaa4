package storage_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitescraper/internal/crawler"
	"github.com/JakeFAU/sitescraper/internal/storage"
	"github.com/JakeFAU/sitescraper/internal/storage/local"
)

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket unavailable")
}

func TestArchiveStoresContentAddressedPages(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blobs, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	archive, err := storage.NewArchive(blobs, "/pages/")
	require.NoError(t, err)

	doc := crawler.Document{URL: "https://shop.example/es/", Text: "<p>catálogo</p>"}
	uri, err := archive.Store(context.Background(), "run-1", doc)
	require.NoError(t, err)

	name := archive.ObjectName("run-1", doc)
	assert.True(t, strings.HasPrefix(name, "pages/run-1/"))
	assert.True(t, strings.HasSuffix(name, ".html"))
	assert.Equal(t, "file://"+filepath.Join(dir, name), uri)

	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Equal(t, doc.Text, string(data))

	again, err := archive.Store(context.Background(), "run-1", doc)
	require.NoError(t, err)
	assert.Equal(t, uri, again)
}

func TestArchiveObjectNameDefaults(t *testing.T) {
	t.Parallel()

	archive, err := storage.NewArchive(failingStore{}, "")
	require.NoError(t, err)
	name := archive.ObjectName("", crawler.Document{Text: "x"})
	assert.True(t, strings.HasPrefix(name, "adhoc/"))
	assert.Len(t, strings.TrimSuffix(strings.TrimPrefix(name, "adhoc/"), ".html"), 64)
}

func TestArchiveWrapsStoreErrors(t *testing.T) {
	t.Parallel()

	archive, err := storage.NewArchive(failingStore{}, "")
	require.NoError(t, err)
	_, err = archive.Store(context.Background(), "r", crawler.Document{URL: "https://a.example/"})
	require.ErrorContains(t, err, "bucket unavailable")

	_, err = storage.NewArchive(nil, "")
	require.Error(t, err)
}
