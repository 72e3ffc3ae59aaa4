// Package storage archives fetched pages in a blob store. Objects are
// content addressed, so storing the same page twice writes the same name.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/JakeFAU/sitescraper/internal/crawler"
	"github.com/JakeFAU/sitescraper/internal/hash/sha256"
)

// HTMLContentType is attached to archived pages.
const HTMLContentType = "text/html; charset=utf-8"

// BlobStore persists one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Archive stores normalized pages under <run-id>/<sha256>.html.
type Archive struct {
	store  BlobStore
	prefix string
	hasher *sha256.Hasher
}

// NewArchive builds an Archive. prefix is prepended to every object name.
func NewArchive(store BlobStore, prefix string) (*Archive, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	return &Archive{store: store, prefix: strings.Trim(prefix, "/"), hasher: sha256.New()}, nil
}

// ObjectName returns where doc is stored for runID.
func (a *Archive) ObjectName(runID string, doc crawler.Document) string {
	if runID = strings.Trim(runID, "/"); runID == "" {
		runID = "adhoc"
	}
	return path.Join(a.prefix, runID, a.hasher.HashString(doc.Text)+".html")
}

// Store writes doc and returns the object URI.
func (a *Archive) Store(ctx context.Context, runID string, doc crawler.Document) (string, error) {
	name := a.ObjectName(runID, doc)
	uri, err := a.store.PutObject(ctx, name, HTMLContentType, strings.NewReader(doc.Text))
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", doc.URL, err)
	}
	return uri, nil
}
