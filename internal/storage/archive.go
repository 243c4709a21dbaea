// Package storage holds the page archive shared by every blob backend.
// Concrete backends live in the local, gcs and memory subpackages.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

// ContentTypeHTML is stored alongside every archived page.
const ContentTypeHTML = "text/html; charset=utf-8"

// Page kinds used in archive paths.
const (
	KindLanding  = "landing"
	KindSchedule = "schedule"
	KindEntries  = "entries"
)

// Archiver writes fetched page bodies to a BlobStore under content-addressed paths.
type Archiver struct {
	blobs  race.BlobStore
	hasher race.Hasher
	prefix string
}

// NewArchiver returns an Archiver; prefix defaults to "pages".
func NewArchiver(blobs race.BlobStore, hasher race.Hasher, prefix string) (*Archiver, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "pages"
	}
	return &Archiver{blobs: blobs, hasher: hasher, prefix: prefix}, nil
}

// Path returns {prefix}/{date}/{kind}/{digest}.html.
func (a *Archiver) Path(date, kind, digest string) string {
	return path.Join(a.prefix, date, kind, digest+".html")
}

// Archive stores body and returns its URI.
func (a *Archiver) Archive(ctx context.Context, date, kind string, body []byte) (string, error) {
	digest, err := a.hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash page: %w", err)
	}
	uri, err := a.blobs.PutObject(ctx, a.Path(date, kind, digest), ContentTypeHTML, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("archive %s page: %w", kind, err)
	}
	return uri, nil
}
