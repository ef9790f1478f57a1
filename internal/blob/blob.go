// Package blob defines the object storage contract used for uploaded files.
package blob

import (
	"context"
	"io"
	"net/url"
	"path"
	"strings"
)

// Store is the minimal object storage contract: put, delete, exists and
// public URL construction. Names are flat storage-safe file names.
type Store interface {
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
	URL(name string) string
}

// NameFromRef accepts either a bare safe name or a URL previously handed out
// by a Store and returns the safe name.
func NameFromRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" && u.Host != "" {
		name := path.Base(u.Path)
		if unescaped, err := url.PathUnescape(name); err == nil {
			return unescaped
		}
		return name
	}
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
