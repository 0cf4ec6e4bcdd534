package attach

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"
)

// UploadHandle is a single-use write target. The client uploads raw bytes to
// URL out-of-band and then references the blob by Ref.
type UploadHandle struct {
	Ref       string    `json:"ref"`
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// StoreResult is the result of writing blob bytes.
type StoreResult struct {
	Ref  string
	Size int64
}

// BlobStore defines the interface for media storage backends.
type BlobStore interface {
	// CreateUploadHandle issues a single-use write target for a new blob.
	CreateUploadHandle(ctx context.Context, contentType string) (*UploadHandle, error)
	// Store writes blob bytes for a previously issued handle. Backends whose
	// handles point at external storage (S3 presigned PUT) return an error.
	Store(ctx context.Context, ref string, data io.Reader, maxSize int64, contentType string) (*StoreResult, error)
	// Retrieve returns a reader and content type for the stored blob.
	Retrieve(ctx context.Context, ref string) (io.ReadCloser, string, error)
	// ResolveURL returns a retrievable URL for a previously uploaded blob.
	// Fails when the reference is invalid or the upload never completed.
	ResolveURL(ctx context.Context, ref string, expiry time.Duration) (*url.URL, error)
	// Delete removes the stored blob.
	Delete(ctx context.Context, ref string) error
}

// Loader creates a BlobStore from config.
type Loader func(ctx context.Context) (BlobStore, error)

// Plugin represents a blob store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a blob store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered blob store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named blob store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown blob store %q; valid: %v", name, Names())
}
