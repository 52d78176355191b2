// Package storage provides the publish targets rendered asset bundles are
// written to.
//
// Two drivers are available:
//   - local: a directory on disk, served by the /assets route
//   - s3:    S3-compatible object storage (AWS S3, MinIO, R2, Spaces),
//     for serving bundles from a CDN
//
// The asset manager writes every bundle to each configured disk:
//
//	disks := []storage.Disk{storage.NewLocal("public/assets", "/assets")}
//	if cfg.Storage.S3.Bucket != "" {
//		s3, err := storage.NewS3(ctx, storage.S3Options{...})
//		...
//		disks = append(disks, s3)
//	}
package storage

import "context"

// Disk is the filesystem driver interface. Every driver must implement this.
type Disk interface {
	// Name identifies the driver in logs, e.g. "local".
	Name() string

	// Put writes content to path, creating parent directories as needed.
	// contentType may be empty.
	Put(ctx context.Context, path string, content []byte, contentType string) error

	// Get returns the full content of the file at path.
	Get(ctx context.Context, path string) ([]byte, error)

	// Exists reports whether a file exists at path.
	Exists(ctx context.Context, path string) bool

	// Delete removes a file. Returns nil if the file did not exist.
	Delete(ctx context.Context, path string) error

	// Files lists filenames directly inside directory, relative to the
	// disk root.
	Files(ctx context.Context, directory string) ([]string, error)

	// URL returns the public URL for path.
	URL(path string) string
}
