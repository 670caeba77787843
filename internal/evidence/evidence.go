// Package evidence stores the screenshots that make up a filing's
// evidentiary trail. Stores are create-only: an artifact, once written, is
// never replaced.
package evidence

import (
	"context"
	"io"
	"time"
)

// Driver identifies a concrete evidence storage backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"     // local filesystem (dev)
	DriverMemory     Driver = "memory" // in-memory (tests)
	DriverS3         Driver = "s3"     // AWS S3
	DriverMinio      Driver = "minio"  // MinIO / S3-compatible on-prem
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Info describes a stored object.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is an upload-only object store. Put fails with
// filing.ErrEvidenceExists when the key is already taken.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) (Info, error)
	Head(ctx context.Context, key string) (Info, error)
	Driver() Driver
}

func cloneMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
