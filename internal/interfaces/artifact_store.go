package interfaces

import (
	"context"
	"time"
)

// ArtifactInfo describes a stored artifact.
type ArtifactInfo struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ArtifactStore is durable key/blob persistence addressed by name.
type ArtifactStore interface {
	// Put writes data under key and returns a backend specific location
	// (for example s3://bucket/key or an absolute file path).
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Get reads the artifact stored under key, ErrArtifactNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns artifacts whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ArtifactInfo, error)
}
