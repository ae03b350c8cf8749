package badger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/dracma/internal/interfaces"
)

// ArtifactRecord is one stored artifact, keyed by its artifact key
type ArtifactRecord struct {
	Key         string
	ContentType string
	Data        []byte
	Size        int64
	UpdatedAt   time.Time
}

// ArtifactStorage implements interfaces.ArtifactStore on badgerhold
type ArtifactStorage struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// NewArtifactStorage creates a new ArtifactStorage instance
func NewArtifactStorage(store *badgerhold.Store, logger arbor.ILogger) *ArtifactStorage {
	return &ArtifactStorage{
		store:  store,
		logger: logger,
	}
}

// Put inserts or replaces the artifact. The location is badger://<key>.
func (s *ArtifactStorage) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("artifact key is required")
	}
	record := &ArtifactRecord{
		Key:         key,
		ContentType: contentType,
		Data:        data,
		Size:        int64(len(data)),
		UpdatedAt:   time.Now(),
	}
	if err := s.store.Upsert(key, record); err != nil {
		return "", fmt.Errorf("failed to save artifact %s: %w", key, err)
	}
	return "badger://" + key, nil
}

// Get returns the stored bytes
func (s *ArtifactStorage) Get(ctx context.Context, key string) ([]byte, error) {
	var record ArtifactRecord
	err := s.store.Get(key, &record)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrArtifactNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact %s: %w", key, err)
	}
	return record.Data, nil
}

// List returns artifacts whose key starts with prefix, sorted by key
func (s *ArtifactStorage) List(ctx context.Context, prefix string) ([]interfaces.ArtifactInfo, error) {
	query := badgerhold.Where("Key").RegExp(regexp.MustCompile("^" + regexp.QuoteMeta(prefix))).SortBy("Key")

	var records []ArtifactRecord
	if err := s.store.Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	infos := make([]interfaces.ArtifactInfo, 0, len(records))
	for _, r := range records {
		infos = append(infos, interfaces.ArtifactInfo{
			Key:       r.Key,
			Size:      r.Size,
			UpdatedAt: r.UpdatedAt,
		})
	}
	return infos, nil
}
