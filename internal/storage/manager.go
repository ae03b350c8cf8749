// Package storage builds the artifact store and run history selected by
// configuration.
package storage

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dracma/internal/common"
	"github.com/ternarybob/dracma/internal/interfaces"
	"github.com/ternarybob/dracma/internal/storage/badger"
	"github.com/ternarybob/dracma/internal/storage/filesystem"
	"github.com/ternarybob/dracma/internal/storage/s3"
)

// Manager owns every storage backend opened for a process
type Manager struct {
	artifacts interfaces.ArtifactStore
	runs      interfaces.RunStorage
	badger    *badger.Manager
	logger    arbor.ILogger
}

// NewManager opens the artifact backend named by cfg.Type. Badger is opened
// once and shared when it backs artifacts, run history, or both.
func NewManager(ctx context.Context, cfg *common.StorageConfig, logger arbor.ILogger) (*Manager, error) {
	m := &Manager{logger: logger}

	if cfg.Type == "badger" || cfg.History {
		db, err := badger.NewManager(logger, &cfg.Badger)
		if err != nil {
			return nil, err
		}
		m.badger = db
		if cfg.History {
			m.runs = db.RunStorage()
		}
	}

	switch cfg.Type {
	case "s3", "":
		store, err := s3.NewStore(ctx, cfg.S3, logger)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.artifacts = store
	case "filesystem":
		store, err := filesystem.NewStore(cfg.Filesystem.Dir, logger)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.artifacts = store
	case "badger":
		m.artifacts = m.badger.ArtifactStorage()
	default:
		m.Close()
		return nil, fmt.Errorf("%w: unsupported storage type: %s", interfaces.ErrConfig, cfg.Type)
	}

	logger.Info().
		Str("type", cfg.Type).
		Bool("history", m.runs != nil).
		Msg("Storage initialized")

	return m, nil
}

// ArtifactStore returns the configured artifact backend
func (m *Manager) ArtifactStore() interfaces.ArtifactStore {
	return m.artifacts
}

// RunStorage returns run history, nil when history is disabled
func (m *Manager) RunStorage() interfaces.RunStorage {
	return m.runs
}

// Close releases every opened backend
func (m *Manager) Close() error {
	if m.badger != nil {
		err := m.badger.Close()
		m.badger = nil
		return err
	}
	return nil
}
