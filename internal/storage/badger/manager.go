// Package badger keeps artifacts and run history in an embedded Badger
// database through badgerhold.
package badger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/dracma/internal/common"
)

// Manager owns the database and the stores sharing it
type Manager struct {
	store     *badgerhold.Store
	artifacts *ArtifactStorage
	runs      *RunStorage
	logger    arbor.ILogger
}

// NewManager opens the database at config.Path, wiping it first when
// ResetOnStartup is set.
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	if config.ResetOnStartup {
		resetDir(config.Path, logger)
	}

	store, err := openStore(config.Path)
	if err != nil {
		logger.Error().Err(err).Str("path", config.Path).Msg("Badger open failed")
		return nil, err
	}

	logger.Info().
		Str("path", config.Path).
		Bool("reset", config.ResetOnStartup).
		Msg("Badger storage opened")

	return &Manager{
		store:     store,
		artifacts: NewArtifactStorage(store, logger),
		runs:      NewRunStorage(store, logger),
		logger:    logger,
	}, nil
}

func openStore(path string) (*badgerhold.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	opts := badgerhold.DefaultOptions
	opts.Dir = path
	opts.ValueDir = path
	opts.Logger = nil

	store, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return store, nil
}

// resetDir removes a previous database. Failures only warn.
func resetDir(path string, logger arbor.ILogger) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Could not reset badger directory")
		return
	}
	logger.Debug().Str("path", path).Msg("Badger directory reset")
}

// ArtifactStorage returns the artifact store
func (m *Manager) ArtifactStorage() *ArtifactStorage {
	return m.artifacts
}

// RunStorage returns the run history store
func (m *Manager) RunStorage() *RunStorage {
	return m.runs
}

// Close closes the database
func (m *Manager) Close() error {
	if m.store == nil {
		return nil
	}
	return m.store.Close()
}
