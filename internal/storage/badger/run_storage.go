package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/dracma/internal/interfaces"
	"github.com/ternarybob/dracma/internal/models"
)

// RunStorage implements interfaces.RunStorage for Badger
type RunStorage struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// NewRunStorage creates a new RunStorage instance
func NewRunStorage(store *badgerhold.Store, logger arbor.ILogger) *RunStorage {
	return &RunStorage{
		store:  store,
		logger: logger,
	}
}

// SaveRun inserts or updates a run record
func (s *RunStorage) SaveRun(ctx context.Context, run *models.RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	if err := s.store.Upsert(run.ID, run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	s.logger.Debug().Str("run_id", run.ID).Str("status", string(run.Status)).Msg("Run record saved")
	return nil
}

// GetRun retrieves a run by id
func (s *RunStorage) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	var run models.RunRecord
	err := s.store.Get(id, &run)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRuns returns the newest runs first
func (s *RunStorage) ListRuns(ctx context.Context, limit int) ([]*models.RunRecord, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("StartedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var runs []models.RunRecord
	if err := s.store.Find(&runs, query); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	result := make([]*models.RunRecord, len(runs))
	for i := range runs {
		result[i] = &runs[i]
	}
	return result, nil
}
