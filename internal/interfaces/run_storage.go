package interfaces

import (
	"context"

	"github.com/ternarybob/dracma/internal/models"
)

// RunStorage persists the history of harvest runs
type RunStorage interface {
	SaveRun(ctx context.Context, run *models.RunRecord) error
	// GetRun returns ErrRunNotFound for an unknown id.
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	// ListRuns returns the most recent runs first. limit <= 0 returns all.
	ListRuns(ctx context.Context, limit int) ([]*models.RunRecord, error)
}
