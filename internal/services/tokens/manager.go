// Package tokens keeps the session bearer token fresh.
package tokens

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dracma/internal/interfaces"
	"github.com/ternarybob/dracma/internal/models"
	"github.com/ternarybob/dracma/internal/services/portal"
)

// Refresher exchanges a token pair for a new idToken
type Refresher interface {
	Refresh(ctx context.Context, pair *models.TokenPair) (string, error)
}

// Manager refreshes tokens and decides which token the data calls use
type Manager struct {
	refresher Refresher
	logger    arbor.ILogger
}

// NewManager creates a token manager
func NewManager(refresher Refresher, logger arbor.ILogger) *Manager {
	return &Manager{
		refresher: refresher,
		logger:    logger,
	}
}

// Refresh asks the portal for a new idToken. Failures are logged and reported
// as ok=false; they never escape as errors.
func (m *Manager) Refresh(ctx context.Context, pair *models.TokenPair) (string, bool) {
	if pair == nil {
		return "", false
	}

	m.logger.Info().Msg("Refreshing session token")

	token, err := m.refresher.Refresh(ctx, pair)
	if err != nil {
		if !errors.Is(err, interfaces.ErrTokenRefresh) {
			err = fmt.Errorf("%w: %w", interfaces.ErrTokenRefresh, err)
		}
		event := m.logger.Warn().Err(err)
		var apiErr *portal.APIError
		if errors.As(err, &apiErr) {
			event = event.Int("status", apiErr.StatusCode).Str("body", apiErr.Message)
		}
		event.Msg("Token refresh failed")
		return "", false
	}
	if token == "" {
		m.logger.Warn().Msg("Token refresh returned an empty token")
		return "", false
	}

	m.logger.Info().Int("length", len(token)).Msg("Token refreshed")
	return token, true
}

// Resolve returns the refreshed token, or the pair's original idToken when
// the refresh fails. A nil pair resolves to the zero ActiveToken.
func (m *Manager) Resolve(ctx context.Context, pair *models.TokenPair) models.ActiveToken {
	if pair == nil {
		m.logger.Warn().Msg("No token pair to resolve")
		return models.ActiveToken{}
	}
	if token, ok := m.Refresh(ctx, pair); ok {
		return models.ActiveToken{Value: token, Source: models.TokenSourceRefreshed}
	}

	m.logger.Warn().Msg("Using original idToken")
	return models.ActiveToken{Value: pair.IDToken, Source: models.TokenSourceOriginal}
}
