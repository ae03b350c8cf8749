// Package pipeline runs one harvest: login, token resolution, batch fetch,
// and the run history record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dracma/internal/common"
	"github.com/ternarybob/dracma/internal/interfaces"
	"github.com/ternarybob/dracma/internal/models"
	"github.com/ternarybob/dracma/internal/services/login"
)

// LoginDriver performs one login attempt
type LoginDriver interface {
	Login(ctx context.Context, creds models.Credentials) (*login.Result, error)
}

// TokenResolver picks the token used for the batch
type TokenResolver interface {
	Resolve(ctx context.Context, pair *models.TokenPair) models.ActiveToken
}

// BatchFetcher calls and persists every endpoint
type BatchFetcher interface {
	Fetch(ctx context.Context, token string, descriptors []models.EndpointDescriptor) (*models.FetchReport, error)
}

// Pipeline serializes runs; a second Run while one is active fails fast.
type Pipeline struct {
	login     LoginDriver
	tokens    TokenResolver
	fetcher   BatchFetcher
	runs      interfaces.RunStorage
	creds     models.Credentials
	endpoints []models.EndpointDescriptor
	logger    arbor.ILogger
	now       func() time.Time

	mu sync.Mutex
}

// NewPipeline creates a pipeline. runs may be nil to disable history.
func NewPipeline(
	driver LoginDriver,
	tokens TokenResolver,
	fetcher BatchFetcher,
	runs interfaces.RunStorage,
	creds models.Credentials,
	endpoints []models.EndpointDescriptor,
	logger arbor.ILogger,
) *Pipeline {
	return &Pipeline{
		login:     driver,
		tokens:    tokens,
		fetcher:   fetcher,
		runs:      runs,
		creds:     creds,
		endpoints: endpoints,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes one harvest and returns its record. A login that does not
// authenticate returns an error wrapping ErrLoginStep; endpoint failures only
// mark the record partial or failed. The record is returned on every path
// except ErrRunInProgress.
func (p *Pipeline) Run(ctx context.Context) (*models.RunRecord, error) {
	if !p.mu.TryLock() {
		return nil, interfaces.ErrRunInProgress
	}
	defer p.mu.Unlock()

	record := &models.RunRecord{
		ID:        common.NewRunID(),
		StartedAt: p.now(),
	}
	logger := p.logger.WithCorrelationId(record.ID)
	logger.Info().Int("endpoints", len(p.endpoints)).Msg("Harvest run started")

	err := p.run(ctx, record, logger)

	record.FinishedAt = p.now()
	if err != nil {
		record.Status = models.RunStatusFailed
		record.Error = err.Error()
	}
	p.save(record, logger)

	event := logger.Info()
	if record.Status != models.RunStatusSucceeded {
		event = logger.Warn()
	}
	event.
		Str("run_id", record.ID).
		Str("status", string(record.Status)).
		Str("duration", record.Duration().String()).
		Msg("Harvest run finished")

	return record, err
}

func (p *Pipeline) run(ctx context.Context, record *models.RunRecord, logger arbor.ILogger) error {
	result, err := p.login.Login(ctx, p.creds)
	if result != nil {
		record.LoginState = result.State.String()
		record.LoginReason = result.Reason
	}
	if err != nil {
		return err
	}
	if !result.Authenticated() {
		return fmt.Errorf("%w: %s: %s", interfaces.ErrLoginStep, result.State, result.Reason)
	}

	active := p.tokens.Resolve(ctx, result.Tokens)
	record.TokenSource = active.Source
	logger.Info().
		Str("token_source", string(active.Source)).
		Int("token_length", len(active.Value)).
		Msg("Active token resolved")

	return p.fetch(ctx, active.Value, record)
}

// RunWithToken skips login and fetches with a token the caller already holds
func (p *Pipeline) RunWithToken(ctx context.Context, token string) (*models.RunRecord, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", interfaces.ErrConfig)
	}
	if !p.mu.TryLock() {
		return nil, interfaces.ErrRunInProgress
	}
	defer p.mu.Unlock()

	record := &models.RunRecord{
		ID:          common.NewRunID(),
		StartedAt:   p.now(),
		TokenSource: models.TokenSourceSupplied,
	}
	logger := p.logger.WithCorrelationId(record.ID)

	err := p.fetch(ctx, token, record)
	record.FinishedAt = p.now()
	if err != nil {
		record.Status = models.RunStatusFailed
		record.Error = err.Error()
	}
	p.save(record, logger)
	return record, err
}

func (p *Pipeline) fetch(ctx context.Context, token string, record *models.RunRecord) error {
	report, err := p.fetcher.Fetch(ctx, token, p.endpoints)
	if report != nil {
		record.Results = report.Results
		record.Status = statusOf(report)
	}
	return err
}

func statusOf(report *models.FetchReport) models.RunStatus {
	switch {
	case report.Len() > 0 && report.Failed() == 0:
		return models.RunStatusSucceeded
	case report.Succeeded() > 0:
		return models.RunStatusPartial
	default:
		return models.RunStatusFailed
	}
}

// save writes the record with its own deadline so a cancelled run is still recorded
func (p *Pipeline) save(record *models.RunRecord, logger arbor.ILogger) {
	if p.runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.runs.SaveRun(ctx, record); err != nil {
		logger.Warn().Err(err).Str("run_id", record.ID).Msg("Failed to save run history")
	}
}

// IsLoginFailure reports whether err ended a run before any endpoint was called
func IsLoginFailure(err error) bool {
	return errors.Is(err, interfaces.ErrLoginStep) || errors.Is(err, interfaces.ErrOTPSource)
}
