// Package fetcher calls the configured data endpoints with one bearer token
// and persists every successful response as a dated artifact.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dracma/internal/interfaces"
	"github.com/ternarybob/dracma/internal/models"
	"github.com/ternarybob/dracma/internal/services/portal"
)

// Caller performs one authenticated data endpoint call
type Caller interface {
	Call(ctx context.Context, token string, ep models.EndpointDescriptor) (*portal.Response, error)
}

// Fetcher runs batches sequentially. A failed call never stops the batch;
// a failed write always does.
type Fetcher struct {
	caller  Caller
	store   interfaces.ArtifactStore
	prefix  string
	timeout time.Duration
	logger  arbor.ILogger
	now     func() time.Time
}

// Option configures a Fetcher
type Option func(*Fetcher)

// WithRequestTimeout bounds each endpoint call
func WithRequestTimeout(timeout time.Duration) Option {
	return func(f *Fetcher) {
		f.timeout = timeout
	}
}

// WithClock replaces time.Now for artifact dating
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		f.now = now
	}
}

// NewFetcher creates a fetcher writing under prefix
func NewFetcher(caller Caller, store interfaces.ArtifactStore, prefix string, logger arbor.ILogger, opts ...Option) *Fetcher {
	f := &Fetcher{
		caller: caller,
		store:  store,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ArtifactKey builds <prefix>/<name>_<YYYYMMDD>.json from the local date of at
func ArtifactKey(prefix, name string, at time.Time) string {
	file := fmt.Sprintf("%s_%s.json", name, at.Format("20060102"))
	if prefix == "" {
		return file
	}
	return path.Join(prefix, file)
}

// Fetch calls every descriptor in order. The returned report always holds one
// result per descriptor processed so far; an error wrapping
// ErrArtifactPersist ends the batch early.
func (f *Fetcher) Fetch(ctx context.Context, token string, descriptors []models.EndpointDescriptor) (*models.FetchReport, error) {
	report := &models.FetchReport{}

	for _, ep := range descriptors {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result, err := f.fetchOne(ctx, token, ep)
		report.Add(result)
		if err != nil {
			return report, err
		}
	}

	f.logger.Info().
		Int("total", report.Len()).
		Int("succeeded", report.Succeeded()).
		Int("failed", report.Failed()).
		Msg("Fetch batch completed")

	return report, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, token string, ep models.EndpointDescriptor) (models.FetchResult, error) {
	name := ep.FriendlyName()
	result := models.FetchResult{
		Name:     name,
		Endpoint: ep.Path,
		Status:   models.FetchStatusFailed,
	}

	start := f.now()
	resp, err := f.call(ctx, token, ep)
	result.Duration = f.now().Sub(start)
	if err != nil {
		var apiErr *portal.APIError
		if errors.As(err, &apiErr) {
			result.StatusCode = apiErr.StatusCode
			f.logger.Error().
				Str("endpoint", ep.Path).
				Str("name", name).
				Int("status", apiErr.StatusCode).
				Str("body", apiErr.Message).
				Msg("Endpoint returned an error status")
		} else {
			f.logger.Error().
				Err(err).
				Str("endpoint", ep.Path).
				Str("name", name).
				Msg("Endpoint call failed")
		}
		result.Error = fmt.Errorf("%w: %w", interfaces.ErrEndpointCall, err).Error()
		return result, nil
	}
	result.StatusCode = resp.StatusCode

	data, err := encodeEnvelope(models.ArtifactEnvelope{
		Timestamp: start.Format(time.RFC3339),
		Method:    resp.Method,
		Endpoint:  ep.Path,
		URL:       resp.URL,
		Data:      resp.Body,
	})
	if err != nil {
		result.Error = err.Error()
		return result, fmt.Errorf("%w: %s: %w", interfaces.ErrArtifactPersist, name, err)
	}

	key := ArtifactKey(f.prefix, name, start)
	location, err := f.store.Put(ctx, key, data, "application/json")
	if err != nil {
		f.logger.Error().Err(err).Str("key", key).Str("name", name).Msg("Failed to persist artifact")
		result.ArtifactKey = key
		result.Error = err.Error()
		return result, fmt.Errorf("%w: %s: %w", interfaces.ErrArtifactPersist, key, err)
	}

	result.Status = models.FetchStatusOK
	result.ArtifactKey = key
	result.Location = location

	f.logger.Info().
		Str("name", name).
		Int("status", resp.StatusCode).
		Int("bytes", len(data)).
		Str("location", location).
		Msg("Artifact saved")

	return result, nil
}

func (f *Fetcher) call(ctx context.Context, token string, ep models.EndpointDescriptor) (*portal.Response, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	return f.caller.Call(ctx, token, ep)
}

// encodeEnvelope renders the envelope as two-space indented JSON with
// non-ASCII and HTML characters left as is
func encodeEnvelope(env models.ArtifactEnvelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		return nil, fmt.Errorf("failed to encode artifact: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
