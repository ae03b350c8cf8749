package otp

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dracma/internal/interfaces"
)

// Poller waits for a code from a single backend. With a zero interval it
// sleeps the whole window and reads once; otherwise it reads immediately and
// then every interval until the window closes, ignoring codes that predate
// the challenge.
type Poller struct {
	backend  interfaces.OTPBackend
	interval time.Duration
	logger   arbor.ILogger
	now      func() time.Time
}

// NewPoller creates an OTP source over backend
func NewPoller(backend interfaces.OTPBackend, interval time.Duration, logger arbor.ILogger) *Poller {
	return &Poller{
		backend:  backend,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

var _ interfaces.OTPSource = (*Poller)(nil)

// FetchCode implements interfaces.OTPSource
func (p *Poller) FetchCode(ctx context.Context, wait time.Duration) (string, error) {
	start := p.now()
	deadline := start.Add(wait)

	p.logger.Info().
		Str("backend", p.backend.Name()).
		Str("wait", wait.String()).
		Str("interval", p.interval.String()).
		Msg("Waiting for one-time code")

	if p.interval <= 0 {
		if err := sleep(ctx, wait); err != nil {
			return "", err
		}
		return p.read(ctx, time.Time{})
	}

	for attempt := 1; ; attempt++ {
		code, err := p.read(ctx, start)
		if err != nil || code != "" {
			return code, err
		}

		remaining := deadline.Sub(p.now())
		if remaining <= 0 {
			p.logger.Warn().
				Str("backend", p.backend.Name()).
				Int("attempts", attempt).
				Msg("No one-time code arrived before the deadline")
			return "", nil
		}

		if err := sleep(ctx, min(p.interval, remaining)); err != nil {
			return "", err
		}
	}
}

func (p *Poller) read(ctx context.Context, since time.Time) (string, error) {
	code, err := p.backend.Latest(ctx, since)
	if err != nil {
		p.logger.Error().Err(err).Str("backend", p.backend.Name()).Msg("Failed to read one-time code")
		return "", fmt.Errorf("%w: %s: %w", interfaces.ErrOTPSource, p.backend.Name(), err)
	}
	if code == "" {
		p.logger.Debug().Str("backend", p.backend.Name()).Msg("No one-time code found")
		return "", nil
	}
	p.logger.Info().Str("backend", p.backend.Name()).Int("length", len(code)).Msg("One-time code found")
	return code, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
