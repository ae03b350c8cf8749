package otp

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dracma/internal/common"
	"github.com/ternarybob/dracma/internal/interfaces"
)

// NewSource builds the configured backend and wraps it in a Poller
func NewSource(ctx context.Context, cfg common.OTPConfig, logger arbor.ILogger) (*Poller, error) {
	backend, err := NewBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewPoller(backend, cfg.PollInterval, logger), nil
}

// NewBackend builds the backend named by cfg.Source
func NewBackend(ctx context.Context, cfg common.OTPConfig, logger arbor.ILogger) (interfaces.OTPBackend, error) {
	switch cfg.Source {
	case "mailbox":
		return NewMailboxBackend(cfg.Mailbox, logger), nil
	case "sheets":
		backend, err := NewSheetsBackend(ctx, cfg.Sheets, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrConfig, err)
		}
		return backend, nil
	case "imap":
		return NewIMAPBackend(cfg.IMAP, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown otp source %q", interfaces.ErrConfig, cfg.Source)
	}
}
