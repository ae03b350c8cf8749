package interfaces

import (
	"context"
	"time"
)

// OTPSource supplies the most recent one-time code from an out-of-band channel.
type OTPSource interface {
	// FetchCode waits at most wait for a code. An empty code with a nil error
	// means no code arrived in the window. Backend failures return an error
	// wrapping ErrOTPSource.
	FetchCode(ctx context.Context, wait time.Duration) (string, error)
}

// OTPBackend reads the newest code currently available from one channel.
type OTPBackend interface {
	// Name identifies the backend in logs ("mailbox", "sheets", "imap").
	Name() string

	// Latest returns the newest code found in messages received at or after since.
	// A zero since disables the age filter.
	Latest(ctx context.Context, since time.Time) (string, error)
}
