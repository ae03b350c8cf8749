package login

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Page is one browser tab driven through the login flow. Every method
// honours the deadline and cancellation of ctx.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string) error
	// Type focuses selector and types text one key at a time
	Type(ctx context.Context, selector, text string, delay time.Duration) error
	// WaitEnabled waits until selector exists without a disabled attribute
	WaitEnabled(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	// ExpectResponse runs action while waiting for the first network response
	// whose URL satisfies match, and returns its status code.
	ExpectResponse(ctx context.Context, match func(url string) bool, action func(ctx context.Context) error) (int, error)
	WaitURL(ctx context.Context, match func(url string) bool) error
	URL(ctx context.Context) (string, error)
	LocalStorageItem(ctx context.Context, key string) (string, error)
	StorageState(ctx context.Context) (*StorageState, error)
	Close() error
}

// Browser launches pages
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
}

// responseListener subscribes fn to network responses until ctx is done
type responseListener func(ctx context.Context, fn func(url string, status int))

// expectDuring attaches the response listener first, then runs the wait and
// the action as two joined tasks. A response fired while the action is still
// in flight is never missed.
func expectDuring(ctx context.Context, listen responseListener, match func(string) bool, action func(context.Context) error) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	statusCh := make(chan int, 1)
	listen(ctx, func(url string, status int) {
		if !match(url) {
			return
		}
		select {
		case statusCh <- status:
		default:
		}
	})

	g, gctx := errgroup.WithContext(ctx)

	var status int
	g.Go(func() error {
		select {
		case status = <-statusCh:
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	g.Go(func() error {
		return action(gctx)
	})

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return status, nil
}
