package login

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakePage scripts the portal: the first click answers the login endpoint,
// the second answers the challenge endpoint. Responses are emitted
// synchronously from inside Click, before Click returns.
type fakePage struct {
	mu sync.Mutex

	url               string
	loginStatus       int
	challengeStatus   int
	afterLoginURL     string
	afterChallengeURL string
	localStorage      map[string]string

	// hang makes the named method block until its context ends
	hang map[string]bool

	typed     map[string]string
	clicks    int
	closed    bool
	listeners map[int]func(url string, status int)
	nextID    int
}

func newFakePage() *fakePage {
	return &fakePage{
		url:               "about:blank",
		loginStatus:       200,
		challengeStatus:   200,
		afterLoginURL:     "https://asesor.example.com/challenge-code/abc123",
		afterChallengeURL: "https://asesor.example.com/dashboard",
		localStorage: map[string]string{
			"TOKENS_KEY": `{"idToken":"id-1","refreshToken":"refresh-1"}`,
		},
		hang:      map[string]bool{},
		typed:     map[string]string{},
		listeners: map[int]func(string, int){},
	}
}

func (f *fakePage) hangs(ctx context.Context, method string) error {
	f.mu.Lock()
	h := f.hang[method]
	f.mu.Unlock()
	if h {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakePage) Navigate(ctx context.Context, url string) error {
	if err := f.hangs(ctx, "Navigate"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = url
	return nil
}

func (f *fakePage) WaitVisible(ctx context.Context, selector string) error {
	return f.hangs(ctx, "WaitVisible:"+selector)
}

func (f *fakePage) Type(ctx context.Context, selector, text string, _ time.Duration) error {
	if err := f.hangs(ctx, "Type"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed[selector] += text
	return nil
}

func (f *fakePage) WaitEnabled(ctx context.Context, _ string) error {
	return f.hangs(ctx, "WaitEnabled")
}

func (f *fakePage) Click(ctx context.Context, _ string) error {
	if err := f.hangs(ctx, "Click"); err != nil {
		return err
	}

	f.mu.Lock()
	f.clicks++
	click := f.clicks
	f.mu.Unlock()

	// unrelated traffic first
	f.emit("https://asesor.example.com/assets/main.js", 200)

	switch click {
	case 1:
		f.emit("https://api.example.com/advisor/auth/login/v4", f.loginStatus)
		f.setURL(f.afterLoginURL)
	case 2:
		f.emit("https://api.example.com/advisor/auth/Challenge/verify", f.challengeStatus)
		f.setURL(f.afterChallengeURL)
	default:
		return errors.New("unexpected click")
	}
	return nil
}

func (f *fakePage) emit(url string, status int) {
	f.mu.Lock()
	fns := make([]func(string, int), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(url, status)
	}
}

func (f *fakePage) setURL(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = url
}

func (f *fakePage) listen(ctx context.Context, fn func(url string, status int)) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()

	context.AfterFunc(ctx, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	})
}

func (f *fakePage) ExpectResponse(ctx context.Context, match func(string) bool, action func(context.Context) error) (int, error) {
	if err := f.hangs(ctx, "ExpectResponse"); err != nil {
		return 0, err
	}
	return expectDuring(ctx, f.listen, match, action)
}

func (f *fakePage) WaitURL(ctx context.Context, match func(string) bool) error {
	f.mu.Lock()
	current := f.url
	f.mu.Unlock()
	if match(current) {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakePage) URL(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *fakePage) LocalStorageItem(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.localStorage[key], nil
}

func (f *fakePage) StorageState(_ context.Context) (*StorageState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	origin := OriginState{Origin: "https://asesor.example.com"}
	for k, v := range f.localStorage {
		origin.LocalStorage = append(origin.LocalStorage, NameValue{Name: k, Value: v})
	}
	return &StorageState{
		Cookies: []Cookie{{Name: "session", Value: "abc", Domain: "asesor.example.com", Path: "/"}},
		Origins: []OriginState{origin},
	}, nil
}

func (f *fakePage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeBrowser struct {
	page *fakePage
	err  error
}

func (b *fakeBrowser) NewPage(_ context.Context) (Page, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.page, nil
}

type fakeOTP struct {
	code  string
	err   error
	calls int
}

func (o *fakeOTP) FetchCode(_ context.Context, _ time.Duration) (string, error) {
	o.calls++
	return o.code, o.err
}
