package login

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dracma/internal/common"
)

// Hides the most common automation fingerprints before any page script runs
const stealthJS = `
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined, configurable: true });
	Object.defineProperty(navigator, 'languages', { get: () => ['es-AR', 'es', 'en'], configurable: true });
	if (!window.chrome) { window.chrome = {}; }
	window.chrome.runtime = {};
`

const urlPollInterval = 200 * time.Millisecond

// ChromeBrowser launches a fresh Chrome instance per page
type ChromeBrowser struct {
	cfg    common.BrowserConfig
	logger arbor.ILogger
}

// NewChromeBrowser creates a chromedp backed Browser
func NewChromeBrowser(cfg common.BrowserConfig, logger arbor.ILogger) *ChromeBrowser {
	return &ChromeBrowser{cfg: cfg, logger: logger}
}

// NewPage starts Chrome and opens a tab with network events enabled
func (b *ChromeBrowser) NewPage(ctx context.Context) (Page, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("headless", b.cfg.Headless),
		// Stealth options to avoid bot detection
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1366, 900),
	)
	if b.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.cfg.UserAgent))
	}
	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	p := &chromePage{
		ctx:         tabCtx,
		cancelTab:   tabCancel,
		cancelAlloc: allocCancel,
		logger:      b.logger,
	}

	// The first Run binds the browser to the context it is given, so it must
	// be the tab context itself
	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx)
	stop()
	if err != nil {
		p.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	err = p.run(ctx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := cdppage.AddScriptToEvaluateOnNewDocument(stealthJS).Do(ctx)
			return err
		}),
	)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	b.logger.Debug().Bool("headless", b.cfg.Headless).Msg("Browser started")
	return p, nil
}

type chromePage struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	logger      arbor.ILogger
}

// derive returns a context that carries the tab (so chromedp actions target
// it) but ends with ctx's deadline or cancellation.
func (p *chromePage) derive(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(p.ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		inner := cancel
		cancel = func() { cancelDeadline(); inner() }
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() { stop(); cancel() }
}

func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := p.derive(ctx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) WaitVisible(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *chromePage) Type(ctx context.Context, selector, text string, delay time.Duration) error {
	actions := []chromedp.Action{chromedp.Click(selector, chromedp.ByQuery)}
	for _, r := range text {
		actions = append(actions, chromedp.KeyEvent(string(r)))
		if delay > 0 {
			actions = append(actions, chromedp.Sleep(delay))
		}
	}
	return p.run(ctx, actions...)
}

func (p *chromePage) WaitEnabled(ctx context.Context, selector string) error {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return err
	}
	expr := fmt.Sprintf(`(() => { const el = document.querySelector(%s); return !!el && !el.hasAttribute('disabled'); })()`, quoted)

	var enabled bool
	return p.run(ctx, chromedp.Poll(expr, &enabled, chromedp.WithPollingInterval(100*time.Millisecond)))
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *chromePage) ExpectResponse(ctx context.Context, match func(string) bool, action func(context.Context) error) (int, error) {
	listenCtx, cancel := p.derive(ctx)
	defer cancel()

	listen := func(lctx context.Context, fn func(url string, status int)) {
		chromedp.ListenTarget(lctx, func(ev interface{}) {
			if url, status, ok := responseOf(ev); ok {
				fn(url, status)
			}
		})
	}

	status, err := expectDuring(listenCtx, listen, match, action)
	if err != nil && ctx.Err() != nil {
		return 0, ctx.Err()
	}
	return status, err
}

// responseOf unpacks a response event, skipping CORS preflights to the
// cross-origin API.
func responseOf(ev interface{}) (string, int, bool) {
	e, ok := ev.(*network.EventResponseReceived)
	if !ok || e.Response == nil || e.Type == network.ResourceTypePreflight {
		return "", 0, false
	}
	return e.Response.URL, int(e.Response.Status), true
}

func (p *chromePage) WaitURL(ctx context.Context, match func(string) bool) error {
	ticker := time.NewTicker(urlPollInterval)
	defer ticker.Stop()

	for {
		current, err := p.URL(ctx)
		if err != nil {
			return err
		}
		if match(current) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for url (last %s): %w", current, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var location string
	if err := p.run(ctx, chromedp.Location(&location)); err != nil {
		return "", err
	}
	return location, nil
}

func (p *chromePage) LocalStorageItem(ctx context.Context, key string) (string, error) {
	quoted, err := json.Marshal(key)
	if err != nil {
		return "", err
	}
	var value string
	expr := fmt.Sprintf(`window.localStorage.getItem(%s) || ""`, quoted)
	if err := p.run(ctx, chromedp.Evaluate(expr, &value)); err != nil {
		return "", err
	}
	return value, nil
}

func (p *chromePage) StorageState(ctx context.Context) (*StorageState, error) {
	var cookies []*network.Cookie
	var origin struct {
		Origin string      `json:"origin"`
		Items  [][2]string `json:"items"`
	}

	err := p.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().Do(ctx)
			return err
		}),
		chromedp.Evaluate(`({origin: window.location.origin, items: Object.entries(window.localStorage)})`, &origin),
	)
	if err != nil {
		return nil, err
	}

	state := &StorageState{
		Cookies: make([]Cookie, 0, len(cookies)),
		Origins: []OriginState{{Origin: origin.Origin, LocalStorage: make([]NameValue, 0, len(origin.Items))}},
	}
	for _, c := range cookies {
		state.Cookies = append(state.Cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite.String(),
		})
	}
	for _, item := range origin.Items {
		state.Origins[0].LocalStorage = append(state.Origins[0].LocalStorage, NameValue{Name: item[0], Value: item[1]})
	}
	return state, nil
}

// Close shuts the tab and the browser process
func (p *chromePage) Close() error {
	err := chromedp.Cancel(p.ctx)
	p.cancelTab()
	p.cancelAlloc()
	return err
}
