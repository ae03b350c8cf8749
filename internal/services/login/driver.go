package login

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dracma/internal/common"
	"github.com/ternarybob/dracma/internal/interfaces"
	"github.com/ternarybob/dracma/internal/models"
)

// Driver runs single login attempts. It never retries.
type Driver struct {
	browser Browser
	otp     interfaces.OTPSource
	portal  common.PortalConfig
	cfg     common.BrowserConfig
	otpWait time.Duration
	logger  arbor.ILogger
}

// NewDriver creates a login driver
func NewDriver(browser Browser, otp interfaces.OTPSource, portal common.PortalConfig, cfg common.BrowserConfig, otpWait time.Duration, logger arbor.ILogger) *Driver {
	return &Driver{
		browser: browser,
		otp:     otp,
		portal:  portal,
		cfg:     cfg,
		otpWait: otpWait,
		logger:  logger,
	}
}

// attempt carries one login run through the state machine
type attempt struct {
	d      *Driver
	page   Page
	result *Result
}

// Login drives the portal from the login form to an authenticated session.
//
// Step failures (timeouts, unexpected status, unexpected URL) end in
// StateLoginFailed or StateChallengeFailed with a nil error. An error is
// returned only when the browser cannot start, the OTP source fails, or ctx
// is cancelled. The page is closed on every path.
func (d *Driver) Login(ctx context.Context, creds models.Credentials) (*Result, error) {
	result := &Result{State: StateInit}

	page, err := d.browser.NewPage(ctx)
	if err != nil {
		result.State = StateLoginFailed
		result.Reason = "browser launch failed"
		d.logger.Error().Err(err).Msg("Failed to launch browser")
		return result, fmt.Errorf("%w: %w", interfaces.ErrLoginStep, err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			d.logger.Debug().Err(err).Msg("Browser close reported an error")
		}
	}()

	a := &attempt{d: d, page: page, result: result}
	err = a.run(ctx, creds)

	d.logger.Info().
		Str("state", result.State.String()).
		Int("login_status", result.LoginStatus).
		Int("challenge_status", result.ChallengeStatus).
		Str("reason", result.Reason).
		Msg("Login attempt finished")

	return result, err
}

func (a *attempt) run(ctx context.Context, creds models.Credentials) error {
	d := a.d
	timeouts := d.cfg.Timeouts
	sel := d.cfg.Selectors

	// Init -> FormFilled
	if err := a.step(ctx, timeouts.Navigation, func(ctx context.Context) error {
		return a.page.Navigate(ctx, d.portal.LoginURL)
	}); err != nil {
		return a.fail(ctx, StateLoginFailed, "login page did not load", err)
	}
	for _, field := range []string{sel.Email, sel.Password} {
		if err := a.step(ctx, timeouts.Field, func(ctx context.Context) error {
			return a.page.WaitVisible(ctx, field)
		}); err != nil {
			return a.fail(ctx, StateLoginFailed, "login form fields not found", err)
		}
	}
	if err := a.typeInto(ctx, sel.Email, creds.Email); err != nil {
		return a.fail(ctx, StateLoginFailed, "could not type email", err)
	}
	if err := a.typeInto(ctx, sel.Password, creds.Password); err != nil {
		return a.fail(ctx, StateLoginFailed, "could not type password", err)
	}
	a.transition(StateFormFilled)

	// FormFilled -> LoginSubmitted
	status, err := a.submit(ctx, func(url string) bool {
		return strings.Contains(url, d.cfg.Patterns.LoginEndpoint)
	})
	if err != nil {
		return a.fail(ctx, StateLoginFailed, "login submit", err)
	}
	a.result.LoginStatus = status
	a.transition(StateLoginSubmitted)

	if next, reason := decideLogin(status); next == StateLoginFailed {
		return a.fail(ctx, next, reason, nil)
	}

	// LoginSubmitted -> ChallengePending
	if err := a.step(ctx, timeouts.URL, func(ctx context.Context) error {
		return a.page.WaitURL(ctx, a.onChallenge)
	}); err != nil {
		return a.fail(ctx, StateChallengeFailed, "challenge page not reached", err)
	}
	if err := a.step(ctx, timeouts.Field, func(ctx context.Context) error {
		return a.page.WaitVisible(ctx, sel.OTPInput)
	}); err != nil {
		return a.fail(ctx, StateChallengeFailed, "challenge input not found", err)
	}
	a.transition(StateChallengePending)

	// ChallengePending -> ChallengeSubmitted
	code, err := d.otp.FetchCode(ctx, d.otpWait)
	if err != nil {
		a.result.State = StateChallengeFailed
		a.result.Reason = "otp source error"
		return err
	}
	if code == "" {
		return a.fail(ctx, StateChallengeFailed, fmt.Sprintf("no one-time code within %s", d.otpWait), nil)
	}
	if err := a.typeInto(ctx, sel.OTPInput, code); err != nil {
		return a.fail(ctx, StateChallengeFailed, "could not type one-time code", err)
	}

	status, err = a.submit(ctx, func(url string) bool {
		return strings.Contains(strings.ToLower(url), strings.ToLower(d.cfg.Patterns.ChallengeResponse))
	})
	if err != nil {
		return a.fail(ctx, StateChallengeFailed, "challenge submit", err)
	}
	a.result.ChallengeStatus = status
	a.transition(StateChallengeSubmitted)

	// ChallengeSubmitted -> Authenticated
	if status == http.StatusOK {
		if err := a.step(ctx, timeouts.URL, func(ctx context.Context) error {
			return a.page.WaitURL(ctx, func(url string) bool { return !a.onChallenge(url) })
		}); err != nil {
			return a.fail(ctx, StateChallengeFailed, "challenge page did not complete", err)
		}
	}

	finalURL, err := a.page.URL(ctx)
	if err != nil {
		return a.fail(ctx, StateChallengeFailed, "could not read final url", err)
	}
	a.result.FinalURL = finalURL

	if next, reason := decideChallenge(status, finalURL, d.cfg.Patterns.LoginPath); next != StateAuthenticated {
		return a.fail(ctx, next, reason, nil)
	}

	a.saveStorageState(ctx)

	raw, err := a.page.LocalStorageItem(ctx, d.portal.TokensKey)
	if err != nil {
		return a.fail(ctx, StateChallengeFailed, "could not read localStorage", err)
	}
	tokens := ExtractTokens(raw)
	if tokens == nil {
		return a.fail(ctx, StateChallengeFailed, fmt.Sprintf("no token pair in localStorage[%s]", d.portal.TokensKey), nil)
	}

	a.result.Tokens = tokens
	a.transition(StateAuthenticated)
	return nil
}

// submit waits for the submit control to enable, then clicks it while
// listening for the matching response
func (a *attempt) submit(ctx context.Context, match func(string) bool) (int, error) {
	d := a.d
	if err := a.step(ctx, d.cfg.Timeouts.Button, func(ctx context.Context) error {
		return a.page.WaitEnabled(ctx, d.cfg.Selectors.SubmitState)
	}); err != nil {
		return 0, fmt.Errorf("submit never enabled: %w", err)
	}

	var status int
	err := a.step(ctx, d.cfg.Timeouts.Response, func(ctx context.Context) error {
		var err error
		status, err = a.page.ExpectResponse(ctx, match, func(ctx context.Context) error {
			return a.page.Click(ctx, d.cfg.Selectors.Submit)
		})
		return err
	})
	return status, err
}

// typeInto types text under the field timeout plus the time the keystrokes take
func (a *attempt) typeInto(ctx context.Context, selector, text string) error {
	var budget time.Duration
	if a.d.cfg.Timeouts.Field > 0 {
		budget = a.d.cfg.Timeouts.Field + time.Duration(len(text))*a.d.cfg.KeystrokeDelay
	}
	return a.step(ctx, budget, func(ctx context.Context) error {
		return a.page.Type(ctx, selector, text, a.d.cfg.KeystrokeDelay)
	})
}

func (a *attempt) onChallenge(url string) bool {
	pattern := strings.ToLower(strings.Trim(a.d.cfg.Patterns.ChallengeURL, "/"))
	return pattern != "" && strings.Contains(strings.ToLower(url), pattern)
}

// step runs fn under its own timeout
func (a *attempt) step(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(stepCtx)
}

func (a *attempt) transition(next State) {
	if a.result.State.Terminal() {
		a.d.logger.Warn().
			Str("from", a.result.State.String()).
			Str("to", next.String()).
			Msg("Ignoring transition out of a terminal state")
		return
	}
	a.d.logger.Debug().
		Str("from", a.result.State.String()).
		Str("to", next.String()).
		Msg("Login state transition")
	a.result.State = next
}

// fail moves to a failed terminal state. Step failures are absorbed into
// the result; cancellation of the caller's context is returned.
func (a *attempt) fail(ctx context.Context, state State, reason string, err error) error {
	if err != nil {
		reason = fmt.Sprintf("%s: %v", reason, err)
	}
	a.result.State = state
	a.result.Reason = reason

	a.d.logger.Warn().Str("state", state.String()).Str("reason", reason).Msg("Login step failed")

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// saveStorageState persists the session snapshot; failure is only logged
func (a *attempt) saveStorageState(ctx context.Context) {
	path := a.d.cfg.StorageStatePath
	if path == "" {
		return
	}
	state, err := a.page.StorageState(ctx)
	if err == nil {
		err = SaveStorageState(path, state)
	}
	if err != nil {
		a.d.logger.Warn().Err(err).Str("path", path).Msg("Failed to save browser storage state")
		return
	}
	a.d.logger.Info().Str("path", path).Int("cookies", len(state.Cookies)).Msg("Browser storage state saved")
}
