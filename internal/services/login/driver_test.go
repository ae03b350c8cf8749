package login

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dracma/internal/common"
	"github.com/ternarybob/dracma/internal/interfaces"
	"github.com/ternarybob/dracma/internal/models"
)

var testCreds = models.Credentials{Email: "advisor@example.com", Password: "s3cret"}

func newTestDriver(t *testing.T, page *fakePage, otp *fakeOTP) (*Driver, common.BrowserConfig) {
	t.Helper()
	cfg := common.NewDefaultConfig()
	browserCfg := cfg.Browser
	browserCfg.KeystrokeDelay = 0
	browserCfg.StorageStatePath = filepath.Join(t.TempDir(), "state", "storage_state.json")
	browserCfg.Timeouts = common.BrowserTimeouts{
		Navigation: 100 * time.Millisecond,
		Field:      100 * time.Millisecond,
		Button:     100 * time.Millisecond,
		Response:   100 * time.Millisecond,
		URL:        100 * time.Millisecond,
	}

	d := NewDriver(&fakeBrowser{page: page}, otp, cfg.Portal, browserCfg, time.Second, arbor.NewLogger())
	return d, browserCfg
}

func TestLogin_Authenticated(t *testing.T) {
	page := newFakePage()
	otp := &fakeOTP{code: "482913"}
	d, cfg := newTestDriver(t, page, otp)

	result, err := d.Login(context.Background(), testCreds)
	require.NoError(t, err)

	assert.Equal(t, StateAuthenticated, result.State)
	assert.True(t, result.Authenticated())
	assert.Equal(t, &models.TokenPair{IDToken: "id-1", RefreshToken: "refresh-1"}, result.Tokens)
	assert.Equal(t, 200, result.LoginStatus)
	assert.Equal(t, 200, result.ChallengeStatus)
	assert.Equal(t, "https://asesor.example.com/dashboard", result.FinalURL)
	assert.Empty(t, result.Reason)

	assert.Equal(t, "advisor@example.com", page.typed[cfg.Selectors.Email])
	assert.Equal(t, "s3cret", page.typed[cfg.Selectors.Password])
	assert.Equal(t, "482913", page.typed[cfg.Selectors.OTPInput])
	assert.Equal(t, 1, otp.calls)
	assert.True(t, page.closed)

	state, err := LoadStorageState(cfg.StorageStatePath)
	require.NoError(t, err)
	raw, ok := state.LocalStorageItem("TOKENS_KEY")
	assert.True(t, ok)
	assert.NotNil(t, ExtractTokens(raw))
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(p *fakePage, o *fakeOTP)
		wantState State
		wantOTP   int
	}{
		{
			name:      "login rejected",
			setup:     func(p *fakePage, o *fakeOTP) { p.loginStatus = 401 },
			wantState: StateLoginFailed,
		},
		{
			name:      "login page never loads",
			setup:     func(p *fakePage, o *fakeOTP) { p.hang["Navigate"] = true },
			wantState: StateLoginFailed,
		},
		{
			name:      "email field missing",
			setup:     func(p *fakePage, o *fakeOTP) { p.hang[`WaitVisible:input[formcontrolname="email"]`] = true },
			wantState: StateLoginFailed,
		},
		{
			name:      "submit never enabled",
			setup:     func(p *fakePage, o *fakeOTP) { p.hang["WaitEnabled"] = true },
			wantState: StateLoginFailed,
		},
		{
			name:      "no challenge redirect",
			setup:     func(p *fakePage, o *fakeOTP) { p.afterLoginURL = "https://asesor.example.com/login" },
			wantState: StateChallengeFailed,
		},
		{
			name:      "no code in window",
			setup:     func(p *fakePage, o *fakeOTP) { o.code = "" },
			wantState: StateChallengeFailed,
			wantOTP:   1,
		},
		{
			name:      "challenge rejected",
			setup:     func(p *fakePage, o *fakeOTP) { p.challengeStatus = 403 },
			wantState: StateChallengeFailed,
			wantOTP:   1,
		},
		{
			name:      "challenge never completes",
			setup:     func(p *fakePage, o *fakeOTP) { p.afterChallengeURL = "https://asesor.example.com/challenge-code/x" },
			wantState: StateChallengeFailed,
			wantOTP:   1,
		},
		{
			name:      "bounced back to login",
			setup:     func(p *fakePage, o *fakeOTP) { p.afterChallengeURL = "https://asesor.example.com/login?expired=1" },
			wantState: StateChallengeFailed,
			wantOTP:   1,
		},
		{
			name:      "refresh token missing",
			setup:     func(p *fakePage, o *fakeOTP) { p.localStorage["TOKENS_KEY"] = `{"idToken":"id-1"}` },
			wantState: StateChallengeFailed,
			wantOTP:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := newFakePage()
			otp := &fakeOTP{code: "482913"}
			tt.setup(page, otp)
			d, _ := newTestDriver(t, page, otp)

			result, err := d.Login(context.Background(), testCreds)

			require.NoError(t, err, "step failures are not errors")
			assert.Equal(t, tt.wantState, result.State)
			assert.False(t, result.Authenticated())
			assert.Nil(t, result.Tokens)
			assert.NotEmpty(t, result.Reason)
			assert.Equal(t, tt.wantOTP, otp.calls)
			assert.True(t, page.closed, "page must be closed on every path")
		})
	}
}

func TestLogin_OTPSourceErrorIsHard(t *testing.T) {
	page := newFakePage()
	otp := &fakeOTP{err: errors.Join(interfaces.ErrOTPSource, errors.New("401 from graph"))}
	d, _ := newTestDriver(t, page, otp)

	result, err := d.Login(context.Background(), testCreds)

	assert.ErrorIs(t, err, interfaces.ErrOTPSource)
	assert.Equal(t, StateChallengeFailed, result.State)
	assert.Nil(t, result.Tokens)
	assert.True(t, page.closed)
}

func TestLogin_BrowserLaunchFailure(t *testing.T) {
	cfg := common.NewDefaultConfig()
	d := NewDriver(&fakeBrowser{err: errors.New("chrome not found")}, &fakeOTP{}, cfg.Portal, cfg.Browser, time.Second, arbor.NewLogger())

	result, err := d.Login(context.Background(), testCreds)

	assert.Error(t, err)
	assert.Equal(t, StateLoginFailed, result.State)
}

func TestLogin_Cancelled(t *testing.T) {
	page := newFakePage()
	page.hang["Navigate"] = true
	d, _ := newTestDriver(t, page, &fakeOTP{})
	d.cfg.Timeouts.Navigation = 0

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result, err := d.Login(ctx, testCreds)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateLoginFailed, result.State)
	assert.True(t, page.closed)
}

func TestDecideLogin(t *testing.T) {
	state, reason := decideLogin(200)
	assert.Equal(t, StateChallengePending, state)
	assert.Empty(t, reason)
	assert.False(t, state.Terminal())

	for _, status := range []int{0, 201, 401, 500} {
		state, reason = decideLogin(status)
		assert.Equal(t, StateLoginFailed, state)
		assert.NotEmpty(t, reason)
		assert.True(t, state.Terminal())
	}
}

func TestTransition_TerminalStateIsFinal(t *testing.T) {
	d, _ := newTestDriver(t, newFakePage(), &fakeOTP{})
	a := &attempt{d: d, result: &Result{State: StateInit}}

	a.transition(StateFormFilled)
	assert.Equal(t, StateFormFilled, a.result.State)

	a.result.State = StateLoginFailed
	a.transition(StateChallengePending)
	assert.Equal(t, StateLoginFailed, a.result.State)
}

func TestDecideChallenge(t *testing.T) {
	tests := []struct {
		status int
		url    string
		want   State
	}{
		{200, "https://asesor.example.com/dashboard", StateAuthenticated},
		{200, "https://asesor.example.com/LOGIN", StateChallengeFailed},
		{400, "https://asesor.example.com/dashboard", StateChallengeFailed},
		{302, "https://asesor.example.com/dashboard", StateChallengeFailed},
	}

	for _, tt := range tests {
		state, _ := decideChallenge(tt.status, tt.url, "/login")
		assert.Equal(t, tt.want, state, "%d %s", tt.status, tt.url)
		assert.True(t, state.Terminal())
	}
}

func TestExpectDuring_ResponseBeforeActionReturns(t *testing.T) {
	page := newFakePage()

	// the matching response fires inside Click, before it returns
	status, err := page.ExpectResponse(context.Background(), func(url string) bool {
		return url == "https://api.example.com/advisor/auth/login/v4"
	}, func(ctx context.Context) error {
		return page.Click(ctx, "button")
	})

	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Eventually(t, func() bool {
		page.mu.Lock()
		defer page.mu.Unlock()
		return len(page.listeners) == 0
	}, time.Second, 5*time.Millisecond, "listener is removed once the wait ends")
}

func TestExpectDuring_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	listen := func(context.Context, func(string, int)) {}
	_, err := expectDuring(ctx, listen, func(string) bool { return true }, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExpectDuring_ActionError(t *testing.T) {
	listen := func(context.Context, func(string, int)) {}
	boom := errors.New("click failed")
	_, err := expectDuring(context.Background(), listen, func(string) bool { return true }, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}
