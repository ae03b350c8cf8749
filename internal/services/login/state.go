// Package login drives one OTP-protected portal login to a token pair.
package login

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/dracma/internal/models"
)

// State is a step of the login state machine
type State int

const (
	StateInit State = iota
	StateFormFilled
	StateLoginSubmitted
	StateChallengePending
	StateChallengeSubmitted
	StateAuthenticated
	StateLoginFailed
	StateChallengeFailed
)

var stateNames = map[State]string{
	StateInit:               "init",
	StateFormFilled:         "form_filled",
	StateLoginSubmitted:     "login_submitted",
	StateChallengePending:   "challenge_pending",
	StateChallengeSubmitted: "challenge_submitted",
	StateAuthenticated:      "authenticated",
	StateLoginFailed:        "login_failed",
	StateChallengeFailed:    "challenge_failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateAuthenticated || s == StateLoginFailed || s == StateChallengeFailed
}

// Result is the tagged outcome of a login attempt. Tokens is set only in
// StateAuthenticated; Reason explains every failed terminal state.
type Result struct {
	State           State
	Tokens          *models.TokenPair
	Reason          string
	LoginStatus     int
	ChallengeStatus int
	FinalURL        string
}

// Authenticated reports whether the attempt produced a token pair
func (r *Result) Authenticated() bool {
	return r != nil && r.State == StateAuthenticated && r.Tokens != nil
}

// decideLogin maps the login endpoint status to the next state
func decideLogin(status int) (State, string) {
	if status != http.StatusOK {
		return StateLoginFailed, fmt.Sprintf("login response status %d", status)
	}
	return StateChallengePending, ""
}

// decideChallenge maps the challenge status and the URL reached afterwards
// to the next state. Landing back on the login path means the code was refused.
func decideChallenge(status int, url, loginPath string) (State, string) {
	if status != http.StatusOK {
		return StateChallengeFailed, fmt.Sprintf("challenge response status %d", status)
	}
	if loginPath != "" && strings.Contains(strings.ToLower(url), strings.ToLower(loginPath)) {
		return StateChallengeFailed, fmt.Sprintf("still on login page after challenge: %s", url)
	}
	return StateAuthenticated, ""
}
