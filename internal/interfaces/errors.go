package interfaces

import "errors"

// Error taxonomy shared by every stage of a harvest run.
var (
	// ErrConfig marks a missing or invalid configuration value. Fatal at startup.
	ErrConfig = errors.New("configuration error")

	// ErrLoginStep marks a login state machine failure (timeout, unexpected status or URL).
	ErrLoginStep = errors.New("login step failed")

	// ErrOTPSource marks a backend auth/network failure while reading a one-time code.
	// It is distinct from "no code yet", which is an empty result.
	ErrOTPSource = errors.New("otp source error")

	// ErrTokenRefresh marks a failed refresh. Callers fall back to the prior token.
	ErrTokenRefresh = errors.New("token refresh failed")

	// ErrEndpointCall marks a failed data endpoint call. Recorded per endpoint, never fatal to a batch.
	ErrEndpointCall = errors.New("endpoint call failed")

	// ErrArtifactPersist marks a failed write of a fetched artifact. Always propagated.
	ErrArtifactPersist = errors.New("artifact persist failed")

	// ErrRunInProgress is returned when a run is requested while another is active.
	ErrRunInProgress = errors.New("run already in progress")

	// ErrArtifactNotFound is returned by artifact stores for unknown keys.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrRunNotFound is returned by run storage for unknown run ids.
	ErrRunNotFound = errors.New("run not found")
)
