// -----------------------------------------------------------------------
// Portal credentials and session tokens
// -----------------------------------------------------------------------

package models

// Credentials are the portal login credentials, loaded once at startup.
type Credentials struct {
	Email    string `toml:"email" validate:"required"`
	Password string `toml:"password" validate:"required"`
}

// TokenPair is the session token pair recovered after a successful login.
// A pair is either complete or absent (nil); never half filled.
type TokenPair struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
}

// NewTokenPair returns nil unless both tokens are non-empty
func NewTokenPair(idToken, refreshToken string) *TokenPair {
	if idToken == "" || refreshToken == "" {
		return nil
	}
	return &TokenPair{IDToken: idToken, RefreshToken: refreshToken}
}

// TokenSource records where the active bearer token came from
type TokenSource string

const (
	TokenSourceRefreshed TokenSource = "refreshed"
	TokenSourceOriginal  TokenSource = "original"
	TokenSourceSupplied  TokenSource = "supplied"
)

// ActiveToken is the bearer token used for data calls
type ActiveToken struct {
	Value  string
	Source TokenSource
}
