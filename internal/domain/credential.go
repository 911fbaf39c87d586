package domain

import "time"

// TokenSafetyMargin is the minimum remaining validity a token must have
// to be used for a request.
const TokenSafetyMargin = 60 * time.Second

// Credential is the OAuth token pair held by the credential authority.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Scope        string    `json:"scope,omitempty"`
}

// ValidAt reports whether the access token can be used at now.
// A zero expiry means the expiry is unknown and the token is trusted.
func (c Credential) ValidAt(now time.Time) bool {
	if c.AccessToken == "" {
		return false
	}
	if c.ExpiresAt.IsZero() {
		return true
	}
	return c.ExpiresAt.Sub(now) > TokenSafetyMargin
}
