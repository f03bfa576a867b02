package oauth

import (
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/oauth2"
)

const stateBytes = 32

// NewState returns a random anti-CSRF value, base64url without padding.
func NewState() string {
	b := make([]byte, stateBytes)
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// NewCodeVerifier returns 32 random bytes, base64url without padding
// (RFC 7636 section 4.1).
func NewCodeVerifier() string {
	return oauth2.GenerateVerifier()
}

// Challenge is the S256 code challenge for verifier.
func Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// AuthorizationRequest holds the per-attempt secrets. It lives only as long
// as one login attempt and is never persisted.
type AuthorizationRequest struct {
	State         string
	CodeVerifier  string
	CodeChallenge string
}

func NewAuthorizationRequest() AuthorizationRequest {
	verifier := NewCodeVerifier()
	return AuthorizationRequest{
		State:         NewState(),
		CodeVerifier:  verifier,
		CodeChallenge: Challenge(verifier),
	}
}
