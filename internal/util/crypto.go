package util

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// OAuthChallenge is a PKCE-style pair. The challenge goes into the browser
// login URL and the verifier is sent back as proof when finishing the login.
type OAuthChallenge struct {
	Challenge string `json:"challenge"`
	Verifier  string `json:"verifier"`
}

// NewOAuthChallenge draws 32 random bytes for the challenge and derives the
// verifier as their sha256. Both are url-safe base64 without padding.
func NewOAuthChallenge() (OAuthChallenge, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return OAuthChallenge{}, fmt.Errorf("failed to generate oauth challenge: %w", err)
	}
	return challengeFrom(raw), nil
}

func challengeFrom(raw []byte) OAuthChallenge {
	sum := sha256.Sum256(raw)
	return OAuthChallenge{
		Challenge: base64.RawURLEncoding.EncodeToString(raw),
		Verifier:  base64.RawURLEncoding.EncodeToString(sum[:]),
	}
}
