package oauth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/oauth2"
)

// Session is the PKCE material for one login attempt.
type Session struct {
	Verifier  string
	Challenge string
	State     string
}

// NewSession returns a fresh verifier (32 random bytes, raw URL base64), its
// S256 challenge and a random hex state.
func NewSession() (*Session, error) {
	state, err := randomHex(32)
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()
	return &Session{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
		State:     state,
	}, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
