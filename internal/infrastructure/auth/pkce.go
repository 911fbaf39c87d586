package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// PKCE holds one authorization attempt's proof key and anti-forgery state.
type PKCE struct {
	Verifier  string `json:"verifier"`
	Challenge string `json:"challenge"`
	State     string `json:"state"`
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// S256Challenge derives the code challenge for a verifier.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func NewPKCE() (PKCE, error) {
	verifier, err := randomToken(32)
	if err != nil {
		return PKCE{}, err
	}
	state, err := randomToken(16)
	if err != nil {
		return PKCE{}, err
	}
	return PKCE{
		Verifier:  verifier,
		Challenge: S256Challenge(verifier),
		State:     state,
	}, nil
}

// MatchState compares a callback state against the expected one in
// constant time.
func (p PKCE) MatchState(state string) bool {
	return subtle.ConstantTimeCompare([]byte(p.State), []byte(state)) == 1
}

// SavePKCE keeps a pending authorization attempt on disk so the code can
// be exchanged by a later process.
func SavePKCE(path string, p PKCE) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create pkce dir: %w", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write pkce file: %w", err)
	}
	return nil
}

func LoadPKCE(path string) (PKCE, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PKCE{}, fmt.Errorf("read pkce file: %w", err)
	}
	var p PKCE
	if err := json.Unmarshal(data, &p); err != nil {
		return PKCE{}, fmt.Errorf("decode pkce file %s: %w", path, err)
	}
	if p.Verifier == "" || S256Challenge(p.Verifier) != p.Challenge {
		return PKCE{}, fmt.Errorf("pkce file %s: verifier does not match challenge", path)
	}
	return p, nil
}
