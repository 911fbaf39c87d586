package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vitos/equity_trade_bot/internal/domain"
)

// CredentialStore persists the token pair between runs.
type CredentialStore interface {
	Load() (domain.Credential, error)
	Save(domain.Credential) error
}

// TokenFile stores the credential as a JSON file readable only by the owner.
type TokenFile struct {
	path string
}

func NewTokenFile(path string) *TokenFile {
	return &TokenFile{path: path}
}

// Load returns os.ErrNotExist (wrapped) when no token has been saved yet.
func (f *TokenFile) Load() (domain.Credential, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("read token file: %w", err)
	}
	var c domain.Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return domain.Credential{}, fmt.Errorf("decode token file %s: %w", f.path, err)
	}
	return c, nil
}

func (f *TokenFile) Save(c domain.Credential) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write token file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
