// Package credential resolves API keys and the IMAP password from the
// environment or the OS keyring.
package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
)

const serviceName = "mailtriage"

// Credential keys.
const (
	AnthropicAPIKey = "anthropic_api_key"
	GeminiAPIKey    = "gemini_api_key"
	IMAPPassword    = "imap_password"
)

// envVars maps each key to the environment variable that overrides it.
var envVars = map[string]string{
	AnthropicAPIKey: "ANTHROPIC_API_KEY",
	GeminiAPIKey:    "GEMINI_API_KEY",
	IMAPPassword:    "MAILTRIAGE_IMAP_PASSWORD",
}

// ErrNotFound is returned when a credential is neither in the environment
// nor in the keyring.
var ErrNotFound = errors.New("credential not found")

// Store looks credentials up in the environment first, then the keyring.
type Store struct {
	ring   keyring.Keyring
	getenv func(string) string
}

// New wraps ring. getenv defaults to os.Getenv.
func New(ring keyring.Keyring, getenv func(string) string) *Store {
	if getenv == nil {
		getenv = os.Getenv
	}
	return &Store{ring: ring, getenv: getenv}
}

// Open opens the OS keyring, falling back to an encrypted file under dir.
func Open(dir string) (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(dir, "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt("mailtriage-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return New(ring, nil), nil
}

// Get returns the credential stored under key.
func (s *Store) Get(key string) (string, error) {
	if env, ok := envVars[key]; ok {
		if v := s.getenv(env); v != "" {
			return v, nil
		}
	}
	if s.ring == nil {
		return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}

	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential value by key in the keyring.
func (s *Store) Set(key, value string) error {
	if s.ring == nil {
		return fmt.Errorf("setting credential %q: no keyring", key)
	}
	if err := s.ring.Set(keyring.Item{Key: key, Data: []byte(value)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a credential by key from the keyring.
func (s *Store) Delete(key string) error {
	if s.ring == nil {
		return nil
	}
	if err := s.ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// APIKey returns the key for the given gateway provider.
func (s *Store) APIKey(provider string) (string, error) {
	switch provider {
	case "claude", "anthropic":
		return s.Get(AnthropicAPIKey)
	case "gemini", "":
		return s.Get(GeminiAPIKey)
	}
	return "", fmt.Errorf("unknown provider %q", provider)
}
