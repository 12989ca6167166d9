// Package secrets resolves named secrets from a dotenv file or the
// process environment.  Values may be stored encrypted as
// "enc:<base64(nonce|ciphertext)>" sealed with XChaCha20-Poly1305 under a
// master key, so the file can live next to the deployment without
// exposing the plaintext.
package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"
)

const encPrefix = "enc:"

var (
	// ErrMissing is returned by Get for an unknown or empty secret.
	ErrMissing = errors.New("secret not set")
	// ErrNoMasterKey is returned when an encrypted value is found but no
	// master key was configured.
	ErrNoMasterKey = errors.New("encrypted secret but no master key configured")
)

// Store holds decrypted secrets in memory.  Reload re-reads the file and
// swaps the whole set atomically; a failed reload keeps the previous
// values.
type Store struct {
	path string
	key  []byte
	log  logrus.FieldLogger

	mu     sync.RWMutex
	values map[string]string
	env    func(string) (string, bool)
}

// Open loads secrets from path (which may be empty to use only the
// environment).  masterKey is the base64 encoded 32 byte key, or empty
// when no value is encrypted.
func Open(ctx context.Context, path, masterKey string, log logrus.FieldLogger) (*Store, error) {
	var key []byte
	if masterKey != "" {
		k, err := ParseKey(masterKey)
		if err != nil {
			return nil, err
		}
		key = k
	}
	s := &Store{path: path, key: key, log: log, env: os.LookupEnv}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the secret name.  File values take precedence over the
// environment.
func (s *Store) Get(name string) (string, error) {
	s.mu.RLock()
	v, ok := s.values[name]
	s.mu.RUnlock()
	if ok && v != "" {
		return v, nil
	}
	raw, ok := s.env(name)
	if !ok || raw == "" {
		return "", fmt.Errorf("%s: %w", name, ErrMissing)
	}
	return s.decode(name, raw)
}

// Reload re-reads the secrets file.
func (s *Store) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	next := map[string]string{}
	if s.path != "" {
		raw, err := godotenv.Read(s.path)
		if err != nil {
			return fmt.Errorf("read secrets file %s: %w", s.path, err)
		}
		for name, v := range raw {
			plain, err := s.decode(name, v)
			if err != nil {
				return err
			}
			next[name] = plain
		}
	}

	s.mu.Lock()
	s.values = next
	s.mu.Unlock()
	if s.log != nil {
		s.log.WithField("count", len(next)).Info("secrets loaded")
	}
	return nil
}

func (s *Store) decode(name, v string) (string, error) {
	if !strings.HasPrefix(v, encPrefix) {
		return v, nil
	}
	if s.key == nil {
		return "", fmt.Errorf("%s: %w", name, ErrNoMasterKey)
	}
	plain, err := Decrypt(s.key, v)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return plain, nil
}

// ParseKey decodes a base64 master key and checks its length.
func ParseKey(s string) ([]byte, error) {
	k, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(k) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", chacha20poly1305.KeySize, len(k))
	}
	return k, nil
}

// NewKey returns a fresh base64 encoded master key.
func NewKey() (string, error) {
	k := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(k); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(k), nil
}

// Encrypt seals plaintext under key and returns the "enc:" form.
func Encrypt(key []byte, plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func Decrypt(key []byte, value string) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encPrefix))
	if err != nil {
		return "", fmt.Errorf("decode encrypted secret: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return "", errors.New("encrypted secret is too short")
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", errors.New("encrypted secret could not be opened with the master key")
	}
	return string(plain), nil
}
