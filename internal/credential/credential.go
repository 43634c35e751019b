// Package credential encrypts per-user secrets such as provider API keys
// before they are written to the configuration table.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

const (
	// EncryptedPrefix marks values as encrypted in storage
	EncryptedPrefix = "enc:v2:"

	// SecretEnv, when set, replaces the machine-derived key.
	SecretEnv = "PARLEY_SECRET"
)

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrInvalidFormat    = errors.New("invalid encrypted format")
)

// Manager seals values for one owner at a time. The owner id is bound as
// additional data, so a ciphertext copied to another user's row will not
// open.
type Manager struct {
	aead cipher.AEAD
}

// NewManager derives the key from PARLEY_SECRET or, if unset, from
// machine identifiers.
func NewManager() (*Manager, error) {
	if secret := os.Getenv(SecretEnv); secret != "" {
		return NewManagerWithSecret(secret)
	}
	return newManager(machineKey())
}

// NewManagerWithSecret derives the key from a passphrase.
func NewManagerWithSecret(secret string) (*Manager, error) {
	if secret == "" {
		return nil, errors.New("secret is required")
	}
	key := sha256.Sum256([]byte("parley-credential:" + secret))
	return newManager(key[:])
}

func newManager(key []byte) (*Manager, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Manager{aead: gcm}, nil
}

// Encrypt seals plaintext for owner. Empty input stays empty.
func (m *Manager) Encrypt(owner, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, m.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := m.aead.Seal(nonce, nonce, []byte(plaintext), []byte(owner))
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value sealed for owner. Values without the prefix are
// returned unchanged so hand-entered plaintext keeps working.
func (m *Manager) Decrypt(owner, stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	if !IsEncrypted(stored) {
		return stored, nil
	}

	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrInvalidFormat, err)
	}

	nonceSize := m.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", ErrInvalidFormat
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := m.aead.Open(nil, nonce, ciphertext, []byte(owner))
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// IsEncrypted checks if a value is already encrypted.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// machineKey hashes host and account identifiers into a 32-byte key that
// is stable across restarts on the same machine.
func machineKey() []byte {
	var entropy strings.Builder

	hostname, _ := os.Hostname()
	entropy.WriteString(hostname)

	home, _ := os.UserHomeDir()
	entropy.WriteString(home)

	entropy.WriteString(runtime.GOOS)
	entropy.WriteString(runtime.GOARCH)
	entropy.WriteString("parley-credential-v2")

	if uid := os.Getuid(); uid != -1 {
		entropy.WriteString(fmt.Sprintf("uid:%d", uid))
	}

	hash := sha256.Sum256([]byte(entropy.String()))
	return hash[:]
}

// MaskSecret returns a masked version of a secret for display purposes.
// Shows only the first and last 4 characters if the secret is long enough.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
