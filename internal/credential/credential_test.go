package credential

import (
	"errors"
	"strings"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	manager, err := NewManagerWithSecret("test-secret")
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return manager
}

func TestManager_EncryptDecrypt(t *testing.T) {
	manager := newTestManager(t)

	testCases := []struct {
		name      string
		plaintext string
	}{
		{"empty string", ""},
		{"simple api key", "sk-1234567890abcdef"},
		{"long key", strings.Repeat("a", 1000)},
		{"unicode content", "api-key-日本語-🔑"},
		{"special chars", "key!@#$%^&*()_+-=[]{}|;':\",./<>?"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encrypted, err := manager.Encrypt("alice", tc.plaintext)
			if err != nil {
				t.Fatalf("encrypt failed: %v", err)
			}

			if tc.plaintext == "" {
				if encrypted != "" {
					t.Errorf("empty string should not be encrypted, got: %s", encrypted)
				}
				return
			}

			if !strings.HasPrefix(encrypted, EncryptedPrefix) {
				t.Errorf("encrypted value should have prefix, got: %s", encrypted)
			}
			if strings.Contains(encrypted, tc.plaintext) {
				t.Error("encrypted value should not contain the plaintext")
			}

			decrypted, err := manager.Decrypt("alice", encrypted)
			if err != nil {
				t.Fatalf("decrypt failed: %v", err)
			}
			if decrypted != tc.plaintext {
				t.Errorf("decrypted value mismatch: got %q, want %q", decrypted, tc.plaintext)
			}
		})
	}
}

func TestManager_BoundToOwner(t *testing.T) {
	manager := newTestManager(t)

	encrypted, err := manager.Encrypt("alice", "sk-alice-key")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if _, err := manager.Decrypt("bob", encrypted); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed for another owner, got %v", err)
	}
}

func TestManager_DifferentSecrets(t *testing.T) {
	a := newTestManager(t)
	b, err := NewManagerWithSecret("other-secret")
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	encrypted, _ := a.Encrypt("alice", "sk-key")
	if _, err := b.Decrypt("alice", encrypted); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed with a different secret, got %v", err)
	}
	if _, err := NewManagerWithSecret(""); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestManager_SecretFromEnv(t *testing.T) {
	t.Setenv(SecretEnv, "test-secret")
	fromEnv, err := NewManager()
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	encrypted, _ := newTestManager(t).Encrypt("alice", "sk-key")
	decrypted, err := fromEnv.Decrypt("alice", encrypted)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if decrypted != "sk-key" {
		t.Errorf("got %q, want sk-key", decrypted)
	}
}

func TestManager_DecryptPlaintext(t *testing.T) {
	manager := newTestManager(t)

	plaintext := "sk-not-encrypted"
	result, err := manager.Decrypt("alice", plaintext)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if result != plaintext {
		t.Errorf("plaintext should pass through unchanged: got %q, want %q", result, plaintext)
	}
}

func TestManager_DecryptInvalid(t *testing.T) {
	manager := newTestManager(t)

	if _, err := manager.Decrypt("alice", EncryptedPrefix+"not-base64!!!"); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat, got %v", err)
	}
	if _, err := manager.Decrypt("alice", EncryptedPrefix+"YWJj"); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat for short payload, got %v", err)
	}
}

func TestManager_DifferentNonces(t *testing.T) {
	manager := newTestManager(t)

	first, _ := manager.Encrypt("alice", "same-key")
	second, _ := manager.Encrypt("alice", "same-key")
	if first == second {
		t.Error("encrypting twice should produce different ciphertexts")
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "****"},
		{"short", "****"},
		{"sk-1234567890abcdef", "sk-1...cdef"},
	}
	for _, tt := range tests {
		if got := MaskSecret(tt.in); got != tt.want {
			t.Errorf("MaskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
